package main

import (
	"flag"
	"fmt"
	"os"

	"loxvm/internal/chunk"
	"loxvm/internal/compiler"
	"loxvm/internal/vm"
)

func main() {
	showDisassembly := flag.Bool("disassemble", false, "Show bytecode disassembly before running")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: loxvm [options] <path>\n\nOptions:\n")
		flag.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(os.Stderr, "  --%s\n\t%s\n", f.Name, f.Usage)
		})
	}
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		flag.Usage()
		os.Exit(1)
	}

	path := args[0]
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not read file \"%s\": %s\n", path, err)
		os.Exit(74)
	}

	os.Exit(run(string(source), *showDisassembly))
}

// run compiles and interprets source, optionally printing a disassembly
// listing first, and returns the process exit code for the result.
func run(source string, showDisassembly bool) int {
	if showDisassembly {
		c := chunk.New()
		if compiler.Compile(source, c) {
			c.Disassemble("script")
		}
	}

	switch vm.Interpret(source) {
	case vm.InterpretOK:
		return 0
	case vm.InterpretCompileError:
		return 65
	case vm.InterpretRuntimeError:
		return 70
	default:
		return 70
	}
}
