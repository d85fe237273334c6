// Package vm executes a compiled chunk.Chunk against a fixed-capacity value
// stack and a globals table, dispatching one opcode at a time until an
// OP_RETURN or a runtime error is reached.
package vm

import (
	"fmt"
	"io"
	"os"

	"loxvm/internal/chunk"
	"loxvm/internal/compiler"
	"loxvm/internal/table"
	"loxvm/internal/value"
)

// StackMax is the VM's baseline stack capacity (spec: 256 slots).
const StackMax = 256

// InterpretResult is the terminal status Interpret returns, mapped by the
// CLI wrapper to a process exit code.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

// VM holds all interpreter state for a single Interpret call: the chunk
// being executed, the instruction pointer, the value stack, and the globals
// table. A VM is not reused across Interpret calls.
type VM struct {
	chunk *chunk.Chunk
	ip    int

	stack    [StackMax]value.Value
	stackTop int

	globals *table.Table

	out io.Writer // stdout sink for OP_PRINT
	err io.Writer // stderr sink for compile and runtime diagnostics
}

// New creates a VM with globals freshly initialized and stdout/stderr wired
// to os.Stdout/os.Stderr.
func New() *VM {
	return &VM{
		globals: table.New(),
		out:     os.Stdout,
		err:     os.Stderr,
	}
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
}

func (vm *VM) push(v value.Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() value.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.stackTop-1-distance]
}

// Interpret compiles source and, if compilation succeeds, runs it to
// completion. This is the sole public entry point; a VM is fully
// initialized and torn down within one call.
func Interpret(source string) InterpretResult {
	return New().Interpret(source)
}

// Interpret compiles source into a fresh chunk and runs it against vm.
func (vm *VM) Interpret(source string) InterpretResult {
	c := chunk.New()
	if !compiler.New(source, c, vm.err).Run() {
		return InterpretCompileError
	}

	vm.chunk = c
	vm.ip = 0
	vm.resetStack()

	return vm.run()
}

func (vm *VM) readByte() byte {
	b := vm.chunk.Code[vm.ip]
	vm.ip++
	return b
}

func (vm *VM) readShort() uint16 {
	hi := vm.chunk.Code[vm.ip]
	lo := vm.chunk.Code[vm.ip+1]
	vm.ip += 2
	return uint16(hi)<<8 | uint16(lo)
}

func (vm *VM) readConstant() value.Value {
	return vm.chunk.Constants.Get(int(vm.readByte()))
}

// currentLine is the source line of the instruction just fetched, for
// runtime-error diagnostics.
func (vm *VM) currentLine() int {
	if vm.ip == 0 || vm.ip > len(vm.chunk.Lines) {
		return 0
	}
	return vm.chunk.Lines[vm.ip-1]
}

// runtimeError writes a plain diagnostic to the error channel; the caller
// must still return InterpretRuntimeError.
func (vm *VM) runtimeError(format string, args ...interface{}) {
	fmt.Fprintf(vm.err, format+"\n", args...)
	fmt.Fprintf(vm.err, "[line %d] in script\n", vm.currentLine())
}

// run is the fetch-dispatch loop: fetch the byte at ip, advance, switch on
// opcode.
func (vm *VM) run() InterpretResult {
	for {
		instruction := chunk.OpCode(vm.readByte())

		switch instruction {
		case chunk.OP_CONSTANT:
			vm.push(vm.readConstant())

		case chunk.OP_NIL:
			vm.push(value.NewNil())
		case chunk.OP_TRUE:
			vm.push(value.NewBool(true))
		case chunk.OP_FALSE:
			vm.push(value.NewBool(false))

		case chunk.OP_POP:
			vm.pop()

		case chunk.OP_GET_LOCAL:
			slot := vm.readByte()
			vm.push(vm.stack[slot])
		case chunk.OP_SET_LOCAL:
			slot := vm.readByte()
			vm.stack[slot] = vm.peek(0)

		case chunk.OP_GET_GLOBAL:
			name := vm.readConstant().Obj
			v, ok := vm.globals.Get(name)
			if !ok {
				vm.runtimeError("Undefined variable '%s'.", name)
				return InterpretRuntimeError
			}
			vm.push(v)
		case chunk.OP_DEFINE_GLOBAL:
			name := vm.readConstant().Obj
			vm.globals.Set(name, vm.pop())
		case chunk.OP_SET_GLOBAL:
			name := vm.readConstant().Obj
			if vm.globals.Set(name, vm.peek(0)) {
				vm.globals.Delete(name)
				vm.runtimeError("Undefined variable '%s'.", name)
				return InterpretRuntimeError
			}

		case chunk.OP_EQUAL:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.NewBool(a.Equal(b)))
		case chunk.OP_GREATER:
			if !vm.binaryNumberOp(func(a, b float64) value.Value { return value.NewBool(a > b) }) {
				return InterpretRuntimeError
			}
		case chunk.OP_LESS:
			if !vm.binaryNumberOp(func(a, b float64) value.Value { return value.NewBool(a < b) }) {
				return InterpretRuntimeError
			}

		case chunk.OP_ADD:
			if !vm.add() {
				return InterpretRuntimeError
			}
		case chunk.OP_SUBTRACT:
			if !vm.binaryNumberOp(func(a, b float64) value.Value { return value.NewNumber(a - b) }) {
				return InterpretRuntimeError
			}
		case chunk.OP_MULTIPLY:
			if !vm.binaryNumberOp(func(a, b float64) value.Value { return value.NewNumber(a * b) }) {
				return InterpretRuntimeError
			}
		case chunk.OP_DIVIDE:
			if !vm.binaryNumberOp(func(a, b float64) value.Value { return value.NewNumber(a / b) }) {
				return InterpretRuntimeError
			}

		case chunk.OP_NOT:
			vm.push(value.NewBool(vm.pop().Falsey()))
		case chunk.OP_NEGATE:
			if !vm.peek(0).IsNumber() {
				vm.runtimeError("Operand must be a number.")
				return InterpretRuntimeError
			}
			vm.push(value.NewNumber(-vm.pop().AsNumber))

		case chunk.OP_PRINT:
			fmt.Fprintln(vm.out, vm.pop().String())

		case chunk.OP_JUMP:
			offset := vm.readShort()
			vm.ip += int(offset)
		case chunk.OP_JUMP_IF_FALSE:
			offset := vm.readShort()
			if vm.peek(0).Falsey() {
				vm.ip += int(offset)
			}
		case chunk.OP_LOOP:
			offset := vm.readShort()
			vm.ip -= int(offset)

		case chunk.OP_RETURN:
			return InterpretOK

		default:
			vm.runtimeError("Unknown opcode %d.", byte(instruction))
			return InterpretRuntimeError
		}
	}
}

// add implements OP_ADD: number+number is sum, string+string is
// concatenation, every other combination is a runtime error.
func (vm *VM) add() bool {
	b := vm.peek(0)
	a := vm.peek(1)

	switch {
	case a.IsNumber() && b.IsNumber():
		vm.pop()
		vm.pop()
		vm.push(value.NewNumber(a.AsNumber + b.AsNumber))
		return true
	case a.IsString() && b.IsString():
		vm.pop()
		vm.pop()
		vm.push(value.NewString(a.Obj + b.Obj))
		return true
	default:
		vm.runtimeError("Operands must be two numbers or two strings.")
		return false
	}
}

// binaryNumberOp pops two numeric operands and pushes op(a, b); it reports
// a runtime error and returns false if either operand is not a number.
func (vm *VM) binaryNumberOp(op func(a, b float64) value.Value) bool {
	b := vm.peek(0)
	a := vm.peek(1)
	if !a.IsNumber() || !b.IsNumber() {
		vm.runtimeError("Operands must be numbers.")
		return false
	}
	vm.pop()
	vm.pop()
	vm.push(op(a.AsNumber, b.AsNumber))
	return true
}
