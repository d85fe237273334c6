// Package compiler implements a single-pass Pratt parser that emits
// bytecode directly into a chunk.Chunk as it parses source tokens — there is
// no intermediate AST. It speaks the VM's instruction set directly: local
// variables are addressed by the exact runtime stack-slot scheme the VM
// uses, and jumps are patched in place once their target is known.
package compiler

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"loxvm/internal/chunk"
	"loxvm/internal/lexer"
	"loxvm/internal/token"
	"loxvm/internal/value"
)

// maxLocals bounds the compile-time locals array, which doubles as the
// compile-time model of runtime stack slots 0..255.
const maxLocals = 256

// maxConstants bounds a chunk's constant pool: indices are encoded in one
// byte.
const maxConstants = 256

type precedence int

const (
	precNone       precedence = iota
	precAssignment            // =
	precOr                    // or
	precAnd                   // and
	precEquality              // == !=
	precComparison            // < > <= >=
	precTerm                  // + -
	precFactor                // * /
	precUnary                 // ! -
	precCall                  // . ()
	precPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence precedence
}

// rules is the fixed table driving the Pratt parser. It is an immutable
// module-level constant; nothing in the compiler ever mutates it.
var rules map[token.TokenType]parseRule

func init() {
	rules = map[token.TokenType]parseRule{
		token.LEFT_PAREN:    {prefix: (*Compiler).grouping, precedence: precNone},
		token.NUMBER:        {prefix: (*Compiler).number, precedence: precNone},
		token.STRING:        {prefix: (*Compiler).string, precedence: precNone},
		token.IDENTIFIER:    {prefix: (*Compiler).variable, precedence: precNone},
		token.TRUE:          {prefix: (*Compiler).literal, precedence: precNone},
		token.FALSE:         {prefix: (*Compiler).literal, precedence: precNone},
		token.NIL:           {prefix: (*Compiler).literal, precedence: precNone},
		token.BANG:          {prefix: (*Compiler).unary, precedence: precNone},
		token.MINUS:         {prefix: (*Compiler).unary, infix: (*Compiler).binary, precedence: precTerm},
		token.PLUS:          {infix: (*Compiler).binary, precedence: precTerm},
		token.STAR:          {infix: (*Compiler).binary, precedence: precFactor},
		token.SLASH:         {infix: (*Compiler).binary, precedence: precFactor},
		token.LESS:          {infix: (*Compiler).binary, precedence: precComparison},
		token.LESS_EQUAL:    {infix: (*Compiler).binary, precedence: precComparison},
		token.GREATER:       {infix: (*Compiler).binary, precedence: precComparison},
		token.GREATER_EQUAL: {infix: (*Compiler).binary, precedence: precComparison},
		token.EQUAL_EQUAL:   {infix: (*Compiler).binary, precedence: precEquality},
		token.BANG_EQUAL:    {infix: (*Compiler).binary, precedence: precEquality},
		token.AND:           {infix: (*Compiler).and_, precedence: precAnd},
		token.OR:            {infix: (*Compiler).or_, precedence: precOr},
	}
}

func ruleFor(t token.TokenType) parseRule {
	return rules[t] // zero value is {nil, nil, precNone}
}

// Local is a compile-time record of a named local variable; index i in
// Compiler.locals corresponds to runtime stack slot i at the point of
// reference.
type Local struct {
	Name  string
	Depth int
}

// Compiler holds both parser state (previous/current token, error flags)
// and compile-time scope state (locals, scope depth) for one compilation.
type Compiler struct {
	lex *lexer.Lexer
	out *chunk.Chunk
	err io.Writer

	previous token.Token
	current  token.Token

	hadError  bool
	panicMode bool

	locals     []Local
	scopeDepth int
}

// New creates a Compiler reading from source and emitting into out.
// Diagnostics are written to errOut (os.Stderr when nil).
func New(source string, out *chunk.Chunk, errOut io.Writer) *Compiler {
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Compiler{
		lex: lexer.New(source),
		out: out,
		err: errOut,
	}
}

// Compile scans and parses source, emitting into out. It returns true iff
// no errors were reported.
func Compile(source string, out *chunk.Chunk) bool {
	c := New(source, out, os.Stderr)
	return c.Run()
}

// Run drives the whole compilation and returns success.
func (c *Compiler) Run() bool {
	c.advance()
	for !c.check(token.EOF) {
		c.declaration()
	}
	c.consume(token.EOF, "Expect end of expression.")
	c.emitByte(byte(chunk.OP_RETURN))
	return !c.hadError
}

// --- token stream -----------------------------------------------------

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.lex.NextToken()
		if c.current.Type != token.ERROR {
			break
		}
		c.errorAtCurrent(c.current.Literal)
	}
}

func (c *Compiler) check(t token.TokenType) bool {
	return c.current.Type == t
}

func (c *Compiler) match(t token.TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(t token.TokenType, msg string) {
	if c.current.Type == t {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

// --- error reporting ----------------------------------------------------

func (c *Compiler) errorAtCurrent(msg string) {
	c.errorAt(c.current, msg)
}

func (c *Compiler) error(msg string) {
	c.errorAt(c.previous, msg)
}

// errorAt reports a compile error of the form
// "[Line <n>] Error at '<lexeme>': '<message>'" (or "at end" for EOF).
// Cascaded errors are suppressed until synchronization.
func (c *Compiler) errorAt(tok token.Token, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true

	if tok.Type == token.EOF {
		fmt.Fprintf(c.err, "[Line %d] Error at end: '%s'\n", tok.Line, msg)
		return
	}
	fmt.Fprintf(c.err, "[Line %d] Error at '%s': '%s'\n", tok.Line, tok.Literal, msg)
}

// synchronize discards tokens after an error until a plausible statement
// boundary: a ';' just consumed, or a statement-starting keyword ahead.
func (c *Compiler) synchronize() {
	c.panicMode = false

	for c.current.Type != token.EOF {
		if c.previous.Type == token.SEMICOLON {
			return
		}
		switch c.current.Type {
		case token.CLASS, token.FUN, token.VAR, token.FOR, token.IF, token.WHILE, token.PRINT, token.RETURN:
			return
		}
		c.advance()
	}
}

// --- statements ----------------------------------------------------------

func (c *Compiler) declaration() {
	if c.match(token.VAR) {
		c.varDeclaration()
	} else {
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) varDeclaration() {
	c.consume(token.IDENTIFIER, "Expect variable name.")
	name := c.previous

	if c.scopeDepth == 0 {
		global := c.identifierConstant(name.Literal)
		if c.match(token.ASSIGN) {
			c.expression()
		} else {
			c.emitByte(byte(chunk.OP_NIL))
		}
		c.consume(token.SEMICOLON, "Expect ';' after variable declaration.")
		c.emitBytes(byte(chunk.OP_DEFINE_GLOBAL), byte(global))
		return
	}

	c.declareLocal(name.Literal)
	if c.match(token.ASSIGN) {
		c.expression()
	} else {
		c.emitByte(byte(chunk.OP_NIL))
	}
	c.consume(token.SEMICOLON, "Expect ';' after variable declaration.")
}

func (c *Compiler) statement() {
	switch {
	case c.match(token.PRINT):
		c.printStatement()
	case c.match(token.IF):
		c.ifStatement()
	case c.match(token.WHILE):
		c.whileStatement()
	case c.match(token.LEFT_BRACE):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(token.SEMICOLON, "Expect ';' after value in print statement.")
	c.emitByte(byte(chunk.OP_PRINT))
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(token.SEMICOLON, "Expect ';' after expression.")
	c.emitByte(byte(chunk.OP_POP))
}

func (c *Compiler) block() {
	for !c.check(token.RIGHT_BRACE) && !c.check(token.EOF) {
		c.declaration()
	}
	c.consume(token.RIGHT_BRACE, "Expect '}' after block.")
}

func (c *Compiler) ifStatement() {
	c.consume(token.LEFT_PAREN, "Expect '(' after 'if'.")
	c.expression()
	c.consume(token.RIGHT_PAREN, "Expect ')' after condition.")

	thenJump := c.emitJump(chunk.OP_JUMP_IF_FALSE)
	c.emitByte(byte(chunk.OP_POP))
	c.statement()

	elseJump := c.emitJump(chunk.OP_JUMP)
	c.patchJump(thenJump)
	c.emitByte(byte(chunk.OP_POP))

	if c.match(token.ELSE) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.out.Code)
	c.consume(token.LEFT_PAREN, "Expect '(' after 'while'.")
	c.expression()
	c.consume(token.RIGHT_PAREN, "Expect ')' after condition.")

	exitJump := c.emitJump(chunk.OP_JUMP_IF_FALSE)
	c.emitByte(byte(chunk.OP_POP))
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitByte(byte(chunk.OP_POP))
}

// --- expressions -----------------------------------------------------

func (c *Compiler) expression() {
	c.parsePrecedence(precAssignment)
}

func (c *Compiler) parsePrecedence(p precedence) {
	c.advance()
	rule := ruleFor(c.previous.Type)
	if rule.prefix == nil {
		c.error("Expected expression.")
		return
	}

	canAssign := p <= precAssignment
	rule.prefix(c, canAssign)

	for p <= ruleFor(c.current.Type).precedence {
		c.advance()
		infix := ruleFor(c.previous.Type).infix
		infix(c, canAssign)
	}

	if canAssign && c.match(token.ASSIGN) {
		c.error("Invalid assignment target.")
	}
}

func (c *Compiler) number(canAssign bool) {
	n, err := strconv.ParseFloat(c.previous.Literal, 64)
	if err != nil {
		c.error("Invalid number literal.")
		return
	}
	c.emitConstant(value.NewNumber(n))
}

func (c *Compiler) string(canAssign bool) {
	c.emitConstant(value.NewString(c.previous.Literal))
}

func (c *Compiler) literal(canAssign bool) {
	switch c.previous.Type {
	case token.TRUE:
		c.emitByte(byte(chunk.OP_TRUE))
	case token.FALSE:
		c.emitByte(byte(chunk.OP_FALSE))
	case token.NIL:
		c.emitByte(byte(chunk.OP_NIL))
	}
}

func (c *Compiler) grouping(canAssign bool) {
	c.expression()
	c.consume(token.RIGHT_PAREN, "Expect ')' after expression.")
}

func (c *Compiler) unary(canAssign bool) {
	op := c.previous.Type
	c.parsePrecedence(precUnary)
	switch op {
	case token.BANG:
		c.emitByte(byte(chunk.OP_NOT))
	case token.MINUS:
		c.emitByte(byte(chunk.OP_NEGATE))
	}
}

func (c *Compiler) binary(canAssign bool) {
	op := c.previous.Type
	rule := ruleFor(op)
	c.parsePrecedence(rule.precedence + 1)

	switch op {
	case token.PLUS:
		c.emitByte(byte(chunk.OP_ADD))
	case token.MINUS:
		c.emitByte(byte(chunk.OP_SUBTRACT))
	case token.STAR:
		c.emitByte(byte(chunk.OP_MULTIPLY))
	case token.SLASH:
		c.emitByte(byte(chunk.OP_DIVIDE))
	case token.LESS:
		c.emitByte(byte(chunk.OP_LESS))
	case token.GREATER:
		c.emitByte(byte(chunk.OP_GREATER))
	case token.LESS_EQUAL:
		c.emitBytes(byte(chunk.OP_GREATER), byte(chunk.OP_NOT))
	case token.GREATER_EQUAL:
		c.emitBytes(byte(chunk.OP_LESS), byte(chunk.OP_NOT))
	case token.EQUAL_EQUAL:
		c.emitByte(byte(chunk.OP_EQUAL))
	case token.BANG_EQUAL:
		c.emitBytes(byte(chunk.OP_EQUAL), byte(chunk.OP_NOT))
	}
}

func (c *Compiler) and_(canAssign bool) {
	endJump := c.emitJump(chunk.OP_JUMP_IF_FALSE)
	c.emitByte(byte(chunk.OP_POP))
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or_(canAssign bool) {
	elseJump := c.emitJump(chunk.OP_JUMP_IF_FALSE)
	endJump := c.emitJump(chunk.OP_JUMP)
	c.patchJump(elseJump)
	c.emitByte(byte(chunk.OP_POP))
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *Compiler) variable(canAssign bool) {
	name := c.previous.Literal

	if slot, ok := c.resolveLocal(name); ok {
		if canAssign && c.match(token.ASSIGN) {
			c.expression()
			c.emitBytes(byte(chunk.OP_SET_LOCAL), byte(slot))
		} else {
			c.emitBytes(byte(chunk.OP_GET_LOCAL), byte(slot))
		}
		return
	}

	global := c.identifierConstant(name)
	if canAssign && c.match(token.ASSIGN) {
		c.expression()
		c.emitBytes(byte(chunk.OP_SET_GLOBAL), byte(global))
	} else {
		c.emitBytes(byte(chunk.OP_GET_GLOBAL), byte(global))
	}
}

// --- locals & scope -----------------------------------------------------

func (c *Compiler) beginScope() {
	c.scopeDepth++
}

// endScope pops every local declared in the scope being left; the number of
// OP_POP opcodes emitted equals the number of locals removed.
func (c *Compiler) endScope() {
	c.scopeDepth--
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].Depth > c.scopeDepth {
		c.emitByte(byte(chunk.OP_POP))
		c.locals = c.locals[:len(c.locals)-1]
	}
}

func (c *Compiler) declareLocal(name string) {
	if len(c.locals) >= maxLocals {
		c.error("Too many local variables in function.")
		return
	}
	c.locals = append(c.locals, Local{Name: name, Depth: c.scopeDepth})
}

// resolveLocal searches locals back-to-front by byte-equal comparison, the
// same order a shadowing declaration would need to win in.
func (c *Compiler) resolveLocal(name string) (int, bool) {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

func (c *Compiler) identifierConstant(name string) int {
	return c.makeConstant(value.NewString(name))
}

// --- bytecode emission -----------------------------------------------------

func (c *Compiler) emitByte(b byte) {
	c.out.Write(b, c.previous.Line)
}

func (c *Compiler) emitBytes(b1, b2 byte) {
	c.emitByte(b1)
	c.emitByte(b2)
}

func (c *Compiler) makeConstant(v value.Value) int {
	idx := c.out.AddConstant(v)
	if idx >= maxConstants {
		c.error("Too many constants in one chunk.")
		return 0
	}
	return idx
}

func (c *Compiler) emitConstant(v value.Value) {
	c.emitBytes(byte(chunk.OP_CONSTANT), byte(c.makeConstant(v)))
}

// emitJump emits op followed by a two-byte placeholder operand and returns
// the offset of its first byte, for a later patchJump call.
func (c *Compiler) emitJump(op chunk.OpCode) int {
	c.emitByte(byte(op))
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.out.Code) - 2
}

// patchJump backfills the placeholder at offset with the distance from just
// past the operand to the current end of the chunk.
func (c *Compiler) patchJump(offset int) {
	jump := len(c.out.Code) - offset - 2
	if jump > 0xFFFF {
		c.error("Jump too large.")
		return
	}
	c.out.Code[offset] = byte((jump >> 8) & 0xFF)
	c.out.Code[offset+1] = byte(jump & 0xFF)
}

// emitLoop emits OP_LOOP followed by the big-endian distance back to start.
func (c *Compiler) emitLoop(start int) {
	c.emitByte(byte(chunk.OP_LOOP))
	offset := len(c.out.Code) - start + 2
	if offset > 0xFFFF {
		c.error("Loop body too large.")
		return
	}
	c.emitByte(byte((offset >> 8) & 0xFF))
	c.emitByte(byte(offset & 0xFF))
}
