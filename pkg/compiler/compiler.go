// Package compiler implements Qi's single-pass Pratt-style compiler:
// it scans and parses in lockstep, emitting bytecode directly into a
// value.Chunk as each expression and statement is recognized, with no
// intermediate AST.
package compiler

import (
	"github.com/anonymousaardvark/qi/pkg/bytecode"
	"github.com/anonymousaardvark/qi/pkg/gc"
	"github.com/anonymousaardvark/qi/pkg/lexer"
	"github.com/anonymousaardvark/qi/pkg/value"
)

type token = lexer.Token

// functionType distinguishes the kind of function a context is
// compiling, since methods, initializers, and the top-level script
// body each get slightly different generated code: an initializer
// implicitly returns "this"; the script body's synthetic function has
// no name.
type functionType int

const (
	typeFunction functionType = iota
	typeMethod
	typeInitializer
	typeScript
)

// local is one slot of a context's local-variable stack: its name
// (for resolution and shadowing diagnostics), the scope depth it was
// declared at, whether it has finished initializing (so `变量 x = x;`
// can't see its own uninitialized slot), and whether any nested
// function captures it as an upvalue (so end-of-block knows to close
// it rather than just drop it).
type local struct {
	name       string
	depth      int
	isCaptured bool
}

// upvalueEntry is one entry of a context's upvalue table, as the
// compiler builds it: whether it aliases a local slot of the
// immediately enclosing context, or chains through that context's own
// upvalue at index.
type upvalueEntry struct {
	index   int
	isLocal bool
}

// classCompiler tracks the class currently being compiled, chained to
// any enclosing class so nested classes (a method body containing
// another class declaration) resolve `super`/`this` correctly.
type classCompiler struct {
	enclosing      *classCompiler
	hasSuperclass  bool
}

// context is the per-function compilation state: one is pushed for
// the script body and one more for every nested function or method
// body, mirroring the call-frame nesting the compiled code will have
// at runtime.
type context struct {
	enclosing *context

	function *value.ObjFunction
	fnType   functionType

	locals     []local
	upvalues   []upvalueEntry
	scopeDepth int
}

func newContext(enclosing *context, fnType functionType, fn *value.ObjFunction) *context {
	ctx := &context{enclosing: enclosing, function: fn, fnType: fnType}
	// Slot 0 is reserved: `this` for methods/initializers, an
	// unnamed/unaddressable slot for plain functions and the script.
	name := ""
	if fnType == typeMethod || fnType == typeInitializer {
		name = "这"
	}
	ctx.locals = append(ctx.locals, local{name: name, depth: 0})
	return ctx
}

// Compiler drives source text to a compiled function object. Compile
// is the only exported entry point; construct with New.
type Compiler struct {
	heap    *gc.Heap
	scanner *lexer.Scanner

	previous token
	current  token

	hadError  bool
	panicMode bool
	errors    []CompileError

	cur   *context
	class *classCompiler
}

// New returns a Compiler that allocates objects (function bodies,
// string constants) on heap.
func New(heap *gc.Heap) *Compiler {
	return &Compiler{heap: heap}
}

// Compile compiles source as a Qi script. On success it returns the
// top-level function object (an implicit `fun` wrapping the whole
// file) and a nil error slice; on failure it returns nil and every
// CompileError collected via panic-mode recovery.
func (c *Compiler) Compile(source string) (*value.ObjFunction, []CompileError) {
	c.scanner = lexer.New(source)
	c.hadError = false
	c.panicMode = false
	c.errors = nil

	script := c.heap.NewFunction(nil, 0)
	c.cur = newContext(nil, typeScript, script)

	c.advance()
	for !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.consume(lexer.TokenEOF, "期望表达式结尾")

	fn := c.endContext()
	if c.hadError {
		return nil, c.errors
	}
	return fn, nil
}

// endContext closes out the context's chunk: an implicit return if
// control falls off the end, then OP_END as the chunk's explicit
// terminator (never reached by the dispatch loop, which always
// unwinds on OP_RETURN first; kept for the disassembler).
func (c *Compiler) endContext() *value.ObjFunction {
	c.emitReturn()
	c.emitOp(bytecode.OpEnd)
	fn := c.cur.function
	c.cur = c.cur.enclosing
	return fn
}
