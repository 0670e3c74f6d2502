package compiler

import (
	"github.com/anonymousaardvark/qi/pkg/bytecode"
	"github.com/anonymousaardvark/qi/pkg/lexer"
	"github.com/anonymousaardvark/qi/pkg/value"
)

func (c *Compiler) declaration() {
	switch {
	case c.match(lexer.TokenClass):
		c.classDeclaration()
	case c.match(lexer.TokenFun):
		c.funDeclaration()
	case c.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) statement() {
	switch {
	case c.match(lexer.TokenPrint):
		c.printStatement()
	case c.match(lexer.TokenFor):
		c.forStatement()
	case c.match(lexer.TokenIf):
		c.ifStatement()
	case c.match(lexer.TokenReturn):
		c.returnStatement()
	case c.match(lexer.TokenWhile):
		c.whileStatement()
	case c.match(lexer.TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.consume(lexer.TokenRightBrace, "期望 '}' 来结束代码块")
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "期望 ';' 在值之后")
	c.emitOp(bytecode.OpPrint)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "期望 ';' 在表达式之后")
	c.emitOp(bytecode.OpPop)
}

func (c *Compiler) ifStatement() {
	c.consume(lexer.TokenLeftParen, "期望 '(' 在 '如果' 之后")
	c.expression()
	c.consume(lexer.TokenRightParen, "期望 ')' 在条件之后")

	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()

	elseJump := c.emitJump(bytecode.OpJump)
	c.patchJump(thenJump)
	c.emitOp(bytecode.OpPop)

	if c.match(lexer.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.currentChunk().Code)
	c.consume(lexer.TokenLeftParen, "期望 '(' 在 '当' 之后")
	c.expression()
	c.consume(lexer.TokenRightParen, "期望 ')' 在条件之后")

	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)
}

// forStatement compiles `循环 (init; cond; incr) body`, desugared the
// same way as C-style for loops: a block holding the initializer, a
// while loop around the condition, with the increment spliced in
// right before the loop repeats.
func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(lexer.TokenLeftParen, "期望 '(' 在 '循环' 之后")

	switch {
	case c.match(lexer.TokenSemicolon):
		// no initializer
	case c.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.currentChunk().Code)
	exitJump := -1
	if !c.match(lexer.TokenSemicolon) {
		c.expression()
		c.consume(lexer.TokenSemicolon, "期望 ';' 在循环条件之后")
		exitJump = c.emitJump(bytecode.OpJumpIfFalse)
		c.emitOp(bytecode.OpPop)
	}

	if !c.match(lexer.TokenRightParen) {
		bodyJump := c.emitJump(bytecode.OpJump)
		incrStart := len(c.currentChunk().Code)
		c.expression()
		c.emitOp(bytecode.OpPop)
		c.consume(lexer.TokenRightParen, "期望 ')' 在循环子句之后")

		c.emitLoop(loopStart)
		loopStart = incrStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(bytecode.OpPop)
	}
	c.endScope()
}

func (c *Compiler) returnStatement() {
	if c.cur.fnType == typeScript {
		c.error("不能在顶层脚本中使用 '返回'")
	}
	if c.match(lexer.TokenSemicolon) {
		c.emitReturn()
		return
	}
	if c.cur.fnType == typeInitializer {
		c.error("初始化方法不能返回值")
	}
	c.expression()
	c.consume(lexer.TokenSemicolon, "期望 ';' 在返回值之后")
	c.emitOp(bytecode.OpReturn)
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("期望变量名")
	if c.match(lexer.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.consume(lexer.TokenSemicolon, "期望 ';' 在变量声明之后")
	c.defineVariable(global)
}

func (c *Compiler) parseVariable(message string) byte {
	c.consume(lexer.TokenIdentifier, message)
	c.declareLocal(c.previous.Lexeme)
	if c.cur.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.previous.Lexeme)
}

func (c *Compiler) defineVariable(global byte) {
	if c.cur.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitBytes(byte(bytecode.OpDefineGlobal), global)
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("期望函数名")
	c.markInitialized()
	c.compileFunction(typeFunction)
	c.defineVariable(global)
}

// compileFunction compiles a function or method body into its own
// context, then emits OP_CLOSURE in the enclosing one together with
// the captured-upvalue table the new context recorded.
func (c *Compiler) compileFunction(fnType functionType) {
	name := c.heap.InternString(c.previous.Lexeme)
	fn := c.heap.NewFunction(name, 0)
	ctx := newContext(c.cur, fnType, fn)
	c.cur = ctx
	c.beginScope()

	c.consume(lexer.TokenLeftParen, "期望 '(' 在函数名之后")
	if !c.check(lexer.TokenRightParen) {
		for {
			c.cur.function.Arity++
			if c.cur.function.Arity > 255 {
				c.errorAtCurrent("参数过多")
			}
			paramConst := c.parseVariable("期望参数名")
			c.defineVariable(paramConst)
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "期望 ')' 在参数列表之后")
	c.consume(lexer.TokenLeftBrace, "期望 '{' 来开始函数体")
	c.block()

	compiled := c.endContext()
	upvalues := ctx.upvalues
	c.emitBytes(byte(bytecode.OpClosure), c.makeConstant(value.ObjVal(compiled)))
	for _, u := range upvalues {
		isLocal := byte(0)
		if u.isLocal {
			isLocal = 1
		}
		c.emitBytes(isLocal, byte(u.index))
	}
}

func (c *Compiler) classDeclaration() {
	c.consume(lexer.TokenIdentifier, "期望类名")
	className := c.previous
	nameConstant := c.identifierConstant(className.Lexeme)
	c.declareLocal(className.Lexeme)

	c.emitBytes(byte(bytecode.OpClass), nameConstant)
	c.defineVariable(nameConstant)

	cc := &classCompiler{enclosing: c.class}
	c.class = cc

	if c.match(lexer.TokenLess) {
		c.consume(lexer.TokenIdentifier, "期望父类名")
		c.variable(false)
		if c.previous.Lexeme == className.Lexeme {
			c.error("类不能继承自身")
		}

		c.beginScope()
		c.addLocal("父类")
		c.defineVariable(0)

		c.namedVariableGet(className.Lexeme)
		c.emitOp(bytecode.OpInherit)
		cc.hasSuperclass = true
	}

	c.namedVariableGet(className.Lexeme)
	c.consume(lexer.TokenLeftBrace, "期望 '{' 来开始类体")
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.method()
	}
	c.consume(lexer.TokenRightBrace, "期望 '}' 来结束类体")
	c.emitOp(bytecode.OpPop)

	if cc.hasSuperclass {
		c.endScope()
	}
	c.class = cc.enclosing
}

func (c *Compiler) method() {
	c.consume(lexer.TokenIdentifier, "期望方法名")
	name := c.previous.Lexeme
	constant := c.identifierConstant(name)

	fnType := typeMethod
	if name == "初始化" {
		fnType = typeInitializer
	}
	c.compileFunction(fnType)
	c.emitBytes(byte(bytecode.OpMethod), constant)
}
