package compiler

import (
	"github.com/anonymousaardvark/qi/pkg/bytecode"
	"github.com/anonymousaardvark/qi/pkg/lexer"
)

// resolvedVar locates name against the current context, returning the
// get/set opcode pair and operand to use, and reporting a global's
// identifier-constant index when it isn't a local or upvalue at all.
func (c *Compiler) resolvedVar(name string) (getOp, setOp bytecode.Opcode, arg byte) {
	slot := resolveLocal(c.cur, name)
	switch {
	case slot == -2:
		c.error("不能在变量自身的初始化表达式中读取它")
		return bytecode.OpGetLocal, bytecode.OpSetLocal, 0
	case slot >= 0:
		return bytecode.OpGetLocal, bytecode.OpSetLocal, byte(slot)
	}

	up := resolveUpvalue(c.cur, name)
	switch {
	case up == -2:
		c.error("不能在变量自身的初始化表达式中读取它")
		return bytecode.OpGetUpvalue, bytecode.OpSetUpvalue, 0
	case up >= 0:
		return bytecode.OpGetUpvalue, bytecode.OpSetUpvalue, byte(up)
	}

	return bytecode.OpGetGlobal, bytecode.OpSetGlobal, c.identifierConstant(name)
}

func (c *Compiler) namedVariableGet(name string) {
	getOp, _, arg := c.resolvedVar(name)
	c.emitBytes(byte(getOp), arg)
}

// namedVariableIncDec applies a prefix ++/-- directly to a simple
// variable: get, increment/decrement in place, set (the set leaves
// the new value on the stack, which is exactly prefix semantics).
func (c *Compiler) namedVariableIncDec(name string, op bytecode.Opcode) {
	getOp, setOp, arg := c.resolvedVar(name)
	c.emitBytes(byte(getOp), arg)
	c.emitOp(op)
	c.emitBytes(byte(setOp), arg)
}

func (c *Compiler) namedVariable(name string, canAssign bool) {
	getOp, setOp, arg := c.resolvedVar(name)

	switch {
	case canAssign && c.match(lexer.TokenEqual):
		c.expression()
		c.emitBytes(byte(setOp), arg)
	case canAssign && c.checkCompoundAssign():
		op := c.compoundOp()
		c.emitBytes(byte(getOp), arg)
		c.expression()
		c.emitOp(op)
		c.emitBytes(byte(setOp), arg)
	case canAssign && c.match(lexer.TokenPlusPlus):
		c.postfixIncDec(getOp, setOp, arg, bytecode.OpIncrement)
	case canAssign && c.match(lexer.TokenMinusMinus):
		c.postfixIncDec(getOp, setOp, arg, bytecode.OpDecrement)
	default:
		c.emitBytes(byte(getOp), arg)
	}
}

// postfixIncDec leaves the pre-increment value as the expression's
// result: get, dup, increment/decrement, set (which doesn't consume
// the stack), then pop the now-stale post-value duplicate back off.
func (c *Compiler) postfixIncDec(getOp, setOp bytecode.Opcode, arg byte, op bytecode.Opcode) {
	c.emitBytes(byte(getOp), arg)
	c.emitOp(bytecode.OpDup)
	c.emitOp(op)
	c.emitBytes(byte(setOp), arg)
	c.emitOp(bytecode.OpPop)
}
