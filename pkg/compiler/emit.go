package compiler

import (
	"github.com/anonymousaardvark/qi/pkg/bytecode"
	"github.com/anonymousaardvark/qi/pkg/value"
)

const maxJump = 1<<16 - 1 // jump operands are 16-bit

func (c *Compiler) currentChunk() *value.Chunk { return c.cur.function.Chunk }

func (c *Compiler) emitByte(b byte) {
	c.currentChunk().Write(b, c.previous.Line)
}

func (c *Compiler) emitOp(op bytecode.Opcode) { c.emitByte(byte(op)) }

func (c *Compiler) emitBytes(a, b byte) {
	c.emitByte(a)
	c.emitByte(b)
}

// emitReturn emits an implicit return: initializers implicitly return
// `this` (slot 0); everything else implicitly returns nil. Used both
// for control falling off a function body and for a bare `返回;`.
func (c *Compiler) emitReturn() {
	if c.cur.fnType == typeInitializer {
		c.emitBytes(byte(bytecode.OpGetLocal), 0)
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.emitOp(bytecode.OpReturn)
}

// makeConstant adds v to the current function's constant pool,
// reporting a compile error if doing so would overflow the 1-byte
// constant-index operand.
func (c *Compiler) makeConstant(v value.Value) byte {
	idx := c.currentChunk().AddConstant(v)
	if idx > 255 {
		c.error("一个代码块中常量过多")
		return 0
	}
	return byte(idx)
}

func (c *Compiler) emitConstant(v value.Value) {
	c.emitBytes(byte(bytecode.OpConstant), c.makeConstant(v))
}

// emitJump writes a jump instruction with a placeholder 16-bit operand
// and returns the offset of its first operand byte, to be filled in
// later by patchJump.
func (c *Compiler) emitJump(op bytecode.Opcode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.currentChunk().Code) - 2
}

// patchJump backfills the jump emitted at offset to land on the
// current end of the chunk.
func (c *Compiler) patchJump(offset int) {
	jump := len(c.currentChunk().Code) - offset - 2
	if jump > maxJump {
		c.error("跳转范围过大")
		return
	}
	code := c.currentChunk().Code
	code[offset] = byte((jump >> 8) & 0xff)
	code[offset+1] = byte(jump & 0xff)
}

// emitLoop emits OP_LOOP with a backward offset to loopStart.
func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(bytecode.OpLoop)
	offset := len(c.currentChunk().Code) - loopStart + 2
	if offset > maxJump {
		c.error("循环体过大")
		return
	}
	c.emitByte(byte((offset >> 8) & 0xff))
	c.emitByte(byte(offset & 0xff))
}

// identifierConstant interns name and adds it to the constant pool,
// for OP_*_GLOBAL/OP_GET_PROPERTY/OP_METHOD operands that need a name
// rather than a resolved slot.
func (c *Compiler) identifierConstant(name string) byte {
	return c.makeConstant(value.ObjVal(c.heap.InternString(name)))
}
