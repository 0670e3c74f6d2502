package value

import (
	"fmt"
	"strings"

	"github.com/anonymousaardvark/qi/pkg/bytecode"
)

// Chunk is a function's compiled bytecode: parallel code/line arrays
// plus the constant pool they index into. Constants are
// deduplicated only trivially, by append — the compiler may reuse an
// existing index when convenient but is not required to.
type Chunk struct {
	Code      []byte
	Lines     []int
	Constants []Value
}

// Write appends one raw instruction byte, recording the source line it
// came from.
func (c *Chunk) Write(b byte, line int) {
	c.Code = append(c.Code, b)
	c.Lines = append(c.Lines, line)
}

// WriteOp appends an opcode byte.
func (c *Chunk) WriteOp(op bytecode.Opcode, line int) {
	c.Write(byte(op), line)
}

// AddConstant appends v to the constant pool and returns its index.
func (c *Chunk) AddConstant(v Value) int {
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// LineAt returns the source line recorded for the instruction at the
// given code offset, used to build runtime-error backtraces.
func (c *Chunk) LineAt(offset int) int {
	if offset < 0 || offset >= len(c.Lines) {
		if len(c.Lines) > 0 {
			return c.Lines[len(c.Lines)-1]
		}
		return 0
	}
	return c.Lines[offset]
}

// Disassemble renders the full chunk as human-readable text: the
// constant pool, then the instruction stream with decoded operands.
// Used by the `qi disasm` CLI subcommand.
func (c *Chunk) Disassemble(name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "== %s ==\n", name)
	for offset := 0; offset < len(c.Code); {
		offset = c.disassembleInstruction(&b, offset)
	}
	return b.String()
}

// DisassembleInstruction renders the single instruction at offset and
// returns the offset of the instruction that follows it. Used by the
// VM's execution tracer to print one line per dispatched instruction.
func (c *Chunk) DisassembleInstruction(offset int) (string, int) {
	var b strings.Builder
	next := c.disassembleInstruction(&b, offset)
	return b.String(), next
}

func (c *Chunk) disassembleInstruction(b *strings.Builder, offset int) int {
	fmt.Fprintf(b, "%04d ", offset)
	if offset > 0 && c.Lines[offset] == c.Lines[offset-1] {
		fmt.Fprint(b, "   | ")
	} else {
		fmt.Fprintf(b, "%4d ", c.Lines[offset])
	}

	op := bytecode.Opcode(c.Code[offset])
	switch op {
	case bytecode.OpInvoke, bytecode.OpSuperInvoke:
		constant := c.Code[offset+1]
		argc := c.Code[offset+2]
		fmt.Fprintf(b, "%-16s (%d args) %4d '%s'\n", op, argc, constant, c.constantName(constant))
		return offset + 3

	case bytecode.OpClosure:
		offset++
		constant := c.Code[offset]
		offset++
		fmt.Fprintf(b, "%-16s %4d %s\n", op, constant, c.constantName(constant))
		fn, _ := c.Constants[constant].Obj.(*ObjFunction)
		if fn != nil {
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := c.Code[offset]
				offset++
				index := c.Code[offset]
				offset++
				kind := "upvalue"
				if isLocal != 0 {
					kind = "local"
				}
				fmt.Fprintf(b, "%04d      |                     %s %d\n", offset-2, kind, index)
			}
		}
		return offset

	case bytecode.OpEnd:
		fmt.Fprintf(b, "%s\n", op)
		return offset + 1
	}

	switch bytecode.OperandBytes(op) {
	case 0:
		fmt.Fprintf(b, "%s\n", op)
		return offset + 1
	case 1:
		operand := c.Code[offset+1]
		extra := ""
		switch op {
		case bytecode.OpConstant, bytecode.OpGetGlobal, bytecode.OpDefineGlobal,
			bytecode.OpSetGlobal, bytecode.OpGetProperty, bytecode.OpSetProperty,
			bytecode.OpGetSuper, bytecode.OpClass, bytecode.OpMethod:
			extra = fmt.Sprintf(" '%s'", c.constantName(operand))
		}
		fmt.Fprintf(b, "%-16s %4d%s\n", op, operand, extra)
		return offset + 2
	case 2:
		hi, lo := c.Code[offset+1], c.Code[offset+2]
		jump := int(hi)<<8 | int(lo)
		sign := 1
		if op == bytecode.OpLoop {
			sign = -1
		}
		fmt.Fprintf(b, "%-16s %4d -> %d\n", op, offset, offset+3+sign*jump)
		return offset + 3
	default:
		fmt.Fprintf(b, "%s\n", op)
		return offset + 1
	}
}

func (c *Chunk) constantName(index byte) string {
	if int(index) >= len(c.Constants) {
		return "?"
	}
	return c.Constants[index].String()
}
