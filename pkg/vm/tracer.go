package vm

import (
	"fmt"
	"io"
)

// Tracer, when attached to a VM, logs every instruction the dispatch
// loop executes plus a snapshot of the value stack beforehand. This is
// the Go-safe descendant of an interactive breakpoint debugger: Qi has
// no suspension points a script can observe, so there is
// nothing to pause *at*, but the disassembly-per-step trace is exactly
// the debugging aid the VM can still offer the `qi` CLI's `-trace` flag.
type Tracer struct {
	out io.Writer
}

// NewTracer returns a Tracer writing to out.
func NewTracer(out io.Writer) *Tracer { return &Tracer{out: out} }

func (t *Tracer) traceStack(vm *VM) {
	if t == nil {
		return
	}
	fmt.Fprint(t.out, "          ")
	for i := 0; i < vm.stackTop; i++ {
		fmt.Fprintf(t.out, "[ %s ]", vm.stack[i].String())
	}
	fmt.Fprintln(t.out)
}

func (t *Tracer) traceInstruction(frame *CallFrame, offset int) {
	if t == nil {
		return
	}
	line, _ := frame.closure.Function.Chunk.DisassembleInstruction(offset)
	fmt.Fprint(t.out, line)
}
