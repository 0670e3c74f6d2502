// Package vm implements Qi's stack-based virtual machine: instruction
// dispatch, call frames, upvalue capture/close, and method dispatch
// for instances, strings, and lists.
package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/anonymousaardvark/qi/pkg/bytecode"
	"github.com/anonymousaardvark/qi/pkg/compiler"
	"github.com/anonymousaardvark/qi/pkg/gc"
	"github.com/anonymousaardvark/qi/pkg/value"
)

const (
	defaultFramesMax = 64  // call-depth overflow threshold
	slotsPerFrame    = 256 // locals/temporaries a single frame may need at once
)

// CallFrame is one active invocation: the closure running, its
// resumption point in that closure's chunk, and the stack slot its
// locals are based at.
type CallFrame struct {
	closure *value.ObjClosure
	ip      int
	slots   int
}

// VM executes compiled Qi bytecode.
type VM struct {
	heap *gc.Heap

	framesMax int

	stack    []value.Value // len == cap == framesMax*slotsPerFrame; never reallocated, so upvalue Location pointers stay valid
	stackTop int

	frames     []CallFrame // len == framesMax
	frameCount int

	globals      *value.Table
	openUpvalues *value.ObjUpvalue // sorted by descending stack address

	stdout io.Writer
	tracer *Tracer
}

// Option configures a VM at construction time; see WithFramesMax.
type Option interface{ apply(vm *VM) }

type framesMaxOption int

func (f framesMaxOption) apply(vm *VM) { vm.framesMax = int(f) }

// WithFramesMax overrides the call-depth overflow threshold (default
// 64), and so the preallocated stack's size (framesMax*256 slots).
func WithFramesMax(n int) Option { return framesMaxOption(n) }

// New returns a VM allocating through heap; the compiler that produced
// whatever code it runs must share the same heap, since the chunk's
// constant pool holds objects the VM cannot re-create.
func New(heap *gc.Heap, opts ...Option) *VM {
	vm := &VM{
		heap:      heap,
		framesMax: defaultFramesMax,
		globals:   value.NewTable(),
		stdout:    os.Stdout,
	}
	for _, opt := range opts {
		opt.apply(vm)
	}
	vm.stack = make([]value.Value, vm.framesMax*slotsPerFrame)
	vm.frames = make([]CallFrame, vm.framesMax)
	vm.registerCoreModule()
	return vm
}

// SetOutput redirects 打印 output (default os.Stdout).
func (vm *VM) SetOutput(w io.Writer) { vm.stdout = w }

// SetTracer attaches an execution tracer (nil to disable).
func (vm *VM) SetTracer(t *Tracer) { vm.tracer = t }

// Globals exposes the VM's global table, so a REPL can keep one VM
// alive across successive Interpret calls.
func (vm *VM) Globals() *value.Table { return vm.globals }

// Heap exposes the GC the VM allocates through.
func (vm *VM) Heap() *gc.Heap { return vm.heap }

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

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

// CompileErrors adapts a batch of compile diagnostics to the error
// interface, so Interpret can return either kind of failure uniformly.
type CompileErrors []compiler.CompileError

func (es CompileErrors) Error() string {
	s := ""
	for i, e := range es {
		if i > 0 {
			s += "\n"
		}
		s += e.Error()
	}
	return s
}

// Interpret compiles and runs source as a top-level script. It returns
// CompileErrors if compilation failed, a *RuntimeError if execution
// raised one, or nil on success.
func (vm *VM) Interpret(source string) error {
	fn, errs := compiler.New(vm.heap).Compile(source)
	if errs != nil {
		return CompileErrors(errs)
	}

	closure := vm.heap.NewClosure(fn, nil)
	vm.push(value.ObjVal(closure))
	if rtErr := vm.call(closure, 0); rtErr != nil {
		vm.resetStack()
		return rtErr
	}
	_, rtErr := vm.run(0)
	if rtErr != nil {
		vm.resetStack()
		return rtErr
	}
	return nil
}

// run executes instructions until the frame count drops back to base:
// 0 for a top-level Interpret call, or the depth runClosure pushed
// from when a native reenters script code via a callback.
func (vm *VM) run(base int) (value.Value, *RuntimeError) {
	frame := &vm.frames[vm.frameCount-1]
	ip := frame.ip
	code := frame.closure.Function.Chunk.Code

	readByte := func() byte {
		b := code[ip]
		ip++
		return b
	}
	readShort := func() int {
		hi, lo := code[ip], code[ip+1]
		ip += 2
		return int(hi)<<8 | int(lo)
	}
	readConstant := func() value.Value {
		return frame.closure.Function.Chunk.Constants[readByte()]
	}
	readString := func() *value.ObjString {
		return readConstant().Obj.(*value.ObjString)
	}
	runtimeErr := func(format string, args ...interface{}) *RuntimeError {
		frame.ip = ip
		return vm.runtimeError(format, args...)
	}

	for {
		if vm.tracer != nil {
			vm.tracer.traceStack(vm)
			vm.tracer.traceInstruction(frame, ip)
		}
		vm.heap.MaybeCollect(vm.stack[:vm.stackTop], vm.gcRoots())

		op := bytecode.Opcode(readByte())
		switch op {
		case bytecode.OpConstant:
			vm.push(readConstant())
		case bytecode.OpNil:
			vm.push(value.Nil)
		case bytecode.OpTrue:
			vm.push(value.Bool(true))
		case bytecode.OpFalse:
			vm.push(value.Bool(false))
		case bytecode.OpPop:
			vm.pop()
		case bytecode.OpDup:
			vm.push(vm.peek(0))
		case bytecode.OpDoubleDup:
			a, b := vm.peek(1), vm.peek(0)
			vm.push(a)
			vm.push(b)

		case bytecode.OpGetLocal:
			vm.push(vm.stack[frame.slots+int(readByte())])
		case bytecode.OpSetLocal:
			vm.stack[frame.slots+int(readByte())] = vm.peek(0)

		case bytecode.OpGetGlobal:
			name := readString()
			v, ok := vm.globals.Get(name)
			if !ok {
				return value.Nil, runtimeErr("未定义的变量 '%s'", name.Chars)
			}
			vm.push(v)
		case bytecode.OpDefineGlobal:
			name := readString()
			vm.globals.Set(name, vm.peek(0))
			vm.pop()
		case bytecode.OpSetGlobal:
			name := readString()
			if vm.globals.Set(name, vm.peek(0)) {
				vm.globals.Delete(name)
				return value.Nil, runtimeErr("未定义的变量 '%s'", name.Chars)
			}

		case bytecode.OpGetUpvalue:
			vm.push(frame.closure.Upvalues[readByte()].Get())
		case bytecode.OpSetUpvalue:
			frame.closure.Upvalues[readByte()].Set(vm.peek(0))

		case bytecode.OpGetProperty:
			if !vm.peek(0).IsObjType(value.ObjTypeInstance) {
				return value.Nil, runtimeErr("只有实例具有属性")
			}
			inst := vm.peek(0).Obj.(*value.ObjInstance)
			name := readString()
			if v, ok := inst.Fields.Get(name); ok {
				vm.pop()
				vm.push(v)
				break
			}
			frame.ip = ip
			if !vm.bindMethod(inst.Class, name) {
				return value.Nil, vm.runtimeError("未定义的属性 '%s'", name.Chars)
			}
			ip = frame.ip

		case bytecode.OpSetProperty:
			if !vm.peek(1).IsObjType(value.ObjTypeInstance) {
				return value.Nil, runtimeErr("只有实例具有属性")
			}
			inst := vm.peek(1).Obj.(*value.ObjInstance)
			if inst.IsStatic {
				return value.Nil, runtimeErr("不能修改静态实例的字段")
			}
			name := readString()
			inst.Fields.Set(name, vm.peek(0))
			v := vm.pop()
			vm.pop()
			vm.push(v)

		case bytecode.OpGetSuper:
			name := readString()
			superclass := vm.pop().Obj.(*value.ObjClass)
			frame.ip = ip
			if !vm.bindMethod(superclass, name) {
				return value.Nil, vm.runtimeError("未定义的属性 '%s'", name.Chars)
			}
			ip = frame.ip

		case bytecode.OpBuildList:
			count := int(readByte())
			items := make([]value.Value, count)
			copy(items, vm.stack[vm.stackTop-count:vm.stackTop])
			vm.stackTop -= count
			vm.push(value.ObjVal(vm.heap.NewList(items)))

		case bytecode.OpIndexSubscr:
			frame.ip = ip
			v, rtErr := vm.indexGet(vm.peek(1), vm.peek(0))
			if rtErr != nil {
				return value.Nil, rtErr
			}
			vm.pop()
			vm.pop()
			vm.push(v)
		case bytecode.OpStoreSubscr:
			val := vm.peek(0)
			frame.ip = ip
			if rtErr := vm.indexSet(vm.peek(2), vm.peek(1), val); rtErr != nil {
				return value.Nil, rtErr
			}
			vm.stackTop -= 3
			vm.push(val)

		case bytecode.OpEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(value.Bool(value.Equal(a, b)))
		case bytecode.OpGreater:
			b, a, rtErr := vm.popNumbers(runtimeErr)
			if rtErr != nil {
				return value.Nil, rtErr
			}
			vm.push(value.Bool(a > b))
		case bytecode.OpLess:
			b, a, rtErr := vm.popNumbers(runtimeErr)
			if rtErr != nil {
				return value.Nil, rtErr
			}
			vm.push(value.Bool(a < b))

		case bytecode.OpAdd:
			if rtErr := vm.add(runtimeErr); rtErr != nil {
				return value.Nil, rtErr
			}
		case bytecode.OpSubtract:
			b, a, rtErr := vm.popNumbers(runtimeErr)
			if rtErr != nil {
				return value.Nil, rtErr
			}
			vm.push(value.Num(a - b))
		case bytecode.OpMultiply:
			b, a, rtErr := vm.popNumbers(runtimeErr)
			if rtErr != nil {
				return value.Nil, rtErr
			}
			vm.push(value.Num(a * b))
		case bytecode.OpDivide:
			b, a, rtErr := vm.popNumbers(runtimeErr)
			if rtErr != nil {
				return value.Nil, rtErr
			}
			vm.push(value.Num(a / b))
		case bytecode.OpModulo:
			b, a, rtErr := vm.popNumbers(runtimeErr)
			if rtErr != nil {
				return value.Nil, rtErr
			}
			vm.push(value.Num(floatMod(a, b)))
		case bytecode.OpNot:
			vm.push(value.Bool(!vm.pop().Truthy()))
		case bytecode.OpNegate:
			if vm.peek(0).Kind != value.KindNumber {
				return value.Nil, runtimeErr("操作数必须为数字")
			}
			vm.push(value.Num(-vm.pop().Number))
		case bytecode.OpIncrement:
			if vm.peek(0).Kind != value.KindNumber {
				return value.Nil, runtimeErr("操作数必须为数字")
			}
			vm.push(value.Num(vm.pop().Number + 1))
		case bytecode.OpDecrement:
			if vm.peek(0).Kind != value.KindNumber {
				return value.Nil, runtimeErr("操作数必须为数字")
			}
			vm.push(value.Num(vm.pop().Number - 1))

		case bytecode.OpBitwiseNot:
			if vm.peek(0).Kind != value.KindNumber {
				return value.Nil, runtimeErr("操作数必须为数字")
			}
			vm.push(value.Num(float64(^toInt32(vm.pop().Number))))
		case bytecode.OpBitwiseAnd:
			b, a, rtErr := vm.popNumbers(runtimeErr)
			if rtErr != nil {
				return value.Nil, rtErr
			}
			vm.push(value.Num(float64(toInt32(a) & toInt32(b))))
		case bytecode.OpBitwiseOr:
			b, a, rtErr := vm.popNumbers(runtimeErr)
			if rtErr != nil {
				return value.Nil, rtErr
			}
			vm.push(value.Num(float64(toInt32(a) | toInt32(b))))
		case bytecode.OpBitwiseXor:
			b, a, rtErr := vm.popNumbers(runtimeErr)
			if rtErr != nil {
				return value.Nil, rtErr
			}
			vm.push(value.Num(float64(toInt32(a) ^ toInt32(b))))
		case bytecode.OpBitwiseLeftShift:
			b, a, rtErr := vm.popNumbers(runtimeErr)
			if rtErr != nil {
				return value.Nil, rtErr
			}
			vm.push(value.Num(float64(toInt32(a) << uint32(toInt32(b)&31))))
		case bytecode.OpBitwiseRightShift:
			b, a, rtErr := vm.popNumbers(runtimeErr)
			if rtErr != nil {
				return value.Nil, rtErr
			}
			vm.push(value.Num(float64(toInt32(a) >> uint32(toInt32(b)&31))))

		case bytecode.OpPrint:
			fmt.Fprintln(vm.stdout, vm.pop().String())

		case bytecode.OpJump:
			offset := readShort()
			ip += offset
		case bytecode.OpJumpIfFalse:
			offset := readShort()
			if !vm.peek(0).Truthy() {
				ip += offset
			}
		case bytecode.OpLoop:
			offset := readShort()
			ip -= offset

		case bytecode.OpCall:
			argCount := int(readByte())
			frame.ip = ip
			rtErr := vm.callValue(vm.peek(argCount), argCount)
			if rtErr != nil {
				return value.Nil, rtErr
			}
			frame = &vm.frames[vm.frameCount-1]
			ip = frame.ip
			code = frame.closure.Function.Chunk.Code

		case bytecode.OpInvoke:
			name := readString()
			argCount := int(readByte())
			frame.ip = ip
			rtErr := vm.invoke(name, argCount)
			if rtErr != nil {
				return value.Nil, rtErr
			}
			frame = &vm.frames[vm.frameCount-1]
			ip = frame.ip
			code = frame.closure.Function.Chunk.Code

		case bytecode.OpSuperInvoke:
			name := readString()
			argCount := int(readByte())
			superclass := vm.pop().Obj.(*value.ObjClass)
			frame.ip = ip
			rtErr := vm.invokeFromClass(superclass, name, argCount)
			if rtErr != nil {
				return value.Nil, rtErr
			}
			frame = &vm.frames[vm.frameCount-1]
			ip = frame.ip
			code = frame.closure.Function.Chunk.Code

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slots)
			vm.frameCount--
			vm.stackTop = frame.slots
			vm.push(result)
			if vm.frameCount == base {
				return result, nil
			}
			frame = &vm.frames[vm.frameCount-1]
			ip = frame.ip
			code = frame.closure.Function.Chunk.Code

		case bytecode.OpClosure:
			fn := readConstant().Obj.(*value.ObjFunction)
			upvalues := make([]*value.ObjUpvalue, fn.UpvalueCount)
			for i := range upvalues {
				isLocal := readByte()
				index := int(readByte())
				if isLocal != 0 {
					upvalues[i] = vm.captureUpvalue(frame.slots + index)
				} else {
					upvalues[i] = frame.closure.Upvalues[index]
				}
			}
			vm.push(value.ObjVal(vm.heap.NewClosure(fn, upvalues)))
		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case bytecode.OpClass:
			vm.push(value.ObjVal(vm.heap.NewClass(readString())))
		case bytecode.OpInherit:
			if !vm.peek(1).IsObjType(value.ObjTypeClass) {
				return value.Nil, runtimeErr("父类必须是类")
			}
			superclass := vm.peek(1).Obj.(*value.ObjClass)
			subclass := vm.peek(0).Obj.(*value.ObjClass)
			superclass.Methods.Each(func(k *value.ObjString, v value.Value) {
				subclass.Methods.Set(k, v)
			})
			vm.pop()
		case bytecode.OpMethod:
			vm.defineMethod(readString())

		case bytecode.OpEnd:
			// explicit chunk terminator; OpReturn always unwinds first,
			// so the dispatch loop never actually reaches this.

		default:
			return value.Nil, runtimeErr("未知操作码 %d", byte(op))
		}
	}
}

func floatMod(a, b float64) float64 {
	return a - b*float64(int64(a/b))
}

func toInt32(n float64) int32 { return int32(int64(n)) }

func (vm *VM) popNumbers(runtimeErr func(string, ...interface{}) *RuntimeError) (b, a float64, rtErr *RuntimeError) {
	if vm.peek(0).Kind != value.KindNumber || vm.peek(1).Kind != value.KindNumber {
		return 0, 0, runtimeErr("操作数必须为数字")
	}
	bv := vm.pop()
	av := vm.pop()
	return bv.Number, av.Number, nil
}

func (vm *VM) add(runtimeErr func(string, ...interface{}) *RuntimeError) *RuntimeError {
	bv, av := vm.peek(0), vm.peek(1)
	switch {
	case av.Kind == value.KindNumber && bv.Kind == value.KindNumber:
		vm.pop()
		vm.pop()
		vm.push(value.Num(av.Number + bv.Number))
		return nil
	case av.IsObjType(value.ObjTypeString) && bv.IsObjType(value.ObjTypeString):
		vm.pop()
		vm.pop()
		as := av.Obj.(*value.ObjString)
		bs := bv.Obj.(*value.ObjString)
		vm.push(value.ObjVal(vm.heap.InternString(as.Chars + bs.Chars)))
		return nil
	default:
		return runtimeErr("操作数必须为两个数字或两个字符串")
	}
}

// runtimeError builds a *RuntimeError with a backtrace from the
// innermost active frame outward, naming the top-level script "脚本".
// Callers must flush their cached ip into frame.ip before calling.
func (vm *VM) runtimeError(format string, args ...interface{}) *RuntimeError {
	message := fmt.Sprintf(format, args...)
	trace := make([]Frame, 0, vm.frameCount)
	for i := vm.frameCount - 1; i >= 0; i-- {
		f := &vm.frames[i]
		fn := f.closure.Function
		name := "脚本"
		if fn.Name != nil {
			name = fn.Name.Chars
		}
		line := fn.Chunk.LineAt(f.ip - 1)
		trace = append(trace, Frame{Name: name, Line: line})
	}
	return newRuntimeError(message, trace)
}

// gcRoots supplies every object root reachable only through a frame or
// the open-upvalue chain, plus the global table's contents, since
// MaybeCollect's root set is the value stack by default and globals
// live outside it.
func (vm *VM) gcRoots() []value.Object {
	roots := make([]value.Object, 0, vm.frameCount+8)
	for i := 0; i < vm.frameCount; i++ {
		roots = append(roots, vm.frames[i].closure)
	}
	for u := vm.openUpvalues; u != nil; u = u.Next {
		roots = append(roots, u)
	}
	vm.globals.Each(func(k *value.ObjString, v value.Value) {
		roots = append(roots, k)
		if v.Kind == value.KindObject && v.Obj != nil {
			roots = append(roots, v.Obj)
		}
	})
	return roots
}
