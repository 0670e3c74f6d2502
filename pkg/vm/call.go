package vm

import (
	"unsafe"

	"github.com/anonymousaardvark/qi/pkg/value"
)

// addr orders pointers into the VM's stack array; Go defines only ==
// and != on pointers, so the open-upvalue list (kept sorted by
// descending stack address, matching clox's ordering) needs this to
// compare two *Value slots.
func addr(p *value.Value) uintptr { return uintptr(unsafe.Pointer(p)) }

// callValue dispatches a call to whatever kind of callable sits at
// stack depth argCount below the top: a closure (pushes a frame), a
// native (runs inline), a class (constructs an instance, then an
// initializer call if one exists), or a bound method (unwraps to its
// receiver and re-dispatches).
func (vm *VM) callValue(callee value.Value, argCount int) *RuntimeError {
	if callee.Kind != value.KindObject || callee.Obj == nil {
		return vm.runtimeError("只能调用函数或类")
	}
	switch callee := callee.Obj.(type) {
	case *value.ObjClosure:
		return vm.call(callee, argCount)
	case *value.ObjNative:
		return vm.callNative(callee, argCount)
	case *value.ObjClass:
		return vm.instantiate(callee, argCount)
	case *value.ObjBoundMethod:
		vm.stack[vm.stackTop-argCount-1] = callee.Receiver
		switch m := callee.Method.(type) {
		case *value.ObjClosure:
			return vm.call(m, argCount)
		case *value.ObjNative:
			return vm.callNative(m, argCount)
		}
	}
	return vm.runtimeError("只能调用函数或类")
}

func (vm *VM) call(closure *value.ObjClosure, argCount int) *RuntimeError {
	if argCount != closure.Function.Arity {
		return vm.runtimeError("期望 %d 个参数，但获得了 %d 个", closure.Function.Arity, argCount)
	}
	if vm.frameCount == vm.framesMax {
		return vm.runtimeError("调用栈溢出")
	}
	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.slots = vm.stackTop - argCount - 1
	return nil
}

func (vm *VM) callNative(native *value.ObjNative, argCount int) *RuntimeError {
	if native.Arity != -1 && argCount != native.Arity {
		return vm.runtimeError("期望 %d 个参数，但获得了 %d 个", native.Arity, argCount)
	}
	args := vm.stack[vm.stackTop-argCount : vm.stackTop]
	result, ok, errMsg := native.Fn(args)
	if !ok {
		return vm.runtimeError("%s", errMsg)
	}
	vm.stackTop -= argCount + 1
	vm.push(result)
	return nil
}

// instantiate allocates a new instance of class and, if it defines an
// initializer, calls it with the constructor arguments; otherwise a
// constructor call with arguments is an arity error.
func (vm *VM) instantiate(class *value.ObjClass, argCount int) *RuntimeError {
	inst := vm.heap.NewInstance(class, false)
	vm.stack[vm.stackTop-argCount-1] = value.ObjVal(inst)

	if initializer, ok := class.Methods.Get(vm.heap.InitString); ok {
		closure := initializer.Obj.(*value.ObjClosure)
		return vm.call(closure, argCount)
	}
	if argCount != 0 {
		return vm.runtimeError("期望 0 个参数，但获得了 %d 个", argCount)
	}
	return nil
}

// bindMethod looks up name on class, pushing a bound method (or
// native) value. Returns false if the class has no such method.
func (vm *VM) bindMethod(class *value.ObjClass, name *value.ObjString) bool {
	method, ok := class.Methods.Get(name)
	if !ok {
		return false
	}
	receiver := vm.pop()
	bound := vm.heap.NewBoundMethod(receiver, method.Obj)
	vm.push(value.ObjVal(bound))
	return true
}

// invoke fuses a OP_GET_PROPERTY + OP_CALL pair for the common case of
// calling a method directly off its receiver, skipping the
// intermediate bound-method allocation. On an instance a field of
// that name is tried first (the field might hold a callable), then the
// class's methods; string and list receivers go to their built-in
// method tables.
func (vm *VM) invoke(name *value.ObjString, argCount int) *RuntimeError {
	receiver := vm.peek(argCount)
	switch {
	case receiver.IsObjType(value.ObjTypeInstance):
		inst := receiver.Obj.(*value.ObjInstance)
		if v, ok := inst.Fields.Get(name); ok {
			vm.stack[vm.stackTop-argCount-1] = v
			return vm.callValue(v, argCount)
		}
		return vm.invokeFromClass(inst.Class, name, argCount)
	case receiver.IsObjType(value.ObjTypeString):
		return vm.invokeString(receiver.Obj.(*value.ObjString), name, argCount)
	case receiver.IsObjType(value.ObjTypeList):
		return vm.invokeList(receiver.Obj.(*value.ObjList), name, argCount)
	default:
		return vm.runtimeError("只有实例、字符串和列表具有方法")
	}
}

func (vm *VM) invokeFromClass(class *value.ObjClass, name *value.ObjString, argCount int) *RuntimeError {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeError("未定义的属性 '%s'", name.Chars)
	}
	switch m := method.Obj.(type) {
	case *value.ObjClosure:
		return vm.call(m, argCount)
	case *value.ObjNative:
		return vm.callNative(m, argCount)
	default:
		return vm.runtimeError("未定义的属性 '%s'", name.Chars)
	}
}

func (vm *VM) defineMethod(name *value.ObjString) {
	method := vm.pop()
	class := vm.peek(0).Obj.(*value.ObjClass)
	class.Methods.Set(name, method)
}

// captureUpvalue returns the existing open upvalue for stack slot, or
// creates and links a new one, keeping the open-upvalue list sorted by
// descending stack address so closeUpvalues can stop early.
func (vm *VM) captureUpvalue(slot int) *value.ObjUpvalue {
	target := &vm.stack[slot]
	var prev *value.ObjUpvalue
	cur := vm.openUpvalues
	for cur != nil && addr(cur.Location) > addr(target) {
		prev = cur
		cur = cur.Next
	}
	if cur != nil && cur.Location == target {
		return cur
	}

	created := vm.heap.NewUpvalue(target)
	created.Next = cur
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above stack slot last,
// copying each one's value out of the stack before that slot is
// overwritten or discarded.
func (vm *VM) closeUpvalues(last int) {
	for vm.openUpvalues != nil && addr(vm.openUpvalues.Location) >= addr(&vm.stack[last]) {
		u := vm.openUpvalues
		u.Close()
		vm.openUpvalues = u.Next
	}
}

// runClosure invokes closure with args from native code (the callback
// convention 过滤/排序 use to call back into script code): pushes
// closure and its arguments, calls it, then drives the dispatch loop
// until that single call returns, without disturbing any frame the
// native itself was called from.
func (vm *VM) runClosure(closure *value.ObjClosure, args []value.Value) (value.Value, *RuntimeError) {
	vm.push(value.ObjVal(closure))
	for _, a := range args {
		vm.push(a)
	}
	base := vm.frameCount
	if rtErr := vm.call(closure, len(args)); rtErr != nil {
		return value.Nil, rtErr
	}
	result, rtErr := vm.run(base)
	if rtErr != nil {
		return value.Nil, rtErr
	}
	vm.pop() // OP_RETURN pushed the result for us; the native takes it by value
	return result, nil
}
