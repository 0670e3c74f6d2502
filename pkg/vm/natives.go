package vm

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/anonymousaardvark/qi/pkg/value"
)

// DefineNative installs fn as a method named name on class's method
// table, the external registration surface a "core module"
// collaborator uses to back class methods with Go code instead of Qi
// closures.
func (vm *VM) DefineNative(name string, arity int, fn value.NativeFn, class *value.ObjClass) {
	class.Methods.Set(vm.heap.InternString(name), value.ObjVal(vm.heap.NewNative(name, arity, fn)))
}

// DefineNativeInstance publishes instance under a global name.
func (vm *VM) DefineNativeInstance(name string, instance *value.ObjInstance) {
	vm.globals.Set(vm.heap.InternString(name), value.ObjVal(instance))
}

// DefineProperty sets a field on instance, for building up a
// pre-populated native instance before it is published.
func (vm *VM) DefineProperty(name string, val value.Value, instance *value.ObjInstance) {
	instance.Fields.Set(vm.heap.InternString(name), val)
}

// DefineGlobalNative installs fn directly as a callable global, for
// free functions like 时钟 that aren't methods on any class.
func (vm *VM) DefineGlobalNative(name string, arity int, fn value.NativeFn) {
	vm.globals.Set(vm.heap.InternString(name), value.ObjVal(vm.heap.NewNative(name, arity, fn)))
}

// registerCoreModule installs the handful of built-in globals a
// minimal standard library needs: a clock function and a frozen 数学
// (math) instance with native methods.
// Everything here goes through the same DefineNative/
// DefineNativeInstance/DefineProperty surface an out-of-tree
// collaborator would use; nothing below reaches into VM internals.
func (vm *VM) registerCoreModule() {
	start := time.Now()
	vm.DefineGlobalNative("时钟", 0, func(args []value.Value) (value.Value, bool, string) {
		return value.Num(time.Since(start).Seconds()), true, ""
	})

	mathClass := vm.heap.NewClass(vm.heap.InternString("数学"))
	vm.DefineNative("绝对值", 1, func(args []value.Value) (value.Value, bool, string) {
		n, ok := args[0], args[0].Kind == value.KindNumber
		if !ok {
			return value.Nil, false, "参数必须为数字"
		}
		return value.Num(math.Abs(n.Number)), true, ""
	}, mathClass)
	vm.DefineNative("最大值", 2, func(args []value.Value) (value.Value, bool, string) {
		if args[0].Kind != value.KindNumber || args[1].Kind != value.KindNumber {
			return value.Nil, false, "参数必须为数字"
		}
		return value.Num(math.Max(args[0].Number, args[1].Number)), true, ""
	}, mathClass)
	vm.DefineNative("最小值", 2, func(args []value.Value) (value.Value, bool, string) {
		if args[0].Kind != value.KindNumber || args[1].Kind != value.KindNumber {
			return value.Nil, false, "参数必须为数字"
		}
		return value.Num(math.Min(args[0].Number, args[1].Number)), true, ""
	}, mathClass)
	vm.DefineNative("平方根", 1, func(args []value.Value) (value.Value, bool, string) {
		if args[0].Kind != value.KindNumber {
			return value.Nil, false, "参数必须为数字"
		}
		if args[0].Number < 0 {
			return value.Nil, false, "不能对负数求平方根"
		}
		return value.Num(math.Sqrt(args[0].Number)), true, ""
	}, mathClass)
	vm.DefineNative("向下取整", 1, func(args []value.Value) (value.Value, bool, string) {
		if args[0].Kind != value.KindNumber {
			return value.Nil, false, "参数必须为数字"
		}
		return value.Num(math.Floor(args[0].Number)), true, ""
	}, mathClass)
	vm.DefineNative("向上取整", 1, func(args []value.Value) (value.Value, bool, string) {
		if args[0].Kind != value.KindNumber {
			return value.Nil, false, "参数必须为数字"
		}
		return value.Num(math.Ceil(args[0].Number)), true, ""
	}, mathClass)

	mathInstance := vm.heap.NewInstance(mathClass, true)
	vm.DefineProperty("圆周率", value.Num(math.Pi), mathInstance)
	vm.DefineNativeInstance("数学", mathInstance)
}

func runeIndex(s string, i int) int {
	if i < 0 {
		return len([]rune(s)) + i
	}
	return i
}

// invokeString dispatches OP_INVOKE against a string receiver to the
// fixed built-in method table. Indices are in rune units and negative
// indices wrap from the end, matching the rest of the object model's
// "wide character" string semantics.
func (vm *VM) invokeString(s *value.ObjString, name *value.ObjString, argCount int) *RuntimeError {
	args := vm.stack[vm.stackTop-argCount : vm.stackTop]
	runes := []rune(s.Chars)

	result, ok, errMsg := dispatchString(vm, runes, name.Chars, args)
	if !ok {
		return vm.runtimeError("%s", errMsg)
	}
	vm.stackTop -= argCount + 1
	vm.push(result)
	return nil
}

func dispatchString(vm *VM, runes []rune, method string, args []value.Value) (value.Value, bool, string) {
	switch method {
	case "长度":
		if len(args) != 0 {
			return value.Nil, false, "长度 不接受参数"
		}
		return value.Num(float64(len(runes))), true, ""

	case "索引":
		if len(args) != 1 || args[0].Kind != value.KindObject || !args[0].IsObjType(value.ObjTypeString) {
			return value.Nil, false, "索引 需要一个字符串参数"
		}
		needle := []rune(args[0].Obj.(*value.ObjString).Chars)
		idx := indexOfRunes(runes, needle)
		return value.Num(float64(idx)), true, ""

	case "计数":
		if len(args) != 1 || !args[0].IsObjType(value.ObjTypeString) {
			return value.Nil, false, "计数 需要一个字符串参数"
		}
		needle := []rune(args[0].Obj.(*value.ObjString).Chars)
		return value.Num(float64(countRunes(runes, needle))), true, ""

	case "分割":
		if len(args) != 1 || !args[0].IsObjType(value.ObjTypeString) {
			return value.Nil, false, "分割 需要一个字符串参数"
		}
		sep := args[0].Obj.(*value.ObjString).Chars
		parts := strings.Split(string(runes), sep)
		items := make([]value.Value, len(parts))
		for i, p := range parts {
			items[i] = value.ObjVal(vm.heap.InternString(p))
		}
		return value.ObjVal(vm.heap.NewList(items)), true, ""

	case "替换":
		if len(args) != 2 || !args[0].IsObjType(value.ObjTypeString) || !args[1].IsObjType(value.ObjTypeString) {
			return value.Nil, false, "替换 需要两个字符串参数"
		}
		old := args[0].Obj.(*value.ObjString).Chars
		repl := args[1].Obj.(*value.ObjString).Chars
		out := strings.ReplaceAll(string(runes), old, repl)
		return value.ObjVal(vm.heap.InternString(out)), true, ""

	case "去空格":
		return value.ObjVal(vm.heap.InternString(strings.TrimSpace(string(runes)))), true, ""
	case "去前空格":
		return value.ObjVal(vm.heap.InternString(strings.TrimLeft(string(runes), " \t\r\n"))), true, ""
	case "去后空格":
		return value.ObjVal(vm.heap.InternString(strings.TrimRight(string(runes), " \t\r\n"))), true, ""

	case "转大写":
		return value.ObjVal(vm.heap.InternString(strings.ToUpper(string(runes)))), true, ""
	case "转小写":
		return value.ObjVal(vm.heap.InternString(strings.ToLower(string(runes)))), true, ""

	case "子串":
		if len(args) != 2 || args[0].Kind != value.KindNumber || args[1].Kind != value.KindNumber {
			return value.Nil, false, "子串 需要两个数字参数"
		}
		begin := runeIndex(string(runes), int(args[0].Number))
		end := runeIndex(string(runes), int(args[1].Number))
		if begin < 0 || begin > len(runes) {
			return value.Nil, false, "子串起始索引越界"
		}
		if end < begin || end > len(runes) {
			return value.Nil, false, "子串结束索引越界"
		}
		return value.ObjVal(vm.heap.InternString(string(runes[begin:end]))), true, ""

	default:
		return value.Nil, false, "字符串没有方法 '" + method + "'"
	}
}

func indexOfRunes(haystack, needle []rune) int {
	hs := string(haystack)
	ns := string(needle)
	byteIdx := strings.Index(hs, ns)
	if byteIdx < 0 {
		return -1
	}
	return len([]rune(hs[:byteIdx]))
}

func countRunes(haystack, needle []rune) int {
	if len(needle) == 0 {
		return 0
	}
	return strings.Count(string(haystack), string(needle))
}

// invokeList dispatches OP_INVOKE against a list receiver. filter/sort
// reenter the dispatch loop via runClosure to call a script closure
//; every other method runs inline.
func (vm *VM) invokeList(l *value.ObjList, name *value.ObjString, argCount int) *RuntimeError {
	args := make([]value.Value, argCount)
	copy(args, vm.stack[vm.stackTop-argCount:vm.stackTop])

	result, rtErr := vm.dispatchList(l, name.Chars, args)
	if rtErr != nil {
		return rtErr
	}
	vm.stackTop -= argCount + 1
	vm.push(result)
	return nil
}

func (vm *VM) dispatchList(l *value.ObjList, method string, args []value.Value) (value.Value, *RuntimeError) {
	switch method {
	case "添加":
		if len(args) != 1 {
			return value.Nil, vm.runtimeError("添加 需要一个参数")
		}
		l.Items = append(l.Items, args[0])
		return value.Nil, nil

	case "弹出":
		if len(args) != 0 {
			return value.Nil, vm.runtimeError("弹出 不接受参数")
		}
		if len(l.Items) == 0 {
			return value.Nil, vm.runtimeError("不能从空列表中弹出")
		}
		last := l.Items[len(l.Items)-1]
		l.Items = l.Items[:len(l.Items)-1]
		return last, nil

	case "插入":
		if len(args) != 2 || args[0].Kind != value.KindNumber {
			return value.Nil, vm.runtimeError("插入 需要一个索引和一个值")
		}
		i := listIndex(len(l.Items), int(args[0].Number))
		if i < 0 || i > len(l.Items) {
			return value.Nil, vm.runtimeError("插入索引越界")
		}
		l.Items = append(l.Items, value.Nil)
		copy(l.Items[i+1:], l.Items[i:])
		l.Items[i] = args[1]
		return value.Nil, nil

	case "删除":
		if len(args) != 1 || args[0].Kind != value.KindNumber {
			return value.Nil, vm.runtimeError("删除 需要一个索引")
		}
		i := listIndex(len(l.Items), int(args[0].Number))
		if i < 0 || i >= len(l.Items) {
			return value.Nil, vm.runtimeError("删除索引越界")
		}
		removed := l.Items[i]
		l.Items = append(l.Items[:i], l.Items[i+1:]...)
		return removed, nil

	case "长度":
		if len(args) != 0 {
			return value.Nil, vm.runtimeError("长度 不接受参数")
		}
		return value.Num(float64(len(l.Items))), nil

	case "过滤":
		if len(args) != 1 || !args[0].IsObjType(value.ObjTypeClosure) {
			return value.Nil, vm.runtimeError("过滤 需要一个函数参数")
		}
		pred := args[0].Obj.(*value.ObjClosure)
		if pred.Function.Arity != 1 {
			return value.Nil, vm.runtimeError("过滤 的函数必须接受 1 个参数")
		}
		kept := make([]value.Value, 0, len(l.Items))
		for _, item := range l.Items {
			v, rtErr := vm.runClosure(pred, []value.Value{item})
			if rtErr != nil {
				return value.Nil, rtErr
			}
			if v.Truthy() {
				kept = append(kept, item)
			}
		}
		return value.ObjVal(vm.heap.NewList(kept)), nil

	case "排序":
		if len(args) > 1 {
			return value.Nil, vm.runtimeError("排序 最多接受一个函数参数")
		}
		var cmp *value.ObjClosure
		if len(args) == 1 {
			if !args[0].IsObjType(value.ObjTypeClosure) {
				return value.Nil, vm.runtimeError("排序 需要一个函数参数")
			}
			cmp = args[0].Obj.(*value.ObjClosure)
			if cmp.Function.Arity != 2 {
				return value.Nil, vm.runtimeError("排序 的函数必须接受 2 个参数")
			}
		}
		var sortErr *RuntimeError
		sort.SliceStable(l.Items, func(i, j int) bool {
			if sortErr != nil {
				return false
			}
			if cmp != nil {
				v, rtErr := vm.runClosure(cmp, []value.Value{l.Items[i], l.Items[j]})
				if rtErr != nil {
					sortErr = rtErr
					return false
				}
				return v.Number < 0
			}
			return defaultLess(l.Items[i], l.Items[j])
		})
		if sortErr != nil {
			return value.Nil, sortErr
		}
		return value.Nil, nil

	default:
		return value.Nil, vm.runtimeError("列表没有方法 '%s'", method)
	}
}

func defaultLess(a, b value.Value) bool {
	if a.Kind == value.KindNumber && b.Kind == value.KindNumber {
		return a.Number < b.Number
	}
	if a.IsObjType(value.ObjTypeString) && b.IsObjType(value.ObjTypeString) {
		return a.Obj.(*value.ObjString).Chars < b.Obj.(*value.ObjString).Chars
	}
	return false
}

func listIndex(length, i int) int {
	if i < 0 {
		return length + i
	}
	return i
}

// indexGet implements OP_INDEX_SUBSCR: list[index], negative indices
// wrapping from the end.
func (vm *VM) indexGet(receiver, index value.Value) (value.Value, *RuntimeError) {
	if !receiver.IsObjType(value.ObjTypeList) {
		return value.Nil, vm.runtimeError("只能对列表取下标")
	}
	if index.Kind != value.KindNumber {
		return value.Nil, vm.runtimeError("下标必须为数字")
	}
	l := receiver.Obj.(*value.ObjList)
	i := listIndex(len(l.Items), int(index.Number))
	if i < 0 || i >= len(l.Items) {
		return value.Nil, vm.runtimeError("下标越界")
	}
	return l.Items[i], nil
}

// indexSet implements OP_STORE_SUBSCR: list[index] = value.
func (vm *VM) indexSet(receiver, index, val value.Value) *RuntimeError {
	if !receiver.IsObjType(value.ObjTypeList) {
		return vm.runtimeError("只能对列表取下标")
	}
	if index.Kind != value.KindNumber {
		return vm.runtimeError("下标必须为数字")
	}
	l := receiver.Obj.(*value.ObjList)
	i := listIndex(len(l.Items), int(index.Number))
	if i < 0 || i >= len(l.Items) {
		return vm.runtimeError("下标越界")
	}
	l.Items[i] = val
	return nil
}
