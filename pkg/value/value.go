// Package value implements Qi's tagged value representation and the
// heap object variants it can point at: strings, functions, closures,
// upvalues, natives, classes, instances, bound methods, and lists.
// It also owns the chunk format (bytecode + line table + constant
// pool) and the open-addressing hash table used for globals, instance
// fields, and class method tables.
//
// This package defines data only. Allocation, string interning, and
// the GC's intrusive object list are owned by package gc, which is
// the only place new objects come into being; package value just
// describes their shape and how to print, compare, and mark them.
package value

import "fmt"

// Kind discriminates the tagged union a Value holds.
type Kind byte

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindObject
)

// Value is Qi's dynamically typed runtime value: nil, a boolean, a
// 64-bit float, or a reference to a heap Object.
type Value struct {
	Kind   Kind
	Bool   bool
	Number float64
	Obj    Object
}

// Nil is the canonical nil value.
var Nil = Value{Kind: KindNil}

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Num returns a numeric value.
func Num(n float64) Value { return Value{Kind: KindNumber, Number: n} }

// ObjVal wraps a heap object as a Value.
func ObjVal(o Object) Value { return Value{Kind: KindObject, Obj: o} }

// IsNil reports whether v holds nil.
func (v Value) IsNil() bool { return v.Kind == KindNil }

// IsObjType reports whether v holds an object of the given type.
func (v Value) IsObjType(t ObjType) bool {
	return v.Kind == KindObject && v.Obj != nil && v.Obj.ObjType() == t
}

// Truthy reports whether v is truthy: nil and false are false,
// everything else (including 0 and "") is true.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNil:
		return false
	case KindBool:
		return v.Bool
	default:
		return true
	}
}

// Equal implements value equality: nil=nil; bools/numbers by content;
// objects by identity, except strings, which are interned and so
// identity-equal iff content-equal.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNil:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindNumber:
		return a.Number == b.Number
	case KindObject:
		if as, ok := a.Obj.(*ObjString); ok {
			bs, ok := b.Obj.(*ObjString)
			return ok && as == bs // interned: identity implies content equality
		}
		return a.Obj == b.Obj
	default:
		return false
	}
}

// String renders v the way Qi's print statement and string
// concatenation do.
func (v Value) String() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.Number)
	case KindObject:
		if v.Obj == nil {
			return "nil"
		}
		return v.Obj.String()
	default:
		return "<invalid value>"
	}
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}

// TypeName returns a human-facing type name.
func (v Value) TypeName() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindObject:
		if v.Obj == nil {
			return "nil"
		}
		switch v.Obj.ObjType() {
		case ObjTypeString:
			return "string"
		case ObjTypeFunction:
			return "function"
		case ObjTypeClosure:
			return "closure"
		case ObjTypeNative:
			return "native"
		case ObjTypeClass:
			return "class"
		case ObjTypeInstance:
			return "instance"
		case ObjTypeBoundMethod:
			return "method"
		case ObjTypeList:
			return "list"
		default:
			return "object"
		}
	default:
		return "unknown"
	}
}
