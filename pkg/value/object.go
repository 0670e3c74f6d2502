package value

import (
	"fmt"
	"strings"
)

// ObjType discriminates the heap object variants.
type ObjType byte

const (
	ObjTypeString ObjType = iota
	ObjTypeFunction
	ObjTypeClosure
	ObjTypeUpvalue
	ObjTypeNative
	ObjTypeClass
	ObjTypeInstance
	ObjTypeBoundMethod
	ObjTypeList
)

// Object is implemented by every heap object variant. ObjType and
// Header are both satisfied by embedding Obj, so any *ObjXxx defined in
// this file automatically implements Object.
type Object interface {
	ObjType() ObjType
	Header() *Obj
	String() string
}

// Obj is the header shared by every heap object: a tag
// discriminator, a GC mark bit, and the next-pointer that threads every
// live object into the intrusive list the GC sweeps.
type Obj struct {
	Type   ObjType
	Marked bool
	Next   Object
}

func (h *Obj) ObjType() ObjType { return h.Type }
func (h *Obj) Header() *Obj     { return h }

// ObjString is an interned, immutable UTF-8 string. Length counts
// Unicode scalar values (runes), not bytes, so index/substring
// operations see Chinese identifiers as single characters.
type ObjString struct {
	Obj
	Chars  string
	Length int
	Hash   uint32
}

func (s *ObjString) String() string { return s.Chars }

// ObjFunction is the compiled representation of a function body: its
// arity, how many upvalues its closures capture, its chunk of
// bytecode, and an optional name (nil for the top-level script).
type ObjFunction struct {
	Obj
	Arity        int
	UpvalueCount int
	Chunk        *Chunk
	Name         *ObjString
}

func (f *ObjFunction) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name.Chars)
}

// UpvalueRef describes one entry of a closure's upvalue table, as
// recorded by the compiler: whether it captures a local slot of the
// immediately enclosing function, or chains through that function's
// own upvalue at Index.
type UpvalueRef struct {
	IsLocal bool
	Index   int
}

// ObjClosure pairs a compiled function with the upvalues it actually
// captured at creation time (OP_CLOSURE).
type ObjClosure struct {
	Obj
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}

func (c *ObjClosure) String() string { return c.Function.String() }

// ObjUpvalue is open while it points at a live stack slot, and closed
// once that slot has left the stack. Closed upvalues own
// their storage; open ones alias the VM's value stack via Location.
type ObjUpvalue struct {
	Obj
	Location *Value // points into the VM stack while open
	Closed   Value  // owned storage once closed
	IsClosed bool
	Next     *ObjUpvalue // open-upvalue list link, sorted by descending stack address
}

func (u *ObjUpvalue) String() string { return "<upvalue>" }

// Get returns the upvalue's current value, whether open or closed.
func (u *ObjUpvalue) Get() Value {
	if u.IsClosed {
		return u.Closed
	}
	return *u.Location
}

// Set writes through to the upvalue's current storage.
func (u *ObjUpvalue) Set(v Value) {
	if u.IsClosed {
		u.Closed = v
		return
	}
	*u.Location = v
}

// Close transitions an open upvalue to closed, copying its current
// value into its own storage.
func (u *ObjUpvalue) Close() {
	u.Closed = *u.Location
	u.IsClosed = true
	u.Location = nil
}

// NativeFn is a built-in callable. It receives a slice over its
// argument window (args[0] is the first argument; the receiver, if
// any, is supplied out of band by the caller) and either returns a
// result value and true, or an error message and false.
type NativeFn func(args []Value) (Value, bool, string)

// ObjNative wraps a Go function as a callable Qi value. Arity -1 means
// variadic (the VM skips the argument-count check).
type ObjNative struct {
	Obj
	Name  string
	Arity int
	Fn    NativeFn
}

func (n *ObjNative) String() string { return fmt.Sprintf("<native %s>", n.Name) }

// ObjClass is a named method table. Methods are keyed by selector name
// and hold either an *ObjClosure (instance methods, dispatched by
// pushing a new call frame) or an *ObjNative (invoked inline, no frame
// pushed).
type ObjClass struct {
	Obj
	Name    *ObjString
	Methods *Table
}

func (c *ObjClass) String() string { return c.Name.Chars }

// ObjInstance is a class instance with its own field table. IsStatic
// instances are frozen: OP_SET_PROPERTY on one is a runtime error.
type ObjInstance struct {
	Obj
	Class    *ObjClass
	Fields   *Table
	IsStatic bool
}

func (i *ObjInstance) String() string {
	return fmt.Sprintf("<%s instance>", i.Class.Name.Chars)
}

// ObjBoundMethod pairs a receiver with the method value looked up from
// its class, so the method can later be called on its own (passed
// around as a first-class value) without losing its receiver.
type ObjBoundMethod struct {
	Obj
	Receiver Value
	Method   Object // *ObjClosure or *ObjNative
}

func (b *ObjBoundMethod) String() string {
	switch m := b.Method.(type) {
	case *ObjClosure:
		return m.String()
	case *ObjNative:
		return m.String()
	default:
		return "<bound method>"
	}
}

// ObjList is a dynamic array of values, backing Qi's list literals and
// its built-in list methods.
type ObjList struct {
	Obj
	Items []Value
}

func (l *ObjList) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range l.Items {
		if i > 0 {
			b.WriteString(", ")
		}
		if s, ok := v.Obj.(*ObjString); ok && v.Kind == KindObject {
			b.WriteByte('"')
			b.WriteString(s.Chars)
			b.WriteByte('"')
		} else {
			b.WriteString(v.String())
		}
	}
	b.WriteByte(']')
	return b.String()
}
