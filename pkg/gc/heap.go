// Package gc implements Qi's tri-color mark-sweep collector and owns
// every allocation that produces a value.Object: it threads new
// objects onto the intrusive list sweep walks, interns strings, and
// tracks the bytesAllocated/nextGC watermark that triggers collection.
//
// The compiler and the VM each hold a reference to one shared *Heap
// (object lifetime spans compilation and execution, since compiled
// constants - including interned strings and nested function objects -
// must survive into the running program). Only the VM's dispatch loop
// calls MaybeCollect, handing it its current root set; nothing is
// collected while the compiler runs.
package gc

import (
	"hash/fnv"

	"github.com/anonymousaardvark/qi/pkg/value"
)

const defaultGrowthFactor = 2
const defaultNextGC = 1 << 20 // 1MiB of notional allocation before the first collection

// Heap is the GC-managed object space shared by the compiler and VM.
type Heap struct {
	objects value.Object // intrusive list head; newest-allocated first
	strings *stringSet   // VM-wide string intern set

	bytesAllocated int
	nextGC         int
	growthFactor   int
	markingEnabled bool

	// InitString is the VM-lifetime root naming the constructor method
	// ("初始化"); interned once at heap creation so every class/instance
	// dispatch can compare against it by identity.
	InitString *value.ObjString

	// Stats, updated by Collect.
	LastCollected int
	Collections   int
}

// Option configures a Heap at construction time; see WithGrowthFactor
// and WithInitialThreshold.
type Option interface{ apply(h *Heap) }

type growthFactorOption int

func (g growthFactorOption) apply(h *Heap) { h.growthFactor = int(g) }

// WithGrowthFactor overrides the multiplier applied to bytesAllocated
// to pick the next collection's watermark (default 2).
func WithGrowthFactor(factor int) Option { return growthFactorOption(factor) }

type initialThresholdOption int

func (t initialThresholdOption) apply(h *Heap) { h.nextGC = int(t) }

// WithInitialThreshold overrides the bytes-allocated watermark that
// triggers the first collection (default 1MiB notional).
func WithInitialThreshold(bytes int) Option { return initialThresholdOption(bytes) }

// New creates an empty heap and interns the initializer-method name.
func New(opts ...Option) *Heap {
	h := &Heap{
		strings:      newStringSet(),
		nextGC:       defaultNextGC,
		growthFactor: defaultGrowthFactor,
	}
	for _, opt := range opts {
		opt.apply(h)
	}
	// Marking is off while we bootstrap the init-string itself: there
	// is nothing live yet for it to recurse into, but Collect must not
	// be called concurrently with this method either way.
	h.InitString = h.InternString("初始化")
	h.markingEnabled = true
	return h
}

func (h *Heap) track(o value.Object, size int) {
	h.objects = o
	h.bytesAllocated += size
}

// InternString returns the canonical *ObjString for chars, allocating
// and linking a new one only if an equal string isn't already
// interned.
func (h *Heap) InternString(chars string) *value.ObjString {
	hash := hashString(chars)
	if existing := h.strings.get(chars, hash); existing != nil {
		return existing
	}
	s := &value.ObjString{
		Obj:    value.Obj{Type: value.ObjTypeString},
		Chars:  chars,
		Length: len([]rune(chars)),
		Hash:   hash,
	}
	s.Next = h.objects
	h.objects = s
	h.bytesAllocated += len(chars) + 32
	h.strings.put(s)
	return s
}

// NewFunction allocates a fresh, empty function object; the compiler
// fills in its Chunk as it compiles the function body.
func (h *Heap) NewFunction(name *value.ObjString, arity int) *value.ObjFunction {
	fn := &value.ObjFunction{
		Obj:   value.Obj{Type: value.ObjTypeFunction},
		Arity: arity,
		Chunk: &value.Chunk{},
		Name:  name,
	}
	h.track(chain(fn, h.objects), 64)
	return fn
}

// NewClosure wraps fn with its captured upvalue slots (OP_CLOSURE).
func (h *Heap) NewClosure(fn *value.ObjFunction, upvalues []*value.ObjUpvalue) *value.ObjClosure {
	c := &value.ObjClosure{
		Obj:      value.Obj{Type: value.ObjTypeClosure},
		Function: fn,
		Upvalues: upvalues,
	}
	h.track(chain(c, h.objects), 32+8*len(upvalues))
	return c
}

// NewUpvalue allocates an open upvalue pointing at a live stack slot.
func (h *Heap) NewUpvalue(slot *value.Value) *value.ObjUpvalue {
	u := &value.ObjUpvalue{
		Obj:      value.Obj{Type: value.ObjTypeUpvalue},
		Location: slot,
	}
	h.track(chain(u, h.objects), 32)
	return u
}

// NewNative wraps a Go function as a callable native value.
func (h *Heap) NewNative(name string, arity int, fn value.NativeFn) *value.ObjNative {
	n := &value.ObjNative{
		Obj:   value.Obj{Type: value.ObjTypeNative},
		Name:  name,
		Arity: arity,
		Fn:    fn,
	}
	h.track(chain(n, h.objects), 32)
	return n
}

// NewClass allocates a class with an empty method table.
func (h *Heap) NewClass(name *value.ObjString) *value.ObjClass {
	c := &value.ObjClass{
		Obj:     value.Obj{Type: value.ObjTypeClass},
		Name:    name,
		Methods: value.NewTable(),
	}
	h.track(chain(c, h.objects), 48)
	return c
}

// NewInstance allocates an instance of class with an empty field
// table. isStatic instances are frozen at creation.
func (h *Heap) NewInstance(class *value.ObjClass, isStatic bool) *value.ObjInstance {
	i := &value.ObjInstance{
		Obj:      value.Obj{Type: value.ObjTypeInstance},
		Class:    class,
		Fields:   value.NewTable(),
		IsStatic: isStatic,
	}
	h.track(chain(i, h.objects), 48)
	return i
}

// NewBoundMethod pairs receiver with method.
func (h *Heap) NewBoundMethod(receiver value.Value, method value.Object) *value.ObjBoundMethod {
	b := &value.ObjBoundMethod{
		Obj:      value.Obj{Type: value.ObjTypeBoundMethod},
		Receiver: receiver,
		Method:   method,
	}
	h.track(chain(b, h.objects), 40)
	return b
}

// NewList allocates a list, taking ownership of items (callers that
// need to keep using their own slice should pass a copy).
func (h *Heap) NewList(items []value.Value) *value.ObjList {
	l := &value.ObjList{
		Obj:   value.Obj{Type: value.ObjTypeList},
		Items: items,
	}
	h.track(chain(l, h.objects), 24+16*len(items))
	return l
}

func chain(o value.Object, head value.Object) value.Object {
	o.Header().Next = head
	return o
}

// ShouldCollect reports whether bytesAllocated has crossed nextGC.
func (h *Heap) ShouldCollect() bool {
	return h.bytesAllocated > h.nextGC
}

// MaybeCollect runs a collection if the allocation watermark has been
// crossed, rooted at the values the caller (compiler or VM) currently
// considers live. Always safe to call; a no-op below the watermark.
func (h *Heap) MaybeCollect(roots []value.Value, grayObjects []value.Object) {
	if h.markingEnabled && h.ShouldCollect() {
		h.Collect(roots, grayObjects)
	}
}

// Collect runs one full mark-sweep cycle unconditionally.
func (h *Heap) Collect(roots []value.Value, grayObjects []value.Object) {
	var gray []value.Object

	mark := func(v value.Value) {
		if v.Kind != value.KindObject || v.Obj == nil {
			return
		}
		gray = markObject(v.Obj, gray)
	}
	for _, r := range roots {
		mark(r)
	}
	for _, o := range grayObjects {
		gray = markObject(o, gray)
	}
	gray = markObject(h.InitString, gray)

	for len(gray) > 0 {
		o := gray[len(gray)-1]
		gray = gray[:len(gray)-1]
		gray = blacken(o, gray)
	}

	h.strings.removeUnmarked()
	freed := h.sweep()
	h.nextGC = h.bytesAllocated * h.growthFactor
	if h.nextGC < defaultNextGC {
		h.nextGC = defaultNextGC
	}
	h.LastCollected = freed
	h.Collections++
}

// markObject enqueues o onto the gray work-list if it isn't already
// marked, and returns the updated list.
func markObject(o value.Object, gray []value.Object) []value.Object {
	if o == nil {
		return gray
	}
	hdr := o.Header()
	if hdr.Marked {
		return gray
	}
	hdr.Marked = true
	return append(gray, o)
}

// blacken marks every child an object variant reaches.
func blacken(o value.Object, gray []value.Object) []value.Object {
	switch obj := o.(type) {
	case *value.ObjString:
		// no children
	case *value.ObjFunction:
		if obj.Name != nil {
			gray = markObject(obj.Name, gray)
		}
		for _, c := range obj.Chunk.Constants {
			if c.Kind == value.KindObject && c.Obj != nil {
				gray = markObject(c.Obj, gray)
			}
		}
	case *value.ObjClosure:
		gray = markObject(obj.Function, gray)
		for _, u := range obj.Upvalues {
			gray = markObject(u, gray)
		}
	case *value.ObjUpvalue:
		if obj.IsClosed && obj.Closed.Kind == value.KindObject && obj.Closed.Obj != nil {
			gray = markObject(obj.Closed.Obj, gray)
		}
	case *value.ObjClass:
		gray = markObject(obj.Name, gray)
		for _, k := range obj.Methods.Keys() {
			gray = markObject(k, gray)
		}
		for _, v := range obj.Methods.Values() {
			if v.Kind == value.KindObject && v.Obj != nil {
				gray = markObject(v.Obj, gray)
			}
		}
	case *value.ObjInstance:
		gray = markObject(obj.Class, gray)
		for _, k := range obj.Fields.Keys() {
			gray = markObject(k, gray)
		}
		for _, v := range obj.Fields.Values() {
			if v.Kind == value.KindObject && v.Obj != nil {
				gray = markObject(v.Obj, gray)
			}
		}
	case *value.ObjBoundMethod:
		if obj.Receiver.Kind == value.KindObject && obj.Receiver.Obj != nil {
			gray = markObject(obj.Receiver.Obj, gray)
		}
		gray = markObject(obj.Method, gray)
	case *value.ObjNative:
		// no children
	case *value.ObjList:
		for _, v := range obj.Items {
			if v.Kind == value.KindObject && v.Obj != nil {
				gray = markObject(v.Obj, gray)
			}
		}
	}
	return gray
}

// sweep walks the intrusive object list, unlinking and discarding
// unmarked objects and clearing the mark bit on survivors for the next
// cycle. Returns the number of bytes it reclaimed (by the same rough
// accounting New* used).
func (h *Heap) sweep() int {
	var prev value.Object
	cur := h.objects
	freed := 0
	for cur != nil {
		hdr := cur.Header()
		if hdr.Marked {
			hdr.Marked = false
			prev = cur
			cur = hdr.Next
			continue
		}
		unreached := cur
		cur = hdr.Next
		if prev == nil {
			h.objects = cur
		} else {
			prev.Header().Next = cur
		}
		freed += approxSize(unreached)
	}
	h.bytesAllocated -= freed
	if h.bytesAllocated < 0 {
		h.bytesAllocated = 0
	}
	return freed
}

func approxSize(o value.Object) int {
	switch v := o.(type) {
	case *value.ObjString:
		return len(v.Chars) + 32
	case *value.ObjFunction:
		return 64
	case *value.ObjClosure:
		return 32 + 8*len(v.Upvalues)
	case *value.ObjUpvalue:
		return 32
	case *value.ObjNative:
		return 32
	case *value.ObjClass:
		return 48
	case *value.ObjInstance:
		return 48
	case *value.ObjBoundMethod:
		return 40
	case *value.ObjList:
		return 24 + 16*len(v.Items)
	default:
		return 16
	}
}

// BytesAllocated reports the heap's current accounting.
func (h *Heap) BytesAllocated() int { return h.bytesAllocated }

// ObjectCount walks the intrusive list and counts it, for tests.
func (h *Heap) ObjectCount() int {
	n := 0
	for o := h.objects; o != nil; o = o.Header().Next {
		n++
	}
	return n
}

func hashString(s string) uint32 {
	f := fnv.New32a()
	_, _ = f.Write([]byte(s))
	return f.Sum32()
}
