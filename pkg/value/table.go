package value

// maxLoad is the load factor the table grows to stay under.
const maxLoad = 0.75

// entry is one hash-table bucket. An empty bucket has a nil Key and
// Nil value; a tombstone (left behind by Delete) has a nil Key and a
// true boolean value, distinguishing "never used" from "used, then
// removed" during probing.
type entry struct {
	Key   *ObjString
	Value Value
}

func (e *entry) isTombstone() bool {
	return e.Key == nil && e.Value.Kind == KindBool && e.Value.Bool
}

func (e *entry) isEmpty() bool {
	return e.Key == nil && !e.isTombstone()
}

// Table is an open-addressing hash table with linear probing, keyed by
// interned string identity. Because strings are interned,
// comparing keys is a pointer comparison rather than a byte-for-byte
// scan.
type Table struct {
	entries []entry
	count   int // live entries + tombstones
}

// NewTable returns an empty table.
func NewTable() *Table { return &Table{} }

// Count returns the number of live (non-tombstone) entries.
func (t *Table) Count() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].Key != nil {
			n++
		}
	}
	return n
}

// Get looks up key, returning its value and whether it was found.
func (t *Table) Get(key *ObjString) (Value, bool) {
	if len(t.entries) == 0 {
		return Nil, false
	}
	e := t.find(key)
	if e.Key == nil {
		return Nil, false
	}
	return e.Value, true
}

// Set inserts or overwrites key's value, growing the table first if
// doing so would push the load factor above maxLoad. Returns true if
// this created a brand-new key.
func (t *Table) Set(key *ObjString, value Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*maxLoad {
		t.grow(growCapacity(len(t.entries)))
	}
	e := t.find(key)
	isNew := e.Key == nil
	if isNew && !e.isTombstone() {
		t.count++
	}
	e.Key = key
	e.Value = value
	return isNew
}

// Delete removes key, leaving a tombstone so later probes don't stop
// short of entries that were inserted after a collision.
func (t *Table) Delete(key *ObjString) bool {
	if len(t.entries) == 0 {
		return false
	}
	e := t.find(key)
	if e.Key == nil {
		return false
	}
	e.Key = nil
	e.Value = Bool(true) // tombstone marker
	return true
}

// Each calls fn for every live key/value pair, in bucket order. Used
// by OP_INHERIT to copy a superclass's method table into a subclass's.
func (t *Table) Each(fn func(key *ObjString, val Value)) {
	for i := range t.entries {
		if t.entries[i].Key != nil {
			fn(t.entries[i].Key, t.entries[i].Value)
		}
	}
}

// Keys returns every live key, in bucket order (used by the GC to mark
// table contents, and by tests).
func (t *Table) Keys() []*ObjString {
	keys := make([]*ObjString, 0, t.count)
	for i := range t.entries {
		if t.entries[i].Key != nil {
			keys = append(keys, t.entries[i].Key)
		}
	}
	return keys
}

// Values returns every live value, in bucket order.
func (t *Table) Values() []Value {
	vals := make([]Value, 0, t.count)
	for i := range t.entries {
		if t.entries[i].Key != nil {
			vals = append(vals, t.entries[i].Value)
		}
	}
	return vals
}

func (t *Table) find(key *ObjString) *entry {
	capacity := len(t.entries)
	index := key.Hash % uint32(capacity)
	var tombstone *entry
	for {
		e := &t.entries[index]
		switch {
		case e.Key == nil:
			if e.isTombstone() {
				if tombstone == nil {
					tombstone = e
				}
			} else {
				if tombstone != nil {
					return tombstone
				}
				return e
			}
		case e.Key == key:
			return e
		}
		index = (index + 1) % uint32(capacity)
	}
}

func (t *Table) grow(capacity int) {
	old := t.entries
	t.entries = make([]entry, capacity)
	t.count = 0
	for i := range old {
		if old[i].Key == nil {
			continue
		}
		dst := t.find(old[i].Key)
		dst.Key = old[i].Key
		dst.Value = old[i].Value
		t.count++
	}
}

func growCapacity(capacity int) int {
	if capacity < 8 {
		return 8
	}
	return capacity * 2
}
