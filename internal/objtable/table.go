package objtable

import "errors"

var ErrFull = errors.New("objtable: table full")

// DefaultCapacity bounds a table created with capacity <= 0.
const DefaultCapacity = 1024

type slot[T any] struct {
	value T
	live  bool
}

// Table maps ids in [1, capacity] to objects. Id 0 is never assigned.
type Table[T any] struct {
	slots    []slot[T]
	free     []uint32
	live     int
	capacity int
}

func New[T any](capacity int) *Table[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table[T]{capacity: capacity}
}

// Insert stores v and returns its id. Released ids are reused
// most-recently-freed first.
func (t *Table[T]) Insert(v T) (uint32, error) {
	if n := len(t.free); n > 0 {
		id := t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[id-1] = slot[T]{value: v, live: true}
		t.live++
		return id, nil
	}
	if len(t.slots) >= t.capacity {
		return 0, ErrFull
	}
	t.slots = append(t.slots, slot[T]{value: v, live: true})
	t.live++
	return uint32(len(t.slots)), nil
}

func (t *Table[T]) Get(id uint32) (T, bool) {
	if !t.valid(id) {
		var zero T
		return zero, false
	}
	return t.slots[id-1].value, true
}

// Remove releases id and returns the object that held it.
func (t *Table[T]) Remove(id uint32) (T, bool) {
	var zero T
	if !t.valid(id) {
		return zero, false
	}
	v := t.slots[id-1].value
	t.slots[id-1] = slot[T]{}
	t.free = append(t.free, id)
	t.live--
	return v, true
}

func (t *Table[T]) Len() int {
	return t.live
}

// Range visits live entries in id order until fn returns false.
func (t *Table[T]) Range(fn func(id uint32, v T) bool) {
	for i, s := range t.slots {
		if !s.live {
			continue
		}
		if !fn(uint32(i+1), s.value) {
			return
		}
	}
}

// Clear empties the table, calling dispose once for every live entry
// whose id is not keep. Pass keep=0 to dispose everything.
func (t *Table[T]) Clear(keep uint32, dispose func(id uint32, v T)) {
	for i, s := range t.slots {
		if !s.live {
			continue
		}
		id := uint32(i + 1)
		if id != keep && dispose != nil {
			dispose(id, s.value)
		}
	}
	t.slots = nil
	t.free = nil
	t.live = 0
}

func (t *Table[T]) valid(id uint32) bool {
	return id != 0 && int(id) <= len(t.slots) && t.slots[id-1].live
}
