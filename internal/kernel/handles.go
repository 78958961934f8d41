package kernel

import (
	"errors"
	"reflect"
	"sync"

	"github.com/danmuck/capipc/internal/objtable"
)

// Handle names a capability inside one HandleTable.
type Handle uint32

// HandleTable is a process's capability table.
type HandleTable struct {
	mu sync.Mutex
	t  *objtable.Table[any]
}

func NewHandleTable(capacity int) *HandleTable {
	return &HandleTable{t: objtable.New[any](capacity)}
}

func (h *HandleTable) Insert(obj any) (Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, err := h.t.Insert(obj)
	if errors.Is(err, objtable.ErrFull) {
		return 0, ErrOutOfHandles
	}
	return Handle(id), err
}

func (h *HandleTable) Get(handle Handle) (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.t.Get(uint32(handle))
}

// Take removes handle without closing the object, transferring ownership to
// the caller.
func (h *HandleTable) Take(handle Handle) (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.t.Remove(uint32(handle))
}

// TakeSame removes handle only while it still names obj. A handle that was
// taken and reissued to another object is left alone.
func (h *HandleTable) TakeSame(handle Handle, obj any) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, ok := h.t.Get(uint32(handle))
	if !ok || !SameObject(cur, obj) {
		return false
	}
	h.t.Remove(uint32(handle))
	return true
}

// Close removes handle and closes the object when it is closable.
func (h *HandleTable) Close(handle Handle) error {
	obj, ok := h.Take(handle)
	if !ok {
		return ErrInvalidHandle
	}
	return CloseObject(obj)
}

func (h *HandleTable) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.t.Len()
}

// CloseAll closes every remaining object and empties the table.
func (h *HandleTable) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.t.Clear(0, func(_ uint32, obj any) {
		_ = CloseObject(obj)
	})
}

// CloseObject closes obj when it has a Close method.
func CloseObject(obj any) error {
	if c, ok := obj.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// SameObject reports whether a and b are the same capability. Values of a
// type that cannot be compared are treated as the same when their types
// match.
func SameObject(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	if !reflect.ValueOf(a).Comparable() {
		return true
	}
	return a == b
}
