package resource

import (
	"errors"
	"sync"
)

var (
	ErrClosed = errors.New("resource table closed")
	ErrPinned = errors.New("cannot drop value with outstanding pins")

	errNotFound = errors.New("handle not found")
)

// localBackend is an in-memory slot store with pin tracking.
type localBackend[T any] struct {
	entries  []entry[T]
	freeList []Handle
	mu       sync.RWMutex
	closed   bool
	reuse    bool
}

type entry[T any] struct {
	value T
	pins  uint32
	valid bool
}

func newLocalBackend[T any](reuse bool) *localBackend[T] {
	return &localBackend[T]{
		entries:  make([]entry[T], 0, 64),
		freeList: make([]Handle, 0, 16),
		reuse:    reuse,
	}
}

func (b *localBackend[T]) create(value T) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	e := entry[T]{
		value: value,
		valid: true,
	}

	if b.reuse && len(b.freeList) > 0 {
		handle := b.freeList[len(b.freeList)-1]
		b.freeList = b.freeList[:len(b.freeList)-1]
		b.entries[handle-1] = e
		return handle, nil
	}

	b.entries = append(b.entries, e)
	return Handle(len(b.entries)), nil
}

func (b *localBackend[T]) get(handle Handle) (T, bool) {
	var zero T
	if handle == 0 {
		return zero, false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	idx := handle - 1
	if int(idx) >= len(b.entries) {
		return zero, false
	}

	e := b.entries[idx]
	if !e.valid {
		return zero, false
	}
	return e.value, true
}

// drop removes a value. It fails with ErrPinned while pins are outstanding.
func (b *localBackend[T]) drop(handle Handle) (T, error) {
	var zero T
	if handle == 0 {
		return zero, errNotFound
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	idx := handle - 1
	if int(idx) >= len(b.entries) {
		return zero, errNotFound
	}

	e := &b.entries[idx]
	if !e.valid {
		return zero, errNotFound
	}

	if e.pins > 0 {
		return zero, ErrPinned
	}

	value := e.value
	e.valid = false
	e.value = zero
	e.pins = 0
	if b.reuse {
		b.freeList = append(b.freeList, handle)
	}

	return value, nil
}

func (b *localBackend[T]) pin(handle Handle) bool {
	return b.adjustPins(handle, 1)
}

func (b *localBackend[T]) unpin(handle Handle) bool {
	return b.adjustPins(handle, -1)
}

func (b *localBackend[T]) adjustPins(handle Handle, delta int) bool {
	if handle == 0 {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	idx := handle - 1
	if int(idx) >= len(b.entries) {
		return false
	}

	e := &b.entries[idx]
	if !e.valid {
		return false
	}
	if delta < 0 {
		if e.pins == 0 {
			return false
		}
		e.pins--
		return true
	}
	e.pins++
	return true
}

func (b *localBackend[T]) pinned(handle Handle) uint32 {
	if handle == 0 {
		return 0
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	idx := handle - 1
	if int(idx) >= len(b.entries) || !b.entries[idx].valid {
		return 0
	}
	return b.entries[idx].pins
}

// close marks the backend closed and returns every live value.
func (b *localBackend[T]) close() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var zero T
	var live []T
	for i := range b.entries {
		if b.entries[i].valid {
			live = append(live, b.entries[i].value)
			b.entries[i].valid = false
			b.entries[i].value = zero
		}
	}

	b.entries = nil
	b.freeList = nil
	return live
}

func (b *localBackend[T]) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, e := range b.entries {
		if e.valid {
			count++
		}
	}
	return count
}

// each iterates over a snapshot so fn may call back into the table.
func (b *localBackend[T]) each(fn func(Handle, T) bool) {
	b.mu.RLock()
	handles := make([]Handle, 0, len(b.entries))
	values := make([]T, 0, len(b.entries))
	for i, e := range b.entries {
		if e.valid {
			handles = append(handles, Handle(i+1))
			values = append(values, e.value)
		}
	}
	b.mu.RUnlock()

	for i, h := range handles {
		if !fn(h, values[i]) {
			break
		}
	}
}
