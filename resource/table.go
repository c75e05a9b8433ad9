package resource

import (
	"sync"
)

// Option configures a Table.
type Option func(*tableConfig)

type tableConfig struct {
	reuse bool
}

// WithoutReuse makes the table hand out strictly increasing handles, so a
// stale handle can never alias a newer value.
func WithoutReuse() Option {
	return func(c *tableConfig) { c.reuse = false }
}

// Table maps handles to values of a single type with pin tracking and
// observer support.
type Table[T any] struct {
	backend   *localBackend[T]
	observers []Observer
	obsMu     sync.RWMutex
}

// NewTable creates a new table. Freed handles are reused unless
// WithoutReuse is given.
func NewTable[T any](opts ...Option) *Table[T] {
	cfg := tableConfig{reuse: true}
	for _, o := range opts {
		o(&cfg)
	}
	return &Table[T]{
		backend: newLocalBackend[T](cfg.reuse),
	}
}

// Insert adds a value and returns its handle.
func (t *Table[T]) Insert(value T) (Handle, error) {
	handle, err := t.backend.create(value)
	if err != nil {
		return 0, err
	}

	t.notify(Event{
		Type:   EventCreated,
		Handle: handle,
		Value:  value,
	})

	return handle, nil
}

// Get retrieves a value by handle.
func (t *Table[T]) Get(handle Handle) (T, bool) {
	return t.backend.get(handle)
}

// Remove drops a value and returns (value, true) if found and unpinned.
func (t *Table[T]) Remove(handle Handle) (T, bool) {
	value, err := t.backend.drop(handle)
	if err != nil {
		var zero T
		return zero, false
	}
	t.dropped(handle, value)
	return value, true
}

// RemoveErr is Remove reporting why the drop failed.
func (t *Table[T]) RemoveErr(handle Handle) (T, error) {
	value, err := t.backend.drop(handle)
	if err != nil {
		return value, err
	}
	t.dropped(handle, value)
	return value, nil
}

// Pin marks a value as in use. Pinned values cannot be removed.
func (t *Table[T]) Pin(handle Handle) bool {
	if !t.backend.pin(handle) {
		return false
	}
	t.notify(Event{Type: EventPinned, Handle: handle})
	return true
}

// Unpin releases one pin.
func (t *Table[T]) Unpin(handle Handle) bool {
	if !t.backend.unpin(handle) {
		return false
	}
	t.notify(Event{Type: EventUnpinned, Handle: handle})
	return true
}

// Pins returns the number of outstanding pins on handle.
func (t *Table[T]) Pins(handle Handle) uint32 {
	return t.backend.pinned(handle)
}

// Subscribe adds an observer for lifecycle events.
func (t *Table[T]) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table[T]) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of live values.
func (t *Table[T]) Len() int {
	return t.backend.len()
}

// Each iterates over all live values in handle order.
func (t *Table[T]) Each(fn func(Handle, T) bool) {
	t.backend.each(fn)
}

// Close drops every value, pinned or not, and stops accepting inserts.
func (t *Table[T]) Close() error {
	for _, v := range t.backend.close() {
		if d, ok := any(v).(Dropper); ok {
			d.Drop()
		}
	}
	return nil
}

func (t *Table[T]) dropped(handle Handle, value T) {
	if d, ok := any(value).(Dropper); ok {
		d.Drop()
	}

	t.notify(Event{
		Type:   EventDropped,
		Handle: handle,
		Value:  value,
	})
}

func (t *Table[T]) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
