package stack

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/resource"
)

// Registry hands out IDs for stacks so they can be addressed across the
// plugin ABI. It is safe for concurrent use.
type Registry struct {
	table *resource.Table[*Stack]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{table: resource.NewTable[*Stack]()}
}

// Create registers and returns a new empty stack.
func (r *Registry) Create() (*Stack, error) {
	s := New()
	if _, err := r.Register(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Register assigns an ID to s. A stack that already has an ID keeps it.
func (r *Registry) Register(s *Stack) (ID, error) {
	if s.id != 0 {
		return s.id, nil
	}
	h, err := r.table.Insert(s)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseRuntime, errors.KindRegistration, err, "register stack")
	}
	s.id = ID(h)
	return s.id, nil
}

// Get returns the stack registered under id.
func (r *Registry) Get(id ID) (*Stack, bool) {
	return r.table.Get(resource.Handle(id))
}

// Lookup is Get returning a not_found error for unknown IDs.
func (r *Registry) Lookup(id ID) (*Stack, error) {
	s, ok := r.Get(id)
	if !ok {
		return nil, errors.NotFound(errors.PhaseRuntime, "stack", idString(id))
	}
	return s, nil
}

// Pin keeps id alive across a call that hands it to foreign code.
func (r *Registry) Pin(id ID) bool {
	return r.table.Pin(resource.Handle(id))
}

// Unpin releases a pin taken with Pin.
func (r *Registry) Unpin(id ID) bool {
	return r.table.Unpin(resource.Handle(id))
}

// Release unregisters id. It fails while the stack is pinned.
func (r *Registry) Release(id ID) error {
	if _, err := r.table.RemoveErr(resource.Handle(id)); err != nil {
		detail := "release stack " + idString(id)
		if n := r.table.Pins(resource.Handle(id)); n > 0 {
			detail += ": pinned " + strconv.FormatUint(uint64(n), 10) + " time(s)"
		}
		return errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, detail)
	}
	return nil
}

// Subscribe reports stack creation, release and pinning to o.
func (r *Registry) Subscribe(o resource.Observer) {
	r.table.Subscribe(o)
}

// Unsubscribe removes an observer added with Subscribe.
func (r *Registry) Unsubscribe(o resource.Observer) {
	r.table.Unsubscribe(o)
}

// Len returns the number of registered stacks.
func (r *Registry) Len() int {
	return r.table.Len()
}

// Close releases every stack, pinned or not.
func (r *Registry) Close() error {
	if n := r.table.Len(); n > 0 {
		Logger().Debug("releasing live stacks", zap.Int("count", n))
	}
	return r.table.Close()
}

func idString(id ID) string {
	return "#" + strconv.FormatUint(uint64(id), 10)
}
