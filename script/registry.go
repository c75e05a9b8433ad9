package script

import (
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/resource"
)

// Registry owns every script context and callback record of a session.
type Registry struct {
	scripts  *resource.Table[*Context]
	records  *resource.Table[*CallbackRecord]
	inflight map[Handle]map[RecordID]*CallbackRecord
	deferred []*CallbackRecord
	mu       sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		scripts:  resource.NewTable[*Context](resource.WithoutReuse()),
		records:  resource.NewTable[*CallbackRecord](),
		inflight: make(map[Handle]map[RecordID]*CallbackRecord),
	}
}

// Register creates a script of the given kind attached to object (or
// NoObject). A session has at most one main script, and an object carries
// at most one script of each kind.
func (r *Registry) Register(kind Kind, object ObjectID, opts Options) (Handle, error) {
	if kind > KindSandbox {
		return 0, errors.InvalidInput(errors.PhaseValidate, "invalid script kind "+strconv.Itoa(int(kind)))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var conflict string
	r.scripts.Each(func(_ resource.Handle, c *Context) bool {
		switch {
		case kind == KindMain && c.kind == KindMain:
			conflict = "main script already registered"
		case kind == KindSandbox && c.kind == KindSandbox:
			conflict = "sandbox script already registered"
		case object != NoObject && c.object == object && c.kind == kind:
			conflict = "object " + strconv.FormatInt(int64(object), 10) + " already has a " + kind.String() + " script"
		}
		return conflict == ""
	})
	if conflict != "" {
		return 0, errors.New(errors.PhaseValidate, errors.KindRegistration).Detail("%s", conflict).Build()
	}

	opts.Object = object
	c := newContext(0, kind, opts)
	h, err := r.scripts.Insert(c)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseRuntime, errors.KindRegistration, err, "register script")
	}
	c.handle = Handle(h)
	if opts.Name == "" {
		c.name = kind.String() + strconv.FormatUint(uint64(h), 10)
	}
	if c.randomSeed == 0 {
		c.randomSeed = int64(h)
	}

	Logger().Debug("script registered",
		zap.Uint32("script", uint32(h)),
		zap.Stringer("kind", kind),
		zap.String("name", c.name),
		zap.Int64("object", int64(object)))
	return Handle(h), nil
}

// Lookup returns the script for h if it exists and vis allows its kind.
func (r *Registry) Lookup(h Handle, vis Visibility) (*Context, error) {
	c, ok := r.scripts.Get(resource.Handle(h))
	if !ok || c == nil || c.Removed() {
		return nil, errors.ScriptNotFound("#" + strconv.FormatUint(uint64(h), 10))
	}
	if vis == RuntimeOnly && !c.kind.RuntimeVisible() {
		return nil, errors.ScriptNotFound(c.Label())
	}
	return c, nil
}

// Get returns the script for h regardless of kind.
func (r *Registry) Get(h Handle) (*Context, bool) {
	c, err := r.Lookup(h, All)
	return c, err == nil
}

// ByObject returns the script of the given kind attached to object.
func (r *Registry) ByObject(object ObjectID, kind Kind) (*Context, bool) {
	var found *Context
	r.scripts.Each(func(_ resource.Handle, c *Context) bool {
		if c != nil && c.object == object && c.kind == kind && !c.Removed() {
			found = c
			return false
		}
		return true
	})
	return found, found != nil
}

// ByName returns the script of the given kind with the given name.
func (r *Registry) ByName(name string, kind Kind) (*Context, bool) {
	var found *Context
	r.scripts.Each(func(_ resource.Handle, c *Context) bool {
		if c != nil && c.name == name && c.kind == kind && !c.Removed() {
			found = c
			return false
		}
		return true
	})
	return found, found != nil
}

// Each calls fn for every live script visible under vis, in handle order.
func (r *Registry) Each(vis Visibility, fn func(*Context) bool) {
	r.scripts.Each(func(_ resource.Handle, c *Context) bool {
		if c == nil || c.Removed() {
			return true
		}
		if vis == RuntimeOnly && !c.kind.RuntimeVisible() {
			return true
		}
		return fn(c)
	})
}

// Len returns the number of live scripts.
func (r *Registry) Len() int {
	n := 0
	r.Each(All, func(*Context) bool {
		n++
		return true
	})
	return n
}

// TakeLastError returns and clears the last error of h.
func (r *Registry) TakeLastError(h Handle) (string, error) {
	c, err := r.Lookup(h, All)
	if err != nil {
		return "", err
	}
	return c.TakeLastError(), nil
}

// Remove destroys script h. Callback records still in flight for it are
// moved to the deferred list instead of being freed.
func (r *Registry) Remove(h Handle) error {
	c, err := r.Lookup(h, All)
	if err != nil {
		return err
	}

	r.mu.Lock()
	c.mu.Lock()
	c.removed = true
	c.mu.Unlock()
	n := r.deferInflightLocked(h)
	r.mu.Unlock()

	r.scripts.Remove(resource.Handle(h))
	Logger().Debug("script removed", zap.Uint32("script", uint32(h)), zap.Int("deferred_records", n))
	return nil
}

// Callback records

// NewRecord creates an in-flight callback record for a call made by sc.
func (r *Registry) NewRecord(sc *Context, stackID uint32, function string) (*CallbackRecord, error) {
	rec := &CallbackRecord{
		Object:   sc.object,
		Script:   sc.handle,
		Stack:    stackID,
		Function: function,
	}
	h, err := r.records.Insert(rec)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindRegistration, err, "create callback record")
	}
	rec.ID = RecordID(h)

	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.inflight[sc.handle]
	if m == nil {
		m = make(map[RecordID]*CallbackRecord)
		r.inflight[sc.handle] = m
	}
	m[rec.ID] = rec
	return rec, nil
}

// Record returns the live or deferred record with the given id.
func (r *Registry) Record(id RecordID) (*CallbackRecord, bool) {
	return r.records.Get(resource.Handle(id))
}

// FinishRecord releases a record whose call completed normally. Records
// already on the deferred list are left for ReleaseDeferred.
func (r *Registry) FinishRecord(rec *CallbackRecord) {
	r.mu.Lock()
	m := r.inflight[rec.Script]
	_, live := m[rec.ID]
	if live {
		delete(m, rec.ID)
		if len(m) == 0 {
			delete(r.inflight, rec.Script)
		}
	}
	r.mu.Unlock()

	if live {
		r.records.Remove(resource.Handle(rec.ID))
	}
}

// DeferRecord moves an in-flight record to the deferred list. It is used
// when the calling thread is terminated while a plugin may still write
// into the record.
func (r *Registry) DeferRecord(rec *CallbackRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.inflight[rec.Script]
	if _, live := m[rec.ID]; !live {
		return
	}
	delete(m, rec.ID)
	if len(m) == 0 {
		delete(r.inflight, rec.Script)
	}
	r.deferred = append(r.deferred, rec)
}

// DeferScript moves every in-flight record of h to the deferred list.
func (r *Registry) DeferScript(h Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deferInflightLocked(h)
}

func (r *Registry) deferInflightLocked(h Handle) int {
	m := r.inflight[h]
	for _, rec := range m {
		r.deferred = append(r.deferred, rec)
	}
	delete(r.inflight, h)
	return len(m)
}

// InFlight returns the number of records not yet finished or deferred.
func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.inflight {
		n += len(m)
	}
	return n
}

// Deferred returns the number of records awaiting ReleaseDeferred.
func (r *Registry) Deferred() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deferred)
}

// ReleaseDeferred frees every deferred record. It is called once at
// simulation end and returns the number released.
func (r *Registry) ReleaseDeferred() int {
	r.mu.Lock()
	recs := r.deferred
	r.deferred = nil
	r.mu.Unlock()

	for _, rec := range recs {
		r.records.Remove(resource.Handle(rec.ID))
	}
	if len(recs) > 0 {
		Logger().Debug("released deferred callback records", zap.Int("count", len(recs)))
	}
	return len(recs)
}

// Close drops all scripts and records.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.inflight = make(map[Handle]map[RecordID]*CallbackRecord)
	r.deferred = nil
	r.mu.Unlock()

	if err := r.records.Close(); err != nil {
		return err
	}
	return r.scripts.Close()
}
