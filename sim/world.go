package sim

import (
	"sort"
	"sync"
	"time"

	"github.com/wippyai/simscript/script"
)

// World is the scene layer a session runs against.
type World interface {
	ObjectExists(id script.ObjectID) bool
	SimulationTime() time.Duration
}

// Stepper is implemented by worlds that advance once per simulation step.
type Stepper interface {
	Advance()
}

// StepWorld is a minimal World: a set of object ids and a simulation clock
// that moves by a fixed step.
type StepWorld struct {
	objects map[script.ObjectID]string
	step    time.Duration
	now     time.Duration
	mu      sync.RWMutex
}

// NewStepWorld creates a world whose time advances by step per Advance.
func NewStepWorld(step time.Duration) *StepWorld {
	return &StepWorld{
		objects: make(map[script.ObjectID]string),
		step:    step,
	}
}

// AddObject adds or renames an object.
func (w *StepWorld) AddObject(id script.ObjectID, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.objects[id] = name
}

// RemoveObject deletes an object.
func (w *StepWorld) RemoveObject(id script.ObjectID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.objects, id)
}

// Objects returns the object ids, sorted.
func (w *StepWorld) Objects() []script.ObjectID {
	w.mu.RLock()
	out := make([]script.ObjectID, 0, len(w.objects))
	for id := range w.objects {
		out = append(out, id)
	}
	w.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (w *StepWorld) ObjectExists(id script.ObjectID) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.objects[id]
	return ok
}

func (w *StepWorld) SimulationTime() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.now
}

func (w *StepWorld) Advance() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now += w.step
}
