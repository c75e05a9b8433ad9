package dispatch

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/script"
	"github.com/wippyai/simscript/stack"
	"github.com/wippyai/simscript/value"
)

// Handler implements a bound function. Arguments arrive on call.Stack and
// results replace them there.
type Handler func(ctx context.Context, call *Call) error

// Runner executes a named function inside a script's interpreter.
type Runner interface {
	CallFunction(ctx context.Context, name string, args *stack.Stack) (*stack.Stack, error)
}

// Scheduler is the part of the scheduler the dispatcher needs.
type Scheduler interface {
	OnMain() bool
	Yield(sc *script.Context) (bool, error)
	YieldUntil(cond func() bool) error
	CallOnThread(target script.ThreadID, fn func() error) error
}

// Config configures a Dispatcher.
type Config struct {
	// Aliases is the legacy name table. Nil uses DefaultAliases.
	Aliases *AliasTable

	// LegacyAliases enables resolution of legacy names.
	LegacyAliases bool
}

// Binding is one name scripts can reach.
type Binding struct {
	Name   string
	Target string
	Legacy bool
}

type entry struct {
	handler Handler
	name    string
}

// Dispatcher holds the bound function and variable tables of a session.
type Dispatcher struct {
	scripts   *script.Registry
	stacks    *stack.Registry
	sched     Scheduler
	functions map[string]*entry
	variables map[string]value.Value
	runners   map[script.Handle]Runner
	aliases   *AliasTable
	funcAlias map[string]string
	mu        sync.RWMutex
	legacy    bool
	sealed    bool
}

// New creates a dispatcher over the session's registries and scheduler.
func New(scripts *script.Registry, stacks *stack.Registry, sched Scheduler, cfg Config) *Dispatcher {
	aliases := cfg.Aliases
	if aliases == nil {
		aliases = DefaultAliases()
	}
	funcAlias := make(map[string]string, len(aliases.Functions))
	for _, a := range aliases.Functions {
		funcAlias[a.Old] = a.New
	}
	return &Dispatcher{
		scripts:   scripts,
		stacks:    stacks,
		sched:     sched,
		functions: make(map[string]*entry),
		variables: make(map[string]value.Value),
		runners:   make(map[script.Handle]Runner),
		aliases:   aliases,
		funcAlias: funcAlias,
		legacy:    cfg.LegacyAliases,
	}
}

// Scripts returns the script registry.
func (d *Dispatcher) Scripts() *script.Registry {
	return d.scripts
}

// Stacks returns the stack registry.
func (d *Dispatcher) Stacks() *stack.Registry {
	return d.stacks
}

// RegisterFunction binds name to h. Names are append-only and cannot be
// added after Seal.
func (d *Dispatcher) RegisterFunction(name string, h Handler) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "function name cannot be empty")
	}
	if h == nil {
		return errors.InvalidInput(errors.PhaseHost, "handler cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpenLocked(name); err != nil {
		return err
	}
	if _, ok := d.variables[name]; ok {
		return errors.Registration(errors.PhaseHost, name, errors.InvalidInput(errors.PhaseHost, "name is a variable"))
	}
	d.functions[name] = &entry{name: name, handler: h}
	Logger().Debug("function registered", zap.String("fn", name))
	return nil
}

// RegisterVariable binds name to a constant value.
func (d *Dispatcher) RegisterVariable(name string, v value.Value) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "variable name cannot be empty")
	}
	if v == nil {
		v = value.Nil{}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkOpenLocked(name); err != nil {
		return err
	}
	if _, ok := d.functions[name]; ok {
		return errors.Registration(errors.PhaseHost, name, errors.InvalidInput(errors.PhaseHost, "name is a function"))
	}
	d.variables[name] = v
	return nil
}

func (d *Dispatcher) checkOpenLocked(name string) error {
	if d.sealed {
		return errors.Registration(errors.PhaseHost, name, errors.InvalidInput(errors.PhaseHost, "registration is closed"))
	}
	_, isFn := d.functions[name]
	_, isVar := d.variables[name]
	if isFn || isVar {
		return errors.Registration(errors.PhaseHost, name, errors.InvalidInput(errors.PhaseHost, "already registered"))
	}
	return nil
}

// Seal ends configuration. Later registrations fail.
func (d *Dispatcher) Seal() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sealed = true
}

// Sealed reports whether Seal was called.
func (d *Dispatcher) Sealed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sealed
}

// LegacyAliases reports whether legacy names resolve.
func (d *Dispatcher) LegacyAliases() bool {
	return d.legacy
}

// Resolve returns the current name a function call resolves to.
func (d *Dispatcher) Resolve(name string) (string, error) {
	e, err := d.resolve(name)
	if err != nil {
		return "", err
	}
	return e.name, nil
}

func (d *Dispatcher) resolve(name string) (*entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if e, ok := d.functions[name]; ok {
		return e, nil
	}
	if d.legacy {
		if target, ok := d.funcAlias[name]; ok {
			if e, ok := d.functions[target]; ok {
				return e, nil
			}
		}
	}
	return nil, errors.FunctionNotFound(name)
}

// Variable returns the value of a variable, following legacy aliases when
// enabled.
func (d *Dispatcher) Variable(name string) (value.Value, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if v, ok := d.variables[name]; ok {
		return v, true
	}
	if !d.legacy {
		return nil, false
	}
	for _, a := range d.aliases.Variables {
		if a.Old != name {
			continue
		}
		if a.New != "" {
			v, ok := d.variables[a.New]
			return v, ok
		}
		v, ok := value.From(a.Value)
		return v, ok
	}
	return nil, false
}

// Functions lists every callable name, sorted. Legacy names are included
// only when aliases are enabled and their target exists.
func (d *Dispatcher) Functions() []Binding {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Binding, 0, len(d.functions))
	for name := range d.functions {
		out = append(out, Binding{Name: name, Target: name})
	}
	if d.legacy {
		for old, target := range d.funcAlias {
			_, current := d.functions[old]
			if _, ok := d.functions[target]; ok && !current {
				out = append(out, Binding{Name: old, Target: target, Legacy: true})
			}
		}
	}
	sortBindings(out)
	return out
}

// Variables lists every variable name, sorted, with the same alias rules as
// Functions.
func (d *Dispatcher) Variables() []Binding {
	d.mu.RLock()
	names := make([]Binding, 0, len(d.variables))
	for name := range d.variables {
		names = append(names, Binding{Name: name, Target: name})
	}
	if d.legacy {
		for _, a := range d.aliases.Variables {
			if _, current := d.variables[a.Old]; current {
				continue
			}
			if _, isFn := d.functions[a.Old]; isFn {
				continue
			}
			if a.New != "" {
				if _, ok := d.variables[a.New]; !ok {
					continue
				}
			}
			names = append(names, Binding{Name: a.Old, Target: a.New, Legacy: true})
		}
	}
	d.mu.RUnlock()
	sortBindings(names)
	return names
}

func sortBindings(b []Binding) {
	sort.Slice(b, func(i, j int) bool { return b[i].Name < b[j].Name })
}

// AttachRunner makes h callable through sim.callScriptFunction.
func (d *Dispatcher) AttachRunner(h script.Handle, r Runner) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runners[h] = r
}

// DetachRunner removes the runner of h.
func (d *Dispatcher) DetachRunner(h script.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.runners, h)
}

func (d *Dispatcher) runner(h script.Handle) Runner {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.runners[h]
}
