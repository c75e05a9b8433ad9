package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/simscript/dispatch"
	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/luavm"
	"github.com/wippyai/simscript/plugin"
	"github.com/wippyai/simscript/scheduler"
	"github.com/wippyai/simscript/script"
	"github.com/wippyai/simscript/stack"
	"github.com/wippyai/simscript/value"
)

// Script callbacks, looked up by name in every script.
const (
	CallbackInit      = "sysCall_init"
	CallbackActuation = "sysCall_actuation"
	CallbackCleanup   = "sysCall_cleanup"
	CallbackThread    = "sysCall_thread"
)

// DefaultTimeStep is the step of the world created when none is given.
const DefaultTimeStep = 50 * time.Millisecond

// stepOrder is the order in which script kinds are actuated each step.
var stepOrder = []script.Kind{
	script.KindMain,
	script.KindChild,
	script.KindCustomization,
	script.KindAddOn,
}

type state uint8

const (
	stateConfiguring state = iota
	stateRunning
	stateEnded
)

type entry struct {
	sc       *script.Context
	vm       *luavm.VM
	source   string
	tid      script.ThreadID
	threaded bool
	finished bool
}

// Session runs one simulation: its scripts, their threads and the
// plugins they call. A Session must be driven from the goroutine that
// created it, which becomes the main simulation thread.
type Session struct {
	cfg     Config
	world   World
	id      uuid.UUID
	scripts *script.Registry
	stacks  *stack.Registry
	counter *stackCounter
	sched   *scheduler.Scheduler
	disp    *dispatch.Dispatcher
	plugins *plugin.Host
	runCtx  context.Context
	cancel  context.CancelFunc
	entries []*entry
	steps   uint64
	mu      sync.Mutex
	state   state
}

// New creates a session over world. A nil world is replaced by a
// StepWorld advancing DefaultTimeStep per step.
func New(world World, cfg Config) (*Session, error) {
	if cfg.Logger != nil {
		setLoggers(cfg.Logger)
	}
	if world == nil {
		world = NewStepWorld(DefaultTimeStep)
	}

	s := &Session{
		cfg:     cfg,
		world:   world,
		id:      uuid.New(),
		scripts: script.NewRegistry(),
		stacks:  stack.NewRegistry(),
		counter: &stackCounter{},
		sched:   scheduler.New(cfg.schedulerConfig()),
	}
	s.stacks.Subscribe(s.counter)
	s.disp = dispatch.New(s.scripts, s.stacks, s.sched, dispatch.Config{
		Aliases:       cfg.Aliases,
		LegacyAliases: cfg.LegacyAliases,
	})
	if err := s.disp.RegisterBuiltins(); err != nil {
		return nil, err
	}
	if err := s.registerBuiltins(); err != nil {
		return nil, err
	}

	Logger().Info("session created", zap.String("session", s.id.String()))
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() uuid.UUID { return s.id }

// Dispatcher returns the session's dispatcher.
func (s *Session) Dispatcher() *dispatch.Dispatcher { return s.disp }

// Scheduler returns the session's scheduler.
func (s *Session) Scheduler() *scheduler.Scheduler { return s.sched }

// Scripts returns the script registry.
func (s *Session) Scripts() *script.Registry { return s.scripts }

// World returns the world the session runs against.
func (s *Session) World() World { return s.world }

// RegisterFunction binds a native function. It must be called before Init.
func (s *Session) RegisterFunction(name string, h dispatch.Handler) error {
	return s.disp.RegisterFunction(name, h)
}

// RegisterVariable binds a constant. It must be called before Init.
func (s *Session) RegisterVariable(name string, v value.Value) error {
	return s.disp.RegisterVariable(name, v)
}

// LoadPlugin loads a wasm plugin and binds its entry points. It must be
// called before Init.
func (s *Session) LoadPlugin(ctx context.Context, name string, bin []byte) (*plugin.Plugin, error) {
	h, err := s.pluginHost(ctx)
	if err != nil {
		return nil, err
	}
	return h.Load(ctx, name, bin)
}

// LoadPluginFile loads a wasm plugin from disk.
func (s *Session) LoadPluginFile(ctx context.Context, path string) (*plugin.Plugin, error) {
	h, err := s.pluginHost(ctx)
	if err != nil {
		return nil, err
	}
	return h.LoadFile(ctx, path)
}

func (s *Session) pluginHost(ctx context.Context) (*plugin.Host, error) {
	if s.plugins != nil {
		return s.plugins, nil
	}
	if s.disp.Sealed() {
		return nil, errors.InvalidInput(errors.PhaseLoad, "plugins must be loaded before the session starts")
	}
	h, err := plugin.New(ctx, s.disp, s.cfg.Plugin)
	if err != nil {
		return nil, err
	}
	s.plugins = h
	return h, nil
}

// AddScript attaches a script with Lua source. Before Init the script is
// only registered; on a running session it is loaded and initialized
// immediately.
func (s *Session) AddScript(ctx context.Context, kind script.Kind, object script.ObjectID, source string, opts script.Options) (script.Handle, error) {
	if s.state == stateEnded {
		return 0, errors.InvalidInput(errors.PhaseRuntime, "session has ended")
	}
	if object != script.NoObject && !s.world.ObjectExists(object) {
		return 0, errors.NotFound(errors.PhaseValidate, "object", fmt.Sprint(object))
	}
	if opts.AutoYieldDelay <= 0 {
		opts.AutoYieldDelay = s.cfg.AutoYieldDelay
	}
	if opts.ExecutionBudget <= 0 && !kind.Simulation() {
		opts.ExecutionBudget = s.cfg.ExecutionBudget
	}

	h, err := s.scripts.Register(kind, object, opts)
	if err != nil {
		return 0, err
	}
	sc, _ := s.scripts.Get(h)
	e := &entry{sc: sc, source: source}
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()

	if s.state == stateRunning {
		if err := s.start(ctx, e); err != nil {
			s.report(sc, CallbackInit, err)
			return h, err
		}
	}
	return h, nil
}

// VM returns the interpreter of a started script.
func (s *Session) VM(h script.Handle) (*luavm.VM, bool) {
	e := s.find(h)
	if e == nil || e.vm == nil {
		return nil, false
	}
	return e.vm, true
}

// CallScriptFunction calls fn in script h from the main thread. A script
// bound to a worker thread is called on that thread while the main thread
// waits for the call to complete.
func (s *Session) CallScriptFunction(ctx context.Context, h script.Handle, fn string, args *stack.Stack) (*stack.Stack, error) {
	switch s.state {
	case stateConfiguring:
		return nil, errors.NotInitialized(errors.PhaseRuntime, "session")
	case stateEnded:
		return nil, errors.InvalidInput(errors.PhaseRuntime, "session has ended")
	}
	e := s.find(h)
	if e == nil {
		return nil, errors.ScriptNotFound(fmt.Sprint(h))
	}
	if e.vm == nil || !e.sc.Initialized() {
		return nil, errors.ScriptNotInitialized(e.sc.Label())
	}

	var out *stack.Stack
	call := func() error {
		var err error
		out, err = e.vm.CallFunction(ctx, fn, args)
		return err
	}
	tid, bound := e.sc.Affinity()
	if !bound {
		return out, s.run(e.sc, call)
	}
	return out, s.sched.CallOnThread(tid, call)
}

func (s *Session) find(h script.Handle) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.sc.Handle() == h {
			return e
		}
	}
	return nil
}

func (s *Session) snapshot() []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*entry(nil), s.entries...)
}

// Init seals the dispatcher and starts every attached script: its chunk
// runs, then sysCall_init, and threaded scripts get a worker thread for
// sysCall_thread. A script that fails to start is reported and left
// uninitialized.
func (s *Session) Init(ctx context.Context) error {
	if s.state != stateConfiguring {
		return errors.InvalidInput(errors.PhaseRuntime, "session already started")
	}
	s.disp.Seal()
	s.sched.Stop().Reset()
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.state = stateRunning

	started := 0
	for _, e := range s.snapshot() {
		if err := s.start(ctx, e); err != nil {
			s.report(e.sc, CallbackInit, err)
			continue
		}
		started++
	}
	Logger().Info("session started",
		zap.String("session", s.id.String()),
		zap.Int("scripts", started),
		zap.Int("functions", len(s.disp.Functions())))
	return nil
}

func (s *Session) start(ctx context.Context, e *entry) error {
	vm, err := luavm.New(s.disp, s.sched, e.sc, luavm.Config{Hook: s.cfg.Hook, Output: s.cfg.Output})
	if err != nil {
		return err
	}
	e.vm = vm
	if err := s.run(e.sc, func() error { return vm.Load(ctx, e.sc.Name(), e.source) }); err != nil {
		return err
	}
	if err := s.callback(ctx, e, CallbackInit); err != nil {
		return err
	}
	e.sc.MarkInitialized()

	if !e.sc.Threaded() || !vm.HasFunction(CallbackThread) {
		return nil
	}
	runCtx := s.runCtx
	tid, err := s.sched.Spawn(e.sc, func() error {
		_, err := vm.CallFunction(runCtx, CallbackThread, nil)
		return err
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	e.tid, e.threaded = tid, true
	s.mu.Unlock()
	return nil
}

// run executes fn as one run of sc for the execution watchdog.
func (s *Session) run(sc *script.Context, fn func() error) error {
	sc.BeginRun(s.sched.Clock().Now())
	defer sc.EndRun()
	return fn()
}

// callback calls a script callback if the script defines it.
func (s *Session) callback(ctx context.Context, e *entry, name string) error {
	if e.vm == nil || !e.vm.HasFunction(name) {
		return nil
	}
	return s.run(e.sc, func() error {
		_, err := e.vm.CallFunction(ctx, name, nil)
		return err
	})
}

// Step runs one simulation step: sysCall_actuation of every unthreaded
// script by kind (main, child, customization, add-on), then each live
// script thread is resumed once.
func (s *Session) Step(ctx context.Context) error {
	if s.state != stateRunning {
		return errors.InvalidInput(errors.PhaseRuntime, "session is not running")
	}
	entries := s.snapshot()
	for _, kind := range stepOrder {
		for _, e := range entries {
			if e.sc.Kind() != kind || e.sc.Threaded() || !e.sc.Initialized() {
				continue
			}
			if err := s.callback(ctx, e, CallbackActuation); err != nil {
				s.report(e.sc, CallbackActuation, err)
			}
		}
	}
	s.resumeThreads(entries)

	s.mu.Lock()
	s.steps++
	s.mu.Unlock()
	if st, ok := s.world.(Stepper); ok {
		st.Advance()
	}
	return nil
}

func (s *Session) resumeThreads(entries []*entry) {
	for _, e := range entries {
		if !e.threaded || e.finished {
			continue
		}
		info, ok := s.thread(e.tid)
		if ok && info.State == scheduler.StateSuspended {
			if err := s.sched.Resume(e.tid); err != nil {
				Logger().Debug("thread not resumed", zap.String("script", e.sc.Label()), zap.Error(err))
			}
			info, ok = s.thread(e.tid)
		}
		if ok && info.State == scheduler.StateDead {
			e.finished = true
			if info.Err != nil {
				s.report(e.sc, CallbackThread, info.Err)
			}
		}
	}
}

func (s *Session) thread(id script.ThreadID) (scheduler.ThreadInfo, bool) {
	for _, t := range s.sched.Threads() {
		if t.ID == id {
			return t, true
		}
	}
	return scheduler.ThreadInfo{}, false
}

// RequestStop asks the simulation to stop. Script threads are terminated
// at their next yield point once the stop debounce has elapsed.
func (s *Session) RequestStop() {
	s.sched.Stop().Request()
	Logger().Info("stop requested", zap.String("session", s.id.String()))
}

// Stopping reports whether a stop was requested.
func (s *Session) Stopping() bool {
	return s.sched.Stop().Requested()
}

// Stopped reports whether the stop request is in effect.
func (s *Session) Stopped() bool {
	return s.sched.Stop().Activated()
}

// RemoveScript terminates the script's thread, runs sysCall_cleanup and
// detaches the script. Callback records still in flight are kept until
// End.
func (s *Session) RemoveScript(ctx context.Context, h script.Handle) error {
	e := s.find(h)
	if e == nil {
		return errors.ScriptNotFound(fmt.Sprint(h))
	}
	if e.threaded && !e.finished {
		if err := s.sched.Terminate(e.tid); err != nil {
			return err
		}
		if info, ok := s.thread(e.tid); ok && info.State == scheduler.StateSuspended {
			if err := s.sched.Resume(e.tid); err != nil {
				Logger().Debug("terminated thread not resumed", zap.String("script", e.sc.Label()), zap.Error(err))
			}
		}
		e.finished = true
	}
	s.detach(ctx, e)

	s.mu.Lock()
	for i, x := range s.entries {
		if x == e {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) detach(ctx context.Context, e *entry) {
	if e.sc.Initialized() && s.state == stateRunning {
		if err := s.callback(ctx, e, CallbackCleanup); err != nil {
			s.report(e.sc, CallbackCleanup, err)
		}
	}
	if e.vm != nil {
		e.vm.Close()
	}
	if err := s.scripts.Remove(e.sc.Handle()); err != nil {
		Logger().Debug("script already removed", zap.String("script", e.sc.Label()), zap.Error(err))
	}
}

// End stops every script thread and runs sysCall_cleanup in reverse attach
// order. Deferred callback records are released before the plugins and
// both registries are closed.
func (s *Session) End(ctx context.Context) error {
	if s.state == stateEnded {
		return nil
	}
	if err := s.sched.Shutdown(); err != nil {
		return err
	}

	entries := s.snapshot()
	for i := len(entries) - 1; i >= 0; i-- {
		s.detach(ctx, entries[i])
	}
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()

	released := s.scripts.ReleaseDeferred()
	var err error
	if s.plugins != nil {
		err = s.plugins.Close(ctx)
	}
	if cerr := s.scripts.Close(); cerr != nil && err == nil {
		err = cerr
	}
	s.stacks.Unsubscribe(s.counter)
	if cerr := s.stacks.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.state = stateEnded

	stats := s.counter.get()
	Logger().Info("session ended",
		zap.String("session", s.id.String()),
		zap.Uint64("steps", s.StepCount()),
		zap.Int("released_records", released),
		zap.Uint64("stacks", stats.Created),
		zap.Int("peak_stacks", stats.Peak))
	return err
}

// StepCount returns the number of completed steps.
func (s *Session) StepCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

func (s *Session) report(sc *script.Context, callback string, err error) {
	if err == nil {
		return
	}
	Logger().Warn("script callback failed",
		zap.String("session", s.id.String()),
		zap.String("script", sc.Label()),
		zap.String("callback", callback),
		zap.Error(err))
	if s.cfg.OnScriptError != nil {
		s.cfg.OnScriptError(sc, callback, err)
	}
}
