package scheduler

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/script"
)

// State is the lifecycle state of a logical thread.
type State uint8

const (
	StateSuspended State = iota
	StateRunning
	StateTerminating
	StateDead
)

func (s State) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Decision is the outcome of a Tick.
type Decision uint8

const (
	// DecisionContinue lets the script keep running.
	DecisionContinue Decision = iota
	// DecisionSwitched means the thread was suspended and has since been
	// resumed.
	DecisionSwitched
	// DecisionAbort means the current run must unwind with the returned
	// error.
	DecisionAbort
)

// parkReason records where a suspended thread is blocked, which decides
// whether Resume may wake it.
type parkReason uint8

const (
	parkedNew parkReason = iota
	parkedYield
	parkedResume
	parkedCall
)

type request struct {
	from *thread
	fn   func() error
	err  error
}

// wakeMsg hands control to a parked thread. A nil req resumes it; a
// non-nil req asks it to serve a cross-thread call.
type wakeMsg struct {
	req *request
}

type thread struct {
	lastSwitch time.Time
	err        error
	sc         *script.Context
	wake       chan wakeMsg
	returnTo   *thread
	serving    int
	id         script.ThreadID
	state      State
	parked     parkReason
	killed     bool
}

func (t *thread) script() script.Handle {
	if t.sc == nil {
		return 0
	}
	return t.sc.Handle()
}

// ThreadInfo is a snapshot of one logical thread.
type ThreadInfo struct {
	Err     error
	Script  script.Handle
	ID      script.ThreadID
	State   State
	Serving bool
	Killed  bool
}

// Scheduler owns the logical threads of one session.
type Scheduler struct {
	cfg       Config
	stop      *StopSignal
	main      *thread
	current   *thread
	threads   []*thread
	observers []Observer
	mu        sync.Mutex
	closed    bool
}

// New creates a scheduler. The calling goroutine becomes the main thread.
func New(cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	main := &thread{
		id:         script.MainThread,
		state:      StateRunning,
		wake:       make(chan wakeMsg, 1),
		lastSwitch: cfg.Clock.Now(),
	}
	return &Scheduler{
		cfg:     cfg,
		stop:    NewStopSignal(cfg.Clock, cfg.StopDebounce),
		main:    main,
		current: main,
		threads: []*thread{main},
	}
}

// Stop returns the scheduler's stop signal.
func (s *Scheduler) Stop() *StopSignal {
	return s.stop
}

// Clock returns the configured clock.
func (s *Scheduler) Clock() Clock {
	return s.cfg.Clock
}

// Subscribe registers an observer for thread events.
func (s *Scheduler) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Current returns the running logical thread.
func (s *Scheduler) Current() script.ThreadID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.id
}

// OnMain reports whether the main thread is running.
func (s *Scheduler) OnMain() bool {
	return s.Current() == script.MainThread
}

// Threads returns a snapshot of every thread, main first.
func (s *Scheduler) Threads() []ThreadInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ThreadInfo, len(s.threads))
	for i, t := range s.threads {
		out[i] = ThreadInfo{
			ID:      t.id,
			Script:  t.script(),
			State:   t.state,
			Serving: t.serving > 0,
			Killed:  t.killed,
			Err:     t.err,
		}
	}
	return out
}

// Spawn creates a worker thread that will run body for sc and binds sc to
// it. The thread stays parked until the first Resume.
func (s *Scheduler) Spawn(sc *script.Context, body func() error) (script.ThreadID, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errors.Terminated("scheduler is shut down")
	}
	if id, bound := sc.Affinity(); bound && s.lookup(id) != nil && s.lookup(id).state != StateDead {
		s.mu.Unlock()
		return 0, errors.New(errors.PhaseSchedule, errors.KindRegistration).
			Detail("script %s already runs on thread %d", sc.Label(), id).
			Build()
	}
	t := &thread{
		id:     script.ThreadID(len(s.threads)),
		sc:     sc,
		wake:   make(chan wakeMsg, 1),
		state:  StateSuspended,
		parked: parkedNew,
	}
	s.threads = append(s.threads, t)
	s.mu.Unlock()

	sc.BindThread(t.id)
	Logger().Debug("thread spawned", zap.Uint32("thread", uint32(t.id)), zap.String("script", sc.Label()))
	s.emit(Event{Thread: t.id, Script: sc.Handle(), Type: EventSpawned})

	go s.run(t, body)
	return t.id, nil
}

func (s *Scheduler) run(t *thread, body func() error) {
	defer s.exit(t)
	s.park(t)
	if s.shouldTerminate(t) {
		s.terminate(t)
	}
	err := s.guard(body)
	s.mu.Lock()
	t.err = err
	s.mu.Unlock()
	if err != nil {
		Logger().Debug("thread body failed", zap.Uint32("thread", uint32(t.id)), zap.Error(err))
	}
}

// guard converts a panic in fn into an error. Invariant violations keep
// panicking.
func (s *Scheduler) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(*errors.Error); ok && e.Kind == errors.KindFatal {
				panic(r)
			}
			Logger().Error("panic on logical thread", zap.Any("panic", r))
			err = errors.New(errors.PhaseSchedule, errors.KindCallFailed).
				Detail("panic: %v", r).
				Build()
		}
	}()
	return fn()
}

// exit marks t dead and hands control back to the thread that resumed it.
// It runs on normal return and on termination.
func (s *Scheduler) exit(t *thread) {
	now := s.cfg.Clock.Now()

	s.mu.Lock()
	terminated := t.state == StateTerminating
	to := t.returnTo
	if s.current != t || to == nil {
		s.mu.Unlock()
		s.fatal("thread %d exited while not running", t.id)
		return
	}
	t.state = StateDead
	t.returnTo = nil
	to.state = StateRunning
	to.lastSwitch = now
	s.current = to
	s.mu.Unlock()

	if !terminated && t.sc != nil {
		t.sc.UnbindThread()
	}
	Logger().Debug("thread dead", zap.Uint32("thread", uint32(t.id)), zap.Bool("terminated", terminated))
	s.emit(Event{Thread: t.id, Script: t.script(), Type: EventDead})
	s.emit(Event{Thread: to.id, Script: to.script(), Type: EventResumed})
	to.wake <- wakeMsg{}
}

// terminate ends the calling worker thread. It does not return.
func (s *Scheduler) terminate(t *thread) {
	s.mu.Lock()
	t.state = StateTerminating
	s.mu.Unlock()
	Logger().Debug("thread terminating", zap.Uint32("thread", uint32(t.id)))
	s.emit(Event{Thread: t.id, Script: t.script(), Type: EventTerminating})
	runtime.Goexit()
}

func (s *Scheduler) shouldTerminate(t *thread) bool {
	if t == s.main {
		return false
	}
	s.mu.Lock()
	killed := t.killed
	s.mu.Unlock()
	return killed || s.stop.Activated()
}

// cancelPoint terminates the calling worker if it was stopped. A thread
// serving a cross-thread call cannot exit; it gets an error so the served
// call unwinds first.
func (s *Scheduler) cancelPoint(t *thread) error {
	if !s.shouldTerminate(t) {
		return nil
	}
	s.mu.Lock()
	serving := t.serving > 0
	s.mu.Unlock()
	if serving {
		return errors.Terminated(fmt.Sprintf("thread %d stopped while serving a call", t.id))
	}
	s.terminate(t)
	return nil
}

// park blocks t until it is resumed, serving cross-thread requests that
// arrive meanwhile.
func (s *Scheduler) park(t *thread) {
	for {
		msg := <-t.wake
		if msg.req == nil {
			return
		}
		s.serve(t, msg.req)
	}
}

func (s *Scheduler) serve(t *thread, req *request) {
	s.mu.Lock()
	t.serving++
	prev := t.parked
	s.mu.Unlock()

	req.err = s.guard(req.fn)

	s.mu.Lock()
	t.serving--
	s.mu.Unlock()
	if err := s.handoff(t, req.from, prev, wakeMsg{}); err != nil {
		Logger().Error("cannot return from served call", zap.Error(err))
	}
}

// handoff suspends from and wakes to with msg. from must be the running
// thread and to must be suspended. The caller parks from afterwards.
func (s *Scheduler) handoff(from, to *thread, reason parkReason, msg wakeMsg) error {
	now := s.cfg.Clock.Now()

	s.mu.Lock()
	if s.current != from || from.state != StateRunning {
		cur := s.current.id
		s.mu.Unlock()
		return s.fatal("handoff from thread %d while thread %d is running", from.id, cur)
	}
	if to.state != StateSuspended {
		st := to.state
		s.mu.Unlock()
		return s.fatal("handoff to thread %d in state %s", to.id, st)
	}
	from.state = StateSuspended
	from.parked = reason
	to.state = StateRunning
	to.lastSwitch = now
	s.current = to
	s.mu.Unlock()

	s.emit(Event{Thread: from.id, Script: from.script(), Type: EventSuspended})
	s.emit(Event{Thread: to.id, Script: to.script(), Type: EventResumed})
	to.wake <- msg
	return nil
}

func (s *Scheduler) fatal(format string, args ...any) error {
	err := errors.Fatal(fmt.Sprintf(format, args...))
	Logger().DPanic("scheduler invariant violated", zap.Error(err))
	if !s.cfg.LenientInvariants {
		panic(err)
	}
	return err
}

func (s *Scheduler) emit(e Event) {
	s.mu.Lock()
	obs := s.observers
	s.mu.Unlock()
	for _, o := range obs {
		o.OnThreadEvent(e)
	}
}

func (s *Scheduler) running() *thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Scheduler) lookup(id script.ThreadID) *thread {
	if int(id) >= len(s.threads) {
		return nil
	}
	return s.threads[id]
}

// Resume runs a suspended thread until it yields back or dies. Only
// threads that have not started or that yielded can be resumed.
func (s *Scheduler) Resume(id script.ThreadID) error {
	s.mu.Lock()
	from := s.current
	t := s.lookup(id)
	switch {
	case t == nil:
		s.mu.Unlock()
		return errors.NotFound(errors.PhaseSchedule, "thread", fmt.Sprint(id))
	case t == from:
		s.mu.Unlock()
		return errors.InvalidInput(errors.PhaseSchedule, "a thread cannot resume itself")
	case from.serving > 0:
		s.mu.Unlock()
		return errors.New(errors.PhaseSchedule, errors.KindUnsupported).
			Detail("thread %d cannot resume while serving a call", from.id).
			Build()
	case t.state == StateDead:
		s.mu.Unlock()
		return errors.Terminated(fmt.Sprintf("thread %d is dead", id))
	case t.state != StateSuspended || (t.parked != parkedNew && t.parked != parkedYield):
		s.mu.Unlock()
		return errors.InvalidInput(errors.PhaseSchedule, fmt.Sprintf("thread %d is not resumable", id))
	}
	t.returnTo = from
	s.mu.Unlock()

	if err := s.handoff(from, t, parkedResume, wakeMsg{}); err != nil {
		return err
	}
	s.park(from)
	return s.cancelPoint(from)
}

// switchBack suspends the calling worker and resumes the thread that
// resumed it.
func (s *Scheduler) switchBack(t *thread) error {
	s.mu.Lock()
	to := t.returnTo
	s.mu.Unlock()
	if to == nil {
		return s.fatal("thread %d has no thread to return to", t.id)
	}
	if err := s.handoff(t, to, parkedYield, wakeMsg{}); err != nil {
		return err
	}
	s.park(t)
	return s.cancelPoint(t)
}

// Yield switches away from the calling worker if the manual forbid level
// of sc is zero. It reports whether a switch happened. On the main thread
// and while serving a call it does nothing.
func (s *Scheduler) Yield(sc *script.Context) (bool, error) {
	t := s.running()
	if err := s.cancelPoint(t); err != nil {
		return false, err
	}
	if t == s.main || s.isServing(t) || !sc.SwitchAllowed(script.ManualSwitch) {
		return false, nil
	}
	if err := s.switchBack(t); err != nil {
		return false, err
	}
	return true, nil
}

// YieldUntil keeps switching away from the calling worker until cond
// holds. Forbid levels do not apply. It fails on the main thread.
func (s *Scheduler) YieldUntil(cond func() bool) error {
	for !cond() {
		t := s.running()
		if t == s.main || s.isServing(t) {
			return errors.New(errors.PhaseSchedule, errors.KindUnsupported).
				Detail("thread %d cannot wait", t.id).
				Build()
		}
		if err := s.cancelPoint(t); err != nil {
			return err
		}
		if err := s.switchBack(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) isServing(t *thread) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.serving > 0
}

// Checkpoint is the cancellation-only yield point run on every call and
// return.
func (s *Scheduler) Checkpoint() error {
	return s.cancelPoint(s.running())
}

// Tick is the periodic yield point for sc, which is the script executing
// on the current thread.
func (s *Scheduler) Tick(sc *script.Context) (Decision, error) {
	t := s.running()
	if err := s.cancelPoint(t); err != nil {
		return DecisionAbort, err
	}

	if t == s.main {
		if sc != nil && s.overBudget(sc) {
			return DecisionAbort, errors.Aborted(sc.Label())
		}
		return DecisionContinue, nil
	}

	if sc == nil {
		sc = t.sc
	}
	if s.isServing(t) || !sc.SwitchAllowed(script.AutomaticSwitch) {
		return DecisionContinue, nil
	}

	now := s.cfg.Clock.Now()
	s.mu.Lock()
	since := now.Sub(t.lastSwitch)
	s.mu.Unlock()
	if since < sc.AutoYieldDelay() {
		return DecisionContinue, nil
	}

	if err := s.switchBack(t); err != nil {
		return DecisionAbort, err
	}
	return DecisionSwitched, nil
}

// overBudget runs the execution watchdog. The abort prompt is issued at
// most once per run; a confirmed abort stays in effect until the run ends.
func (s *Scheduler) overBudget(sc *script.Context) bool {
	if sc.Kind().Simulation() {
		return false
	}
	if sc.AbortRequested() {
		return true
	}
	budget := sc.ExecutionBudget()
	start := sc.RunStart()
	if budget <= 0 || start.IsZero() {
		return false
	}
	elapsed := s.cfg.Clock.Now().Sub(start)
	if elapsed <= budget || !sc.ClaimAbortPrompt() {
		return false
	}
	if s.cfg.ConfirmAbort == nil || !s.cfg.ConfirmAbort(sc, elapsed) {
		Logger().Info("script over budget, abort declined",
			zap.String("script", sc.Label()), zap.Duration("elapsed", elapsed))
		return false
	}
	Logger().Warn("aborting script over budget",
		zap.String("script", sc.Label()), zap.Duration("elapsed", elapsed))
	sc.RequestAbort()
	return true
}

// CallOnThread runs fn on thread target and returns its error. The caller
// is suspended until fn has completed. If target is the calling thread, fn
// runs inline.
func (s *Scheduler) CallOnThread(target script.ThreadID, fn func() error) error {
	s.mu.Lock()
	from := s.current
	t := s.lookup(target)
	if t == nil {
		s.mu.Unlock()
		return errors.NotFound(errors.PhaseSchedule, "thread", fmt.Sprint(target))
	}
	if t == from {
		s.mu.Unlock()
		return fn()
	}
	if t.state == StateDead || t.state == StateTerminating || t.killed || (t != s.main && s.stop.Activated()) {
		s.mu.Unlock()
		return errors.Terminated(fmt.Sprintf("thread %d does not accept calls", target))
	}
	s.mu.Unlock()

	req := &request{from: from, fn: fn}
	if err := s.handoff(from, t, parkedCall, wakeMsg{req: req}); err != nil {
		return err
	}
	s.park(from)
	if err := s.cancelPoint(from); err != nil {
		return err
	}
	return req.err
}

// Terminate marks a worker thread for termination. It takes effect at the
// thread's next yield point, or immediately if the worker terminates
// itself.
func (s *Scheduler) Terminate(id script.ThreadID) error {
	s.mu.Lock()
	t := s.lookup(id)
	if t == nil {
		s.mu.Unlock()
		return errors.NotFound(errors.PhaseSchedule, "thread", fmt.Sprint(id))
	}
	if t == s.main {
		s.mu.Unlock()
		return errors.InvalidInput(errors.PhaseSchedule, "the main thread cannot be terminated")
	}
	t.killed = true
	self := t == s.current && t.serving == 0
	s.mu.Unlock()

	if self {
		s.terminate(t)
	}
	return nil
}

// Shutdown terminates every worker thread. It must run on the main thread
// with no worker running. No thread can be spawned afterwards.
func (s *Scheduler) Shutdown() error {
	s.mu.Lock()
	if s.current != s.main {
		s.mu.Unlock()
		return errors.InvalidInput(errors.PhaseSchedule, "shutdown must run on the main thread")
	}
	s.closed = true
	var live []*thread
	for _, t := range s.threads[1:] {
		if t.state != StateDead {
			t.killed = true
			live = append(live, t)
		}
	}
	s.mu.Unlock()

	for _, t := range live {
		s.mu.Lock()
		resumable := t.state == StateSuspended && (t.parked == parkedNew || t.parked == parkedYield)
		s.mu.Unlock()
		if !resumable {
			Logger().Warn("thread left running at shutdown", zap.Uint32("thread", uint32(t.id)))
			continue
		}
		if err := s.Resume(t.id); err != nil {
			return err
		}
	}
	Logger().Debug("scheduler shut down", zap.Int("terminated", len(live)))
	return nil
}
