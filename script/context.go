package script

import (
	"strconv"
	"sync"
	"time"
)

// Handle identifies a script. Handles are never reused within a registry.
type Handle uint32

// AllowSwitchStep is how far SetSwitchAllowed moves a forbid level.
// Forbidding adds it; allowing subtracts it, saturating at zero.
const AllowSwitchStep = 1

// DefaultAutoYieldDelay is the time a threaded script runs before an
// automatic switch is considered.
const DefaultAutoYieldDelay = 2 * time.Millisecond

// Options configures a script at registration.
type Options struct {
	Name            string
	Object          ObjectID
	Threaded        bool
	DebugLevel      DebugLevel
	AutoYieldDelay  time.Duration
	RaiseErrors     bool
	Verbosity       Verbosity
	ExecutionBudget time.Duration
	RandomSeed      int64
	TraceCapacity   int
}

// Context is the runtime state of one script.
type Context struct {
	runStart       time.Time
	trace          *TraceBuffer
	name           string
	lastError      string
	lastTraceback  string
	forbid         [numFeatures]int
	autoYieldDelay time.Duration
	budget         time.Duration
	randomSeed     int64
	object         ObjectID
	mu             sync.Mutex
	handle         Handle
	affinity       ThreadID
	kind           Kind
	debugLevel     DebugLevel
	verbosity      Verbosity
	threaded       bool
	bound          bool
	raiseErrors    bool
	abortPrompted  bool
	abortRequested bool
	initialized    bool
	removed        bool
}

func newContext(h Handle, kind Kind, opts Options) *Context {
	delay := opts.AutoYieldDelay
	if delay <= 0 {
		delay = DefaultAutoYieldDelay
	}
	return &Context{
		handle:         h,
		kind:           kind,
		name:           opts.Name,
		object:         opts.Object,
		threaded:       opts.Threaded,
		debugLevel:     opts.DebugLevel,
		autoYieldDelay: delay,
		raiseErrors:    opts.RaiseErrors,
		verbosity:      opts.Verbosity,
		budget:         opts.ExecutionBudget,
		randomSeed:     opts.RandomSeed,
		trace:          NewTraceBuffer(opts.TraceCapacity),
	}
}

func (c *Context) Handle() Handle      { return c.handle }
func (c *Context) Kind() Kind          { return c.kind }
func (c *Context) Name() string        { return c.name }
func (c *Context) Object() ObjectID    { return c.object }
func (c *Context) Threaded() bool      { return c.threaded }
func (c *Context) RandomSeed() int64   { return c.randomSeed }
func (c *Context) Trace() *TraceBuffer { return c.trace }

// Label identifies the script in logs and error messages.
func (c *Context) Label() string {
	return c.name + "#" + strconv.FormatUint(uint64(c.handle), 10)
}

func (c *Context) DebugLevel() DebugLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.debugLevel
}

func (c *Context) SetDebugLevel(l DebugLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.debugLevel = l
}

func (c *Context) AutoYieldDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoYieldDelay
}

// SetAutoYieldDelay sets the automatic switch delay. Non-positive values
// restore the default.
func (c *Context) SetAutoYieldDelay(d time.Duration) {
	if d <= 0 {
		d = DefaultAutoYieldDelay
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoYieldDelay = d
}

func (c *Context) RaiseErrors() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raiseErrors
}

func (c *Context) SetRaiseErrors(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raiseErrors = on
}

func (c *Context) Verbosity() Verbosity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verbosity
}

func (c *Context) SetVerbosity(v Verbosity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verbosity = v
}

// Forbid levels

// IncForbid raises the forbid level of f by one and returns the new level.
func (c *Context) IncForbid(f Feature) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forbid[f]++
	return c.forbid[f]
}

// DecForbid lowers the forbid level of f by one, never below zero, and
// returns the new level.
func (c *Context) DecForbid(f Feature) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.forbid[f] > 0 {
		c.forbid[f]--
	}
	return c.forbid[f]
}

// SetForbid sets the forbid level of f. Negative levels are clamped to 0.
func (c *Context) SetForbid(f Feature, level int) {
	if level < 0 {
		level = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forbid[f] = level
}

func (c *Context) ForbidLevel(f Feature) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forbid[f]
}

// SwitchAllowed reports whether switching for f is permitted: its forbid
// level is zero.
func (c *Context) SwitchAllowed(f Feature) bool {
	return c.ForbidLevel(f) == 0
}

// SetSwitchAllowed applies AllowSwitchStep and returns the new level.
func (c *Context) SetSwitchAllowed(f Feature, allowed bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if allowed {
		c.forbid[f] -= AllowSwitchStep
		if c.forbid[f] < 0 {
			c.forbid[f] = 0
		}
	} else {
		c.forbid[f] += AllowSwitchStep
	}
	return c.forbid[f]
}

// Errors

// SetLastError stores msg as the script's last error, replacing any
// unread one.
func (c *Context) SetLastError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = msg
}

// TakeLastError returns the last error and clears it.
func (c *Context) TakeLastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.lastError
	c.lastError = ""
	return msg
}

// PeekLastError returns the last error without consuming it.
func (c *Context) PeekLastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

func (c *Context) SetLastTraceback(tb string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTraceback = tb
}

func (c *Context) LastTraceback() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTraceback
}

// Thread affinity

// Affinity returns the logical thread the script is bound to. Unbound
// scripts run on the main thread.
func (c *Context) Affinity() (ThreadID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.bound {
		return MainThread, false
	}
	return c.affinity, true
}

// BindThread records the worker thread the script runs on.
func (c *Context) BindThread(id ThreadID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.affinity = id
	c.bound = true
}

// UnbindThread returns the script to the main thread.
func (c *Context) UnbindThread() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.affinity = MainThread
	c.bound = false
}

// Execution watchdog

func (c *Context) ExecutionBudget() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget
}

func (c *Context) SetExecutionBudget(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budget = d
}

// BeginRun marks the start of a main-thread run and re-arms the one-shot
// abort prompt.
func (c *Context) BeginRun(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runStart = now
	c.abortPrompted = false
	c.abortRequested = false
}

// EndRun clears the run start.
func (c *Context) EndRun() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runStart = time.Time{}
}

// RunStart returns when the current run began, or the zero time.
func (c *Context) RunStart() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runStart
}

// ClaimAbortPrompt returns true once per run: the caller owns the abort
// confirmation for this run.
func (c *Context) ClaimAbortPrompt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abortPrompted {
		return false
	}
	c.abortPrompted = true
	return true
}

// RequestAbort marks the current run as aborted. It stays set until the
// next BeginRun.
func (c *Context) RequestAbort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abortRequested = true
}

func (c *Context) AbortRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abortRequested
}

// Lifecycle

func (c *Context) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

func (c *Context) MarkInitialized() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = true
}

func (c *Context) Removed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed
}
