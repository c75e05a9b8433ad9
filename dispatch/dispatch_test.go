package dispatch

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/scheduler"
	"github.com/wippyai/simscript/script"
	"github.com/wippyai/simscript/stack"
	"github.com/wippyai/simscript/value"
)

type manualClock struct {
	now time.Time
	mu  sync.Mutex
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type runnerFunc func(ctx context.Context, name string, args *stack.Stack) (*stack.Stack, error)

func (f runnerFunc) CallFunction(ctx context.Context, name string, args *stack.Stack) (*stack.Stack, error) {
	return f(ctx, name, args)
}

type fixture struct {
	d       *Dispatcher
	scripts *script.Registry
	stacks  *stack.Registry
	sched   *scheduler.Scheduler
	clock   *manualClock
	main    script.Handle
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		scripts: script.NewRegistry(),
		stacks:  stack.NewRegistry(),
		clock:   &manualClock{now: time.Unix(1000, 0)},
	}
	f.sched = scheduler.New(scheduler.Config{Clock: f.clock})
	f.d = New(f.scripts, f.stacks, f.sched, cfg)
	if err := f.d.RegisterBuiltins(); err != nil {
		t.Fatal(err)
	}
	h, err := f.scripts.Register(script.KindMain, script.NoObject, script.Options{Name: "main"})
	if err != nil {
		t.Fatal(err)
	}
	f.main = h
	return f
}

func (f *fixture) script(t *testing.T, kind script.Kind, obj script.ObjectID, opts script.Options) *script.Context {
	t.Helper()
	h, err := f.scripts.Register(kind, obj, opts)
	if err != nil {
		t.Fatal(err)
	}
	sc, _ := f.scripts.Get(h)
	return sc
}

func sum(_ context.Context, call *Call) error {
	b, err := call.Stack.PopNumber()
	if err != nil {
		return errors.Argument(call.Name, "second argument must be a number")
	}
	a, err := call.Stack.PopNumber()
	if err != nil {
		return errors.Argument(call.Name, "first argument must be a number")
	}
	call.Stack.PushNumber(a + b)
	return nil
}

func nums(vs ...float64) *stack.Stack {
	s := stack.New()
	for _, v := range vs {
		s.PushNumber(v)
	}
	return s
}

func TestInvoke_NativeFunction(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.d.RegisterFunction("pkg.f", sum); err != nil {
		t.Fatal(err)
	}

	out, err := f.d.Invoke(context.Background(), "pkg.f", f.main, nums(1, 2))
	if err != nil {
		t.Fatal(err)
	}
	got := out.Values()
	if len(got) != 1 || !value.Equal(got[0], value.Number(3)) {
		t.Fatalf("pkg.f(1, 2) = %v, want [3]", got)
	}
	if out.ID() != 0 || f.stacks.Len() != 0 {
		t.Fatal("argument stack should be released after the call")
	}
	if f.scripts.InFlight() != 0 {
		t.Fatal("callback record should be finished")
	}
}

func TestInvoke_Errors(t *testing.T) {
	f := newFixture(t, Config{})
	f.d.RegisterFunction("pkg.f", sum)
	f.d.RegisterFunction("pkg.setError", func(_ context.Context, call *Call) error {
		call.Record.SetError("device offline")
		return nil
	})
	f.d.RegisterFunction("pkg.plainError", func(context.Context, *Call) error {
		return stderrors.New("plain")
	})
	f.d.RegisterFunction("pkg.panic", func(context.Context, *Call) error {
		panic("boom")
	})
	f.d.RegisterFunction("pkg.openTable", func(_ context.Context, call *Call) error {
		call.Stack.BeginTable()
		return nil
	})

	tests := []struct {
		name   string
		fn     string
		caller script.Handle
		kind   errors.Kind
		msg    string
	}{
		{"unknown caller", "pkg.f", 999, errors.KindNotFound, ""},
		{"unknown function", "pkg.nope", f.main, errors.KindNotFound, "function not found"},
		{"bad arguments", "pkg.f", f.main, errors.KindArgument, "second argument must be a number"},
		{"error buffer", "pkg.setError", f.main, errors.KindCallFailed, "device offline"},
		{"plain error", "pkg.plainError", f.main, errors.KindCallFailed, "plain"},
		{"panic", "pkg.panic", f.main, errors.KindCallFailed, "panic: boom"},
		{"open table", "pkg.openTable", f.main, errors.KindCallFailed, "handler left a table open"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := stack.New()
			st.PushString("x")
			_, err := f.d.Invoke(context.Background(), tt.fn, tt.caller, st)
			if !errors.IsKind(err, tt.kind) {
				t.Fatalf("err = %v, want kind %s", err, tt.kind)
			}
			if tt.msg != "" && Message(err) != tt.msg {
				t.Fatalf("message = %q, want %q", Message(err), tt.msg)
			}
			if f.scripts.InFlight() != 0 || f.stacks.Len() != 0 {
				t.Fatal("failed call leaked a record or stack")
			}
		})
	}
}

func TestRegistration(t *testing.T) {
	f := newFixture(t, Config{})
	noop := func(context.Context, *Call) error { return nil }

	if err := f.d.RegisterFunction("pkg.f", noop); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		reg  func() error
		kind errors.Kind
	}{
		{"duplicate function", func() error { return f.d.RegisterFunction("pkg.f", noop) }, errors.KindRegistration},
		{"variable over function", func() error { return f.d.RegisterVariable("pkg.f", value.Number(1)) }, errors.KindRegistration},
		{"empty name", func() error { return f.d.RegisterFunction("", noop) }, errors.KindInvalidInput},
		{"nil handler", func() error { return f.d.RegisterFunction("pkg.g", nil) }, errors.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.reg(); !errors.IsKind(err, tt.kind) {
				t.Fatalf("err = %v, want %s", err, tt.kind)
			}
		})
	}

	f.d.Seal()
	if err := f.d.RegisterFunction("pkg.late", noop); !errors.IsKind(err, errors.KindRegistration) {
		t.Fatalf("register after Seal = %v", err)
	}
	if err := f.d.RegisterVariable("pkg.lateVar", value.Bool(true)); !errors.IsKind(err, errors.KindRegistration) {
		t.Fatalf("register variable after Seal = %v", err)
	}
}

func TestLegacyAliases(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, Config{})
		if _, err := f.d.Resolve("simGetLastError"); !errors.IsKind(err, errors.KindNotFound) {
			t.Fatalf("Resolve(legacy) = %v, want not found", err)
		}
		if _, ok := f.d.Variable("sim_scripttype_childscript"); ok {
			t.Fatal("legacy variable should not resolve")
		}
		for _, b := range f.d.Functions() {
			if b.Legacy {
				t.Fatalf("legacy binding listed: %+v", b)
			}
		}
	})

	t.Run("enabled", func(t *testing.T) {
		f := newFixture(t, Config{LegacyAliases: true})
		name, err := f.d.Resolve("simGetLastError")
		if err != nil || name != "sim.getLastError" {
			t.Fatalf("Resolve = %q, %v", name, err)
		}

		v, ok := f.d.Variable("sim_scripttype_childscript")
		if !ok || !value.Equal(v, value.Number(1)) {
			t.Fatalf("literal alias = %v, %v", v, ok)
		}
		v, ok = f.d.Variable("sim_handle_self")
		if !ok || !value.Equal(v, value.Number(-1)) {
			t.Fatalf("variable alias = %v, %v", v, ok)
		}

		found := false
		for _, b := range f.d.Functions() {
			if b.Name == "simSwitchThread" {
				found = b.Legacy && b.Target == "sim.switchThread"
			}
		}
		if !found {
			t.Fatal("legacy binding simSwitchThread not listed")
		}
	})

	t.Run("current name wins", func(t *testing.T) {
		f := newFixture(t, Config{LegacyAliases: true})
		f.d.RegisterFunction("simSwitchThread", func(context.Context, *Call) error { return nil })
		name, err := f.d.Resolve("simSwitchThread")
		if err != nil || name != "simSwitchThread" {
			t.Fatalf("Resolve = %q, %v, want the current function", name, err)
		}
	})
}

func TestParseAliases(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"valid", "functions:\n  - {old: a, new: b}\nvariables:\n  - {old: c, value: 3}\n", false},
		{"not yaml", "functions: [", true},
		{"missing new", "functions:\n  - {old: a}\n", true},
		{"both new and value", "variables:\n  - {old: c, new: d, value: 1}\n", true},
		{"neither new nor value", "variables:\n  - {old: c}\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAliases([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.IsKind(err, errors.KindInvalidData) {
				t.Fatalf("err kind = %s", errors.KindOf(err))
			}
		})
	}

	if tbl := DefaultAliases(); len(tbl.Functions) == 0 || len(tbl.Variables) == 0 {
		t.Fatal("embedded alias table is empty")
	}
}

// A call from main into a script bound to a worker thread suspends main
// exactly once and resumes it exactly once, after the callee finished.
func TestCallScriptFunction_CrossThread(t *testing.T) {
	f := newFixture(t, Config{})
	b := f.script(t, script.KindChild, 7, script.Options{Name: "B", Threaded: true})

	var ranOn script.ThreadID
	f.d.AttachRunner(b.Handle(), runnerFunc(func(_ context.Context, name string, args *stack.Stack) (*stack.Stack, error) {
		ranOn = f.sched.Current()
		if name != "g" {
			return nil, errors.FunctionNotFound(name)
		}
		n, err := args.PopNumber()
		if err != nil {
			return nil, err
		}
		return nums(n * 2), nil
	}))
	b.MarkInitialized()

	tid, err := f.sched.Spawn(b, func() error {
		for {
			if _, err := f.sched.Yield(b); err != nil {
				return err
			}
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	f.sched.Resume(tid)

	var suspended, resumed int
	f.sched.Subscribe(scheduler.ObserverFunc(func(e scheduler.Event) {
		if e.Thread != script.MainThread {
			return
		}
		switch e.Type {
		case scheduler.EventSuspended:
			suspended++
		case scheduler.EventResumed:
			resumed++
		}
	}))

	args := stack.FromValues(value.String("g@B"), value.Number(b.Handle()), value.Number(5))
	out, err := f.d.Invoke(context.Background(), fnCallScriptFunction, f.main, args)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Values(); len(got) != 1 || !value.Equal(got[0], value.Number(10)) {
		t.Fatalf("result = %v, want [10]", got)
	}
	if ranOn != tid {
		t.Fatalf("callee ran on thread %d, want %d", ranOn, tid)
	}
	if suspended != 1 || resumed != 1 {
		t.Fatalf("main suspended %d / resumed %d times, want 1 / 1", suspended, resumed)
	}

	f.sched.Shutdown()
}

func TestCallScriptFunction_Resolution(t *testing.T) {
	f := newFixture(t, Config{})
	echo := runnerFunc(func(_ context.Context, _ string, args *stack.Stack) (*stack.Stack, error) {
		return args, nil
	})

	ready := f.script(t, script.KindCustomization, 3, script.Options{Name: "Robot"})
	ready.MarkInitialized()
	f.d.AttachRunner(ready.Handle(), echo)

	cold := f.script(t, script.KindChild, 4, script.Options{Name: "Cold"})
	f.d.AttachRunner(cold.Handle(), echo)

	tests := []struct {
		name string
		args []value.Value
		kind errors.Kind
	}{
		{"by handle", []value.Value{value.String("f@Robot"), value.Number(ready.Handle()), value.Number(1)}, ""},
		{"by kind and name", []value.Value{value.String("f@Robot"), value.String("customization"), value.Number(1)}, ""},
		{"not initialized", []value.Value{value.String("f"), value.Number(cold.Handle())}, errors.KindNotInitialized},
		{"unknown handle", []value.Value{value.String("f"), value.Number(500)}, errors.KindNotFound},
		{"unknown name", []value.Value{value.String("f@Nobody"), value.String("child")}, errors.KindNotFound},
		{"kind without name", []value.Value{value.String("f"), value.String("child")}, errors.KindArgument},
		{"bad kind", []value.Value{value.String("f@Robot"), value.String("robot")}, errors.KindArgument},
		{"empty function", []value.Value{value.String("@Robot"), value.Number(ready.Handle())}, errors.KindArgument},
		{"missing target", []value.Value{value.String("f")}, errors.KindArgument},
		{"main has no runner", []value.Value{value.String("f"), value.String("main")}, errors.KindNotInitialized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.d.Invoke(context.Background(), fnCallScriptFunction, f.main, stack.FromValues(tt.args...))
			if tt.kind == "" {
				if err != nil {
					t.Fatal(err)
				}
				if got := out.Values(); len(got) != 1 || !value.Equal(got[0], value.Number(1)) {
					t.Fatalf("result = %v", got)
				}
				return
			}
			if !errors.IsKind(err, tt.kind) {
				t.Fatalf("err = %v, want %s", err, tt.kind)
			}
		})
	}
}

func TestInvoke_WaitFlag(t *testing.T) {
	f := newFixture(t, Config{})
	a := f.script(t, script.KindChild, 1, script.Options{Threaded: true})

	var waiting *script.CallbackRecord
	f.d.RegisterFunction("pkg.wait", func(_ context.Context, call *Call) error {
		call.Record.SetWait(1)
		waiting = call.Record
		call.Stack.Clear()
		call.Stack.PushString("done")
		return nil
	})
	f.d.RegisterFunction("pkg.release", func(context.Context, *Call) error {
		waiting.SetWait(0)
		return nil
	})

	t.Run("main ignores the flag", func(t *testing.T) {
		out, err := f.d.Invoke(context.Background(), "pkg.wait", f.main, nil)
		if err != nil {
			t.Fatal(err)
		}
		if s, _ := out.PeekString(0); s != "done" {
			t.Fatalf("result = %v", out.Values())
		}
	})

	t.Run("worker yields until cleared", func(t *testing.T) {
		var result []value.Value
		var callErr error
		tid, _ := f.sched.Spawn(a, func() error {
			out, err := f.d.Invoke(context.Background(), "pkg.wait", a.Handle(), nil)
			callErr = err
			if out != nil {
				result = out.Values()
			}
			return nil
		})

		f.sched.Resume(tid)
		if result != nil || f.scripts.InFlight() != 1 {
			t.Fatalf("call completed before the flag cleared: %v", result)
		}

		f.sched.Resume(tid)
		if result != nil {
			t.Fatal("still-waiting call completed")
		}

		if _, err := f.d.Invoke(context.Background(), "pkg.release", f.main, nil); err != nil {
			t.Fatal(err)
		}
		f.sched.Resume(tid)
		if callErr != nil || len(result) != 1 || !value.Equal(result[0], value.String("done")) {
			t.Fatalf("result = %v, %v", result, callErr)
		}
		if f.scripts.InFlight() != 0 {
			t.Fatal("record not finished")
		}
	})
}

func TestInvoke_WaitAbandonedOnStop(t *testing.T) {
	f := newFixture(t, Config{})
	a := f.script(t, script.KindAddOn, script.NoObject, script.Options{Threaded: true})
	f.d.RegisterFunction("pkg.wait", func(_ context.Context, call *Call) error {
		call.Record.SetWait(1)
		return nil
	})

	returned := false
	tid, _ := f.sched.Spawn(a, func() error {
		f.d.Invoke(context.Background(), "pkg.wait", a.Handle(), nil)
		returned = true
		return nil
	})
	f.sched.Resume(tid)

	f.sched.Stop().Request()
	f.clock.Advance(2 * time.Second)
	f.sched.Resume(tid)

	if returned {
		t.Fatal("terminated thread returned from Invoke")
	}
	if f.scripts.InFlight() != 0 || f.scripts.Deferred() != 1 {
		t.Fatalf("InFlight = %d, Deferred = %d", f.scripts.InFlight(), f.scripts.Deferred())
	}
	if a.PeekLastError() != "" {
		t.Fatal("termination must not set the last error")
	}
	if n := f.scripts.ReleaseDeferred(); n != 1 {
		t.Fatalf("ReleaseDeferred = %d", n)
	}
}

func TestReport(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		raise     bool
		want      Outcome
		lastError string
	}{
		{"success", nil, false, OutcomeNone, ""},
		{"call failure captured", errors.CallFailed("pkg.f", "bad input"), false, OutcomeCapture, "bad input"},
		{"call failure raised in legacy mode", errors.CallFailed("pkg.f", "bad input"), true, OutcomeRaise, ""},
		{"argument error captured", errors.Argument("pkg.f", "need a number"), false, OutcomeCapture, "need a number"},
		{"argument error raised in legacy mode", errors.Argument("pkg.f", "need a number"), true, OutcomeRaise, "need a number"},
		{"termination raised", errors.Terminated("stop"), false, OutcomeRaise, ""},
		{"lookup error captured", errors.FunctionNotFound("pkg.nope"), false, OutcomeCapture, "function not found"},
		{"plain error captured", stderrors.New("io"), false, OutcomeCapture, "io"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := script.NewRegistry()
			h, _ := reg.Register(script.KindChild, 1, script.Options{RaiseErrors: tt.raise})
			sc, _ := reg.Get(h)

			if got := Report(sc, "pkg.f", tt.err); got != tt.want {
				t.Fatalf("Report = %s, want %s", got, tt.want)
			}
			if got := sc.TakeLastError(); got != tt.lastError {
				t.Fatalf("last error = %q, want %q", got, tt.lastError)
			}
		})
	}
}

func TestBuiltins_SwitchControls(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	sc, _ := f.scripts.Get(f.main)

	call := func(fn string, args ...value.Value) []value.Value {
		t.Helper()
		out, err := f.d.Invoke(ctx, fn, f.main, stack.FromValues(args...))
		if err != nil {
			t.Fatalf("%s: %v", fn, err)
		}
		return out.Values()
	}

	if got := call(fnSetThreadAutoSwitch, value.Bool(false)); !value.Equal(got[0], value.Number(1)) {
		t.Fatalf("level after forbid = %v", got)
	}
	if got := call(fnGetThreadAutoSwitch); !value.Equal(got[0], value.Bool(false)) {
		t.Fatalf("automatic switch allowed = %v", got)
	}
	if got := call(fnSetThreadAutoSwitch, value.Bool(true)); !value.Equal(got[0], value.Number(0)) {
		t.Fatalf("level after allow = %v", got)
	}

	call(fnSetThreadSwitchAllowed, value.Bool(false))
	if sc.ForbidLevel(script.ManualSwitch) != 1 || sc.ForbidLevel(script.AutomaticSwitch) != 1 {
		t.Fatal("setThreadSwitchAllowed(false) should forbid both features")
	}
	if got := call(fnGetThreadSwitchAllowed); !value.Equal(got[0], value.Bool(false)) {
		t.Fatalf("switch allowed = %v", got)
	}
	call(fnSetThreadSwitchAllowed, value.Bool(true))
	if !sc.SwitchAllowed(script.ManualSwitch) || !sc.SwitchAllowed(script.AutomaticSwitch) {
		t.Fatal("setThreadSwitchAllowed(true) should clear both levels")
	}

	if _, err := f.d.Invoke(ctx, fnSetThreadAutoSwitch, f.main, stack.FromValues(value.String("yes"))); !errors.IsKind(err, errors.KindArgument) {
		t.Fatalf("bad argument = %v", err)
	}

	if got := call(fnSwitchThread); !value.Equal(got[0], value.Bool(false)) {
		t.Fatalf("switchThread on main = %v", got)
	}

	sc.SetLastError("late")
	if got := call(fnGetLastError); !value.Equal(got[0], value.String("late")) {
		t.Fatalf("getLastError = %v", got)
	}
	if got := call(fnGetLastError); !value.Equal(got[0], value.Nil{}) {
		t.Fatalf("second getLastError = %v, want nil", got)
	}
}
