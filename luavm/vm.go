package luavm

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/simscript/dispatch"
	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/hook"
	"github.com/wippyai/simscript/script"
	"github.com/wippyai/simscript/stack"
	"github.com/wippyai/simscript/value"
)

// Config configures a VM.
type Config struct {
	// Hook controls tick spacing.
	Hook hook.Config

	// Output receives print output. Nil keeps the interpreter's print.
	Output io.Writer

	// CallStackSize bounds Lua call depth. 0 uses the interpreter default.
	CallStackSize int

	// SkipOpenLibs leaves the standard Lua libraries out.
	SkipOpenLibs bool
}

// raised is the error behind the last Lua error the VM threw, so that the
// original error can be recovered once the call has unwound.
type raised struct {
	err error
	msg string
}

// VM is the interpreter of one script.
type VM struct {
	L      *lua.LState
	d      *dispatch.Dispatcher
	sc     *script.Context
	hook   *hook.Hook
	tick   *tickContext
	raised raised
	closed bool
}

// New creates the interpreter for sc, installs the dispatcher's functions
// and variables and attaches the VM as the script's runner. Functions
// registered after New are not visible to the script.
func New(d *dispatch.Dispatcher, sched hook.Scheduler, sc *script.Context, cfg Config) (*VM, error) {
	if d == nil || sched == nil || sc == nil {
		return nil, errors.InvalidInput(errors.PhaseHost, "dispatcher, scheduler and script are required")
	}

	L := lua.NewState(lua.Options{
		CallStackSize: cfg.CallStackSize,
		SkipOpenLibs:  cfg.SkipOpenLibs,
	})
	vm := &VM{
		L:    L,
		d:    d,
		sc:   sc,
		hook: hook.New(sc, sched, cfg.Hook),
	}
	if err := vm.install(); err != nil {
		L.Close()
		return nil, err
	}
	if cfg.Output != nil {
		L.SetGlobal("print", L.NewFunction(printTo(cfg.Output)))
	}

	vm.tick = newTickContext(vm)
	L.SetContext(vm.tick)
	vm.hookCoroutines()
	d.AttachRunner(sc.Handle(), vm)

	Logger().Debug("vm created",
		zap.String("script", sc.Label()),
		zap.Int("functions", len(d.Functions())))
	return vm, nil
}

// Script returns the script the VM runs.
func (vm *VM) Script() *script.Context {
	return vm.sc
}

// Hook returns the VM's debug hook.
func (vm *VM) Hook() *hook.Hook {
	return vm.hook
}

// install publishes bound functions and variables as globals.
func (vm *VM) install() error {
	for _, b := range vm.d.Functions() {
		if err := vm.setPath(b.Name, vm.L.NewFunction(vm.bind(b.Name))); err != nil {
			return err
		}
	}
	for _, b := range vm.d.Variables() {
		v, ok := vm.d.Variable(b.Name)
		if !ok {
			continue
		}
		lv, err := stack.ToLValue(vm.L, v)
		if err != nil {
			return errors.Registration(errors.PhaseHost, b.Name, err)
		}
		if err := vm.setPath(b.Name, lv); err != nil {
			return err
		}
	}
	return nil
}

// setPath stores lv under a dotted global name, creating intermediate
// tables.
func (vm *VM) setPath(name string, lv lua.LValue) error {
	parts := strings.Split(name, ".")
	for _, p := range parts {
		if p == "" {
			return errors.Registration(errors.PhaseHost, name, errors.InvalidInput(errors.PhaseHost, "empty name segment"))
		}
	}

	tb := vm.L.G.Global
	for i, p := range parts[:len(parts)-1] {
		next := tb.RawGetString(p)
		switch nt := next.(type) {
		case *lua.LTable:
			tb = nt
		case *lua.LNilType:
			nt2 := vm.L.NewTable()
			tb.RawSetString(p, nt2)
			tb = nt2
		default:
			return errors.Registration(errors.PhaseHost, name,
				errors.InvalidInput(errors.PhaseHost, strings.Join(parts[:i+1], ".")+" is not a table"))
		}
	}
	last := parts[len(parts)-1]
	if _, isTable := tb.RawGetString(last).(*lua.LTable); isTable {
		return errors.Registration(errors.PhaseHost, name, errors.InvalidInput(errors.PhaseHost, "name is a table"))
	}
	tb.RawSetString(last, lv)
	return nil
}

// lookup finds a function by dotted global name.
func (vm *VM) lookup(name string) (*lua.LFunction, bool) {
	var cur lua.LValue = vm.L.G.Global
	for _, p := range strings.Split(name, ".") {
		tb, ok := cur.(*lua.LTable)
		if !ok {
			return nil, false
		}
		cur = tb.RawGetString(p)
	}
	fn, ok := cur.(*lua.LFunction)
	return fn, ok
}

// HasFunction reports whether the script defines a function called name.
func (vm *VM) HasFunction(name string) bool {
	_, ok := vm.lookup(name)
	return ok
}

// Global reads a global value by dotted name.
func (vm *VM) Global(name string) (value.Value, error) {
	var cur lua.LValue = vm.L.G.Global
	for _, p := range strings.Split(name, ".") {
		tb, ok := cur.(*lua.LTable)
		if !ok {
			return value.Nil{}, nil
		}
		cur = tb.RawGetString(p)
	}
	return stack.ReadValue(cur)
}

// Load compiles a chunk and runs it.
func (vm *VM) Load(ctx context.Context, chunk, source string) error {
	if vm.closed {
		return errors.ScriptNotInitialized(vm.sc.Label())
	}
	fn, err := vm.L.Load(strings.NewReader(source), chunk)
	if err != nil {
		return errors.Load(fmt.Sprintf("compile %s", chunk), err)
	}
	_, err = vm.call(ctx, chunk, fn, nil)
	return err
}

// CallFunction calls the script function name with args and returns its
// results. Calling a name the script does not define fails with a lookup
// error.
func (vm *VM) CallFunction(ctx context.Context, name string, args *stack.Stack) (*stack.Stack, error) {
	if vm.closed {
		return nil, errors.ScriptNotInitialized(vm.sc.Label())
	}
	fn, ok := vm.lookup(name)
	if !ok {
		return nil, errors.FunctionNotFound(name)
	}
	if err := vm.hook.OnCall(name, "script"); err != nil {
		return nil, err
	}
	out, err := vm.call(ctx, name, fn, args)
	if err != nil {
		return nil, err
	}
	if err := vm.hook.OnReturn(name, "script"); err != nil {
		return nil, err
	}
	return out, nil
}

// call runs fn in protected mode. The interpreter stack is restored even
// when the calling thread is terminated in the middle of the call.
func (vm *VM) call(ctx context.Context, name string, fn *lua.LFunction, args *stack.Stack) (*stack.Stack, error) {
	L := vm.L
	top := L.GetTop()
	defer L.SetTop(top)
	defer vm.tick.enter(ctx)()
	vm.raised = raised{}

	var in []lua.LValue
	if args != nil {
		var err error
		if in, err = args.LValues(L); err != nil {
			return nil, errors.Argument(name, dispatch.Message(err))
		}
	}
	L.Push(fn)
	for _, lv := range in {
		L.Push(lv)
	}
	if err := L.PCall(len(in), lua.MultRet, nil); err != nil {
		return nil, vm.callError(name, err)
	}
	return stack.FromInterpreter(L, top+1)
}

// callError maps an interpreter error back to the error the VM raised, if
// any. Scheduler invariant violations panic again.
func (vm *VM) callError(name string, err error) error {
	var apiErr *lua.ApiError
	msg := err.Error()
	if stderrors.As(err, &apiErr) {
		msg = apiErr.Object.String()
		if apiErr.StackTrace != "" {
			vm.sc.SetLastTraceback(msg + "\n" + apiErr.StackTrace)
		}
	}

	r := vm.raised
	vm.raised = raised{}
	if r.err != nil && strings.HasSuffix(msg, r.msg) {
		switch errors.KindOf(r.err) {
		case errors.KindFatal:
			panic(r.err)
		case errors.KindTerminated, errors.KindAborted:
			return r.err
		}
	}
	Logger().Debug("script call failed", zap.String("script", vm.sc.Label()), zap.String("fn", name), zap.String("error", msg))
	return errors.CallFailed(name, msg)
}

// Close detaches the runner and releases the interpreter.
func (vm *VM) Close() {
	if vm.closed {
		return
	}
	vm.closed = true
	vm.d.DetachRunner(vm.sc.Handle())
	vm.L.Close()
}

func printTo(w io.Writer) lua.LGFunction {
	return func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, top)
		for i := 1; i <= top; i++ {
			parts[i-1] = L.ToStringMeta(L.Get(i)).String()
		}
		fmt.Fprintln(w, strings.Join(parts, "\t"))
		return 0
	}
}
