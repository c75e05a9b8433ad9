package dispatch

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/script"
	"github.com/wippyai/simscript/stack"
	"github.com/wippyai/simscript/value"
)

const (
	fnCallScriptFunction     = "sim.callScriptFunction"
	fnSetThreadSwitchAllowed = "sim.setThreadSwitchAllowed"
	fnGetThreadSwitchAllowed = "sim.getThreadSwitchAllowed"
	fnSetThreadAutoSwitch    = "sim.setThreadAutomaticSwitch"
	fnGetThreadAutoSwitch    = "sim.getThreadAutomaticSwitch"
	fnSwitchThread           = "sim.switchThread"
	fnGetLastError           = "sim.getLastError"
)

// RegisterBuiltins binds the scheduling and cross-script functions every
// session exposes, and the script kind constants.
func (d *Dispatcher) RegisterBuiltins() error {
	funcs := []struct {
		name string
		h    Handler
	}{
		{fnCallScriptFunction, d.callScriptFunction},
		{fnSetThreadSwitchAllowed, setThreadSwitchAllowed},
		{fnGetThreadSwitchAllowed, getThreadSwitchAllowed},
		{fnSetThreadAutoSwitch, setThreadAutomaticSwitch},
		{fnGetThreadAutoSwitch, getThreadAutomaticSwitch},
		{fnSwitchThread, d.switchThread},
		{fnGetLastError, getLastError},
	}
	for _, f := range funcs {
		if err := d.RegisterFunction(f.name, f.h); err != nil {
			return err
		}
	}

	vars := []struct {
		name string
		v    value.Value
	}{
		{"sim.handle_self", value.Number(-1)},
		{"sim.scripttype_main", value.Number(script.KindMain)},
		{"sim.scripttype_child", value.Number(script.KindChild)},
		{"sim.scripttype_customization", value.Number(script.KindCustomization)},
		{"sim.scripttype_addon", value.Number(script.KindAddOn)},
		{"sim.scripttype_addonfunction", value.Number(script.KindAddOnFunction)},
		{"sim.scripttype_sandbox", value.Number(script.KindSandbox)},
	}
	for _, v := range vars {
		if err := d.RegisterVariable(v.name, v.v); err != nil {
			return err
		}
	}
	return nil
}

// callScriptFunction implements sim.callScriptFunction("fn@name", target, ...).
// target is a script handle, or a kind name that together with name
// selects the script.
func (d *Dispatcher) callScriptFunction(ctx context.Context, call *Call) error {
	args := call.Stack.Values()
	if len(args) < 2 {
		return errors.Argument(fnCallScriptFunction, "expected a function name and a target script")
	}
	name, ok := args[0].(value.String)
	if !ok {
		return errors.Argument(fnCallScriptFunction, "function name must be a string")
	}
	fn, descriptor, _ := strings.Cut(string(name), "@")
	if fn == "" {
		return errors.Argument(fnCallScriptFunction, "empty function name")
	}

	callee, err := d.targetScript(args[1], descriptor, call.Script)
	if err != nil {
		return err
	}
	runner := d.runner(callee.Handle())
	if runner == nil || !callee.Initialized() {
		return errors.ScriptNotInitialized(callee.Label())
	}

	target := script.MainThread
	if tid, bound := callee.Affinity(); bound {
		target = tid
	}
	in := stack.FromValues(args[2:]...)
	var out *stack.Stack
	err = d.sched.CallOnThread(target, func() error {
		var err error
		out, err = runner.CallFunction(ctx, fn, in)
		return err
	})
	if err != nil {
		return err
	}

	Logger().Debug("cross-script call",
		zap.String("caller", call.Script.Label()),
		zap.String("callee", callee.Label()),
		zap.String("fn", fn),
		zap.Uint32("thread", uint32(target)))
	if out == nil {
		call.Stack.Clear()
		return nil
	}
	call.Stack.Replace(out.Values())
	return nil
}

func (d *Dispatcher) targetScript(target value.Value, descriptor string, caller *script.Context) (*script.Context, error) {
	switch t := target.(type) {
	case value.Number:
		n := float64(t)
		if n == -1 {
			return caller, nil
		}
		if n != math.Trunc(n) || n < 1 || n > math.MaxUint32 {
			return nil, errors.Argument(fnCallScriptFunction, "invalid script handle")
		}
		return d.scripts.Lookup(script.Handle(n), script.All)
	case value.String:
		kind, err := script.ParseKind(string(t))
		if err != nil {
			return nil, errors.Argument(fnCallScriptFunction, err.Error())
		}
		if kind == script.KindMain {
			var main *script.Context
			d.scripts.Each(script.All, func(c *script.Context) bool {
				if c.Kind() == script.KindMain {
					main = c
					return false
				}
				return true
			})
			if main == nil {
				return nil, errors.ScriptNotFound("main")
			}
			return main, nil
		}
		if descriptor == "" {
			return nil, errors.Argument(fnCallScriptFunction, "a script name is required after '@'")
		}
		sc, ok := d.scripts.ByName(descriptor, kind)
		if !ok {
			return nil, errors.ScriptNotFound(kind.String() + " " + descriptor)
		}
		return sc, nil
	default:
		return nil, errors.Argument(fnCallScriptFunction, "target must be a script handle or kind")
	}
}

func boolArg(call *Call) (bool, error) {
	v, err := call.Stack.Pop()
	if err != nil {
		return false, errors.Argument(call.Name, "missing boolean argument")
	}
	switch b := v.(type) {
	case value.Bool:
		return bool(b), nil
	case value.Number:
		return b != 0, nil
	}
	return false, errors.Argument(call.Name, "expected a boolean, got "+value.TypeOf(v).String())
}

// setThreadSwitchAllowed forbids or allows both automatic and manual
// switching and returns the automatic forbid level.
func setThreadSwitchAllowed(_ context.Context, call *Call) error {
	allowed, err := boolArg(call)
	if err != nil {
		return err
	}
	call.Script.SetSwitchAllowed(script.ManualSwitch, allowed)
	level := call.Script.SetSwitchAllowed(script.AutomaticSwitch, allowed)
	call.Stack.Clear()
	call.Stack.PushNumber(float64(level))
	return nil
}

func getThreadSwitchAllowed(_ context.Context, call *Call) error {
	sc := call.Script
	call.Stack.Clear()
	call.Stack.PushBool(sc.SwitchAllowed(script.AutomaticSwitch) && sc.SwitchAllowed(script.ManualSwitch))
	return nil
}

// setThreadAutomaticSwitch forbids or allows automatic switching only and
// returns the new forbid level.
func setThreadAutomaticSwitch(_ context.Context, call *Call) error {
	allowed, err := boolArg(call)
	if err != nil {
		return err
	}
	level := call.Script.SetSwitchAllowed(script.AutomaticSwitch, allowed)
	call.Stack.Clear()
	call.Stack.PushNumber(float64(level))
	return nil
}

func getThreadAutomaticSwitch(_ context.Context, call *Call) error {
	call.Stack.Clear()
	call.Stack.PushBool(call.Script.SwitchAllowed(script.AutomaticSwitch))
	return nil
}

// switchThread yields the calling worker and returns whether it switched.
func (d *Dispatcher) switchThread(_ context.Context, call *Call) error {
	switched, err := d.sched.Yield(call.Script)
	if err != nil {
		return err
	}
	call.Stack.Clear()
	call.Stack.PushBool(switched)
	return nil
}

// getLastError returns and clears the caller's last error, or nil.
func getLastError(_ context.Context, call *Call) error {
	msg := call.Script.TakeLastError()
	call.Stack.Clear()
	if msg == "" {
		call.Stack.PushNil()
		return nil
	}
	call.Stack.PushString(msg)
	return nil
}
