package sim

import (
	"context"

	"github.com/wippyai/simscript/dispatch"
	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/script"
	"github.com/wippyai/simscript/value"
)

const (
	fnGetSimulationTime = "sim.getSimulationTime"
	fnGetScriptHandle   = "sim.getScriptHandle"
	fnIsHandle          = "sim.isHandle"
)

func (s *Session) registerBuiltins() error {
	funcs := []struct {
		name string
		h    dispatch.Handler
	}{
		{fnGetSimulationTime, s.getSimulationTime},
		{fnGetScriptHandle, s.getScriptHandle},
		{fnIsHandle, s.isHandle},
	}
	for _, f := range funcs {
		if err := s.disp.RegisterFunction(f.name, f.h); err != nil {
			return err
		}
	}
	return nil
}

// getSimulationTime returns the world time in seconds.
func (s *Session) getSimulationTime(_ context.Context, call *dispatch.Call) error {
	call.Stack.Clear()
	call.Stack.PushNumber(s.world.SimulationTime().Seconds())
	return nil
}

// getScriptHandle returns the caller's handle, or with a kind name and a
// script name, the handle of that script.
func (s *Session) getScriptHandle(_ context.Context, call *dispatch.Call) error {
	args := call.Stack.Values()
	call.Stack.Clear()
	if len(args) == 0 {
		call.Stack.PushNumber(float64(call.Script.Handle()))
		return nil
	}
	if len(args) != 2 {
		return errors.Argument(call.Name, "expected no arguments, or a script kind and a name")
	}
	kindName, ok1 := args[0].(value.String)
	name, ok2 := args[1].(value.String)
	if !ok1 || !ok2 {
		return errors.Argument(call.Name, "script kind and name must be strings")
	}
	kind, err := script.ParseKind(string(kindName))
	if err != nil {
		return errors.Argument(call.Name, err.Error())
	}
	sc, ok := s.scripts.ByName(string(name), kind)
	if !ok {
		return errors.ScriptNotFound(kind.String() + " " + string(name))
	}
	call.Stack.PushNumber(float64(sc.Handle()))
	return nil
}

// isHandle reports whether an object id exists in the world.
func (s *Session) isHandle(_ context.Context, call *dispatch.Call) error {
	id, err := call.Stack.PopInt()
	if err != nil {
		return errors.Argument(call.Name, "expected an object handle")
	}
	call.Stack.Clear()
	call.Stack.PushBool(s.world.ObjectExists(script.ObjectID(id)))
	return nil
}
