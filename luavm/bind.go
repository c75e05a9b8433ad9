package luavm

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/simscript/dispatch"
	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/stack"
)

// bind returns the Lua function that forwards a call to the dispatcher.
func (vm *VM) bind(name string) lua.LGFunction {
	return func(L *lua.LState) int {
		if err := vm.hook.OnCall(name, "native"); err != nil {
			vm.raise(L, name, err)
			return 0
		}

		var out *stack.Stack
		args, err := stack.FromInterpreter(L, 1)
		if err != nil {
			err = errors.Argument(name, dispatch.Message(err))
		} else {
			out, err = vm.invoke(name, args)
		}
		if herr := vm.hook.OnReturn(name, "native"); herr != nil && err == nil {
			err = herr
		}

		switch dispatch.Report(vm.sc, name, err) {
		case dispatch.OutcomeRaise:
			vm.raise(L, name, err)
			return 0
		case dispatch.OutcomeCapture:
			return 0
		}
		if out == nil {
			return 0
		}

		lvs, err := out.LValues(L)
		if err != nil {
			vm.raise(L, name, errors.CallFailed(name, dispatch.Message(err)))
			return 0
		}
		for _, lv := range lvs {
			L.Push(lv)
		}
		return len(lvs)
	}
}

// invoke runs the dispatcher call. Invariant panics escaping it are kept
// as the raised error so that they survive the interpreter's recover.
func (vm *VM) invoke(name string, args *stack.Stack) (out *stack.Stack, err error) {
	defer func() {
		if r := recover(); r != nil {
			fe, ok := r.(*errors.Error)
			if !ok || fe.Kind != errors.KindFatal {
				panic(r)
			}
			out, err = nil, fe
		}
	}()
	return vm.d.Invoke(vm.tick.Context, name, vm.sc.Handle(), args)
}

// raise throws err as a Lua error in the calling function.
func (vm *VM) raise(L *lua.LState, name string, err error) {
	msg := fmt.Sprintf("%d: %s (in function '%s')", currentLine(L), dispatch.Message(err), name)
	vm.raised = raised{msg: msg, err: err}
	L.Error(lua.LString(msg), 0)
}

// currentLine is the line of the Lua code calling the running Go function.
func currentLine(L *lua.LState) int {
	dbg, ok := L.GetStack(1)
	if !ok {
		return 0
	}
	if _, err := L.GetInfo("l", dbg, lua.LNil); err != nil || dbg.CurrentLine < 0 {
		return 0
	}
	return dbg.CurrentLine
}
