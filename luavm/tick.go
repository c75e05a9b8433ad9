package luavm

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/scheduler"
)

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// tickContext is installed as the state's context. The interpreter calls
// Done before every instruction; every few hundred calls Done runs the
// hook's tick. When the tick says abort, Done reports a closed channel and
// the interpreter raises Err.
type tickContext struct {
	context.Context
	vm   *VM
	err  error
	left int
}

func newTickContext(vm *VM) *tickContext {
	return &tickContext{
		Context: context.Background(),
		vm:      vm,
		left:    vm.hook.NextInterval(),
	}
}

func (c *tickContext) Done() <-chan struct{} {
	if c.err != nil {
		return closedDone
	}
	c.left--
	if c.left > 0 {
		return c.Context.Done()
	}

	d, next, err := c.tick()
	c.left = next
	if err == nil && d == scheduler.DecisionAbort {
		err = errors.Aborted(c.vm.sc.Label())
	}
	if err != nil {
		c.err = err
		c.vm.raised = raised{msg: err.Error(), err: err}
		return closedDone
	}
	return c.Context.Done()
}

// tick runs the hook. A scheduler invariant panic is turned into an error
// here because the interpreter recovers every panic raised below it; the
// VM panics again once the call has unwound.
func (c *tickContext) tick() (d scheduler.Decision, next int, err error) {
	defer func() {
		if r := recover(); r != nil {
			fe, ok := r.(*errors.Error)
			if !ok || fe.Kind != errors.KindFatal {
				panic(r)
			}
			d, next, err = scheduler.DecisionAbort, c.vm.hook.NextInterval(), fe
		}
	}()
	return c.vm.hook.OnTick()
}

func (c *tickContext) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.Context.Err()
}

// enter runs the tick context under parent for one host call and returns
// the function restoring the previous state.
func (c *tickContext) enter(parent context.Context) func() {
	if parent == nil {
		parent = context.Background()
	}
	prevCtx, prevErr := c.Context, c.err
	c.Context, c.err = parent, nil
	return func() {
		c.Context, c.err = prevCtx, prevErr
	}
}

// hookCoroutines makes coroutines share the tick context. The interpreter
// would otherwise run a new coroutine under a plain child context that
// never ticks, so a loop inside it could neither switch nor be stopped.
func (vm *VM) hookCoroutines() {
	co, ok := vm.L.GetGlobal(lua.CoroutineLibName).(*lua.LTable)
	if !ok {
		return
	}
	create, okCreate := co.RawGetString("create").(*lua.LFunction)
	wrap, okWrap := co.RawGetString("wrap").(*lua.LFunction)
	if !okCreate || !okWrap || !create.IsG || !wrap.IsG {
		return
	}

	co.RawSetString("create", vm.L.NewFunction(func(L *lua.LState) int {
		n := vm.withoutContext(L, create.GFunction)
		if th, ok := L.Get(-1).(*lua.LState); ok {
			th.SetContext(vm.tick)
		}
		return n
	}))
	co.RawSetString("wrap", vm.L.NewFunction(func(L *lua.LState) int {
		n := vm.withoutContext(L, wrap.GFunction)
		if fn, ok := L.Get(-1).(*lua.LFunction); ok && len(fn.Upvalues) > 0 {
			if th, ok := fn.Upvalues[0].Value().(*lua.LState); ok {
				th.SetContext(vm.tick)
			}
		}
		return n
	}))
}

// withoutContext runs fn with L's context removed, so that threads it
// creates do not derive a cancel context from the tick context.
func (vm *VM) withoutContext(L *lua.LState, fn lua.LGFunction) int {
	if prev := L.RemoveContext(); prev != nil {
		defer L.SetContext(prev)
	}
	return fn(L)
}
