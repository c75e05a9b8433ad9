package dispatch

import (
	"context"
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/script"
	"github.com/wippyai/simscript/stack"
)

// Call is the context block passed to a handler.
type Call struct {
	Script     *script.Context
	Record     *script.CallbackRecord
	Stack      *stack.Stack
	Dispatcher *Dispatcher
	Name       string
}

// Pending is a call whose handler set the wait flag.
type Pending struct {
	call       *Call
	registered bool
}

// Record returns the pending call's callback record.
func (p *Pending) Record() *script.CallbackRecord {
	return p.call.Record
}

// Done reports whether the wait flag has been cleared.
func (p *Pending) Done() bool {
	return !p.call.Record.Waiting()
}

// Dispatch runs the handler bound to name for script caller. Results
// replace the contents of st, which is returned. When the handler leaves
// the wait flag set on a worker thread, Dispatch returns errors.ErrYield
// and a Pending to pass to Resume.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, caller script.Handle, st *stack.Stack) (*stack.Stack, *Pending, error) {
	sc, err := d.scripts.Lookup(caller, script.All)
	if err != nil {
		return nil, nil, err
	}
	e, err := d.resolve(name)
	if err != nil {
		return nil, nil, err
	}

	if st == nil {
		st = stack.New()
	}
	registered := st.ID() == 0
	if _, err := d.stacks.Register(st); err != nil {
		return nil, nil, err
	}
	rec, err := d.scripts.NewRecord(sc, uint32(st.ID()), e.name)
	if err != nil {
		d.releaseStack(st, registered)
		return nil, nil, err
	}

	p := &Pending{
		call:       &Call{Script: sc, Record: rec, Stack: st, Dispatcher: d, Name: e.name},
		registered: registered,
	}
	err = d.run(ctx, e, p.call)
	if err == nil && rec.Waiting() {
		if !d.sched.OnMain() {
			return nil, p, errors.ErrYield
		}
		Logger().Debug("wait flag ignored on main thread", zap.String("fn", e.name))
		rec.SetWait(0)
	}
	out, err := d.complete(p, err)
	return out, nil, err
}

// Resume finishes a pending call. It returns errors.ErrYield while the
// wait flag is still set.
func (d *Dispatcher) Resume(_ context.Context, p *Pending) (*stack.Stack, error) {
	if !p.Done() {
		return nil, errors.ErrYield
	}
	return d.complete(p, nil)
}

// Invoke is Dispatch followed, if needed, by yielding the calling worker
// until the wait flag clears and then Resume. If the worker is terminated
// while waiting, the callback record moves to the deferred list because
// the callee may still write into it.
func (d *Dispatcher) Invoke(ctx context.Context, name string, caller script.Handle, st *stack.Stack) (*stack.Stack, error) {
	out, p, err := d.Dispatch(ctx, name, caller, st)
	if p == nil {
		return out, err
	}

	settled := false
	defer func() {
		if !settled {
			d.scripts.DeferRecord(p.call.Record)
			Logger().Debug("waiting call abandoned", zap.String("fn", p.call.Name))
		}
	}()

	err = d.sched.YieldUntil(func() bool {
		return p.Done() || ctx.Err() != nil
	})
	if err == nil && !p.Done() {
		err = errors.Wrap(errors.PhaseDispatch, errors.KindCallFailed, ctx.Err(), "wait for "+p.call.Name)
	}
	if err != nil {
		d.scripts.DeferRecord(p.call.Record)
		settled = true
		return nil, err
	}
	settled = true
	return d.Resume(ctx, p)
}

// run calls the handler, turning panics into call errors. Invariant
// violations keep panicking.
func (d *Dispatcher) run(ctx context.Context, e *entry, call *Call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if fe, ok := r.(*errors.Error); ok && fe.Kind == errors.KindFatal {
				panic(r)
			}
			Logger().Error("handler panicked", zap.String("fn", e.name), zap.Any("panic", r))
			err = errors.New(errors.PhaseDispatch, errors.KindCallFailed).
				Function(e.name).
				Detail("panic: %v", r).
				Build()
		}
	}()
	return e.handler(ctx, call)
}

// complete releases the call's record and stack registration and folds the
// record's error message into the result.
func (d *Dispatcher) complete(p *Pending, err error) (*stack.Stack, error) {
	call := p.call
	msg := call.Record.Error()
	d.scripts.FinishRecord(call.Record)
	d.releaseStack(call.Stack, p.registered)

	if err != nil {
		var e *errors.Error
		if !stderrors.As(err, &e) {
			err = errors.CallFailed(call.Name, err.Error())
		}
		return nil, err
	}
	if msg != "" {
		return nil, errors.CallFailed(call.Name, msg)
	}
	if call.Stack.OpenTables() > 0 {
		return nil, errors.New(errors.PhaseDispatch, errors.KindCallFailed).
			Function(call.Name).
			Detail("handler left a table open").
			Build()
	}
	return call.Stack, nil
}

func (d *Dispatcher) releaseStack(st *stack.Stack, registered bool) {
	if !registered {
		return
	}
	if err := d.stacks.Release(st.ID()); err != nil {
		Logger().Warn("stack still in use after call", zap.Uint32("stack", uint32(st.ID())), zap.Error(err))
	}
}
