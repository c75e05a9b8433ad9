package plugin

import (
	"context"
	stderrors "errors"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/simscript/dispatch"
	"github.com/wippyai/simscript/errors"
)

// Plugin is a loaded plugin instance.
type Plugin struct {
	host      *Host
	mod       api.Module
	name      string
	functions []string
}

// Name returns the plugin name, which prefixes its functions.
func (p *Plugin) Name() string {
	return p.name
}

// Functions returns the qualified names of the plugin's entry points.
func (p *Plugin) Functions() []string {
	return append([]string(nil), p.functions...)
}

func (p *Plugin) entry(fn api.Function, qualified string) dispatch.Handler {
	return func(ctx context.Context, call *dispatch.Call) error {
		id := call.Stack.ID()
		p.host.takeError(id)
		stacks := p.host.disp.Stacks()
		stacks.Pin(id)
		defer stacks.Unpin(id)

		_, err := fn.Call(ctx,
			api.EncodeI32(int32(call.Record.Object)),
			api.EncodeU32(uint32(call.Record.Script)),
			api.EncodeU32(uint32(id)),
			api.EncodeU32(uint32(call.Record.ID)))
		if err != nil {
			return errors.New(errors.PhaseHost, errors.KindCallFailed).
				Function(qualified).
				Detail("plugin trapped").
				Cause(err).
				Build()
		}
		if err := p.host.takeError(id); err != nil {
			return abiCallError(qualified, err)
		}
		return nil
	}
}

// abiCallError classifies a failed host call made by a plugin. A stack read
// that does not match the caller's arguments is the caller's fault; bad
// memory ranges and unknown ids are the plugin's.
func abiCallError(fn string, err error) error {
	kind, detail := errors.KindCallFailed, "plugin misused the host interface"
	var e *errors.Error
	if stderrors.As(err, &e) && e.Phase == errors.PhaseDecode {
		kind, detail = errors.KindArgument, "arguments do not match"
	}
	return errors.New(errors.PhaseHost, kind).
		Function(fn).
		Detail("%s", detail).
		Cause(err).
		Build()
}
