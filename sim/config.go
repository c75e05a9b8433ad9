package sim

import (
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/simscript/dispatch"
	"github.com/wippyai/simscript/hook"
	"github.com/wippyai/simscript/luavm"
	"github.com/wippyai/simscript/plugin"
	"github.com/wippyai/simscript/scheduler"
	"github.com/wippyai/simscript/script"
	"github.com/wippyai/simscript/stack"
)

// ErrorHandler receives errors raised by script callbacks and thread
// bodies. callback names the script function that failed.
type ErrorHandler func(sc *script.Context, callback string, err error)

// Config configures a Session. The zero Config is usable.
type Config struct {
	// Logger is installed in every package. Nil keeps the current loggers.
	Logger *zap.Logger

	// Clock defaults to the wall clock.
	Clock scheduler.Clock

	// ConfirmAbort is asked whether a non-simulation script that overran
	// its execution budget should be aborted. Nil never aborts.
	ConfirmAbort scheduler.AbortConfirmer

	// OnScriptError is called for every failed callback. Errors are
	// logged either way.
	OnScriptError ErrorHandler

	// Aliases replaces the built-in legacy name table.
	Aliases *dispatch.AliasTable

	// Output receives script print output. Nil prints to stdout.
	Output io.Writer

	// Hook controls tick spacing.
	Hook hook.Config

	// Plugin configures the wasm plugin host.
	Plugin plugin.Config

	// StopDebounce is the delay between RequestStop and its activation.
	// 0 means scheduler.DefaultStopDebounce.
	StopDebounce time.Duration

	// AutoYieldDelay is used for scripts that do not set their own.
	AutoYieldDelay time.Duration

	// ExecutionBudget is used for non-simulation scripts that do not set
	// their own. 0 disables the watchdog.
	ExecutionBudget time.Duration

	// LegacyAliases lets scripts use deprecated names.
	LegacyAliases bool

	// LenientInvariants logs scheduler invariant violations instead of
	// panicking.
	LenientInvariants bool
}

func (c Config) schedulerConfig() scheduler.Config {
	return scheduler.Config{
		Clock:             c.Clock,
		ConfirmAbort:      c.ConfirmAbort,
		StopDebounce:      c.StopDebounce,
		LenientInvariants: c.LenientInvariants,
	}
}

// setLoggers installs l in every package.
func setLoggers(l *zap.Logger) {
	script.SetLogger(l)
	stack.SetLogger(l)
	scheduler.SetLogger(l)
	hook.SetLogger(l)
	dispatch.SetLogger(l)
	plugin.SetLogger(l)
	luavm.SetLogger(l)
	SetLogger(l)
}
