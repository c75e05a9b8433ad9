package scheduler

import (
	"time"

	"github.com/wippyai/simscript/script"
)

// DefaultStopDebounce is the delay between a stop request and its
// activation.
const DefaultStopDebounce = time.Second

// Clock supplies the current time. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// AbortConfirmer is asked once per run whether a script that overran its
// execution budget should be aborted.
type AbortConfirmer func(sc *script.Context, elapsed time.Duration) bool

// Config configures a Scheduler.
type Config struct {
	// Clock defaults to the wall clock.
	Clock Clock

	// ConfirmAbort is consulted when a non-simulation script exceeds its
	// execution budget on the main thread. Nil never aborts.
	ConfirmAbort AbortConfirmer

	// StopDebounce is the activation delay of stop requests.
	// 0 means DefaultStopDebounce.
	StopDebounce time.Duration

	// LenientInvariants logs invariant violations instead of panicking.
	LenientInvariants bool
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
	if c.StopDebounce <= 0 {
		c.StopDebounce = DefaultStopDebounce
	}
	return c
}
