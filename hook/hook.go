// Package hook connects an interpreter's debug hook to the scheduler.
//
// The interpreter reports every call and return and, every few hundred
// instructions, a count event. Calls and returns are traced into the
// script's trace buffer when its debug level asks for it and are
// cancellation points. Count events run the scheduler's full yield
// decision and re-arm at a jittered interval so that threads do not switch
// in lockstep.
package hook

import (
	"math/rand"

	"go.uber.org/zap"

	"github.com/wippyai/simscript/scheduler"
	"github.com/wippyai/simscript/script"
)

const (
	DefaultBaseInterval = 100
	DefaultJitter       = 20
)

// Config controls tick spacing. The zero Config uses DefaultBaseInterval
// and DefaultJitter.
type Config struct {
	// BaseInterval is the minimum number of instructions between ticks.
	BaseInterval int
	// Jitter adds rand[0, Jitter) instructions to each interval.
	Jitter int
}

func (c Config) withDefaults() Config {
	if c.BaseInterval <= 0 {
		c.BaseInterval = DefaultBaseInterval
		if c.Jitter == 0 {
			c.Jitter = DefaultJitter
		}
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// Scheduler is the part of the scheduler the hook drives.
type Scheduler interface {
	Checkpoint() error
	Tick(sc *script.Context) (scheduler.Decision, error)
}

// Hook is the debug hook state of one script.
type Hook struct {
	sched Scheduler
	sc    *script.Context
	rng   *rand.Rand
	cfg   Config
}

// New creates the hook for sc. The jitter sequence is seeded from the
// script's random seed, so runs are reproducible.
func New(sc *script.Context, sched Scheduler, cfg Config) *Hook {
	return &Hook{
		sched: sched,
		sc:    sc,
		rng:   rand.New(rand.NewSource(sc.RandomSeed())),
		cfg:   cfg.withDefaults(),
	}
}

// Script returns the script the hook belongs to.
func (h *Hook) Script() *script.Context {
	return h.sc
}

// OnCall records entry into a function and checks for cancellation.
func (h *Hook) OnCall(name, kind string) error {
	if h.sc.DebugLevel().Traces() {
		h.record(name, kind, script.DirectionCall)
	}
	return h.sched.Checkpoint()
}

// OnReturn records a return. Returns are only traced at DebugAll.
func (h *Hook) OnReturn(name, kind string) error {
	if h.sc.DebugLevel() >= script.DebugAll {
		h.record(name, kind, script.DirectionReturn)
	}
	return h.sched.Checkpoint()
}

func (h *Hook) record(name, kind string, dir script.Direction) {
	if name == "" {
		name = "?"
	}
	h.sc.Trace().Append(script.TraceEntry{Name: name, Kind: kind, Direction: dir})
	Logger().Debug("trace",
		zap.String("script", h.sc.Label()),
		zap.Stringer("dir", dir),
		zap.String("fn", name),
		zap.String("kind", kind))
}

// OnTick runs the scheduler's yield decision and returns the number of
// instructions until the next tick.
func (h *Hook) OnTick() (scheduler.Decision, int, error) {
	d, err := h.sched.Tick(h.sc)
	return d, h.NextInterval(), err
}

// NextInterval draws the next tick interval.
func (h *Hook) NextInterval() int {
	if h.cfg.Jitter == 0 {
		return h.cfg.BaseInterval
	}
	return h.cfg.BaseInterval + h.rng.Intn(h.cfg.Jitter)
}
