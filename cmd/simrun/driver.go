package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wippyai/simscript/script"
	"github.com/wippyai/simscript/sim"
	"github.com/wippyai/simscript/stack"
)

// Messages sent from the driver to the TUI.
type (
	startedMsg  struct{ id string }
	snapshotMsg struct{ snap sim.Snapshot }
	outputMsg   string
	resultMsg   struct {
		err  error
		text string
	}
	promptMsg struct {
		reply   chan bool
		script  string
		elapsed time.Duration
	}
	endedMsg struct {
		err     error
		summary string
	}
)

// sender delivers messages to the TUI. *tea.Program implements it.
type sender interface {
	Send(msg tea.Msg)
}

// driver owns the session. Sessions must be driven from the goroutine
// that created them, so everything that touches the session runs in run.
type driver struct {
	m        *Manifest
	out      sender
	cmds     chan command
	cfg      sim.Config
	interval time.Duration
}

func newDriver(m *Manifest, cfg sim.Config, interval time.Duration, out sender) *driver {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &driver{
		m:        m,
		out:      out,
		cmds:     make(chan command, 16),
		cfg:      cfg,
		interval: interval,
	}
}

// submit queues a command without blocking the caller.
func (d *driver) submit(c command) bool {
	select {
	case d.cmds <- c:
		return true
	default:
		return false
	}
}

type sendWriter struct{ out sender }

func (w sendWriter) Write(p []byte) (int, error) {
	w.out.Send(outputMsg(strings.TrimRight(string(p), "\n")))
	return len(p), nil
}

// confirm asks the TUI whether an overrunning script should be aborted.
// It blocks the session until the user answers.
func (d *driver) confirm(ctx context.Context) func(*script.Context, time.Duration) bool {
	return func(sc *script.Context, elapsed time.Duration) bool {
		reply := make(chan bool, 1)
		d.out.Send(promptMsg{reply: reply, script: sc.Label(), elapsed: elapsed})
		select {
		case ok := <-reply:
			return ok
		case <-ctx.Done():
			return true
		}
	}
}

func (d *driver) run(ctx context.Context) error {
	cfg := d.m.Config(d.cfg)
	cfg.Output = sendWriter{d.out}
	cfg.ConfirmAbort = d.confirm(ctx)
	cfg.OnScriptError = func(sc *script.Context, callback string, err error) {
		d.out.Send(outputMsg(fmt.Sprintf("%s: %s: %v", sc.Label(), callback, err)))
	}

	s, err := sim.New(d.m.World(), cfg)
	if err != nil {
		d.out.Send(endedMsg{err: err})
		return err
	}
	if err := d.m.Populate(ctx, s); err != nil {
		return d.finish(ctx, s, err)
	}
	if err := s.Init(ctx); err != nil {
		return d.finish(ctx, s, err)
	}
	d.out.Send(startedMsg{id: s.ID().String()})

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	paused := false
	for {
		step := false
		select {
		case <-ctx.Done():
			return d.finish(context.Background(), s, nil)
		case c := <-d.cmds:
			switch c.kind {
			case cmdStop:
				s.RequestStop()
			case cmdPause:
				paused = !paused
			case cmdStep:
				step = true
			case cmdCall:
				d.out.Send(d.call(ctx, s, c))
			}
		case <-ticker.C:
			step = !paused
		}

		if step {
			if err := s.Step(ctx); err != nil {
				return d.finish(ctx, s, err)
			}
		}
		if s.Stopped() || (d.m.Settings.Steps > 0 && s.StepCount() >= uint64(d.m.Settings.Steps) && !s.Stopping()) {
			return d.finish(ctx, s, nil)
		}
		d.out.Send(snapshotMsg{snap: s.Snapshot()})
	}
}

func (d *driver) call(ctx context.Context, s *sim.Session, c command) resultMsg {
	for _, info := range s.Snapshot().Scripts {
		if info.Name != c.script {
			continue
		}
		out, err := s.CallScriptFunction(ctx, info.Handle, c.fn, stack.FromValues(c.args...))
		if err != nil {
			return resultMsg{err: err}
		}
		return resultMsg{text: c.script + "." + c.fn + " = " + formatValues(out.Values())}
	}
	return resultMsg{err: fmt.Errorf("no script named %s", c.script)}
}

func (d *driver) finish(ctx context.Context, s *sim.Session, cause error) error {
	snap := s.Snapshot()
	if err := s.End(ctx); err != nil && cause == nil {
		cause = err
	}
	d.out.Send(endedMsg{err: cause, summary: summary(s, snap)})
	return cause
}
