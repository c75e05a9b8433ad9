package sim

import (
	"time"

	"github.com/wippyai/simscript/scheduler"
	"github.com/wippyai/simscript/script"
)

// ScriptInfo describes one attached script.
type ScriptInfo struct {
	LastError   string
	Name        string
	Handle      script.Handle
	Thread      script.ThreadID
	Kind        script.Kind
	Threaded    bool
	Initialized bool
	HasThread   bool
}

// Snapshot is a point-in-time view of a session, safe to take from any
// goroutine.
type Snapshot struct {
	Scripts        []ScriptInfo
	Threads        []scheduler.ThreadInfo
	Stacks         StackStats
	SimulationTime time.Duration
	Steps          uint64
	Deferred       int
	Stopping       bool
	Stopped        bool
}

// Snapshot captures the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	scripts := make([]ScriptInfo, 0, len(s.entries))
	for _, e := range s.entries {
		scripts = append(scripts, ScriptInfo{
			LastError:   e.sc.PeekLastError(),
			Name:        e.sc.Name(),
			Handle:      e.sc.Handle(),
			Thread:      e.tid,
			Kind:        e.sc.Kind(),
			Threaded:    e.sc.Threaded(),
			Initialized: e.sc.Initialized(),
			HasThread:   e.threaded,
		})
	}
	steps := s.steps
	s.mu.Unlock()

	return Snapshot{
		Scripts:        scripts,
		Threads:        s.sched.Threads(),
		Stacks:         s.counter.get(),
		SimulationTime: s.world.SimulationTime(),
		Steps:          steps,
		Deferred:       s.scripts.Deferred(),
		Stopping:       s.Stopping(),
		Stopped:        s.Stopped(),
	}
}
