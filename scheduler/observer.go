package scheduler

import "github.com/wippyai/simscript/script"

// EventType identifies a thread lifecycle transition.
type EventType uint8

const (
	EventSpawned EventType = iota
	EventSuspended
	EventResumed
	EventTerminating
	EventDead
)

func (e EventType) String() string {
	switch e {
	case EventSpawned:
		return "spawned"
	case EventSuspended:
		return "suspended"
	case EventResumed:
		return "resumed"
	case EventTerminating:
		return "terminating"
	case EventDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Event describes one transition. Script is 0 for the main thread.
type Event struct {
	Thread script.ThreadID
	Script script.Handle
	Type   EventType
}

// Observer receives thread events. Events are delivered synchronously by
// the goroutine performing the transition, before control moves on.
type Observer interface {
	OnThreadEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnThreadEvent(e Event) { f(e) }
