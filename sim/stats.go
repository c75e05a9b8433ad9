package sim

import (
	"sync"

	"github.com/wippyai/simscript/resource"
)

// StackStats counts the value stacks used by calls in a session.
type StackStats struct {
	Created uint64
	Live    int
	Peak    int
	Pins    int
}

// stackCounter follows the session's stack registry.
type stackCounter struct {
	mu    sync.Mutex
	stats StackStats
}

func (c *stackCounter) OnResourceEvent(e resource.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch e.Type {
	case resource.EventCreated:
		c.stats.Created++
		c.stats.Live++
		if c.stats.Live > c.stats.Peak {
			c.stats.Peak = c.stats.Live
		}
	case resource.EventDropped:
		c.stats.Live--
	case resource.EventPinned:
		c.stats.Pins++
	case resource.EventUnpinned:
		c.stats.Pins--
	}
}

func (c *stackCounter) get() StackStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
