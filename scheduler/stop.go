package scheduler

import (
	"sync"
	"time"
)

// StopSignal is a debounced stop request. Once activated it stays
// activated until Reset.
type StopSignal struct {
	clock     Clock
	requested time.Time
	debounce  time.Duration
	mu        sync.Mutex
	pending   bool
	activated bool
}

// NewStopSignal creates a signal that activates debounce after Request.
func NewStopSignal(clock Clock, debounce time.Duration) *StopSignal {
	if clock == nil {
		clock = SystemClock()
	}
	if debounce < 0 {
		debounce = 0
	}
	return &StopSignal{clock: clock, debounce: debounce}
}

// Request records a stop request. Repeated requests keep the first
// request time.
func (s *StopSignal) Request() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return
	}
	s.pending = true
	s.requested = s.clock.Now()
	Logger().Debug("stop requested")
}

// Requested reports whether a stop was requested since the last Reset.
func (s *StopSignal) Requested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Activated reports whether the debounce window of a pending request has
// elapsed.
func (s *StopSignal) Activated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activated {
		return true
	}
	if s.pending && s.clock.Now().Sub(s.requested) >= s.debounce {
		s.activated = true
		Logger().Debug("stop activated")
	}
	return s.activated
}

// Reset clears the request. It is called when a simulation starts.
func (s *StopSignal) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = false
	s.activated = false
	s.requested = time.Time{}
}
