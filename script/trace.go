package script

import "sync"

// DefaultTraceCapacity is the trace buffer size used when none is given.
const DefaultTraceCapacity = 256

// Direction tells whether a trace entry records entering or leaving a
// function.
type Direction uint8

const (
	DirectionCall Direction = iota
	DirectionReturn
)

func (d Direction) String() string {
	if d == DirectionReturn {
		return "return"
	}
	return "call"
}

// TraceEntry is one recorded call or return.
type TraceEntry struct {
	Name      string
	Kind      string
	Direction Direction
}

// TraceBuffer is a bounded ring of trace entries. When full, the oldest
// entry is overwritten.
type TraceBuffer struct {
	entries []TraceEntry
	next    int
	full    bool
	mu      sync.Mutex
}

// NewTraceBuffer creates a ring holding up to capacity entries.
func NewTraceBuffer(capacity int) *TraceBuffer {
	if capacity <= 0 {
		capacity = DefaultTraceCapacity
	}
	return &TraceBuffer{entries: make([]TraceEntry, capacity)}
}

// Append records e.
func (b *TraceBuffer) Append(e TraceEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[b.next] = e
	b.next++
	if b.next == len(b.entries) {
		b.next = 0
		b.full = true
	}
}

// Entries returns the recorded entries, oldest first.
func (b *TraceBuffer) Entries() []TraceEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		out := make([]TraceEntry, b.next)
		copy(out, b.entries[:b.next])
		return out
	}
	out := make([]TraceEntry, 0, len(b.entries))
	out = append(out, b.entries[b.next:]...)
	return append(out, b.entries[:b.next]...)
}

// Len returns the number of recorded entries.
func (b *TraceBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return len(b.entries)
	}
	return b.next
}

// Reset discards all entries.
func (b *TraceBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = 0
	b.full = false
}
