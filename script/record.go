package script

import (
	"sync"
	"sync/atomic"
)

// RecordID identifies a callback record.
type RecordID uint32

// CallbackRecord is the context block handed to a native or plugin
// handler: who is calling, which stack carries the arguments, and the
// out-slots for an error message and the legacy wait flag.
type CallbackRecord struct {
	errMsg   string
	Function string
	Object   ObjectID
	mu       sync.Mutex
	wait     atomic.Int32
	ID       RecordID
	Script   Handle
	Stack    uint32
}

// SetError stores the callee's error message. An empty message clears it.
func (r *CallbackRecord) SetError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errMsg = msg
}

// Error returns the callee's error message, or "" if none was set.
func (r *CallbackRecord) Error() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errMsg
}

// SetWait sets the legacy blocking-wait flag. Any non-zero value asks the
// caller to suspend until the flag is cleared.
func (r *CallbackRecord) SetWait(v int32) {
	r.wait.Store(v)
}

// Waiting reports whether the wait flag is set.
func (r *CallbackRecord) Waiting() bool {
	return r.wait.Load() != 0
}

// Drop clears the out-slots when the record leaves the registry, so a
// caller still holding it sees neither an error nor a wait request.
func (r *CallbackRecord) Drop() {
	r.SetError("")
	r.wait.Store(0)
}
