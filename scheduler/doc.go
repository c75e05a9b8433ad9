// Package scheduler runs scripts on cooperative logical threads.
//
// Every threaded script gets its own goroutine, but at most one logical
// thread executes application code at any moment. Control moves between
// threads only at yield points, by a strict pairwise handoff: the running
// thread wakes exactly one parked thread and then parks itself.
//
// # Threads
//
// Thread 0 is the main simulation thread, the goroutine that called New.
// Spawn creates a worker thread bound to a script; the worker stays parked
// until the first Resume.
//
//	id, err := s.Spawn(sc, func() error {
//	    return vm.Run(ctx)
//	})
//	s.Resume(id) // runs until the worker yields or dies
//
// # Yield points
//
// The interpreter hook calls Checkpoint on every call and return, and Tick
// periodically. Tick decides, in order:
//
//  1. A worker thread terminates once the stop signal is active.
//  2. On the main thread, a non-simulation script that overran its
//     execution budget is offered for abort, once per run.
//  3. If automatic switching is allowed for the script and its auto-yield
//     delay elapsed since the last switch, the worker hands control back to
//     the thread that resumed it.
//
// # Cross-thread calls
//
// CallOnThread runs a function on another logical thread and blocks the
// caller until it has finished. While a thread serves such a request it
// never switches away on its own, so no other code interleaves between
// accepting the request and writing its result.
//
// # Stop
//
// Stop requests are debounced: StopSignal reports Activated only after the
// debounce window has elapsed. Termination is cooperative and takes effect
// at the thread's next yield point.
package scheduler
