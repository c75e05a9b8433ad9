// Package resource provides handle tables for runtime-owned values.
//
// Script contexts, callback records and marshalling stacks are all owned by
// the runtime and referenced by plain integer handles from scripts and
// plugins. This package maps those handles to Go values.
//
// # Handle Table
//
// The Table maps integer handles to values of one type:
//
//	table := resource.NewTable[*Stack]()
//
//	// Insert a value, get a handle
//	handle, err := table.Insert(st)
//
//	// Retrieve value by handle
//	st, ok := table.Get(handle)
//
//	// Remove and get value
//	st, ok := table.Remove(handle)
//
// Handle 0 is never issued. Freed handles are recycled unless the table is
// created with WithoutReuse, in which case handles increase monotonically.
//
// # Pins
//
// A value that is in use by an in-flight call is pinned. Remove fails while
// pins are outstanding; Close drops everything regardless.
//
//	table.Pin(h)
//	defer table.Unpin(h)
//
// # Observers
//
// Register observers to track lifecycle events:
//
//	table.Subscribe(obs) // obs.OnResourceEvent(resource.Event)
//
// Values implementing Dropper have Drop called when they leave the table.
package resource
