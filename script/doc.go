// Package script holds per-script runtime state and the registry that owns
// it.
//
// A Context records a script's identity (handle, kind, optional scene
// object), its debugging and error-reporting configuration, the single
// consumer last-error slot, the two thread-switch forbid levels and the
// logical thread it is bound to.
//
// # Forbid Levels
//
// Each Feature (automatic switching, manual switching) has an independent
// non-negative counter. Switching for that feature is permitted only while
// its counter is zero. The boolean form is defined by AllowSwitchStep:
//
//	SetSwitchAllowed(f, false) // level += AllowSwitchStep
//	SetSwitchAllowed(f, true)  // level -= AllowSwitchStep, never below 0
//
// so allow/forbid calls nest like the integer form.
//
// # Callback Records
//
// A CallbackRecord is the context block handed to a native or plugin
// handler. Records still in flight when their script is removed or its
// thread is terminated move to a deferred list and are released only by
// ReleaseDeferred at session end.
package script
