// Package dispatch resolves and executes bound function calls.
//
// Functions and variables are registered by name while a session is being
// configured. Names are dotted ("sim.getObject"); the interpreter binding
// turns the dots into nested tables. Each call carries a context block, a
// script.CallbackRecord naming the calling script, its attached object and
// the argument stack, plus out-slots for an error message and the legacy
// wait flag.
//
// # Invocation
//
// Dispatch runs a handler once. If the handler set the wait flag and the
// caller is on a worker thread, Dispatch returns errors.ErrYield with a
// Pending; Resume finishes it after the flag clears. Invoke does both,
// yielding the worker until the flag clears:
//
//	out, err := d.Invoke(ctx, "pkg.f", caller, stack.FromValues(value.Number(1), value.Number(2)))
//
// # Legacy aliases
//
// Old names map to current function names, and old variable names to
// current variables or literal values. Aliases resolve only when
// Config.LegacyAliases is set, and a current name always wins over an
// alias with the same spelling. The default table ships as aliases.yaml.
//
// # Errors
//
// Report reduces a call error to one outcome per call: raise it as a
// language error, or store it as the script's last error.
package dispatch
