// Package errors provides structured error types for the simscript runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: value path, Go/script type names, the bound
// function involved, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
//		Path("arg", "2").
//		GoType("string").
//		ValueType("number").
//		Detail("cannot read string as number").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.FunctionNotFound("sim.foo")
//	err := errors.InvalidData(errors.PhaseDecode, path, "unknown tag 0x7f")
//
// The taxonomy surfaced to scripts maps onto kinds:
//
//	ArgumentError  KindArgument, KindTypeMismatch
//	LookupError    KindNotFound, KindNotInitialized
//	CallFailed     KindCallFailed
//	Yield          KindYield (sentinel, never shown to script authors)
//	Fatal          KindFatal (scheduler invariant violation)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
