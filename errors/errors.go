package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseEncode    Phase = "encode"    // values to wire bytes
	PhaseDecode    Phase = "decode"    // wire bytes or interpreter to values
	PhaseValidate  Phase = "validate"  // data validation
	PhaseRuntime   Phase = "runtime"   // runtime operations
	PhaseDispatch  Phase = "dispatch"  // bound function resolution and invocation
	PhaseSchedule  Phase = "schedule"  // logical thread switching
	PhaseLoad      Phase = "load"      // plugin and script loading
	PhaseHost      Phase = "host"      // host function registration
	PhaseInterface Phase = "interface" // interpreter bridge
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch   Kind = "type_mismatch"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindInvalidData    Kind = "invalid_data"
	KindUnsupported    Kind = "unsupported"
	KindOverflow       Kind = "overflow"
	KindNotFound       Kind = "not_found"
	KindNotInitialized Kind = "not_initialized"
	KindInvalidInput   Kind = "invalid_input"
	KindArgument       Kind = "argument"
	KindCallFailed     Kind = "call_failed"
	KindRegistration   Kind = "registration"
	KindInstantiation  Kind = "instantiation"
	KindYield          Kind = "yield"
	KindTerminated     Kind = "terminated"
	KindAborted        Kind = "aborted"
	KindFatal          Kind = "fatal"
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value     any
	Cause     error
	Phase     Phase
	Kind      Kind
	GoType    string
	ValueType string
	Function  string
	Detail    string
	Path      []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.ValueType != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.ValueType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", value type ")
			b.WriteString(e.ValueType)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("value type ")
			b.WriteString(e.ValueType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.ValueType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Function != "" {
		b.WriteString(" (in function '")
		b.WriteString(e.Function)
		b.WriteString("')")
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Message returns the script-facing text of the error: the detail without
// phase, kind or function decoration.
func (e *Error) Message() string {
	msg := e.Detail
	if msg == "" {
		msg = strings.ReplaceAll(string(e.Kind), "_", " ")
	}
	if e.Cause != nil {
		var inner *Error
		if stderrors.As(e.Cause, &inner) {
			return msg + ": " + inner.Message()
		}
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the value path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// ValueType sets the script value type name
func (b *Builder) ValueType(t string) *Builder {
	b.err.ValueType = t
	return b
}

// Function sets the bound function name
func (b *Builder) Function(name string) *Builder {
	b.err.Function = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, valueType string) *Error {
	return &Error{
		Phase:     phase,
		Kind:      KindTypeMismatch,
		Path:      path,
		GoType:    goType,
		ValueType: valueType,
		Detail:    fmt.Sprintf("expected %s, got %s", goType, valueType),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, path []string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, limit string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOverflow,
		Path:   path,
		Detail: fmt.Sprintf("value %v exceeds %s", value, limit),
		Value:  value,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Registration creates a registration error
func Registration(phase Phase, name string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s", name),
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// Script-facing taxonomy

// Argument creates an argument error for a bound function.
func Argument(function, detail string) *Error {
	return &Error{
		Phase:    PhaseDispatch,
		Kind:     KindArgument,
		Function: function,
		Detail:   detail,
	}
}

// FunctionNotFound creates a lookup error for an unknown bound function.
func FunctionNotFound(name string) *Error {
	return &Error{
		Phase:    PhaseDispatch,
		Kind:     KindNotFound,
		Function: name,
		Detail:   "function not found",
	}
}

// ScriptNotFound creates a lookup error for an unknown or hidden script.
func ScriptNotFound(target string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("script %s not found", target),
	}
}

// ScriptNotInitialized creates a lookup error for a script that has not
// finished initialization.
func ScriptNotInitialized(target string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("script %s not initialized", target),
	}
}

// CallFailed creates an error for a callee that reported failure.
func CallFailed(function, msg string) *Error {
	return &Error{
		Phase:    PhaseDispatch,
		Kind:     KindCallFailed,
		Function: function,
		Detail:   msg,
	}
}

// Terminated creates the error used to unwind a logical thread that is
// being killed.
func Terminated(detail string) *Error {
	return &Error{
		Phase:  PhaseSchedule,
		Kind:   KindTerminated,
		Detail: detail,
	}
}

// Aborted creates the error used to abort a run of a script that exceeded
// its execution budget.
func Aborted(script string) *Error {
	return &Error{
		Phase:  PhaseSchedule,
		Kind:   KindAborted,
		Detail: fmt.Sprintf("script %s aborted by user", script),
	}
}

// Fatal creates a scheduler invariant violation error.
func Fatal(detail string) *Error {
	return &Error{
		Phase:  PhaseSchedule,
		Kind:   KindFatal,
		Detail: detail,
	}
}

// ErrYield is the sentinel returned when the caller must suspend before the
// call can complete. It never reaches script authors.
var ErrYield = &Error{
	Phase:  PhaseDispatch,
	Kind:   KindYield,
	Detail: "yield requested",
}
