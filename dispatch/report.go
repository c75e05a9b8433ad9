package dispatch

import (
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/script"
)

// Outcome is how a call error reaches the script.
type Outcome uint8

const (
	// OutcomeNone means the call succeeded.
	OutcomeNone Outcome = iota
	// OutcomeCapture stores the message as the script's last error; the
	// call returns no values.
	OutcomeCapture
	// OutcomeRaise throws the error in the calling script.
	OutcomeRaise
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeCapture:
		return "capture"
	case OutcomeRaise:
		return "raise"
	default:
		return "unknown"
	}
}

// Report decides the outcome of a call to fn made by sc that failed with
// err, and applies it for OutcomeCapture.
//
// Termination, aborts and invariant violations always raise. Other errors
// are stored as the script's last error and raise only when the script
// runs with legacy raise-errors mode on; argument errors keep their last
// error even then.
func Report(sc *script.Context, fn string, err error) Outcome {
	if err == nil {
		return OutcomeNone
	}
	kind := errors.KindOf(err)
	switch kind {
	case errors.KindTerminated, errors.KindAborted, errors.KindFatal:
		return OutcomeRaise
	}

	msg := Message(err)
	if sc.RaiseErrors() {
		if kind == errors.KindArgument {
			sc.SetLastError(msg)
		}
		return OutcomeRaise
	}
	sc.SetLastError(msg)
	if sc.Verbosity() >= script.VerbosityWarnings {
		Logger().Warn("script call failed",
			zap.String("script", sc.Label()),
			zap.String("fn", fn),
			zap.String("error", msg))
	}
	return OutcomeCapture
}

// Message returns the script-facing text of err.
func Message(err error) string {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Message()
	}
	return err.Error()
}
