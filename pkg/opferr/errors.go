// Package opferr defines the closed set of error kinds the OPF core
// produces, implemented as a single classifiable error type so
// callers — principally pkg/dispatch — can branch on Kind() without string
// matching, the way the teacher branches on device type assertions rather
// than parsing error text.
package opferr

import (
	"fmt"
	"time"
)

// Kind enumerates the typed error sum the core produces.
type Kind int

const (
	// KindDataValidation marks inconsistent input, raised before any solve.
	KindDataValidation Kind = iota
	KindInfeasible
	KindUnbounded
	KindSolverTimeout
	KindNumericalIssue
	KindConvergenceFailure
	KindNotImplemented
	KindNoSolverAvailable
	KindComputeWarning
	KindProtocolMismatch
	KindNativeCrash
	KindRetryDecisionRequired
)

func (k Kind) String() string {
	switch k {
	case KindDataValidation:
		return "DataValidation"
	case KindInfeasible:
		return "Infeasible"
	case KindUnbounded:
		return "Unbounded"
	case KindSolverTimeout:
		return "SolverTimeout"
	case KindNumericalIssue:
		return "NumericalIssue"
	case KindConvergenceFailure:
		return "ConvergenceFailure"
	case KindNotImplemented:
		return "NotImplemented"
	case KindNoSolverAvailable:
		return "NoSolverAvailable"
	case KindComputeWarning:
		return "ComputeWarning"
	case KindProtocolMismatch:
		return "ProtocolMismatch"
	case KindNativeCrash:
		return "NativeCrash"
	case KindRetryDecisionRequired:
		return "RetryDecisionRequired"
	default:
		return "Unknown"
	}
}

// Error is the single error type carrying any of the Kind values above,
// plus the kind-specific payload fields used by a subset of kinds.
type Error struct {
	Kind    Kind
	Message string
	Wrapped error

	// SolverTimeout
	Timeout time.Duration

	// ConvergenceFailure
	Iterations int
	Residual   float64

	// NoSolverAvailable
	ProblemClass string
	Hint         string

	// ComputeWarning
	Estimate   float64
	Limit      float64
	Suggestion string

	// ProtocolMismatch
	ExpectedVersion int
	ReceivedVersion int

	// NativeCrash
	Solver   string
	ExitCode int
	LogPath  string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Wrapped }

// As reports whether err is (or wraps) an *Error of the given kind.
func As(err error, kind Kind) (*Error, bool) {
	var oe *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			oe = e
			if e.Kind == kind {
				return e, true
			}
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return oe, false
}

func DataValidation(format string, a ...any) *Error {
	return &Error{Kind: KindDataValidation, Message: fmt.Sprintf(format, a...)}
}

func Infeasible(format string, a ...any) *Error {
	return &Error{Kind: KindInfeasible, Message: fmt.Sprintf(format, a...)}
}

func Unbounded(format string, a ...any) *Error {
	return &Error{Kind: KindUnbounded, Message: fmt.Sprintf(format, a...)}
}

func SolverTimeout(d time.Duration) *Error {
	return &Error{Kind: KindSolverTimeout, Timeout: d, Message: fmt.Sprintf("solver exceeded %s", d)}
}

func NumericalIssue(format string, a ...any) *Error {
	return &Error{Kind: KindNumericalIssue, Message: fmt.Sprintf(format, a...)}
}

func ConvergenceFailure(iterations int, residual float64) *Error {
	return &Error{
		Kind:       KindConvergenceFailure,
		Iterations: iterations,
		Residual:   residual,
		Message:    fmt.Sprintf("failed to converge after %d iterations, residual %g", iterations, residual),
	}
}

func NotImplemented(format string, a ...any) *Error {
	return &Error{Kind: KindNotImplemented, Message: fmt.Sprintf(format, a...)}
}

func NoSolverAvailable(problemClass, hint string) *Error {
	return &Error{
		Kind:         KindNoSolverAvailable,
		ProblemClass: problemClass,
		Hint:         hint,
		Message:      fmt.Sprintf("no solver available for %s: %s", problemClass, hint),
	}
}

func ComputeWarning(estimate, limit float64, suggestion string) *Error {
	return &Error{
		Kind:       KindComputeWarning,
		Estimate:   estimate,
		Limit:      limit,
		Suggestion: suggestion,
		Message:    fmt.Sprintf("estimate %g exceeds limit %g: %s", estimate, limit, suggestion),
	}
}

func ProtocolMismatch(expected, received int) *Error {
	return &Error{
		Kind:            KindProtocolMismatch,
		ExpectedVersion: expected,
		ReceivedVersion: received,
		Message:         fmt.Sprintf("protocol version mismatch: dispatcher=%d plugin=%d", expected, received),
	}
}

func NativeCrash(solver string, exitCode int, logPath string) *Error {
	return &Error{
		Kind:     KindNativeCrash,
		Solver:   solver,
		ExitCode: exitCode,
		LogPath:  logPath,
		Message:  fmt.Sprintf("native solver %q crashed with exit code %d, log at %s", solver, exitCode, logPath),
	}
}

func RetryDecisionRequired() *Error {
	return &Error{Kind: KindRetryDecisionRequired, Message: "caller must decide whether to retry"}
}

const cancelledMessage = "solve cancelled"

// Cancelled is a distinguished error used by the dispatcher's cancellation
// token; modeled as NumericalIssue's sibling rather than its own
// Kind constant because the enumerated kinds don't list it, only the
// narrative in §5 does.
func Cancelled() *Error {
	return &Error{Kind: KindNumericalIssue, Message: cancelledMessage}
}

// IsCancelled reports whether err is the Cancelled sentinel, distinguishing
// it from an ordinary NumericalIssue so callers like pkg/dispatch can skip
// fallback/retry handling on a cancellation.
func IsCancelled(err error) bool {
	e, ok := As(err, KindNumericalIssue)
	return ok && e.Message == cancelledMessage
}
