// Package errdefs defines the runtime's error taxonomy. Every error that
// crosses a component boundary carries a Kind so callers can decide on
// retry, fallback, or surfacing without string matching.
package errdefs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy decisions.
type Kind string

const (
	// KindConfiguration marks a missing key, invalid cron, or unknown model.
	// Fatal at startup.
	KindConfiguration Kind = "Configuration"

	// KindValidation marks bad args or a schema mismatch. No retry.
	KindValidation Kind = "Validation"

	// KindUnavailable marks a skill or model that is not currently usable.
	KindUnavailable Kind = "Unavailable"

	// KindRateLimited marks an empty token bucket or a downstream 429.
	KindRateLimited Kind = "RateLimited"

	// KindRetryable marks transient I/O, 5xx, or timeout.
	KindRetryable Kind = "Retryable"

	// KindProtected marks a destructive op attempted on a protected entity.
	// Never retried.
	KindProtected Kind = "Protected"

	// KindBudgetExceeded marks the daily token or cost cap being hit.
	KindBudgetExceeded Kind = "BudgetExceeded"

	// KindCancelled marks a deadline or session cancellation. Never logged
	// above info level.
	KindCancelled Kind = "Cancelled"

	// KindPermanent marks a downstream 4xx that will not succeed on retry.
	KindPermanent Kind = "Permanent"

	// KindIncompatibleModel marks a tool-using request routed at a model
	// whose catalog entry has tool_calling=false.
	KindIncompatibleModel Kind = "IncompatibleModel"

	// KindNotFound marks a missing entity, skill, or tool.
	KindNotFound Kind = "NotFound"

	// KindDuplicate marks a conflicting registration or insert.
	KindDuplicate Kind = "Duplicate"

	// KindInternal marks an unexpected error that indicates a bug.
	KindInternal Kind = "Internal"
)

// Error is a kinded error. Wrapped causes are preserved for errors.Is/As.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// New creates a kinded error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error. Returns nil if err is nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// KindOf returns the kind of err, or KindInternal for unclassified errors.
// Context cancellation and deadline errors classify as Cancelled even when
// unwrapped from stdlib errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var ke *Error
	for errors.As(err, &ke) {
		if ke.Kind == kind {
			return true
		}
		err = ke.cause
		if err == nil {
			break
		}
	}
	return false
}

// Retryable reports whether the propagation policy allows automatic retry.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRetryable, KindUnavailable, KindRateLimited:
		return true
	default:
		return false
	}
}
