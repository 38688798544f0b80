// Package errors defines the semantic error taxonomy shared by the
// maintenance core. Synchronous entry points surface these so callers can
// branch on kind; periodic jobs inspect kinds to decide whether a row is
// skipped (transient) or decisively handled.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller should react to it.
type Kind string

const (
	// KindValidation marks input that violates a precondition. Never retried.
	KindValidation Kind = "validation"
	// KindEligibility marks a refused admission gate. Never retried.
	KindEligibility Kind = "eligibility"
	// KindConflict marks a row in a state incompatible with the requested
	// transition.
	KindConflict Kind = "conflict"
	// KindTransient marks store contention, remote transport failures and
	// rate limits. Jobs skip the row and retry on the next tick.
	KindTransient Kind = "transient"
	// KindNotFound marks a missing entity.
	KindNotFound Kind = "not_found"
	// KindFatal marks a detected invariant violation. The current batch is
	// aborted and an operational alert is required.
	KindFatal Kind = "fatal"
)

// Error carries a kind, a machine-readable reason tag and a user-facing
// message alongside an optional wrapped cause.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs a tagged error.
func E(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

// Wrap tags an underlying error with a kind and reason.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Message: reason, Err: err}
}

// Validation builds a validation error.
func Validation(reason, message string) *Error {
	return E(KindValidation, reason, message)
}

// Eligibility builds an eligibility rejection with the gate's reason tag.
func Eligibility(reason, message string) *Error {
	return E(KindEligibility, reason, message)
}

// Conflict builds a state-conflict error.
func Conflict(reason, message string) *Error {
	return E(KindConflict, reason, message)
}

// Transient tags err as retryable on a later tick.
func Transient(reason string, err error) *Error {
	return Wrap(KindTransient, reason, err)
}

// NotFound builds a missing-entity error.
func NotFound(reason, message string) *Error {
	return E(KindNotFound, reason, message)
}

// Fatal tags err as an invariant violation.
func Fatal(reason string, err error) *Error {
	return Wrap(KindFatal, reason, err)
}

// KindOf extracts the kind of err, or KindTransient for untagged errors so
// job handlers default to skip-and-retry.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return KindTransient
}

// ReasonOf extracts the reason tag of err, if any.
func ReasonOf(err error) string {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Reason
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
