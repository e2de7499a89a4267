package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and propagation policy.
type Kind string

const (
	// KindValidation marks a malformed request. Rejected locally, never retried.
	KindValidation Kind = "validation"

	// KindConflict marks a claim on a resource another holder owns, an already
	// resolved gate, or a merge already in flight. Callers back off and re-check.
	KindConflict Kind = "conflict"

	// KindNotFound marks a lookup miss for an id the caller supplied.
	KindNotFound Kind = "not_found"

	// KindTransient marks an environment or connectivity failure. Retried with
	// backoff and does not consume the substantive retry budget.
	KindTransient Kind = "transient"

	// KindVerification marks a failed build/test-equivalent check. Substantive:
	// consumes retry budget and triggers the failure cascade.
	KindVerification Kind = "verification"

	// KindMaxRetries marks an exhausted retry budget. Always surfaced to a
	// human, never auto-resolved.
	KindMaxRetries Kind = "max_retries"

	// KindMergeConflict marks a merge request parked on conflicting paths.
	KindMergeConflict Kind = "merge_conflict"
)

// Error is the domain error type shared by all core components.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// New creates a typed error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Newf creates a typed error with a formatted message.
func Newf(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails returns a copy of the error carrying extra context.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// KindOf returns the kind of err, or "" if err is not a domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsValidation checks if the error is a validation error
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsConflict checks if the error is a conflict error
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsTransient checks if the error is a transient error
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsVerification checks if the error is a verification failure
func IsVerification(err error) bool { return KindOf(err) == KindVerification }

// IsMaxRetries checks if the error is a max retries error
func IsMaxRetries(err error) bool { return KindOf(err) == KindMaxRetries }

// IsMergeConflict checks if the error is a merge conflict
func IsMergeConflict(err error) bool { return KindOf(err) == KindMergeConflict }
