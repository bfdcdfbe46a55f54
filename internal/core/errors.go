package core

import "errors"

// Classified errors returned by coordinator operations. Everything except
// ErrUpstream is terminal for the triggering request or message: retrying
// cannot succeed, so queue consumers acknowledge and drop. ErrUpstream (and
// any unclassified error) is left unresolved so redelivery retries it.
var (
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness or conditional-update violation.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState indicates an operation attempted from a lifecycle
	// state that disallows it.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidInput indicates malformed or empty request data.
	ErrInvalidInput = errors.New("invalid input")
	// ErrQuotaExceeded indicates the voice cap has been reached.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrUpstream indicates an object store, queue, or synthesis API call
	// failed. Always retryable by redelivery.
	ErrUpstream = errors.New("upstream failure")
)

// IsTerminal reports whether err is a classification that must not be
// retried. Unclassified errors are treated as retryable, which is the safe
// default for infrastructure failures.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrQuotaExceeded)
}
