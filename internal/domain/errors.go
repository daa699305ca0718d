package domain

import "errors"

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidConstraint signals a malformed constraint, preference or weight in a request.
	ErrInvalidConstraint = errors.New("invalid constraint")

	// ErrProviderUnavailable signals that the embedding provider could not be reached or refused the call.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
	// ErrProviderTimeout signals that the embedding provider did not answer in time.
	ErrProviderTimeout = errors.New("embedding provider timeout")
	// ErrProviderMalformedResponse signals a response with the wrong count, empty or ragged vectors.
	ErrProviderMalformedResponse = errors.New("embedding provider malformed response")
	// ErrBudgetExceeded signals a spent token budget. It is reported wrapped in ErrProviderUnavailable.
	ErrBudgetExceeded = errors.New("embedding token budget exceeded")

	// ErrCacheIO signals a failed read or write against the embedding cache store.
	ErrCacheIO = errors.New("embedding cache io")
)

// IsProviderError reports whether err belongs to the embedding provider family.
// Such errors degrade a request instead of failing it.
func IsProviderError(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrProviderTimeout) ||
		errors.Is(err, ErrProviderMalformedResponse)
}
