package apperrors

import "errors"

// Standardized core errors. Callers match with errors.Is; wrapping with
// fmt.Errorf("%w: ...") is expected throughout.
var (
	// Validation: the order instruction itself is malformed. Rejected before
	// dispatch, recorded as a failed result on that order only.
	ErrUnknownOrderType      = errors.New("unknown order instruction type")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")

	// Execution: per-order gateway/network failure. Isolated to the order.
	ErrOrderRejected = errors.New("order rejected")
	ErrNetwork       = errors.New("network error")

	// Consistency: fatal to the current update batch, never to the runner.
	ErrInsufficientPosition = errors.New("insufficient position")

	// Persistence: store write failed; in-memory state stays authoritative.
	ErrPersistence = errors.New("persistence failure")

	// Manager surface.
	ErrRunnerNotFound = errors.New("strategy runner not found")
	ErrUnknownStrategy = errors.New("unknown strategy")

	ErrNoQuote = errors.New("no quote available")
)
