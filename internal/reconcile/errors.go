package reconcile

import "errors"

// Typed error kinds of the reconciliation engine. Channel-local recoverable
// failures (embedding or LLM unavailability) are absorbed by degradation and
// never surface as errors; everything a caller can observe is one of these.
var (
	// ErrInvalidQuery marks a malformed sub-query: empty mention, unknown
	// property, malformed property value, or an out-of-range limit. Other
	// sub-queries in the same batch proceed.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrUnknownEntityType marks a sub-query naming an unregistered entity
	// type.
	ErrUnknownEntityType = errors.New("unknown entity type")

	// ErrNotFound is returned by preview and get-by-id for an unknown id.
	ErrNotFound = errors.New("not found")

	// ErrMalformedID is returned when an id is neither a canonical URI nor a
	// parseable integer.
	ErrMalformedID = errors.New("malformed id")

	// ErrOverloaded signals resource exhaustion (connection pool or sub-query
	// queue). Retryable by the caller.
	ErrOverloaded = errors.New("overloaded")
)
