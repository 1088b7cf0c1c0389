package types

import "errors"

// Error taxonomy shared across the adapters and orchestrators. Adapter-level
// errors wrap one of these sentinels and bubble unchanged to the
// orchestrators; the HTTP layer maps them to status codes.
var (
	// ErrServiceUnavailable indicates a network or connection failure to an
	// external service (Ollama or Qdrant). Not retried automatically.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrModelNotFound indicates the requested model is not installed on the
	// inference server. The wrapping message carries pull guidance.
	ErrModelNotFound = errors.New("model not found")

	// ErrDimensionConflict indicates an existing collection has a different
	// vector dimension than requested. This is a configuration error and
	// fails fast; vectors are never truncated or padded.
	ErrDimensionConflict = errors.New("dimension conflict")

	// ErrValidation indicates a malformed request, e.g. a missing user id.
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates the requested record or collection doesn't exist.
	ErrNotFound = errors.New("not found")
)
