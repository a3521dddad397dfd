package domain

import "errors"

// Error classes shared across the engine. Callers classify with errors.Is;
// wrap with fmt.Errorf("...: %w", Err*) to add detail.
var (
	// ErrUnavailable marks a graph store or embedding provider that cannot be
	// reached. Callers degrade to a fallback where one exists instead of
	// crashing.
	ErrUnavailable = errors.New("unavailable")

	// ErrRateLimited marks provider throttling. Retried with backoff up to a
	// bounded attempt count before being surfaced.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalid marks malformed statements, bad parameters, or empty content.
	// Rejects the single item; never aborts a batch.
	ErrInvalid = errors.New("invalid")

	// ErrConflict marks a uniqueness-constraint violation. Not retried.
	ErrConflict = errors.New("conflict")
)
