package memory

import "errors"

// Sentinel errors returned by the engine. Callers should compare with
// errors.Is rather than string matching.
var (
	// ErrNotFound is the sentinel for a missing row. Lookups in this package
	// report absence with a nil pointer or zero value and do not return it.
	ErrNotFound = errors.New("memory: not found")

	// ErrInvalidInput is returned when an argument fails validation (blank
	// fact text, self-referencing link, link weight outside (0, 1],
	// non-positive embedding dimension, fewer than two entity names to merge).
	ErrInvalidInput = errors.New("memory: invalid input")

	// ErrClosed is the sentinel for use after Close. The façade does not
	// track whether it has been closed, and no method returns it.
	ErrClosed = errors.New("memory: closed")
)
