package repositories

import "errors"

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStaleUpdate is returned by conditional writes when the guarded
	// column no longer holds the expected value (lost a concurrent race).
	ErrStaleUpdate = errors.New("stale update: row changed concurrently")
)
