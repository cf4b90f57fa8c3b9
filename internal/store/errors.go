package store

import "errors"

var (
	// ErrNotFound is returned by Get when the key holds no value.
	ErrNotFound = errors.New("store: key not found")

	// ErrIncompleteValue is returned when a chunked value is missing chunks.
	ErrIncompleteValue = errors.New("store: chunked value incomplete")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)
