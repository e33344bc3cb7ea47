package app

import "errors"

var (
	// ErrNotFound indicates the code does not address a movie.
	ErrNotFound = errors.New("content not found")
	// ErrOutOfRange indicates a part selection beyond the offered parts.
	ErrOutOfRange = errors.New("part out of range")
	// ErrStaleContext indicates the movie or part a selection referred to is gone.
	ErrStaleContext = errors.New("selection context lost")
	// ErrDeliveryFailed indicates the transport could not deliver resolved media.
	ErrDeliveryFailed = errors.New("media delivery failed")
)
