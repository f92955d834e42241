package console

import "errors"

var (
	// ErrClosed is returned by Open after Shutdown.
	ErrClosed = errors.New("console: registry closed")
	// ErrTooManyAttempts is returned by Login while the context is throttled.
	ErrTooManyAttempts = errors.New("console: too many login attempts")
)
