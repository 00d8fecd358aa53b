package asio2

import "errors"

var (
	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("already started")

	// ErrNotStarted indicates the component is not running.
	ErrNotStarted = errors.New("not started")

	// ErrStopped is reported to disconnect callbacks when the local side stopped the connection.
	ErrStopped = errors.New("stopped")

	// ErrSendQueueFull indicates the outgoing queue of a connection is full.
	ErrSendQueueFull = errors.New("send queue is full")

	// ErrSilenceTimeout is reported when a connection was closed for inactivity.
	ErrSilenceTimeout = errors.New("silence timeout")

	// ErrMaxConnsReached indicates a connection was refused by the connection limit.
	ErrMaxConnsReached = errors.New("maximum connections reached")
)
