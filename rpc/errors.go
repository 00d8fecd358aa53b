package rpc

import "errors"

var (
	// ErrMethodNotFound is returned when the remote side has no handler for a method.
	ErrMethodNotFound = errors.New("rpc: method not found")

	// ErrDisconnected fails every call pending on a connection that went away.
	ErrDisconnected = errors.New("rpc: disconnected")

	// ErrTimeout indicates a call got no response before its deadline.
	ErrTimeout = errors.New("rpc: call timed out")

	// ErrMalformedFrame indicates a frame that cannot be decoded.
	ErrMalformedFrame = errors.New("rpc: malformed frame")

	// ErrInvalidMethod indicates an empty or oversized method name.
	ErrInvalidMethod = errors.New("rpc: invalid method name")

	// ErrCallInLoop is returned by Call when invoked from the peer's own loop,
	// where waiting for the response would block its delivery.
	ErrCallInLoop = errors.New("rpc: synchronous call from the connection loop")
)

// RemoteError is an error returned by the remote handler.
type RemoteError string

func (e RemoteError) Error() string {
	return string(e)
}
