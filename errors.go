package ghostrelay

import (
	"errors"
	"fmt"
)

// Server errors
var (
	ErrServerAlreadyRunning = errors.New("server already running")
)

// Connection errors
var (
	// ErrCapacityExceeded is returned when registering would exceed the player cap.
	ErrCapacityExceeded = errors.New("player capacity exceeded")
	// ErrConnectionClosed is returned when sending to a connection that is closing.
	ErrConnectionClosed = errors.New("connection is closed")
	// ErrQueueFull is returned when a recipient's outbound queue overflows.
	ErrQueueFull = errors.New("outbound queue full")
)

// ListenError reports a failure to bind a listening socket.
type ListenError struct {
	Network string
	Addr    string
	Err     error
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("listen %s %s: %v", e.Network, e.Addr, e.Err)
}

func (e *ListenError) Unwrap() error {
	return e.Err
}
