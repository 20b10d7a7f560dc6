package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrLinkLost is returned when the connection-state stream reports loss.
	ErrLinkLost = errors.New("vehicle connection lost")
	// ErrLinkSilent is returned when no telemetry arrived within the
	// liveness timeout.
	ErrLinkSilent = errors.New("telemetry link silent")
	// ErrStreamClosed is wrapped by StreamError.
	ErrStreamClosed = errors.New("telemetry stream closed")
)

// ConnectError is a failure before the link was established.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string { return "connect: " + e.Err.Error() }
func (e *ConnectError) Unwrap() error { return e.Err }

// SubscribeError is a stream the link refused to open.
type SubscribeError struct {
	Stream string
	Err    error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe %s: %v", e.Stream, e.Err)
}
func (e *SubscribeError) Unwrap() error { return e.Err }

// StreamError is a stream that ended while the epoch was active.
type StreamError struct {
	Stream string
}

func (e *StreamError) Error() string { return e.Stream + " stream closed" }
func (e *StreamError) Unwrap() error { return ErrStreamClosed }

// TaskPanicError is an epoch task that panicked. The epoch is torn down
// like any other failure.
type TaskPanicError struct {
	Task  string
	Value any
}

func (e *TaskPanicError) Error() string {
	return fmt.Sprintf("%s task panicked: %v", e.Task, e.Value)
}
