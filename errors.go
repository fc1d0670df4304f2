package rdnstap

import (
	"fmt"
)

// InitError is returned when a tap environment can not be created, for example
// because of an unsupported network or an invalid collector endpoint.
type InitError struct {
	Endpoint string
	Err      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("failed to initialize dnstap for '%s': %s", e.Endpoint, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// EncodingError is returned when an event could not be serialized into a frame.
// The event is dropped.
type EncodingError struct {
	Type MessageType
	Err  error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("failed to encode %s event: %s", e.Type, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// ConnectError is returned when the collector could not be reached. It's retried
// until the tap is stopped.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to '%s': %s", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError is returned when writing a frame to the collector failed. The frame is
// requeued and the connection re-established.
type SendError struct {
	Endpoint string
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("failed to send frame to '%s': %s", e.Endpoint, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// QueryError is returned when an upstream server could not be queried.
type QueryError struct {
	Endpoint string
	Err      error
}

func (e QueryError) Error() string {
	return fmt.Sprintf("query to '%s' failed: %s", e.Endpoint, e.Err)
}

func (e QueryError) Unwrap() error { return e.Err }
