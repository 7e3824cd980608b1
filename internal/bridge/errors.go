package bridge

import (
	"errors"
	"fmt"
)

// ErrExchangeInFlight is returned by Call on the push channel when an
// exchange is already outstanding; that channel allows exactly one at a time.
var ErrExchangeInFlight = errors.New("an exchange is already in flight")

// ConnectionError means the transport was absent or failed: not connected,
// send failed, or the peer went away. It is the only error class that can
// complete a call because of link trouble elsewhere.
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection error: %s: %v", e.Reason, e.Err)
	}
	return "connection error: " + e.Reason
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError means no response arrived within the caller's deadline. The
// connection stays up; only this call is affected.
type TimeoutError struct {
	Method string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call %q timed out", e.Method)
}

// DecodeError means a result arrived but did not convert to the shape the
// caller asked for. Local to the one call that produced it.
type DecodeError struct {
	Method string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %q result: %v", e.Method, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
