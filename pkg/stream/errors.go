package stream

import (
	"errors"
	"fmt"
)

// ErrReconnectExhausted is delivered to OnError exactly once when the backoff
// budget is spent. The channel is closed afterwards; callers should degrade
// to polling.
var ErrReconnectExhausted = errors.New("stream: reconnect attempts exhausted")

// ErrClosed is returned by operations on a channel after Disconnect.
var ErrClosed = errors.New("stream: channel closed")

// ConnectionError wraps a transport failure during connect or while open.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("stream: connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError marks a message the channel could not decode. Individual
// malformed messages are logged and dropped, never surfaced to OnError; the
// type exists so log consumers can tell decode noise from transport failure.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("stream: malformed message: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
