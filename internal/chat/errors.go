package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage is returned when a send is requested with blank text.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoPeerSelected is returned when a send has no destination.
	ErrNoPeerSelected = errors.New("no peer selected")
	// ErrConnectTimeout is returned when connection establishment exceeds its timeout.
	ErrConnectTimeout = errors.New("connect timeout")
	// ErrMessageTooLarge is returned when an inbound message exceeds the size cap.
	ErrMessageTooLarge = errors.New("message too large")
)

// BindError means the listener could not bind its address.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// AcceptError is a transient failure of a single Accept call.
type AcceptError struct {
	Err error
}

func (e *AcceptError) Error() string {
	return fmt.Sprintf("accept: %v", e.Err)
}

func (e *AcceptError) Unwrap() error { return e.Err }

// ReceiveError is an I/O failure while reading one inbound connection.
type ReceiveError struct {
	Remote string
	Err    error
}

func (e *ReceiveError) Error() string {
	return fmt.Sprintf("receive from %s: %v", e.Remote, e.Err)
}

func (e *ReceiveError) Unwrap() error { return e.Err }

// SendError is a failed send. Op is "connect" or "write".
type SendError struct {
	Op       string
	Endpoint PeerEndpoint
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s to %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Timeout reports whether the send failed on the connect timeout.
func (e *SendError) Timeout() bool {
	return errors.Is(e.Err, ErrConnectTimeout)
}
