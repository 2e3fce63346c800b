// Package channel defines the transport the WarpTables client runs on: a
// connection with observable connectivity that carries unary calls and
// server streams.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// State is the connectivity state of a Channel.
type State int

const (
	// Idle means no connection attempt is in progress.
	Idle State = iota
	// Connecting means a connection is being established.
	Connecting
	// Ready means the channel can carry calls.
	Ready
	// TransientFailure means the last attempt failed or the connection dropped.
	// The channel retries on its own.
	TransientFailure
	// Shutdown means the channel was closed and will not reconnect.
	Shutdown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Connecting:
		return "CONNECTING"
	case Ready:
		return "READY"
	case TransientFailure:
		return "TRANSIENT_FAILURE"
	case Shutdown:
		return "SHUTDOWN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrUnavailable is returned by calls issued while the channel is not Ready.
	ErrUnavailable = errors.New("channel unavailable")
	// ErrConnectionLost is returned by calls whose connection dropped mid-flight.
	ErrConnectionLost = errors.New("connection lost")
	// ErrShutdown is returned by calls on a closed channel.
	ErrShutdown = errors.New("channel shut down")
)

// RemoteError is an error reply sent by the server.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
}

// Channel is a client connection to a WarpTables server.
//
// State and WaitForStateChange mirror a gRPC client connection: the caller
// observes a state and blocks until it differs, re-arming after every change.
type Channel interface {
	// State returns the current connectivity state. When connect is true an
	// Idle channel starts connecting.
	State(connect bool) State
	// WaitForStateChange blocks until the state differs from source or ctx is
	// done. It reports whether the state changed.
	WaitForStateChange(ctx context.Context, source State) bool
	// Call sends req under method and decodes the single reply into resp.
	Call(ctx context.Context, method string, req, resp any) error
	// Stream sends req under method and hands every item to recv until the
	// server ends the stream (nil), recv fails, the connection drops, or ctx
	// is done.
	Stream(ctx context.Context, method string, req any, recv func(json.RawMessage) error) error
	// Close shuts the channel down.
	Close() error
}
