package warptable

import "fmt"

// State is the session state of a Client.
type State int

const (
	// StateDisconnected is the initial state, and the state after a failed
	// Start or a lost connection without auto-connect.
	StateDisconnected State = iota
	// StateAwaitingTransport waits for the channel to become ready. A Client
	// that loses its connection with auto-connect enabled sits here.
	StateAwaitingTransport
	// StateHandshaking has a handshake in flight.
	StateHandshaking
	// StateConnected has a session; table and field operations are allowed.
	StateConnected
	// StateStopped follows Stop.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAwaitingTransport:
		return "awaiting_transport"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
