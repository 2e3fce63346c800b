package warptable

import "errors"

var (
	// ErrUnsupportedProtocol means the server rejected the client's protocol
	// version. It is fatal for the Client and never retried.
	ErrUnsupportedProtocol = errors.New("unsupported protocol version")
	// ErrConnectTimeout is returned by Start when the connect window elapses
	// without auto-connect.
	ErrConnectTimeout = errors.New("warptables server is not accessible")
	// ErrNotConnected is returned by table and field operations attempted
	// without an established session.
	ErrNotConnected = errors.New("not connected")
	// ErrTransportFailure wraps channel errors during handshake and fetch.
	ErrTransportFailure = errors.New("transport failure")
	// ErrStreamError wraps failures of the subscription stream.
	ErrStreamError = errors.New("subscription stream failed")
	// ErrStopped is reported when Start is interrupted by Stop.
	ErrStopped = errors.New("client stopped")
)
