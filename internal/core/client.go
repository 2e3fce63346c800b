package core

// Client is a handshaken session as seen by the core layer.
type Client struct {
	ID         int32
	InstanceID string
	// Conn identifies the transport connection that opened the session.
	Conn string
}
