package core

// EventKind is a notification the core emits to subscribers.
type EventKind int

const (
	// EventTableCreated announces a table that did not exist before.
	EventTableCreated EventKind = iota
	// EventTableSnapshot replays a table that existed when the subscription
	// started.
	EventTableSnapshot
)

// Event is sent to subscribers to describe a table.
type Event struct {
	Kind    EventKind
	Name    string
	TableID int32
}
