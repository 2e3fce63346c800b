package core

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/husbylabs/warptables/internal/proto"
	"github.com/husbylabs/warptables/internal/store"
)

const subscriptionBuffer = 64

// Hub coordinates client sessions, table resolution and table announcements.
type Hub struct {
	store store.TableStore
	feed  *Feed
	log   *zerolog.Logger

	mu      sync.Mutex
	nextID  int32
	clients map[int32]*Client
}

// NewHub creates a hub backed by st.
func NewHub(st store.TableStore, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		store:   st,
		feed:    NewFeed(),
		log:     logger,
		nextID:  1,
		clients: make(map[int32]*Client),
	}
}

// Handshake checks the client's protocol version and, when supported,
// registers a new session.
func (h *Hub) Handshake(protocol int, instanceID, conn string) (*Client, bool) {
	if protocol != proto.ProtocolVersion {
		h.log.Warn().
			Int("protocol", protocol).
			Int("supported", proto.ProtocolVersion).
			Str("instance_id", instanceID).
			Msg("rejecting handshake")
		return nil, false
	}

	h.mu.Lock()
	client := &Client{ID: h.nextID, InstanceID: instanceID, Conn: conn}
	h.nextID++
	h.clients[client.ID] = client
	h.mu.Unlock()

	h.log.Info().Int32("client_id", client.ID).Str("instance_id", instanceID).Msg("client connected")
	return client, true
}

// UnregisterConn drops every session opened over conn.
func (h *Hub) UnregisterConn(conn string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		if client.Conn == conn {
			delete(h.clients, id)
			h.log.Debug().Int32("client_id", id).Msg("client disconnected")
		}
	}
}

// Client returns the session with id.
func (h *Hub) Client(id int32) (*Client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client, ok := h.clients[id]
	return client, ok
}

// FetchTable resolves name for clientID, creating the table on first use
// and announcing it to subscribers.
func (h *Hub) FetchTable(ctx context.Context, clientID int32, name string) (*store.Table, error) {
	if _, ok := h.Client(clientID); !ok {
		return nil, coreError(ErrCodeUnknownClient, "unknown client", ErrUnknownClient)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, coreError(ErrCodeBadRequest, "table name is required", ErrBadRequest)
	}

	table, created, err := h.store.GetOrCreateTable(ctx, name)
	if err != nil {
		return nil, coreError(ErrCodeInternal, "resolve table", err)
	}
	if created {
		h.log.Info().Str("table", table.Name).Int32("table_id", table.ID).Msg("table created")
		h.feed.Broadcast(Event{Kind: EventTableCreated, Name: table.Name, TableID: table.ID})
	}
	return table, nil
}

// Subscribe opens a table feed for clientID. The returned events start with
// a snapshot of existing tables. The caller must Unsubscribe.
func (h *Hub) Subscribe(ctx context.Context, clientID int32) (*Subscription, []Event, error) {
	if _, ok := h.Client(clientID); !ok {
		return nil, nil, coreError(ErrCodeUnknownClient, "unknown client", ErrUnknownClient)
	}

	sub := &Subscription{ClientID: clientID, Events: make(chan Event, subscriptionBuffer)}
	// Join before listing so a table created in between is not missed; it
	// may then arrive twice, which clients tolerate.
	h.feed.Add(sub)

	tables, err := h.store.ListTables(ctx)
	if err != nil {
		h.feed.Remove(sub)
		return nil, nil, coreError(ErrCodeInternal, "list tables", err)
	}

	snapshot := make([]Event, 0, len(tables))
	for _, t := range tables {
		snapshot = append(snapshot, Event{Kind: EventTableSnapshot, Name: t.Name, TableID: t.ID})
	}
	return sub, snapshot, nil
}

// Unsubscribe removes sub from the feed.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.feed.Remove(sub)
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	return h.feed.Len()
}

// Tables lists all known tables.
func (h *Hub) Tables(ctx context.Context) ([]*store.Table, error) {
	return h.store.ListTables(ctx)
}

// ErrorCode extracts the wire code of err.
func ErrorCode(err error) string {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}
