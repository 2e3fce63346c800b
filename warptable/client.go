// Package warptable is the WarpTables client: it opens a session with a
// server through a version handshake, keeps it alive, resolves table names
// to ids and tracks locally declared fields.
package warptable

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/husbylabs/warptables/channel"
	"github.com/husbylabs/warptables/channel/ws"
	"github.com/husbylabs/warptables/internal/registry"
)

type (
	// Table is a table resolved to its server-assigned id.
	Table = registry.Table
	// Field is a local value slot identified by id and optionally a tag.
	Field = registry.Field
)

// Options configures a Client. Zero durations take the defaults of
// DefaultOptions.
type Options struct {
	// ConnectTimeout bounds the blocking part of Start.
	ConnectTimeout time.Duration
	// HandshakeTimeout bounds a single handshake call.
	HandshakeTimeout time.Duration
	// FetchTimeout bounds a table fetch.
	FetchTimeout time.Duration
	// RetryInterval is the pause between handshake attempts on a ready
	// channel.
	RetryInterval time.Duration
	// AutoConnect keeps reconnecting after a failed Start or a lost session
	// until Stop.
	AutoConnect bool
	// InstanceID identifies this client process to the server. A random
	// UUID is used when empty.
	InstanceID string
	Logger     *zerolog.Logger
	// OnError receives failures that happen on background goroutines.
	OnError func(error)
	// Channel configures the channel built by Dial.
	Channel ws.Options
}

// DefaultOptions returns the default client settings.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 2 * time.Second,
		FetchTimeout:     5 * time.Second,
		RetryInterval:    250 * time.Millisecond,
	}
}

// Client is a WarpTables session. It is safe for concurrent use.
type Client struct {
	ch   channel.Channel
	opts Options
	log  *zerolog.Logger

	tables  *registry.Tables
	fields  *registry.Fields
	fetches singleflight.Group

	mu          sync.Mutex
	state       State
	clientID    int32
	started     bool
	autoConnect bool
	mismatched  bool
	// reconnecting is the runCtx of the live reconnect loop, if any.
	reconnecting context.Context
	gen          uint64
	connected    chan struct{}
	runCtx       context.Context
	runCancel    context.CancelFunc
	connCancel   context.CancelFunc
	observers    []func(Table)

	// Announcements wait here for the observer goroutine so a slow
	// observer never holds up the stream.
	notifyMu  sync.Mutex
	pending   []Table
	notifying bool

	wg sync.WaitGroup
}

// Dial builds a Client speaking to the WebSocket endpoint at url. Nothing
// is sent until Start.
func Dial(url string, opts Options) *Client {
	chOpts := opts.Channel
	if chOpts.Logger == nil {
		chOpts.Logger = opts.Logger
	}
	return New(ws.Dial(url, chOpts), opts)
}

// New builds a Client on top of ch.
func New(ch channel.Channel, opts Options) *Client {
	def := DefaultOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = def.FetchTimeout
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = def.RetryInterval
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	withInstance := logger.With().Str("instance_id", opts.InstanceID).Logger()

	return &Client{
		ch:          ch,
		opts:        opts,
		log:         &withInstance,
		tables:      registry.NewTables(),
		fields:      registry.NewFields(),
		state:       StateDisconnected,
		autoConnect: opts.AutoConnect,
		connected:   make(chan struct{}),
	}
}

// Start opens the session. It blocks until the handshake succeeds or the
// connect window elapses. When the window elapses with auto-connect enabled
// the client keeps trying in the background and Start returns nil;
// otherwise Start returns ErrConnectTimeout and the client is left
// disconnected, ready for another Start.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.mismatched {
		c.mu.Unlock()
		return ErrUnsupportedProtocol
	}
	if !c.started {
		c.started = true
		c.runCtx, c.runCancel = context.WithCancel(context.Background())
	}
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateDisconnected || c.state == StateStopped {
		c.state = StateAwaitingTransport
	}
	runCtx := c.runCtx
	c.mu.Unlock()

	c.log.Info().Dur("timeout", c.opts.ConnectTimeout).Msg("starting warptables client")

	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	stopWait := context.AfterFunc(runCtx, cancel)
	defer stopWait()

	err := c.connectLoop(waitCtx, false)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnsupportedProtocol), errors.Is(err, ErrTransportFailure):
		c.abort(runCtx)
		return err
	case runCtx.Err() != nil:
		return ErrStopped
	case ctx.Err() != nil:
		c.abort(runCtx)
		return ctx.Err()
	}

	if c.AutoConnectEnabled() {
		c.log.Warn().Msg("server not reachable yet, reconnecting in background")
		c.startReconnect()
		return nil
	}
	c.abort(runCtx)
	return fmt.Errorf("%w: no session within %s", ErrConnectTimeout, c.opts.ConnectTimeout)
}

// abort rolls a failed Start back to Disconnected.
func (c *Client) abort(runCtx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runCtx != runCtx || c.state == StateConnected {
		return
	}
	c.started = false
	c.state = StateDisconnected
	c.runCancel()
}

// Stop ends network activity: the reconnect loop, watcher and stream are
// cancelled. Resolved tables and fields are kept for a later Start.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.runCancel()
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	if c.state == StateConnected {
		c.connected = make(chan struct{})
	}
	c.state = StateStopped
	c.gen++
	c.mu.Unlock()

	c.log.Info().Msg("stopping warptables client")
}

// Close stops the client and closes its channel.
func (c *Client) Close() error {
	c.Stop()
	return c.ch.Close()
}

// AwaitTermination waits up to timeout for background goroutines to exit
// after Stop. It reports whether they did.
func (c *Client) AwaitTermination(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// AwaitConnection blocks until the client is connected or ctx is done.
func (c *Client) AwaitConnection(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	connected := c.connected
	c.mu.Unlock()

	select {
	case <-connected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnableAutoConnect keeps the client connected until Stop.
func (c *Client) EnableAutoConnect() {
	c.mu.Lock()
	c.autoConnect = true
	c.mu.Unlock()
}

// DisableAutoConnect turns auto-connect off. A running reconnect loop
// finishes its current attempt cycle.
func (c *Client) DisableAutoConnect() {
	c.mu.Lock()
	c.autoConnect = false
	c.mu.Unlock()
}

// AutoConnectEnabled reports the auto-connect setting.
func (c *Client) AutoConnectEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoConnect
}

// Connected reports whether a session is established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// ClientID returns the id assigned by the server; ok is false while
// disconnected.
func (c *Client) ClientID() (id int32, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return 0, false
	}
	return c.clientID, true
}

// State returns the session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) report(err error) {
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}
