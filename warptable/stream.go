package warptable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/husbylabs/warptables/internal/proto"
)

var errStreamClosed = errors.New("server closed the stream")

// subscribe holds the table announcement stream for one session
// generation. Any end of the stream that is not a cancellation ends the
// session.
func (c *Client) subscribe(ctx context.Context, gen uint64, clientID int32) {
	defer c.wg.Done()

	err := c.ch.Stream(ctx, proto.TypeSubscribe, proto.SubscribeTableRequest{ClientID: clientID}, func(raw json.RawMessage) error {
		var resp proto.TableResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			c.log.Warn().Err(err).Msg("skip malformed table update")
			return nil
		}
		c.applyTable(resp)
		return nil
	})
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = errStreamClosed
	}
	c.markDisconnected(gen, fmt.Errorf("%w: %w", ErrStreamError, err))
}

func (c *Client) applyTable(resp proto.TableResponse) {
	table, changed := c.tables.Put(resp.Name, resp.TableID)
	if changed {
		c.log.Debug().Str("table", table.Name).Int32("table_id", table.ID).Msg("table update")
	}
	c.notify(*table)
}

// notify queues table for the observers. One goroutine drains the queue at
// a time and exits once it is empty, so announcements keep their order.
func (c *Client) notify(table Table) {
	c.mu.Lock()
	hasObservers := len(c.observers) > 0
	c.mu.Unlock()
	if !hasObservers {
		return
	}

	c.notifyMu.Lock()
	c.pending = append(c.pending, table)
	if c.notifying {
		c.notifyMu.Unlock()
		return
	}
	c.notifying = true
	c.notifyMu.Unlock()

	go c.drainNotifications()
}

func (c *Client) drainNotifications() {
	for {
		c.notifyMu.Lock()
		batch := c.pending
		c.pending = nil
		if len(batch) == 0 {
			c.notifying = false
			c.notifyMu.Unlock()
			return
		}
		c.notifyMu.Unlock()

		c.mu.Lock()
		observers := make([]func(Table), len(c.observers))
		copy(observers, c.observers)
		c.mu.Unlock()

		for _, table := range batch {
			for _, fn := range observers {
				fn(table)
			}
		}
	}
}

// OnTable registers fn to receive every table announcement from the
// server. Calls happen one at a time, in arrival order, on a goroutine
// separate from the stream, so fn may call back into the client.
func (c *Client) OnTable(fn func(Table)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}
