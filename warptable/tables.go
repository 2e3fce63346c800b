package warptable

import (
	"context"
	"errors"
	"fmt"

	"github.com/husbylabs/warptables/channel"
	"github.com/husbylabs/warptables/internal/proto"
)

// GetTable resolves name to a table. Cached names are answered locally;
// otherwise the server is asked once and the answer cached. Concurrent
// misses for the same name share one request, which is bounded by
// FetchTimeout rather than by any single caller's ctx.
func (c *Client) GetTable(ctx context.Context, name string) (*Table, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	clientID, runCtx := c.clientID, c.runCtx
	c.mu.Unlock()

	if table, ok := c.tables.Lookup(name); ok {
		return table, nil
	}

	results := c.fetches.DoChan(name, func() (any, error) {
		if table, ok := c.tables.Lookup(name); ok {
			return table, nil
		}
		return c.fetchTable(runCtx, clientID, name)
	})
	select {
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Table), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) fetchTable(ctx context.Context, clientID int32, name string) (*Table, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()

	var resp proto.TableResponse
	err := c.ch.Call(callCtx, proto.TypeFetchTable, proto.FetchTableRequest{ClientID: clientID, Name: name}, &resp)
	if err != nil {
		var remote *channel.RemoteError
		if errors.As(err, &remote) {
			return nil, fmt.Errorf("fetch table %q: %w", name, err)
		}
		return nil, fmt.Errorf("%w: fetch table %q: %w", ErrTransportFailure, name, err)
	}

	table, _ := c.tables.Put(resp.Name, resp.TableID)
	if resp.Name != name {
		c.tables.Alias(name, table)
	}
	c.log.Debug().Str("table", resp.Name).Int32("table_id", resp.TableID).Msg("table fetched")
	return table, nil
}

// TableByID returns a cached table.
func (c *Client) TableByID(id int32) (*Table, bool) {
	return c.tables.ByID(id)
}

// Tables returns a snapshot of every table known to the client.
func (c *Client) Tables() []Table {
	return c.tables.All()
}

// Get returns the field with id. It works without a session.
func (c *Client) Get(id int) (*Field, bool) {
	return c.fields.Get(id)
}

// Lookup returns the field tagged tag without creating it.
func (c *Client) Lookup(tag string) (*Field, bool) {
	return c.fields.Lookup(tag)
}

// GetOrCreate returns the field tagged tag, declaring it with the smallest
// free id on first use.
func (c *Client) GetOrCreate(tag string) (*Field, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}
	f, created := c.fields.GetOrCreate(tag)
	if created {
		c.log.Debug().Str("tag", tag).Int("field_id", f.ID).Msg("field declared")
	}
	return f, nil
}

// Create declares an untagged field.
func (c *Client) Create() (*Field, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}
	return c.fields.Create(), nil
}

// Remove forgets the field with id; its id is reused by later declarations.
func (c *Client) Remove(id int) bool {
	return c.fields.Remove(id)
}
