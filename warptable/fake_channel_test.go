package warptable

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/husbylabs/warptables/channel"
	"github.com/husbylabs/warptables/internal/proto"
)

// fakeChannel is an in-memory channel.Channel whose state is driven by the
// test and which answers calls like a server would.
type fakeChannel struct {
	mu      sync.Mutex
	state   channel.State
	changed chan struct{}

	supported    bool
	clientID     int32
	tables       map[string]int32
	handshakeErr error
	fetchGate    chan struct{}

	handshakes int
	subscribes int
	fetches    map[string]int
	streams    map[*fakeStream]struct{}
}

type fakeStream struct {
	items chan proto.TableResponse
	end   chan error
}

func newFakeChannel(initial channel.State) *fakeChannel {
	return &fakeChannel{
		state:     initial,
		changed:   make(chan struct{}),
		supported: true,
		clientID:  7,
		tables:    make(map[string]int32),
		fetches:   make(map[string]int),
		streams:   make(map[*fakeStream]struct{}),
	}
}

func (f *fakeChannel) State(bool) channel.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) setState(s channel.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == s {
		return
	}
	f.state = s
	close(f.changed)
	f.changed = make(chan struct{})
	if s != channel.Ready {
		f.endStreamsLocked(channel.ErrConnectionLost)
	}
}

func (f *fakeChannel) WaitForStateChange(ctx context.Context, source channel.State) bool {
	for {
		f.mu.Lock()
		if f.state != source {
			f.mu.Unlock()
			return true
		}
		changed := f.changed
		f.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return false
		}
	}
}

func (f *fakeChannel) Call(ctx context.Context, method string, req, resp any) error {
	f.mu.Lock()
	if f.state != channel.Ready {
		f.mu.Unlock()
		return channel.ErrUnavailable
	}

	switch method {
	case proto.TypeHandshake:
		defer f.mu.Unlock()
		f.handshakes++
		if f.handshakeErr != nil {
			return f.handshakeErr
		}
		reply := resp.(*proto.ServerHandshake)
		reply.Supported = f.supported
		reply.ClientID = f.clientID
		return nil

	case proto.TypeFetchTable:
		q := req.(proto.FetchTableRequest)
		f.fetches[q.Name]++
		id, ok := f.tables[q.Name]
		gate := f.fetchGate
		f.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if !ok {
			return &channel.RemoteError{Code: proto.CodeBadRequest, Message: "no such table"}
		}
		*resp.(*proto.TableResponse) = proto.TableResponse{Name: q.Name, TableID: id}
		return nil
	}

	f.mu.Unlock()
	return &channel.RemoteError{Code: proto.CodeBadRequest, Message: "unknown method " + method}
}

func (f *fakeChannel) Stream(ctx context.Context, method string, req any, recv func(json.RawMessage) error) error {
	f.mu.Lock()
	if f.state != channel.Ready {
		f.mu.Unlock()
		return channel.ErrUnavailable
	}
	s := &fakeStream{
		items: make(chan proto.TableResponse, 16),
		end:   make(chan error, 1),
	}
	f.streams[s] = struct{}{}
	f.subscribes++
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.streams, s)
		f.mu.Unlock()
	}()

	for {
		select {
		case item := <-s.items:
			raw, err := json.Marshal(item)
			if err != nil {
				return err
			}
			if err := recv(raw); err != nil {
				return err
			}
		case err := <-s.end:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *fakeChannel) Close() error {
	f.setState(channel.Shutdown)
	return nil
}

func (f *fakeChannel) push(item proto.TableResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.streams {
		s.items <- item
	}
}

func (f *fakeChannel) endStreams(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endStreamsLocked(err)
}

func (f *fakeChannel) endStreamsLocked(err error) {
	for s := range f.streams {
		s.end <- err
		delete(f.streams, s)
	}
}

func (f *fakeChannel) counts() (handshakes, subscribes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handshakes, f.subscribes
}

func (f *fakeChannel) fetchCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[name]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
