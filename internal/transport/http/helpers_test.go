package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/husbylabs/warptables/internal/config"
	"github.com/husbylabs/warptables/internal/core"
	"github.com/husbylabs/warptables/internal/proto"
	"github.com/husbylabs/warptables/internal/store/sqlite"
)

// startTestServer serves a hub backed by an in-memory SQLite store.
func startTestServer(t *testing.T, cfg config.ServerConfig) (*httptest.Server, *core.Hub) {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	hub := core.NewHub(st, nil)
	server := NewServer(hub, cfg, nil)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts, hub
}

func dialTestServer(t *testing.T, ctx context.Context, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, id uint64, v any) {
	t.Helper()

	env, err := proto.NewEnvelope(typ, id, v)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, env); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

func receive(t *testing.T, ctx context.Context, conn *websocket.Conn) proto.Envelope {
	t.Helper()

	readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var env proto.Envelope
	if err := wsjson.Read(readCtx, conn, &env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

// handshake opens a session on conn and returns its client id.
func handshake(t *testing.T, ctx context.Context, conn *websocket.Conn) int32 {
	t.Helper()

	send(t, ctx, conn, proto.TypeHandshake, 1, proto.ClientHandshake{Protocol: proto.ProtocolVersion, InstanceID: "test"})
	env := receive(t, ctx, conn)
	reply := decodeData[proto.ServerHandshake](t, env)
	if !reply.Supported {
		t.Fatalf("handshake rejected: %+v", env)
	}
	return reply.ClientID
}

func decodeData[T any](t *testing.T, env proto.Envelope) T {
	t.Helper()

	var v T
	if env.Type == proto.TypeError {
		t.Fatalf("unexpected error envelope: %+v", env.Error)
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", env.Type, err)
	}
	return v
}
