package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/husbylabs/warptables/internal/core"
	"github.com/husbylabs/warptables/internal/proto"
)

const outboundBuffer = 64

// WSHandler upgrades HTTP connections and serves the table protocol on them.
type WSHandler struct {
	hub       *core.Hub
	rateLimit int
	log       *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler. rateLimit caps inbound
// requests per connection per minute; zero disables the limit.
func NewWSHandler(hub *core.Hub, rateLimit int, logger *zerolog.Logger) stdhttp.Handler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &WSHandler{hub: hub, rateLimit: rateLimit, log: logger}
}

// session is the per-connection state shared by the read loop and the
// stream goroutines.
type session struct {
	id      string
	out     chan proto.Envelope
	limiter *rateLimiter
	log     zerolog.Logger

	mu      sync.Mutex
	streams map[uint64]context.CancelFunc
	wg      sync.WaitGroup
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	connID := uuid.NewString()
	s := &session{
		id:      connID,
		out:     make(chan proto.Envelope, outboundBuffer),
		limiter: newRateLimiter(h.rateLimit),
		log:     h.log.With().Str("conn_id", connID).Logger(),
		streams: make(map[uint64]context.CancelFunc),
	}
	defer h.hub.UnregisterConn(s.id)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)
	s.limiter.startReset(stop)

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, s)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, s)
	}()

	err = <-errCh
	cancel() // stop the other goroutine and every stream
	<-errCh
	s.wg.Wait()

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if st := websocket.CloseStatus(err); st != -1 {
			status = st
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			s.log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, s *session) error {
	for {
		var in proto.Envelope
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return err
		}

		if !s.limiter.allow() {
			s.reply(ctx, proto.ErrorEnvelope(in.ID, proto.CodeBadRequest, "rate limit exceeded"))
			continue
		}

		switch in.Type {
		case proto.TypeHandshake:
			h.handleHandshake(ctx, s, in)
		case proto.TypeFetchTable:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				h.handleFetchTable(ctx, s, in)
			}()
		case proto.TypeSubscribe:
			h.handleSubscribe(ctx, s, in)
		case proto.TypeCancel:
			s.cancelStream(in.ID)
		default:
			s.reply(ctx, proto.ErrorEnvelope(in.ID, proto.CodeBadRequest, "unknown message type "+in.Type))
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, s *session) error {
	for {
		select {
		case env := <-s.out:
			if err := wsjson.Write(ctx, conn, env); err != nil {
				s.log.Error().Err(err).Str("type", env.Type).Msg("write ws envelope")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) handleHandshake(ctx context.Context, s *session, in proto.Envelope) {
	var req proto.ClientHandshake
	if err := json.Unmarshal(in.Data, &req); err != nil {
		s.reply(ctx, proto.ErrorEnvelope(in.ID, proto.CodeBadRequest, "invalid handshake payload"))
		return
	}

	resp := proto.ServerHandshake{}
	if client, ok := h.hub.Handshake(req.Protocol, req.InstanceID, s.id); ok {
		resp.Supported = true
		resp.ClientID = client.ID
	}
	s.replyWith(ctx, proto.TypeHandshake, in.ID, resp)
}

func (h *WSHandler) handleFetchTable(ctx context.Context, s *session, in proto.Envelope) {
	var req proto.FetchTableRequest
	if err := json.Unmarshal(in.Data, &req); err != nil {
		s.reply(ctx, proto.ErrorEnvelope(in.ID, proto.CodeBadRequest, "invalid fetch_table payload"))
		return
	}

	table, err := h.hub.FetchTable(ctx, req.ClientID, req.Name)
	if err != nil {
		if core.ErrorCode(err) == core.ErrCodeInternal {
			s.log.Error().Err(err).Str("table", req.Name).Msg("fetch table")
		}
		s.reply(ctx, proto.ErrorEnvelope(in.ID, core.ErrorCode(err), err.Error()))
		return
	}
	s.replyWith(ctx, proto.TypeTable, in.ID, proto.TableResponse{Name: table.Name, TableID: table.ID})
}

func (h *WSHandler) handleSubscribe(ctx context.Context, s *session, in proto.Envelope) {
	var req proto.SubscribeTableRequest
	if err := json.Unmarshal(in.Data, &req); err != nil {
		s.reply(ctx, proto.ErrorEnvelope(in.ID, proto.CodeBadRequest, "invalid subscribe payload"))
		return
	}

	sub, snapshot, err := h.hub.Subscribe(ctx, req.ClientID)
	if err != nil {
		s.reply(ctx, proto.ErrorEnvelope(in.ID, core.ErrorCode(err), err.Error()))
		return
	}

	streamCtx, cancel := context.WithCancel(ctx)
	if !s.addStream(in.ID, cancel) {
		cancel()
		h.hub.Unsubscribe(sub)
		s.reply(ctx, proto.ErrorEnvelope(in.ID, proto.CodeBadRequest, "duplicate stream id"))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer h.hub.Unsubscribe(sub)
		defer s.removeStream(in.ID)
		h.stream(streamCtx, s, in.ID, sub, snapshot)
	}()
}

// stream writes the snapshot and then every announced table until the
// stream is cancelled.
func (h *WSHandler) stream(ctx context.Context, s *session, id uint64, sub *core.Subscription, snapshot []core.Event) {
	s.log.Debug().Int32("client_id", sub.ClientID).Uint64("stream_id", id).Msg("subscription opened")
	defer s.log.Debug().Int32("client_id", sub.ClientID).Uint64("stream_id", id).Msg("subscription closed")

	for _, ev := range snapshot {
		if !s.replyWith(ctx, proto.TypeTable, id, tableFromEvent(ev)) {
			return
		}
	}
	for {
		select {
		case ev := <-sub.Events:
			if !s.replyWith(ctx, proto.TypeTable, id, tableFromEvent(ev)) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func tableFromEvent(ev core.Event) proto.TableResponse {
	return proto.TableResponse{Name: ev.Name, TableID: ev.TableID}
}

func (s *session) replyWith(ctx context.Context, typ string, id uint64, v any) bool {
	env, err := proto.NewEnvelope(typ, id, v)
	if err != nil {
		s.log.Error().Err(err).Str("type", typ).Msg("marshal envelope")
		env = proto.ErrorEnvelope(id, proto.CodeInternal, "internal error")
	}
	return s.reply(ctx, env)
}

func (s *session) reply(ctx context.Context, env proto.Envelope) bool {
	select {
	case s.out <- env:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *session) addStream(id uint64, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.streams[id]; exists {
		return false
	}
	s.streams[id] = cancel
	return true
}

func (s *session) removeStream(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.streams[id]; ok {
		cancel()
		delete(s.streams, id)
	}
}

func (s *session) cancelStream(id uint64) {
	s.mu.Lock()
	cancel, ok := s.streams[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}
