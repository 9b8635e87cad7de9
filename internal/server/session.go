package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/fenggwsx/RoomChat/internal/chat"
	"github.com/fenggwsx/RoomChat/internal/config"
	"github.com/fenggwsx/RoomChat/internal/protocol"
)

// session is the websocket side of one hub connection. It implements
// chat.Sink; the hub enqueues frames and the write pump delivers them.
type session struct {
	id       string
	conn     *websocket.Conn
	hub      *chat.Hub
	identity chat.Identity
	cfg      config.TransportConfig
	limiter  *rate.Limiter
	logger   zerolog.Logger

	mu        sync.Mutex
	send      chan []byte
	closed    bool
	closeCode int
}

func newSession(conn *websocket.Conn, hub *chat.Hub, identity chat.Identity, cfg config.ServerConfig, logger zerolog.Logger) *session {
	var limiter *rate.Limiter
	if cfg.Transport.RateBurst > 0 && cfg.Transport.RateInterval > 0 {
		every := cfg.Transport.RateInterval / time.Duration(cfg.Transport.RateBurst)
		limiter = rate.NewLimiter(rate.Every(every), cfg.Transport.RateBurst)
	}
	buffer := cfg.Chat.SendBuffer
	if buffer <= 0 {
		buffer = 256
	}
	transport := cfg.Transport
	if transport.PongWait <= 0 {
		transport.PongWait = 60 * time.Second
	}
	if transport.PingInterval <= 0 || transport.PingInterval >= transport.PongWait {
		transport.PingInterval = transport.PongWait * 9 / 10
	}
	if transport.WriteTimeout <= 0 {
		transport.WriteTimeout = 10 * time.Second
	}
	transport.MaxFrameBytes = frameLimit(cfg)
	transport.HubTimeout = hubTimeout(transport)
	return &session{
		conn:      conn,
		hub:       hub,
		identity:  identity,
		cfg:       transport,
		limiter:   limiter,
		logger:    logger,
		send:      make(chan []byte, buffer),
		closeCode: websocket.CloseNormalClosure,
	}
}

// Enqueue buffers a frame for the write pump without blocking.
func (s *session) Enqueue(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// Close stops accepting frames; the write pump flushes what is queued and
// then closes the socket.
func (s *session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

func (s *session) terminate(code int) {
	s.mu.Lock()
	s.closeCode = code
	s.mu.Unlock()
}

func (s *session) hubCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cfg.HubTimeout)
}

const (
	defaultHubTimeout = 5 * time.Second
	// escapedByteWidth is the widest JSON encoding of one body byte (\u00XX).
	escapedByteWidth = 6
	envelopeOverhead = 4 << 10
)

func hubTimeout(cfg config.TransportConfig) time.Duration {
	if cfg.HubTimeout <= 0 {
		return defaultHubTimeout
	}
	return cfg.HubTimeout
}

// frameLimit is the read limit for one frame. It is raised to fit a maximal
// chat body in its worst-case escaping, so oversized bodies reach the router
// and are rejected with MessageTooLarge instead of a 1009 close.
func frameLimit(cfg config.ServerConfig) int64 {
	limit := cfg.Transport.MaxFrameBytes
	if cfg.Chat.MaxMessageBytes <= 0 {
		return limit
	}
	need := int64(cfg.Chat.MaxMessageBytes)*escapedByteWidth + envelopeOverhead
	if limit <= 0 || limit >= need {
		return limit
	}
	return need
}

// readPump decodes client events until the transport fails or a terminal
// error occurs, then removes the connection from the hub.
func (s *session) readPump() {
	defer func() {
		ctx, cancel := s.hubCtx()
		defer cancel()
		if err := s.hub.Disconnect(ctx, s.id); err != nil && !errors.Is(err, chat.ErrHubClosed) && !errors.Is(err, chat.ErrUnknownConnection) {
			s.logger.Warn().Err(err).Msg("disconnect")
		}
		s.Close()
	}()

	if s.cfg.MaxFrameBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxFrameBytes)
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}
		if s.limiter != nil && !s.limiter.Allow() {
			s.sendError(referenceOf(raw), chat.ErrRateLimited)
			continue
		}
		if !s.handle(raw) {
			return
		}
	}
}

// handle dispatches one frame and reports whether the session may continue.
func (s *session) handle(raw []byte) bool {
	req, err := protocol.DecodeRequest(raw)
	if err != nil {
		s.sendError(req.ID, err)
		return true
	}

	ctx, cancel := s.hubCtx()
	defer cancel()

	switch p := req.Payload.(type) {
	case protocol.JoinRoom:
		if err = s.hub.Join(ctx, s.id, p); err == nil {
			s.sendAck(req.ID, req.Event, p.RoomID)
		}
	case protocol.LeaveRoom:
		if err = s.hub.Leave(ctx, s.id, p); err == nil {
			s.sendAck(req.ID, req.Event, p.RoomID)
		}
	case protocol.ChatMessage:
		err = s.hub.Submit(ctx, s.id, p)
	}
	if err == nil {
		return true
	}

	if chat.Terminal(err) {
		s.logger.Info().Err(err).Str("event", string(req.Event)).Msg("terminating connection")
		if errors.Is(err, chat.ErrIdentityMismatch) {
			s.sendError(req.ID, err)
			s.terminate(websocket.ClosePolicyViolation)
		}
		return false
	}
	s.logger.Debug().Err(err).Str("event", string(req.Event)).Msg("request rejected")
	s.sendError(req.ID, err)
	return true
}

func (s *session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.logger.Warn().Int64("limit", s.cfg.MaxFrameBytes).Msg("frame exceeded read limit")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
		errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		s.logger.Debug().Err(fmt.Errorf("%w: %v", chat.ErrTransportDisconnect, err)).Msg("client disconnected")
	default:
		s.logger.Debug().Err(fmt.Errorf("%w: %v", chat.ErrTransportDisconnect, err)).Msg("read failed")
	}
}

// writePump is the only writer on the socket and the only place it is closed.
func (s *session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				s.mu.Lock()
				code := s.closeCode
				s.mu.Unlock()
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// referenceOf extracts the client reference id from a frame that was not
// otherwise processed.
func referenceOf(raw []byte) string {
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		return ""
	}
	return env.ID
}
