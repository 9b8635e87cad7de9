package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fenggwsx/RoomChat/internal/config"
	"github.com/fenggwsx/RoomChat/internal/protocol"
)

// ErrNotConnected is returned when sending on a closed session.
var ErrNotConnected = errors.New("not connected")

// Session manages the client side of a websocket connection to the chat server.
type Session struct {
	url   string
	token string

	conn     *websocket.Conn
	incoming chan protocol.Envelope
	done     chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewSession initializes a session with configuration.
func NewSession(cfg config.ClientConfig) *Session {
	return &Session{
		url:      cfg.ServerURL,
		token:    cfg.Token,
		incoming: make(chan protocol.Envelope, 64),
		done:     make(chan struct{}),
	}
}

// Connect dials the server and starts the read loop.
func (s *Session) Connect(ctx context.Context) error {
	if s.url == "" {
		return ErrNotConnected
	}
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, resp, err := dialer.DialContext(ctx, s.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return err
	}
	s.conn = conn
	go s.readLoop()
	return nil
}

// Messages streams decoded server events until the connection ends.
func (s *Session) Messages() <-chan protocol.Envelope {
	return s.incoming
}

// Send writes a client event and returns its reference id with the raw frame.
func (s *Session) Send(ctx context.Context, payload protocol.Inbound) (string, []byte, error) {
	if s.conn == nil {
		return "", nil, ErrNotConnected
	}
	select {
	case <-s.done:
		return "", nil, ErrNotConnected
	default:
	}

	id := uuid.NewString()
	frame, err := protocol.EncodeRequest(id, payload)
	if err != nil {
		return id, nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(sendTimeout)
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return id, frame, err
	}
	return id, frame, nil
}

// Close terminates the session.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn == nil {
			return
		}
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Session) readLoop() {
	defer close(s.incoming)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.DecodeEnvelope(raw)
		if err != nil {
			continue
		}
		select {
		case s.incoming <- env:
		case <-s.done:
			return
		}
	}
}
