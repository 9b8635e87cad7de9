package server

import (
	"errors"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/fenggwsx/RoomChat/internal/chat"
	"github.com/fenggwsx/RoomChat/internal/metrics"
)

// handleWebSocket upgrades the request and binds it to the hub. Requests
// without an identity are upgraded only to receive an error event and a
// policy violation close.
func (a *App) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, authErr := a.authn.Authenticate(r)

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	logger := a.logger.With().
		Str("remote_addr", r.RemoteAddr).
		Str("request_id", chimw.GetReqID(r.Context())).
		Logger()

	if authErr != nil {
		logger.Info().Err(authErr).Msg("rejecting unauthenticated connection")
		a.reject(conn, authErr)
		return
	}

	sess := newSession(conn, a.hub, identity, a.cfg, logger)
	ctx, cancel := sess.hubCtx()
	connID, err := a.hub.Accept(ctx, identity, sess)
	cancel()
	if err != nil {
		logger.Warn().Err(err).Msg("hub refused connection")
		a.reject(conn, err)
		return
	}
	sess.id = connID
	sess.logger = logger.With().
		Str("conn_id", connID).
		Str("user_id", identity.UserID).
		Str("role", string(identity.Role)).
		Logger()
	sess.logger.Info().Msg("connection accepted")

	go sess.writePump()
	sess.readPump()
	sess.logger.Info().Msg("connection closed")
}

func (a *App) reject(conn *websocket.Conn, cause error) {
	defer conn.Close()
	metrics.ConnectionsRejected.WithLabelValues(chat.Code(cause)).Inc()

	timeout := a.cfg.Transport.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)
	_ = conn.SetWriteDeadline(deadline)
	if frame, err := errorFrame("", cause); err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
	code := websocket.ClosePolicyViolation
	if !errors.Is(cause, chat.ErrAuthenticationMissing) {
		code = websocket.CloseTryAgainLater
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, chat.Code(cause)), deadline)
}
