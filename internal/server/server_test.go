package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/RoomChat/internal/auth"
	"github.com/fenggwsx/RoomChat/internal/chat"
	"github.com/fenggwsx/RoomChat/internal/config"
	"github.com/fenggwsx/RoomChat/internal/protocol"
	"github.com/fenggwsx/RoomChat/internal/storage/sqlite"
)

type testServer struct {
	base  string
	store *sqlite.Store
	cfg   config.ServerConfig
}

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		AuthMode:       config.AuthModeHeader,
		AllowedOrigins: []string{"http://app.example"},
		JWT:            config.JWTConfig{Secret: "secret", Issuer: "roomchat", Expiration: time.Hour},
		Chat: config.ChatConfig{
			MaxMessageBytes: 32,
			GracePeriod:     50 * time.Millisecond,
			SendBuffer:      64,
		},
		Transport: config.TransportConfig{
			MaxFrameBytes: 4 << 10,
			PongWait:      5 * time.Second,
			PingInterval:  4 * time.Second,
			WriteTimeout:  time.Second,
			RateBurst:     100,
			RateInterval:  time.Second,
			HubTimeout:    time.Second,
		},
		Persist: config.PersistConfig{
			Workers:        1,
			QueueSize:      16,
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Timeout:        time.Second,
		},
	}
}

func startServer(t *testing.T, cfg config.ServerConfig) *testServer {
	t.Helper()
	store, err := sqlite.NewStore(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "chat.db")})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	authn, err := auth.New(cfg)
	require.NoError(t, err)
	app := NewApp(cfg, store, authn, zerolog.Nop())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, listener) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		_ = store.Close()
	})

	return &testServer{base: listener.Addr().String(), store: store, cfg: cfg}
}

func (s *testServer) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+s.base+"/ws", header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *testServer) dialAs(t *testing.T, userID string, role protocol.Role) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set(auth.HeaderUserID, userID)
	header.Set(auth.HeaderUserRole, string(role))
	return s.dial(t, header)
}

func send(t *testing.T, conn *websocket.Conn, id string, payload protocol.Inbound) {
	t.Helper()
	frame, err := protocol.EncodeRequest(id, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// next reads frames until one with the wanted event arrives.
func next(t *testing.T, conn *websocket.Conn, event protocol.EventName) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		env, err := protocol.DecodeEnvelope(raw)
		require.NoError(t, err)
		if env.Event == event {
			return env
		}
	}
}

func join(t *testing.T, conn *websocket.Conn, room, userID string, role protocol.Role) {
	t.Helper()
	send(t, conn, "join-"+room, protocol.JoinRoom{RoomID: room, UserID: userID, UserRole: role})
	var ack protocol.AckPayload
	require.NoError(t, next(t, conn, protocol.EventAck).Bind(&ack))
	assert.Equal(t, "join-"+room, ack.ReferenceID)
	assert.Equal(t, protocol.EventJoinRoom, ack.Event)
}

func expectError(t *testing.T, conn *websocket.Conn, code string) protocol.ErrorPayload {
	t.Helper()
	var payload protocol.ErrorPayload
	require.NoError(t, next(t, conn, protocol.EventError).Bind(&payload))
	assert.Equal(t, code, payload.Code)
	return payload
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, code, closeErr.Code)
		return
	}
}

func TestGatewayDeliversMessagesToRoom(t *testing.T) {
	srv := startServer(t, testConfig())
	alice := srv.dialAs(t, "alice", protocol.RoleCustomer)
	bob := srv.dialAs(t, "bob", protocol.RoleCompany)

	join(t, alice, "room", "alice", protocol.RoleCustomer)
	join(t, bob, "room", "bob", protocol.RoleCompany)

	send(t, alice, "m1", protocol.ChatMessage{RoomID: "room", SenderID: "alice", SenderModel: protocol.RoleCustomer, Message: "hello"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		var msg protocol.MessagePayload
		require.NoError(t, next(t, conn, protocol.EventMessage).Bind(&msg))
		assert.Equal(t, "hello", msg.Message)
		assert.Equal(t, "alice", msg.SenderID)
		assert.Equal(t, protocol.RoleCustomer, msg.SenderModel)
		assert.False(t, msg.Timestamp.IsZero())
	}

	require.Eventually(t, func() bool {
		history, err := srv.store.FetchHistory(context.Background(), "room", 10)
		return err == nil && len(history) == 1 && history[0].Body == "hello"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestGatewayRejectsMissingAuthentication(t *testing.T) {
	srv := startServer(t, testConfig())
	conn := srv.dial(t, nil)

	payload := expectError(t, conn, chat.CodeAuthenticationMissing)
	assert.Empty(t, payload.ReferenceID)
	expectClose(t, conn, websocket.ClosePolicyViolation)
}

func TestGatewayTerminatesOnIdentityMismatch(t *testing.T) {
	srv := startServer(t, testConfig())
	conn := srv.dialAs(t, "alice", protocol.RoleCustomer)

	send(t, conn, "j1", protocol.JoinRoom{RoomID: "room", UserID: "mallory", UserRole: protocol.RoleCustomer})
	payload := expectError(t, conn, chat.CodeIdentityMismatch)
	assert.Equal(t, "j1", payload.ReferenceID)
	expectClose(t, conn, websocket.ClosePolicyViolation)
}

func TestGatewayReportsRecoverableErrors(t *testing.T) {
	srv := startServer(t, testConfig())
	conn := srv.dialAs(t, "alice", protocol.RoleWorker)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"joinRoom","id":"bad","data":{"roomId":""}}`)))
	payload := expectError(t, conn, chat.CodeInvalidPayload)
	assert.Equal(t, "bad", payload.ReferenceID)

	send(t, conn, "c0", protocol.ChatMessage{RoomID: "room", SenderID: "alice", SenderModel: protocol.RoleWorker, Message: "hi"})
	expectError(t, conn, chat.CodeNotJoined)

	join(t, conn, "room", "alice", protocol.RoleWorker)

	send(t, conn, "c1", protocol.ChatMessage{RoomID: "room", SenderID: "alice", SenderModel: protocol.RoleWorker, Message: "  "})
	expectError(t, conn, chat.CodeEmptyMessage)

	send(t, conn, "c2", protocol.ChatMessage{RoomID: "room", SenderID: "alice", SenderModel: protocol.RoleWorker, Message: strings.Repeat("x", 33)})
	expectError(t, conn, chat.CodeMessageTooLarge)

	send(t, conn, "l1", protocol.LeaveRoom{RoomID: "room"})
	var ack protocol.AckPayload
	require.NoError(t, next(t, conn, protocol.EventAck).Bind(&ack))
	assert.Equal(t, protocol.EventLeaveRoom, ack.Event)
}

func TestGatewayPresenceLifecycle(t *testing.T) {
	srv := startServer(t, testConfig())
	bob := srv.dialAs(t, "bob", protocol.RoleCompany)
	join(t, bob, "room", "bob", protocol.RoleCompany)

	alice := srv.dialAs(t, "alice", protocol.RoleCustomer)
	join(t, alice, "room", "alice", protocol.RoleCustomer)

	var status protocol.UserStatusPayload
	require.NoError(t, next(t, bob, protocol.EventUserStatus).Bind(&status))
	assert.Equal(t, protocol.UserStatusPayload{UserID: "alice", Status: protocol.StatusOnline}, status)
	assert.True(t, presenceOnline(t, srv, "alice"))

	require.NoError(t, alice.Close())

	require.NoError(t, next(t, bob, protocol.EventUserStatus).Bind(&status))
	assert.Equal(t, protocol.UserStatusPayload{UserID: "alice", Status: protocol.StatusOffline}, status)
	assert.False(t, presenceOnline(t, srv, "alice"))
}

func TestGatewayJWTQueryToken(t *testing.T) {
	cfg := testConfig()
	cfg.AuthMode = config.AuthModeJWT
	srv := startServer(t, cfg)

	token, err := auth.NewToken(cfg.JWT, "dana", protocol.RoleWorker)
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.base+"/ws?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()

	join(t, conn, "room", "dana", protocol.RoleWorker)
}

func TestGatewayRejectsForeignOrigin(t *testing.T) {
	srv := startServer(t, testConfig())
	header := http.Header{}
	header.Set(auth.HeaderUserID, "alice")
	header.Set(auth.HeaderUserRole, "customer")
	header.Set("Origin", "http://evil.example")

	_, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.base+"/ws", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://APP.example")
	conn := srv.dial(t, header)
	join(t, conn, "room", "alice", protocol.RoleCustomer)
}

func TestHealthEndpoint(t *testing.T) {
	srv := startServer(t, testConfig())
	resp, err := http.Get("http://" + srv.base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
}

func presenceOnline(t *testing.T, srv *testServer, userID string) bool {
	t.Helper()
	resp, err := http.Get("http://" + srv.base + "/presence/" + userID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body presenceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, userID, body.UserID)
	return body.Online
}

func TestGatewayFrameLimitCarriesMaximalBody(t *testing.T) {
	cfg := testConfig()
	cfg.Chat.MaxMessageBytes = 4096
	cfg.Transport.MaxFrameBytes = 16 << 10
	srv := startServer(t, cfg)
	conn := srv.dialAs(t, "alice", protocol.RoleCustomer)
	join(t, conn, "room", "alice", protocol.RoleCustomer)

	for _, size := range []int{4097, 20000} {
		send(t, conn, "big", protocol.ChatMessage{RoomID: "room", SenderID: "alice", SenderModel: protocol.RoleCustomer, Message: strings.Repeat("x", size)})
		payload := expectError(t, conn, chat.CodeMessageTooLarge)
		assert.Equal(t, "big", payload.ReferenceID)
	}

	body := "x" + strings.Repeat("\x01", 3000)
	send(t, conn, "escaped", protocol.ChatMessage{RoomID: "room", SenderID: "alice", SenderModel: protocol.RoleCustomer, Message: body})
	var msg protocol.MessagePayload
	require.NoError(t, next(t, conn, protocol.EventMessage).Bind(&msg))
	assert.Equal(t, body, msg.Message)
}

func TestGatewayRateLimitsBursts(t *testing.T) {
	cfg := testConfig()
	cfg.Transport.RateBurst = 2
	cfg.Transport.RateInterval = time.Hour
	srv := startServer(t, cfg)
	conn := srv.dialAs(t, "alice", protocol.RoleCustomer)

	join(t, conn, "room", "alice", protocol.RoleCustomer)
	send(t, conn, "c1", protocol.ChatMessage{RoomID: "room", SenderID: "alice", SenderModel: protocol.RoleCustomer, Message: "first"})
	var msg protocol.MessagePayload
	require.NoError(t, next(t, conn, protocol.EventMessage).Bind(&msg))
	assert.Equal(t, "first", msg.Message)

	send(t, conn, "c2", protocol.ChatMessage{RoomID: "room", SenderID: "alice", SenderModel: protocol.RoleCustomer, Message: "second"})
	payload := expectError(t, conn, chat.CodeRateLimited)
	assert.Equal(t, "c2", payload.ReferenceID)
	assert.True(t, presenceOnline(t, srv, "alice"), "rate limiting keeps the connection")
}

func TestHTTPEndpointsDefaultHubTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Transport.HubTimeout = 0
	srv := startServer(t, cfg)

	resp, err := http.Get("http://" + srv.base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.False(t, presenceOnline(t, srv, "nobody"))
}

func TestFrameLimit(t *testing.T) {
	tests := []struct {
		name     string
		frame    int64
		message  int
		expected int64
	}{
		{name: "raised to fit escaped body", frame: 16 << 10, message: 4096, expected: 4096*escapedByteWidth + envelopeOverhead},
		{name: "larger limit kept", frame: 1 << 20, message: 4096, expected: 1 << 20},
		{name: "unlimited kept", frame: 0, message: 4096, expected: 0},
		{name: "no message bound", frame: 512, message: 0, expected: 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Transport.MaxFrameBytes = tt.frame
			cfg.Chat.MaxMessageBytes = tt.message
			assert.Equal(t, tt.expected, frameLimit(cfg))
		})
	}
}
