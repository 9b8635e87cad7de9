package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fenggwsx/RoomChat/internal/metrics"
	"github.com/fenggwsx/RoomChat/internal/protocol"
)

// Options configures a Hub.
type Options struct {
	MaxMessageBytes int
	GracePeriod     time.Duration
	Scheduler       Scheduler
	Now             func() time.Time
	Archiver        Archiver
	Logger          zerolog.Logger
	// QueueSize bounds commands waiting for the loop.
	QueueSize int
}

// Stats is a point in time summary of hub state.
type Stats struct {
	Connections int
	Rooms       int
	OnlineUsers int
}

// Hub owns the registry, presence tracker and router. Every mutation runs
// on the goroutine executing Run; public methods submit closures to it and
// wait for the result.
type Hub struct {
	cmds chan func()
	done chan struct{}

	conns    map[string]*Conn
	registry *Registry
	presence *Presence
	router   *Router
	archiver Archiver
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
}

// NewHub creates a hub; Run must be called before it serves requests.
func NewHub(opts Options) *Hub {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	queue := opts.QueueSize
	if queue <= 0 {
		queue = 256
	}
	h := &Hub{
		cmds:     make(chan func(), queue),
		done:     make(chan struct{}),
		conns:    make(map[string]*Conn),
		registry: NewRegistry(now),
		router:   NewRouter(opts.MaxMessageBytes, now),
		archiver: opts.Archiver,
		logger:   opts.Logger.With().Str("component", "hub").Logger(),
		now:      now,
		newID:    uuid.NewString,
	}
	h.presence = NewPresence(opts.GracePeriod, opts.Scheduler, now, h.scheduleExpire)
	return h
}

// Run processes commands until ctx is cancelled, then closes every sink.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return nil
		case fn := <-h.cmds:
			fn()
		}
	}
}

// Done is closed once the loop has stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	select {
	case h.cmds <- func() { res <- fn() }:
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-res:
		return err
	case <-h.done:
		select {
		case err := <-res:
			return err
		default:
			return ErrHubClosed
		}
	}
}

// Accept binds a new connection to identity and returns its id.
func (h *Hub) Accept(ctx context.Context, identity Identity, sink Sink) (string, error) {
	if !identity.Valid() {
		return "", ErrAuthenticationMissing
	}
	var id string
	err := h.do(ctx, func() error {
		c := newConn(h.newID(), identity, sink, h.now())
		h.conns[c.ID] = c
		if h.presence.ConnectionAdded(identity.UserID) {
			metrics.PresenceTransitions.WithLabelValues(string(protocol.StatusOnline)).Inc()
			h.logger.Debug().Str("user_id", identity.UserID).Msg("user online")
		}
		metrics.ConnectionsActive.Inc()
		id = c.ID
		h.logger.Debug().
			Str("conn_id", c.ID).
			Str("user_id", identity.UserID).
			Str("role", string(identity.Role)).
			Msg("connection bound")
		return nil
	})
	return id, err
}

// Join adds the connection to a room. The joiner is told which other users
// in the room are online, and the room hears about the joiner whenever the
// user enters it without another live connection there.
func (h *Hub) Join(ctx context.Context, connID string, req protocol.JoinRoom) error {
	return h.do(ctx, func() error {
		c, err := h.lookup(connID)
		if err != nil {
			return err
		}
		if !c.Identity.Matches(req.UserID, req.UserRole) {
			return fmt.Errorf("join as %q/%q: %w", req.UserID, req.UserRole, ErrIdentityMismatch)
		}
		c.LastActivity = h.now()
		present := h.registry.HasUser(req.RoomID, c.Identity.UserID)
		if !h.registry.Join(c, req.RoomID) {
			return nil
		}
		c.State = StateJoined
		metrics.RoomsActive.Set(float64(h.registry.Len()))

		if !h.sendPresenceSnapshot(c, req.RoomID) {
			return nil
		}
		// Members that joined while the user was absent from the room have not
		// been told the user is online.
		first := h.presence.Track(c.Identity.UserID, req.RoomID)
		if first || !present {
			h.broadcastStatus(req.RoomID, c.Identity.UserID, protocol.StatusOnline)
		}
		h.logger.Debug().Str("conn_id", c.ID).Str("room_id", req.RoomID).Msg("joined room")
		return nil
	})
}

// Leave removes the connection from a room.
func (h *Hub) Leave(ctx context.Context, connID string, req protocol.LeaveRoom) error {
	return h.do(ctx, func() error {
		c, err := h.lookup(connID)
		if err != nil {
			return err
		}
		if !c.InRoom(req.RoomID) {
			return fmt.Errorf("room %q: %w", req.RoomID, ErrNotJoined)
		}
		c.LastActivity = h.now()
		h.leave(c, req.RoomID)
		if len(c.Rooms) == 0 {
			c.State = StateBound
		}
		h.logger.Debug().Str("conn_id", c.ID).Str("room_id", req.RoomID).Msg("left room")
		return nil
	})
}

// Submit validates, stamps and broadcasts a chat message to its room, then
// hands it to the archiver. Persistence failures never reach the sender.
func (h *Hub) Submit(ctx context.Context, connID string, req protocol.ChatMessage) error {
	return h.do(ctx, func() error {
		c, err := h.lookup(connID)
		if err != nil {
			return err
		}
		c.LastActivity = h.now()
		msg, err := h.router.Prepare(c, req)
		if err != nil {
			metrics.Messages.WithLabelValues(Code(err)).Inc()
			return err
		}

		frame, err := protocol.Encode(protocol.EventMessage, protocol.MessagePayload{
			RoomID:      msg.RoomID,
			SenderID:    msg.SenderID,
			SenderModel: c.Identity.Role,
			Message:     msg.Body,
			Timestamp:   msg.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		h.evict(h.registry.Broadcast(msg.RoomID, frame))
		metrics.Messages.WithLabelValues("accepted").Inc()

		if h.archiver != nil {
			if err := h.archiver.Enqueue(msg); err != nil {
				h.logger.Warn().Err(err).Str("room_id", msg.RoomID).Uint64("seq", msg.Seq).Msg("message accepted without persistence")
			}
		}
		return nil
	})
}

// Disconnect tears the connection down and returns once its memberships are
// gone. Unknown ids are ignored.
func (h *Hub) Disconnect(ctx context.Context, connID string) error {
	return h.do(ctx, func() error {
		c, ok := h.conns[connID]
		if !ok {
			return nil
		}
		h.remove(c)
		return nil
	})
}

// IsOnline reports whether userID is currently online.
func (h *Hub) IsOnline(ctx context.Context, userID string) (bool, error) {
	var online bool
	err := h.do(ctx, func() error {
		online = h.presence.IsOnline(userID)
		return nil
	})
	return online, err
}

// Presence returns a snapshot of userID's presence record.
func (h *Hub) Presence(ctx context.Context, userID string) (PresenceRecord, error) {
	var rec PresenceRecord
	err := h.do(ctx, func() error {
		rec, _ = h.presence.Snapshot(userID)
		return nil
	})
	return rec, err
}

// Members lists the distinct users in a room.
func (h *Hub) Members(ctx context.Context, roomID string) ([]string, error) {
	var users []string
	err := h.do(ctx, func() error {
		users = h.registry.UserIDs(roomID)
		return nil
	})
	return users, err
}

// Stats summarizes the hub.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := h.do(ctx, func() error {
		s = Stats{
			Connections: len(h.conns),
			Rooms:       h.registry.Len(),
			OnlineUsers: h.presence.Online(),
		}
		return nil
	})
	return s, err
}

func (h *Hub) lookup(connID string) (*Conn, error) {
	c, ok := h.conns[connID]
	if !ok {
		return nil, fmt.Errorf("connection %q: %w", connID, ErrUnknownConnection)
	}
	return c, nil
}

func (h *Hub) leave(c *Conn, roomID string) {
	h.registry.Leave(c, roomID)
	if !h.registry.Exists(roomID) {
		h.router.Forget(roomID)
	}
	metrics.RoomsActive.Set(float64(h.registry.Len()))
}

func (h *Hub) remove(c *Conn) {
	if c.State == StateDisconnected {
		return
	}
	for _, roomID := range h.registry.RemoveConn(c) {
		if !h.registry.Exists(roomID) {
			h.router.Forget(roomID)
		}
	}
	c.State = StateDisconnected
	delete(h.conns, c.ID)
	if c.sink != nil {
		c.sink.Close()
	}
	h.presence.ConnectionRemoved(c.Identity.UserID)

	metrics.ConnectionsActive.Dec()
	metrics.RoomsActive.Set(float64(h.registry.Len()))
	h.logger.Debug().Str("conn_id", c.ID).Str("user_id", c.Identity.UserID).Msg("connection removed")
}

// evict disconnects members whose sink could not take a frame.
func (h *Hub) evict(failed []*Conn) {
	for _, c := range failed {
		if c.State == StateDisconnected {
			continue
		}
		metrics.Evictions.Inc()
		h.logger.Warn().Str("conn_id", c.ID).Str("user_id", c.Identity.UserID).Msg("evicting slow consumer")
		h.remove(c)
	}
}

// sendPresenceSnapshot tells c about the other online users in roomID. It
// returns false when c was evicted on the way.
func (h *Hub) sendPresenceSnapshot(c *Conn, roomID string) bool {
	for _, userID := range h.registry.UserIDs(roomID) {
		if userID == c.Identity.UserID || !h.presence.IsOnline(userID) {
			continue
		}
		frame, err := protocol.Encode(protocol.EventUserStatus, protocol.UserStatusPayload{
			UserID: userID,
			Status: protocol.StatusOnline,
		})
		if err != nil {
			h.logger.Error().Err(err).Msg("encode presence snapshot")
			return true
		}
		if !c.send(frame) {
			h.evict([]*Conn{c})
			return false
		}
	}
	return true
}

func (h *Hub) broadcastStatus(roomID, userID string, status protocol.Status) {
	frame, err := protocol.Encode(protocol.EventUserStatus, protocol.UserStatusPayload{
		UserID: userID,
		Status: status,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("encode user status")
		return
	}
	h.evict(h.registry.Broadcast(roomID, frame))
}

// scheduleExpire runs on the scheduler goroutine and forwards the timer into
// the loop.
func (h *Hub) scheduleExpire(userID string, generation uint64) {
	select {
	case h.cmds <- func() { h.expire(userID, generation) }:
	case <-h.done:
	}
}

func (h *Hub) expire(userID string, generation uint64) {
	rooms, ok := h.presence.Expire(userID, generation)
	if !ok {
		return
	}
	metrics.PresenceTransitions.WithLabelValues(string(protocol.StatusOffline)).Inc()
	h.logger.Debug().Str("user_id", userID).Strs("rooms", rooms).Msg("user offline")
	for _, roomID := range rooms {
		h.broadcastStatus(roomID, userID, protocol.StatusOffline)
	}
}

func (h *Hub) shutdown() {
	h.presence.Stop()
	for _, c := range h.conns {
		c.State = StateDisconnected
		if c.sink != nil {
			c.sink.Close()
		}
		metrics.ConnectionsActive.Dec()
	}
	clear(h.conns)
	h.logger.Info().Msg("hub stopped")
}
