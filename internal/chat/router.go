package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/fenggwsx/RoomChat/internal/protocol"
	"github.com/fenggwsx/RoomChat/internal/storage"
)

type roomClock struct {
	seq  uint64
	last time.Time
}

// Router validates inbound chat messages and stamps them with the room's
// sequence number and server time.
type Router struct {
	maxBytes int
	now      func() time.Time
	clocks   map[string]*roomClock
}

// NewRouter creates a router enforcing maxBytes on message bodies.
func NewRouter(maxBytes int, now func() time.Time) *Router {
	if now == nil {
		now = time.Now
	}
	return &Router{
		maxBytes: maxBytes,
		now:      now,
		clocks:   make(map[string]*roomClock),
	}
}

// Prepare checks a message submitted on c and assigns its ordering. Nothing
// is recorded for rejected messages.
func (r *Router) Prepare(c *Conn, req protocol.ChatMessage) (storage.Message, error) {
	if !c.Identity.Matches(req.SenderID, req.SenderModel) {
		return storage.Message{}, fmt.Errorf("sender %q as %q: %w", req.SenderID, req.SenderModel, ErrIdentityMismatch)
	}
	if !c.InRoom(req.RoomID) {
		return storage.Message{}, fmt.Errorf("room %q: %w", req.RoomID, ErrNotJoined)
	}
	if strings.TrimSpace(req.Message) == "" {
		return storage.Message{}, ErrEmptyMessage
	}
	if r.maxBytes > 0 && len(req.Message) > r.maxBytes {
		return storage.Message{}, fmt.Errorf("%d bytes exceeds %d: %w", len(req.Message), r.maxBytes, ErrMessageTooLarge)
	}

	seq, ts := r.stamp(req.RoomID)
	return storage.Message{
		RoomID:     req.RoomID,
		SenderID:   c.Identity.UserID,
		SenderRole: string(c.Identity.Role),
		Body:       req.Message,
		Seq:        seq,
		CreatedAt:  ts,
	}, nil
}

// stamp returns the next sequence number and a timestamp that is strictly
// after the previous one in the same room, at microsecond resolution.
func (r *Router) stamp(roomID string) (uint64, time.Time) {
	clock, ok := r.clocks[roomID]
	if !ok {
		clock = &roomClock{}
		r.clocks[roomID] = clock
	}
	ts := r.now().UTC().Truncate(time.Microsecond)
	if !ts.After(clock.last) {
		ts = clock.last.Add(time.Microsecond)
	}
	clock.seq++
	clock.last = ts
	return clock.seq, ts
}

// Forget drops the ordering state of a room that no longer has members.
func (r *Router) Forget(roomID string) {
	delete(r.clocks, roomID)
}
