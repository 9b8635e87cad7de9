package chat

import (
	"time"

	"github.com/fenggwsx/RoomChat/internal/protocol"
)

// Identity is the authenticated principal bound to a connection.
type Identity struct {
	UserID string
	Role   protocol.Role
}

// Valid reports whether the identity can be bound to a connection.
func (i Identity) Valid() bool {
	return i.UserID != "" && i.Role.Valid()
}

// Matches reports whether a client supplied user id and role name this identity.
func (i Identity) Matches(userID string, role protocol.Role) bool {
	return i.UserID == userID && i.Role == role
}

// ConnState is the lifecycle stage of a connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateBound
	StateJoined
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateBound:
		return "bound"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Sink is the outbound side of a transport. Enqueue must not block; it
// returns false when the frame cannot be buffered. Close releases the
// transport after already buffered frames are flushed.
type Sink interface {
	Enqueue(frame []byte) bool
	Close()
}

// Conn is the hub's view of one live connection. It is only touched from
// the hub loop.
type Conn struct {
	ID           string
	Identity     Identity
	Rooms        map[string]struct{}
	State        ConnState
	ConnectedAt  time.Time
	LastActivity time.Time

	sink Sink
}

func newConn(id string, identity Identity, sink Sink, now time.Time) *Conn {
	return &Conn{
		ID:           id,
		Identity:     identity,
		Rooms:        make(map[string]struct{}),
		State:        StateBound,
		ConnectedAt:  now,
		LastActivity: now,
		sink:         sink,
	}
}

// InRoom reports whether the connection is a member of roomID.
func (c *Conn) InRoom(roomID string) bool {
	_, ok := c.Rooms[roomID]
	return ok
}

func (c *Conn) send(frame []byte) bool {
	if c.State == StateDisconnected || c.sink == nil {
		return false
	}
	return c.sink.Enqueue(frame)
}
