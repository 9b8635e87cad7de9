package chat

import (
	"cmp"
	"slices"
	"time"

	"github.com/samber/lo"
)

// Room is a live grouping of connections.
type Room struct {
	ID        string
	Members   map[string]*Conn
	CreatedAt time.Time
}

// Registry tracks which live connections belong to which rooms.
type Registry struct {
	rooms map[string]*Room
	now   func() time.Time
}

// NewRegistry initializes an empty registry.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		rooms: make(map[string]*Room),
		now:   now,
	}
}

// Join adds c to roomID, creating the room on first use. It reports whether
// the connection was newly added.
func (r *Registry) Join(c *Conn, roomID string) bool {
	room, ok := r.rooms[roomID]
	if !ok {
		room = &Room{
			ID:        roomID,
			Members:   make(map[string]*Conn),
			CreatedAt: r.now(),
		}
		r.rooms[roomID] = room
	}
	if _, ok := room.Members[c.ID]; ok {
		return false
	}
	room.Members[c.ID] = c
	c.Rooms[roomID] = struct{}{}
	return true
}

// Leave removes c from roomID and evicts the room once it is empty.
func (r *Registry) Leave(c *Conn, roomID string) bool {
	delete(c.Rooms, roomID)
	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := room.Members[c.ID]; !ok {
		return false
	}
	delete(room.Members, c.ID)
	if len(room.Members) == 0 {
		delete(r.rooms, roomID)
	}
	return true
}

// RemoveConn drops c from every room it joined and returns those room ids.
func (r *Registry) RemoveConn(c *Conn) []string {
	left := lo.Keys(c.Rooms)
	slices.Sort(left)
	for _, roomID := range left {
		r.Leave(c, roomID)
	}
	return left
}

// Broadcast enqueues frame on every member of roomID, the sender included.
// Members whose sink refused the frame are returned for eviction.
func (r *Registry) Broadcast(roomID string, frame []byte) []*Conn {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	var failed []*Conn
	for _, member := range room.Members {
		if !member.send(frame) {
			failed = append(failed, member)
		}
	}
	return failed
}

// Members returns the connections of roomID ordered by connection id.
func (r *Registry) Members(roomID string) []*Conn {
	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	members := lo.Values(room.Members)
	slices.SortFunc(members, func(a, b *Conn) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return members
}

// UserIDs returns the distinct users present in roomID.
func (r *Registry) UserIDs(roomID string) []string {
	users := lo.Uniq(lo.Map(r.Members(roomID), func(c *Conn, _ int) string {
		return c.Identity.UserID
	}))
	slices.Sort(users)
	return users
}

// HasUser reports whether any live connection of userID is in roomID.
func (r *Registry) HasUser(roomID, userID string) bool {
	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	for _, member := range room.Members {
		if member.Identity.UserID == userID {
			return true
		}
	}
	return false
}

// Exists reports whether roomID currently has members.
func (r *Registry) Exists(roomID string) bool {
	_, ok := r.rooms[roomID]
	return ok
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	return len(r.rooms)
}
