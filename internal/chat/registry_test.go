package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/RoomChat/internal/protocol"
)

func testConn(id, userID string, sink Sink) *Conn {
	return newConn(id, Identity{UserID: userID, Role: protocol.RoleCustomer}, sink, time.Now())
}

func TestRegistryJoinIsIdempotent(t *testing.T) {
	reg := NewRegistry(nil)
	c := testConn("c1", "alice", &fakeSink{})

	assert.True(t, reg.Join(c, "room"))
	assert.False(t, reg.Join(c, "room"))

	assert.Len(t, reg.Members("room"), 1)
	assert.Equal(t, 1, reg.Len())
	assert.True(t, c.InRoom("room"))
}

func TestRegistryLeaveEvictsEmptyRoom(t *testing.T) {
	reg := NewRegistry(nil)
	a := testConn("c1", "alice", &fakeSink{})
	b := testConn("c2", "bob", &fakeSink{})
	reg.Join(a, "room")
	reg.Join(b, "room")

	assert.True(t, reg.Leave(a, "room"))
	assert.False(t, reg.Leave(a, "room"))
	assert.True(t, reg.Exists("room"))
	assert.False(t, a.InRoom("room"))

	assert.True(t, reg.Leave(b, "room"))
	assert.False(t, reg.Exists("room"))
	assert.Zero(t, reg.Len())
}

func TestRegistryRemoveConnClearsEveryRoom(t *testing.T) {
	reg := NewRegistry(nil)
	a := testConn("c1", "alice", &fakeSink{})
	b := testConn("c2", "bob", &fakeSink{})
	reg.Join(a, "r1")
	reg.Join(a, "r2")
	reg.Join(b, "r2")

	left := reg.RemoveConn(a)

	assert.Equal(t, []string{"r1", "r2"}, left)
	assert.Empty(t, a.Rooms)
	assert.False(t, reg.Exists("r1"))
	assert.Equal(t, 1, reg.Len())
	assert.False(t, reg.HasUser("r2", "alice"))
	assert.True(t, reg.HasUser("r2", "bob"))
	assert.False(t, reg.HasUser("r1", "bob"))
}

func TestRegistryBroadcastReportsFailedMembers(t *testing.T) {
	reg := NewRegistry(nil)
	ok := &fakeSink{}
	full := &fakeSink{limit: 1}
	closed := &fakeSink{closed: true}
	a := testConn("c1", "alice", ok)
	b := testConn("c2", "bob", full)
	c := testConn("c3", "carol", closed)
	for _, conn := range []*Conn{a, b, c} {
		reg.Join(conn, "room")
	}

	failed := reg.Broadcast("room", []byte(`{"event":"message"}`))
	require.Len(t, failed, 1)
	assert.Equal(t, "c3", failed[0].ID)

	failed = reg.Broadcast("room", []byte(`{"event":"message"}`))
	ids := []string{}
	for _, f := range failed {
		ids = append(ids, f.ID)
	}
	assert.ElementsMatch(t, []string{"c2", "c3"}, ids)
	assert.Len(t, ok.frames, 2)

	assert.Nil(t, reg.Broadcast("missing", []byte("x")))
}

func TestRegistryUserIDsAreDistinct(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Join(testConn("c1", "alice", &fakeSink{}), "room")
	reg.Join(testConn("c2", "alice", &fakeSink{}), "room")
	reg.Join(testConn("c3", "bob", &fakeSink{}), "room")

	assert.Equal(t, []string{"alice", "bob"}, reg.UserIDs("room"))
	assert.Nil(t, reg.UserIDs("missing"))
}
