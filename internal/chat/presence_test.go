package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/RoomChat/internal/protocol"
)

type expiry struct {
	userID     string
	generation uint64
}

func newTestPresence() (*Presence, *fakeScheduler, *[]expiry) {
	sched := &fakeScheduler{}
	fired := &[]expiry{}
	p := NewPresence(5*time.Second, sched, nil, func(userID string, generation uint64) {
		*fired = append(*fired, expiry{userID, generation})
	})
	return p, sched, fired
}

func TestPresenceReferenceCounting(t *testing.T) {
	p, sched, _ := newTestPresence()

	assert.True(t, p.ConnectionAdded("alice"))
	assert.False(t, p.ConnectionAdded("alice"))
	assert.True(t, p.IsOnline("alice"))

	p.ConnectionRemoved("alice")
	assert.True(t, p.IsOnline("alice"))
	assert.Zero(t, sched.pending())

	p.ConnectionRemoved("alice")
	assert.True(t, p.IsOnline("alice"), "still online during grace")
	assert.True(t, p.pending("alice"))
	assert.Equal(t, 1, sched.pending())

	rec, ok := p.Snapshot("alice")
	require.True(t, ok)
	assert.Zero(t, rec.Connections)
	assert.Equal(t, protocol.StatusOnline, rec.Status)
}

func TestPresenceReconnectWithinGraceCancelsTimer(t *testing.T) {
	p, sched, fired := newTestPresence()
	p.ConnectionAdded("alice")
	p.Track("alice", "room")
	p.ConnectionRemoved("alice")

	assert.False(t, p.ConnectionAdded("alice"), "no transition while grace pending")
	assert.Zero(t, sched.pending())
	assert.False(t, p.Track("alice", "room"), "room already knows the user")

	sched.fireAll()
	assert.Empty(t, *fired)
	assert.True(t, p.IsOnline("alice"))
}

func TestPresenceExpiryReturnsVisibleRooms(t *testing.T) {
	p, sched, fired := newTestPresence()
	p.ConnectionAdded("alice")
	assert.True(t, p.Track("alice", "r2"))
	assert.True(t, p.Track("alice", "r1"))
	assert.False(t, p.Track("alice", "r1"))
	p.ConnectionRemoved("alice")

	sched.fireAll()
	require.Len(t, *fired, 1)

	rooms, ok := p.Expire((*fired)[0].userID, (*fired)[0].generation)
	require.True(t, ok)
	assert.Equal(t, []string{"r1", "r2"}, rooms)
	assert.False(t, p.IsOnline("alice"))
	assert.Equal(t, 0, p.Online())

	_, ok = p.Expire("alice", (*fired)[0].generation)
	assert.False(t, ok, "second expiry is a no-op")

	assert.True(t, p.ConnectionAdded("alice"))
	assert.True(t, p.Track("alice", "r1"), "new online period announces again")
}

func TestPresenceIgnoresStaleTimer(t *testing.T) {
	p, sched, _ := newTestPresence()
	p.ConnectionAdded("alice")
	p.ConnectionRemoved("alice")
	stale := sched.last()
	require.NotNil(t, stale)

	// The timer fires concurrently with a reconnect: the callback runs even
	// though Stop came first.
	p.ConnectionAdded("alice")
	var gotGeneration uint64
	p.expire = func(_ string, generation uint64) { gotGeneration = generation }
	stale.f()

	_, ok := p.Expire("alice", gotGeneration)
	assert.False(t, ok)
	assert.True(t, p.IsOnline("alice"))

	p.ConnectionRemoved("alice")
	_, ok = p.Expire("alice", gotGeneration)
	assert.False(t, ok, "superseded by a newer grace period")
	assert.True(t, p.pending("alice"))
}

func TestPresenceTrackRequiresOnlineUser(t *testing.T) {
	p, _, _ := newTestPresence()
	assert.False(t, p.Track("ghost", "room"))
	assert.False(t, p.IsOnline("ghost"))

	rec, ok := p.Snapshot("ghost")
	assert.False(t, ok)
	assert.Equal(t, protocol.StatusOffline, rec.Status)

	p.ConnectionRemoved("ghost")
	assert.False(t, p.pending("ghost"))
}

func TestPresenceStopCancelsTimers(t *testing.T) {
	p, sched, fired := newTestPresence()
	p.ConnectionAdded("alice")
	p.ConnectionAdded("bob")
	p.ConnectionRemoved("alice")
	p.ConnectionRemoved("bob")
	require.Equal(t, 2, sched.pending())

	p.Stop()
	assert.Zero(t, sched.pending())
	sched.fireAll()
	assert.Empty(t, *fired)
}
