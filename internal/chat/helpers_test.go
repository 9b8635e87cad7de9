package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/RoomChat/internal/protocol"
	"github.com/fenggwsx/RoomChat/internal/storage"
)

type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
	limit  int
	closed bool
}

func (s *fakeSink) Enqueue(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.limit > 0 && len(s.frames) >= s.limit) {
		return false
	}
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return true
}

func (s *fakeSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSink) events(t *testing.T) []protocol.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(s.frames))
	for _, frame := range s.frames {
		env, err := protocol.DecodeEnvelope(frame)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (s *fakeSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}

func messagesOf(t *testing.T, s *fakeSink) []protocol.MessagePayload {
	t.Helper()
	var out []protocol.MessagePayload
	for _, env := range s.events(t) {
		if env.Event != protocol.EventMessage {
			continue
		}
		var p protocol.MessagePayload
		require.NoError(t, env.Bind(&p))
		out = append(out, p)
	}
	return out
}

func statusesOf(t *testing.T, s *fakeSink) []protocol.UserStatusPayload {
	t.Helper()
	var out []protocol.UserStatusPayload
	for _, env := range s.events(t) {
		if env.Event != protocol.EventUserStatus {
			continue
		}
		var p protocol.UserStatusPayload
		require.NoError(t, env.Bind(&p))
		out = append(out, p)
	}
	return out
}

type fakeTimer struct {
	sched   *fakeScheduler
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeScheduler holds timers until the test fires them.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(_ time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{sched: s, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fireAll runs every pending timer.
func (s *fakeScheduler) fireAll() {
	s.mu.Lock()
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// last returns the most recently scheduled timer.
func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

type fakeArchiver struct {
	mu   sync.Mutex
	msgs []storage.Message
	err  error
}

func (a *fakeArchiver) Enqueue(msg storage.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msg)
	return a.err
}

func (a *fakeArchiver) messages() []storage.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]storage.Message(nil), a.msgs...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type hubFixture struct {
	hub   *Hub
	sched *fakeScheduler
	clock *clock
	ctx   context.Context
}

func newHubFixture(t *testing.T, archiver Archiver) *hubFixture {
	t.Helper()
	sched := &fakeScheduler{}
	clk := newClock()
	hub := NewHub(Options{
		MaxMessageBytes: 64,
		GracePeriod:     5 * time.Second,
		Scheduler:       sched,
		Now:             clk.Now,
		Archiver:        archiver,
		Logger:          zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return &hubFixture{hub: hub, sched: sched, clock: clk, ctx: context.Background()}
}

func (f *hubFixture) connect(t *testing.T, userID string, role protocol.Role) (string, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	id, err := f.hub.Accept(f.ctx, Identity{UserID: userID, Role: role}, sink)
	require.NoError(t, err)
	return id, sink
}

func (f *hubFixture) join(t *testing.T, connID, roomID, userID string, role protocol.Role) {
	t.Helper()
	require.NoError(t, f.hub.Join(f.ctx, connID, protocol.JoinRoom{RoomID: roomID, UserID: userID, UserRole: role}))
}

// sync waits for every command queued so far to run.
func (f *hubFixture) sync(t *testing.T) {
	t.Helper()
	_, err := f.hub.Stats(f.ctx)
	require.NoError(t, err)
}
