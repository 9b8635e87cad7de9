package chat

import (
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/fenggwsx/RoomChat/internal/protocol"
)

// PresenceRecord is the derived online state of one user.
type PresenceRecord struct {
	UserID      string
	Connections int
	Status      protocol.Status
	LastSeen    time.Time
	// Rooms holds every room the user became visible in during the current
	// online period. Offline notices go to exactly these rooms.
	Rooms map[string]struct{}

	timer      Timer
	generation uint64
}

// Presence keeps reference counted online state with a grace period before
// a user is reported offline.
type Presence struct {
	records map[string]*PresenceRecord
	grace   time.Duration
	sched   Scheduler
	now     func() time.Time
	expire  func(userID string, generation uint64)
}

// NewPresence builds a tracker. expire is invoked from the scheduler's
// goroutine when a grace timer fires and must hand control back to the
// owner of the tracker before calling Expire.
func NewPresence(grace time.Duration, sched Scheduler, now func() time.Time, expire func(userID string, generation uint64)) *Presence {
	if sched == nil {
		sched = SystemScheduler{}
	}
	if now == nil {
		now = time.Now
	}
	return &Presence{
		records: make(map[string]*PresenceRecord),
		grace:   grace,
		sched:   sched,
		now:     now,
		expire:  expire,
	}
}

// ConnectionAdded counts a new connection for userID. It reports whether the
// user transitioned from offline to online; a pending grace timer is
// cancelled without a transition.
func (p *Presence) ConnectionAdded(userID string) bool {
	rec, ok := p.records[userID]
	if !ok {
		rec = &PresenceRecord{
			UserID: userID,
			Status: protocol.StatusOffline,
			Rooms:  make(map[string]struct{}),
		}
		p.records[userID] = rec
	}
	rec.Connections++
	rec.LastSeen = p.now()

	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
		rec.generation++
		return false
	}
	if rec.Status == protocol.StatusOnline {
		return false
	}
	rec.Status = protocol.StatusOnline
	return true
}

// ConnectionRemoved releases one connection for userID and arms the grace
// timer once none remain.
func (p *Presence) ConnectionRemoved(userID string) {
	rec, ok := p.records[userID]
	if !ok || rec.Connections == 0 {
		return
	}
	rec.Connections--
	rec.LastSeen = p.now()
	if rec.Connections > 0 {
		return
	}

	rec.generation++
	generation := rec.generation
	rec.timer = p.sched.AfterFunc(p.grace, func() {
		if p.expire != nil {
			p.expire(userID, generation)
		}
	})
}

// Expire completes a grace period. A timer whose generation no longer
// matches was cancelled or superseded and is ignored. On a real transition
// it returns the rooms that must be told the user went offline.
func (p *Presence) Expire(userID string, generation uint64) ([]string, bool) {
	rec, ok := p.records[userID]
	if !ok || rec.timer == nil || rec.generation != generation || rec.Connections > 0 {
		return nil, false
	}
	rec.timer = nil
	rec.Status = protocol.StatusOffline

	rooms := lo.Keys(rec.Rooms)
	slices.Sort(rooms)
	rec.Rooms = make(map[string]struct{})
	return rooms, true
}

// Track marks userID visible in roomID. It reports whether this is the first
// time during the current online period, which is when the room should hear
// about the user.
func (p *Presence) Track(userID, roomID string) bool {
	rec, ok := p.records[userID]
	if !ok || rec.Status != protocol.StatusOnline {
		return false
	}
	if _, seen := rec.Rooms[roomID]; seen {
		return false
	}
	rec.Rooms[roomID] = struct{}{}
	return true
}

// IsOnline reports the current status of userID. Users inside their grace
// period are still online.
func (p *Presence) IsOnline(userID string) bool {
	rec, ok := p.records[userID]
	return ok && rec.Status == protocol.StatusOnline
}

// pending reports whether userID has an armed grace timer.
func (p *Presence) pending(userID string) bool {
	rec, ok := p.records[userID]
	return ok && rec.timer != nil
}

// Snapshot returns a copy of the record for userID.
func (p *Presence) Snapshot(userID string) (PresenceRecord, bool) {
	rec, ok := p.records[userID]
	if !ok {
		return PresenceRecord{UserID: userID, Status: protocol.StatusOffline}, false
	}
	return PresenceRecord{
		UserID:      rec.UserID,
		Connections: rec.Connections,
		Status:      rec.Status,
		LastSeen:    rec.LastSeen,
		Rooms:       lo.Assign(rec.Rooms),
	}, true
}

// Online returns the number of users currently online.
func (p *Presence) Online() int {
	return lo.CountBy(lo.Values(p.records), func(rec *PresenceRecord) bool {
		return rec.Status == protocol.StatusOnline
	})
}

// Stop cancels every pending grace timer.
func (p *Presence) Stop() {
	for _, rec := range p.records {
		if rec.timer != nil {
			rec.timer.Stop()
			rec.timer = nil
			rec.generation++
		}
	}
}
