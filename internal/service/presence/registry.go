package presence

import (
	"slices"
	"time"

	"github.com/samber/lo"

	"signaling-backend/internal/domain"
	"signaling-backend/pkg/schedule"
)

type entry struct {
	rec   domain.ConnectionRecord
	purge schedule.Cancel
	// gen changes on every register/offline transition; a purge only
	// applies to the generation that scheduled it.
	gen uint64
}

// RegisterResult describes what a registration replaced
type RegisterResult struct {
	// PreviousHandle is the user's former connection, now orphaned
	PreviousHandle string
	// Displaced is another user that was bound to the same handle
	Displaced string
}

// Registry maps users to their current connection. It is not safe for
// concurrent use; the signaling hub owns it from a single goroutine.
type Registry struct {
	records  map[string]*entry
	byHandle map[string]string
	sched    *schedule.Scheduler
	grace    time.Duration
	gen      uint64
	onPurge  func(userID string)
}

// NewRegistry creates a registry that purges offline users after grace
func NewRegistry(sched *schedule.Scheduler, grace time.Duration) *Registry {
	return &Registry{
		records:  make(map[string]*entry),
		byHandle: make(map[string]string),
		sched:    sched,
		grace:    grace,
	}
}

// OnPurge sets a hook invoked after a record is hard-deleted
func (r *Registry) OnPurge(fn func(userID string)) {
	r.onPurge = fn
}

// Register binds userID to handle, marking it online. The most recent
// registration wins and any pending purge is cancelled.
func (r *Registry) Register(userID, handle, role string) RegisterResult {
	var res RegisterResult
	now := r.sched.Now()
	r.gen++

	e, ok := r.records[userID]
	if !ok {
		e = &entry{}
		r.records[userID] = e
	}
	if e.purge != nil {
		e.purge()
		e.purge = nil
	}
	if prev := e.rec.ConnectionHandle; prev != "" && prev != handle {
		res.PreviousHandle = prev
		if r.byHandle[prev] == userID {
			delete(r.byHandle, prev)
		}
	}
	if other, bound := r.byHandle[handle]; bound && other != userID {
		res.Displaced = other
	}

	e.gen = r.gen
	e.rec = domain.ConnectionRecord{
		UserID:           userID,
		ConnectionHandle: handle,
		Role:             role,
		IsOnline:         true,
		LastSeen:         now,
	}
	r.byHandle[handle] = userID

	return res
}

// FindByUser returns a copy of the user's record
func (r *Registry) FindByUser(userID string) (domain.ConnectionRecord, bool) {
	e, ok := r.records[userID]
	if !ok {
		return domain.ConnectionRecord{}, false
	}
	return e.rec, true
}

// FindByConnection resolves the user currently bound to handle
func (r *Registry) FindByConnection(handle string) (string, domain.ConnectionRecord, bool) {
	userID, ok := r.byHandle[handle]
	if !ok {
		return "", domain.ConnectionRecord{}, false
	}
	e, ok := r.records[userID]
	if !ok || e.rec.ConnectionHandle != handle {
		return "", domain.ConnectionRecord{}, false
	}
	return userID, e.rec, true
}

// IsOnline reports whether userID has a live registration
func (r *Registry) IsOnline(userID string) bool {
	e, ok := r.records[userID]
	return ok && e.rec.IsOnline
}

// MarkOffline flips the user offline, stamps lastSeen and schedules the
// purge. It returns false when the user is unknown.
func (r *Registry) MarkOffline(userID string) (time.Time, bool) {
	e, ok := r.records[userID]
	if !ok {
		return time.Time{}, false
	}
	if e.purge != nil {
		e.purge()
	}

	r.gen++
	gen := r.gen
	e.gen = gen

	if h := e.rec.ConnectionHandle; h != "" && r.byHandle[h] == userID {
		delete(r.byHandle, h)
	}
	e.rec.ConnectionHandle = ""
	e.rec.IsOnline = false
	e.rec.LastSeen = r.sched.Now()

	e.purge = r.sched.After(r.grace, func() { r.purge(userID, gen) })

	return e.rec.LastSeen, true
}

func (r *Registry) purge(userID string, gen uint64) {
	e, ok := r.records[userID]
	if !ok || e.gen != gen || e.rec.IsOnline {
		return
	}
	delete(r.records, userID)
	if r.onPurge != nil {
		r.onPurge(userID)
	}
}

// ListOnlineUserIDs returns a sorted snapshot of online user ids
func (r *Registry) ListOnlineUserIDs() []string {
	ids := lo.Keys(lo.PickBy(r.records, func(_ string, e *entry) bool {
		return e.rec.IsOnline
	}))
	slices.Sort(ids)
	return ids
}

// OnlineRecords returns copies of every online record, sorted by user id
func (r *Registry) OnlineRecords() []domain.ConnectionRecord {
	return lo.Map(r.ListOnlineUserIDs(), func(id string, _ int) domain.ConnectionRecord {
		return r.records[id].rec
	})
}

// Len returns the number of known records, online or within the grace period
func (r *Registry) Len() int {
	return len(r.records)
}

// Close cancels every pending purge
func (r *Registry) Close() {
	for _, e := range r.records {
		if e.purge != nil {
			e.purge()
			e.purge = nil
		}
	}
}
