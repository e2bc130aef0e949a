package presence

import (
	"sort"
	"time"

	"github.com/yndnr/annomesh-go/internal/core/domain"
)

// DefaultThreshold is the liveness threshold used when none is configured.
const DefaultThreshold = 10 * time.Second

// Tracker holds presence records keyed by user id.
//
// Tracker is not safe for concurrent use; the session coordinator guards it
// with its own presence mutex.
type Tracker struct {
	records   map[string]*domain.PresenceRecord
	threshold time.Duration
}

// NewTracker creates a tracker. A non-positive threshold selects DefaultThreshold.
func NewTracker(threshold time.Duration) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Tracker{
		records:   make(map[string]*domain.PresenceRecord),
		threshold: threshold,
	}
}

// Threshold returns the liveness threshold.
func (t *Tracker) Threshold() time.Duration {
	return t.threshold
}

// Update overwrites the record for userID. The first update for an unknown
// user creates its record, and an update after the record went stale
// reinstates it.
func (t *Tracker) Update(userID string, pos domain.Point, now time.Time) {
	if userID == "" {
		return
	}
	r, ok := t.records[userID]
	if !ok {
		r = &domain.PresenceRecord{UserID: userID}
		t.records[userID] = r
	}
	r.Position = pos
	r.LastSeenAt = now
}

// Snapshot returns the live records at now, sorted by user id.
func (t *Tracker) Snapshot(now time.Time) []domain.PresenceRecord {
	out := make([]domain.PresenceRecord, 0, len(t.records))
	for _, r := range t.records {
		if r.IsStale(now, t.threshold) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Get returns the record for userID regardless of staleness.
func (t *Tracker) Get(userID string) (domain.PresenceRecord, bool) {
	r, ok := t.records[userID]
	if !ok {
		return domain.PresenceRecord{}, false
	}
	return *r, true
}

// Remove deletes the record for userID.
func (t *Tracker) Remove(userID string) {
	delete(t.records, userID)
}

// Prune deletes records that have been stale for longer than evictAfter and
// returns how many were removed. A non-positive evictAfter uses three times
// the liveness threshold.
func (t *Tracker) Prune(now time.Time, evictAfter time.Duration) int {
	if evictAfter <= 0 {
		evictAfter = 3 * t.threshold
	}
	removed := 0
	for id, r := range t.records {
		if now.Sub(r.LastSeenAt) > evictAfter {
			delete(t.records, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of records, stale ones included.
func (t *Tracker) Len() int {
	return len(t.records)
}
