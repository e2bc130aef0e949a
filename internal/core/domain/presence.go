package domain

import "time"

// PresenceRecord is the last known pointer position of a participant.
type PresenceRecord struct {
	UserID     string    `json:"user_id"`
	Position   Point     `json:"position"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// IsStale reports whether the record is older than threshold at now.
func (r *PresenceRecord) IsStale(now time.Time, threshold time.Duration) bool {
	return now.Sub(r.LastSeenAt) > threshold
}
