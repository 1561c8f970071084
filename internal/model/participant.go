package model

import (
	"time"
)

const (
	DefaultHostName  = "Host"
	DefaultGuestName = "Guest"
)

// Participant is one client's membership record within a session. The id is
// client-generated (millisecond timestamp plus random base36 suffix), never
// a store-assigned key. Exactly one participant per active non-empty
// session holds IsHost; the coordinator restores the invariant after a host
// departs.
type Participant struct {
	ID          string    `db:"id" json:"id"`
	SessionCode string    `db:"session_code" json:"sessionCode"`
	DisplayName string    `db:"display_name" json:"displayName"`
	IsHost      bool      `db:"is_host" json:"isHost"`
	JoinedAt    time.Time `db:"joined_at" json:"joinedAt"`
	LastSeenAt  time.Time `db:"last_seen_at" json:"lastSeenAt"`
}

// Online derives the advisory presence indicator from the last heartbeat.
// Staleness never removes a participant; removal is only ever an explicit
// leave or a session ending.
func (p *Participant) Online(now time.Time, threshold time.Duration) bool {
	return now.Sub(p.LastSeenAt) < threshold
}

type CreateParticipantParams struct {
	ID          string
	SessionCode string
	DisplayName string
	IsHost      bool
	JoinedAt    time.Time
	LastSeenAt  time.Time
}
