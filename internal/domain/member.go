package domain

import "time"

// Member is a participant in a live room. Membership is ephemeral: it
// exists only while the member's socket is connected and is never
// persisted.
type Member struct {
	ID       string
	Name     string
	Color    string
	IsHost   bool
	JoinedAt time.Time
}
