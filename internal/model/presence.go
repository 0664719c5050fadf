package model

import "time"

// PresenceStatus is a user's liveness indicator.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// Presence is the per-user presence record. ExpiresAt bounds how long an
// online record stays valid without a heartbeat.
type Presence struct {
	UserID    string         `json:"userId"`
	Status    PresenceStatus `json:"status"`
	LastSeen  time.Time      `json:"lastSeen"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// IsOnlineAt reports whether the record counts as online at now.
func (p *Presence) IsOnlineAt(now time.Time) bool {
	return p.Status == PresenceOnline && now.Before(p.ExpiresAt)
}
