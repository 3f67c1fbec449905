package models

import "time"

// PresenceStatus is the user-visible availability.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

// Valid reports whether s is a known status.
func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline:
		return true
	}
	return false
}

// UserPresence is the single, continuously overwritten presence row of a user.
type UserPresence struct {
	UserID     string         `db:"user_id" json:"user_id"`
	IsOnline   bool           `db:"is_online" json:"is_online"`
	Status     PresenceStatus `db:"status" json:"status"`
	LastSeenAt time.Time      `db:"last_seen_at" json:"last_seen_at"`
}
