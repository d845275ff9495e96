package domain

import (
	"time"

	"github.com/google/uuid"
)

// PresenceRecord is the tracked online state for one user
type PresenceRecord struct {
	UserID       uuid.UUID `json:"user_id"`
	IsOnline     bool      `json:"is_online"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// PresenceEvent is a push update to a user's presence
type PresenceEvent struct {
	UserID       uuid.UUID `json:"user_id"`
	IsOnline     bool      `json:"is_online"`
	LastActiveAt time.Time `json:"last_active_at"`
}
