package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallKind represents the media composition of a call
type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
	// CallKindVideoOnly carries a video track without an audio track
	CallKindVideoOnly CallKind = "video_only"
)

// CallStatus represents the lifecycle state of a call session
type CallStatus string

const (
	CallStatusRinging    CallStatus = "ringing"
	CallStatusConnecting CallStatus = "connecting"
	CallStatusConnected  CallStatus = "connected"
	CallStatusEnded      CallStatus = "ended"
	CallStatusMissed     CallStatus = "missed"
	CallStatusRejected   CallStatus = "rejected"
	CallStatusFailed     CallStatus = "failed"
)

// IsTerminal reports whether the status has no outgoing transitions
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusEnded, CallStatusMissed, CallStatusRejected, CallStatusFailed:
		return true
	}
	return false
}

// Participant identifies one side of a call
type Participant struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	IsOnline    bool      `json:"is_online"`
}

// CallSession represents one active or historical call
type CallSession struct {
	CallID         uuid.UUID   `json:"call_id"`
	Initiator      Participant `json:"initiator"`
	Responder      Participant `json:"responder"`
	Kind           CallKind    `json:"kind"`
	Status         CallStatus  `json:"status"`
	StartedAt      time.Time   `json:"started_at"`
	EndedAt        *time.Time  `json:"ended_at,omitempty"`
	Duration       int         `json:"duration,omitempty"` // seconds, valid once connected then ended
	ConversationID *uuid.UUID  `json:"conversation_id,omitempty"`
}
