package domain

import "github.com/google/uuid"

// Outbound operation payloads sent to the event-stream transport.

// InitiateCallRequest starts a call toward a recipient
type InitiateCallRequest struct {
	CallID         uuid.UUID  `json:"call_id"`
	RecipientID    uuid.UUID  `json:"recipient_id"`
	Kind           CallKind   `json:"kind"`
	Offer          string     `json:"offer"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
}

// AcceptCallRequest answers an incoming call
type AcceptCallRequest struct {
	CallID uuid.UUID `json:"call_id"`
	Answer string    `json:"answer"`
}

// RejectCallRequest declines an incoming call
type RejectCallRequest struct {
	CallID uuid.UUID `json:"call_id"`
	Reason string    `json:"reason,omitempty"`
}

// EndCallRequest hangs up a call
type EndCallRequest struct {
	CallID   uuid.UUID `json:"call_id"`
	Feedback string    `json:"feedback,omitempty"`
}

// ToggleMediaRequest flips local track state mid-call
type ToggleMediaRequest struct {
	CallID       uuid.UUID `json:"call_id"`
	VideoEnabled *bool     `json:"video_enabled,omitempty"`
	AudioEnabled *bool     `json:"audio_enabled,omitempty"`
}
