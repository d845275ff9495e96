package domain

import (
	"time"

	"github.com/google/uuid"
)

// SignalKind classifies an out-of-band signaling payload
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
	SignalEnd       SignalKind = "end"
	SignalReject    SignalKind = "reject"
)

// SignalingMessage is one unit of out-of-band exchange tied to a call.
// The payload is an opaque blob produced and consumed by the media layer.
type SignalingMessage struct {
	CallID    uuid.UUID  `json:"call_id"`
	SenderID  uuid.UUID  `json:"sender_id"`
	Kind      SignalKind `json:"kind"`
	Payload   string     `json:"payload,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// IncomingCallEvent announces an offer from a remote caller
type IncomingCallEvent struct {
	CallID         uuid.UUID   `json:"call_id"`
	Caller         Participant `json:"caller"`
	Kind           CallKind    `json:"kind"`
	Offer          string      `json:"offer"`
	ConversationID *uuid.UUID  `json:"conversation_id,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// CallStatusEvent carries an authoritative status change from the far end
type CallStatusEvent struct {
	CallID   uuid.UUID  `json:"call_id"`
	Status   CallStatus `json:"status"`
	Reason   string     `json:"reason,omitempty"`
	EndedAt  *time.Time `json:"ended_at,omitempty"`
	Duration int        `json:"duration,omitempty"`
}
