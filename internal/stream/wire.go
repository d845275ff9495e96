package stream

import "encoding/json"

// Topics carried over the event stream
const (
	TopicCalls             = "calls"
	TopicNotifications     = "notifications"
	TopicNotificationReads = "notification_reads"
	TopicPresence          = "presence"
)

// Frame ops exchanged between client and relay
const (
	OpHello       = "hello"
	OpSubscribe   = "subscribe"
	OpEvent       = "event"
	OpInitiate    = "initiate_call"
	OpSignal      = "signal"
	OpAccept      = "accept_call"
	OpReject      = "reject_call"
	OpEnd         = "end_call"
	OpToggleMedia = "toggle_media"
)

// Frame is the websocket wire envelope
type Frame struct {
	Op    string          `json:"op"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Call-topic event types (the inbound operations of the signaling interface)
const (
	CallEventIncoming    = "incoming_call"
	CallEventSignal      = "signal"
	CallEventStatus      = "call_status"
	CallEventMediaToggle = "media_toggle"
)

// CallEvent is the payload envelope on the calls topic
type CallEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}
