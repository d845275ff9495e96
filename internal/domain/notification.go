package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType enumerates server-originated notification kinds
type NotificationType string

const (
	NotificationNewMessage      NotificationType = "new_message"
	NotificationFriendRequest   NotificationType = "friend_request"
	NotificationGroupInvite     NotificationType = "group_invite"
	NotificationMessageReaction NotificationType = "message_reaction"
	NotificationMissedCall      NotificationType = "missed_call"
	NotificationSystem          NotificationType = "system"
)

// Notification represents a server-originated event the user should see
type Notification struct {
	NotificationID uuid.UUID        `json:"notification_id"`
	Type           NotificationType `json:"type"`
	SenderName     string           `json:"sender_name,omitempty"`
	SenderAvatar   string           `json:"sender_avatar,omitempty"`
	RelatedEntity  string           `json:"related_entity,omitempty"`
	Body           string           `json:"body,omitempty"`
	IsRead         bool             `json:"is_read"`
	CreatedAt      time.Time        `json:"created_at"`
	ReadAt         *time.Time       `json:"read_at,omitempty"`
}

// ReadReceiptEvent confirms ids the server has marked as read
type ReadReceiptEvent struct {
	NotificationIDs []uuid.UUID `json:"notification_ids"`
	ReadAt          time.Time   `json:"read_at"`
}
