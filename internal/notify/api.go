package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"callsync/internal/domain"
)

// API is the server-side notification store the cache syncs against
type API interface {
	// FetchSince returns notifications created after the given time
	FetchSince(ctx context.Context, since time.Time) ([]domain.Notification, error)

	// Fetch returns the authoritative copy of one notification
	Fetch(ctx context.Context, id uuid.UUID) (domain.Notification, error)

	// MarkRead records the given ids as read on the server
	MarkRead(ctx context.Context, ids []uuid.UUID) error
}
