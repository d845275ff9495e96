package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"callsync/internal/domain"
	apperrors "callsync/pkg/errors"
)

// NotificationStore is the relay-side notification history, keyed per
// user. It backs the REST endpoints the clients sync against.
type NotificationStore struct {
	mu    sync.RWMutex
	byUsr map[uuid.UUID]map[uuid.UUID]domain.Notification
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{byUsr: make(map[uuid.UUID]map[uuid.UUID]domain.Notification)}
}

// Add stores a notification for the user, assigning an id and creation
// time when missing, and returns the stored copy
func (s *NotificationStore) Add(userID uuid.UUID, n domain.Notification) domain.Notification {
	if n.NotificationID == uuid.Nil {
		n.NotificationID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byUsr[userID] == nil {
		s.byUsr[userID] = make(map[uuid.UUID]domain.Notification)
	}
	s.byUsr[userID][n.NotificationID] = n
	return n
}

// ListSince returns the user's notifications created after since,
// newest first
func (s *NotificationStore) ListSince(userID uuid.UUID, since time.Time) []domain.Notification {
	s.mu.RLock()
	out := make([]domain.Notification, 0)
	for _, n := range s.byUsr[userID] {
		if n.CreatedAt.After(since) {
			out = append(out, n)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Get returns one notification belonging to the user
func (s *NotificationStore) Get(userID, id uuid.UUID) (domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byUsr[userID][id]
	if !ok {
		return domain.Notification{}, apperrors.NotificationNotFoundError(id)
	}
	return n, nil
}

// MarkRead marks the given ids read for the user and returns the ids
// that were actually flipped
func (s *NotificationStore) MarkRead(userID uuid.UUID, ids []uuid.UUID, readAt time.Time) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flipped []uuid.UUID
	for _, id := range ids {
		n, ok := s.byUsr[userID][id]
		if !ok || n.IsRead {
			continue
		}
		n.IsRead = true
		at := readAt
		n.ReadAt = &at
		s.byUsr[userID][id] = n
		flipped = append(flipped, id)
	}
	return flipped
}
