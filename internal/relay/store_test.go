package relay

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callsync/internal/domain"
	apperrors "callsync/pkg/errors"
)

func TestStoreAddAssignsIdentity(t *testing.T) {
	s := NewNotificationStore()
	userID := uuid.New()

	n := s.Add(userID, domain.Notification{Type: domain.NotificationSystem, Body: "hi"})
	assert.NotEqual(t, uuid.Nil, n.NotificationID)
	assert.False(t, n.CreatedAt.IsZero())

	got, err := s.Get(userID, n.NotificationID)
	require.NoError(t, err)
	assert.Equal(t, n, got)
}

func TestStoreListSinceFiltersAndSorts(t *testing.T) {
	s := NewNotificationStore()
	userID := uuid.New()
	base := time.Now()

	old := s.Add(userID, domain.Notification{Type: domain.NotificationSystem, CreatedAt: base.Add(-2 * time.Hour)})
	newer := s.Add(userID, domain.Notification{Type: domain.NotificationSystem, CreatedAt: base.Add(-time.Minute)})
	newest := s.Add(userID, domain.Notification{Type: domain.NotificationSystem, CreatedAt: base})

	all := s.ListSince(userID, time.Time{})
	require.Len(t, all, 3)
	assert.Equal(t, newest.NotificationID, all[0].NotificationID)
	assert.Equal(t, newer.NotificationID, all[1].NotificationID)
	assert.Equal(t, old.NotificationID, all[2].NotificationID)

	recent := s.ListSince(userID, base.Add(-time.Hour))
	assert.Len(t, recent, 2)
}

func TestStoreIsolatesUsers(t *testing.T) {
	s := NewNotificationStore()
	alice := uuid.New()
	bob := uuid.New()

	n := s.Add(alice, domain.Notification{Type: domain.NotificationSystem})
	assert.Empty(t, s.ListSince(bob, time.Time{}))

	_, err := s.Get(bob, n.NotificationID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotificationNotFound))
}

func TestStoreMarkRead(t *testing.T) {
	s := NewNotificationStore()
	userID := uuid.New()

	a := s.Add(userID, domain.Notification{Type: domain.NotificationSystem})
	b := s.Add(userID, domain.Notification{Type: domain.NotificationSystem})

	readAt := time.Now()
	flipped := s.MarkRead(userID, []uuid.UUID{a.NotificationID, uuid.New()}, readAt)
	assert.Equal(t, []uuid.UUID{a.NotificationID}, flipped)

	got, err := s.Get(userID, a.NotificationID)
	require.NoError(t, err)
	assert.True(t, got.IsRead)
	require.NotNil(t, got.ReadAt)

	// Already-read ids are not flipped again.
	assert.Empty(t, s.MarkRead(userID, []uuid.UUID{a.NotificationID}, time.Now()))

	got, err = s.Get(userID, b.NotificationID)
	require.NoError(t, err)
	assert.False(t, got.IsRead)
}
