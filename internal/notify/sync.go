package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callsync/internal/domain"
	"callsync/internal/stream"
	"callsync/pkg/logger"
)

// Syncer keeps the cache aligned with the server. It supervises the
// notification topics on the event stream and backfills over the REST
// API after a reconnect.
type Syncer struct {
	cache *Cache
	api   API
	sup   *stream.Supervisor

	notifHandle *stream.Handle
	readHandle  *stream.Handle
}

func NewSyncer(cache *Cache, api API, sup *stream.Supervisor) *Syncer {
	return &Syncer{cache: cache, api: api, sup: sup}
}

// Start subscribes to the notification and read-receipt topics
func (s *Syncer) Start() {
	s.notifHandle = s.sup.Supervise(stream.TopicNotifications, s.onNotification)
	s.readHandle = s.sup.Supervise(stream.TopicNotificationReads, s.onReadReceipt)
}

// Stop cancels both subscriptions
func (s *Syncer) Stop() {
	if s.notifHandle != nil {
		s.notifHandle.Cancel()
	}
	if s.readHandle != nil {
		s.readHandle.Cancel()
	}
}

func (s *Syncer) onNotification(ev stream.Event) {
	var n domain.Notification
	if err := json.Unmarshal(ev.Payload, &n); err != nil {
		logger.Warn("dropping malformed notification event", zap.Error(err))
		return
	}
	s.cache.Ingest(n)
}

func (s *Syncer) onReadReceipt(ev stream.Event) {
	var receipt domain.ReadReceiptEvent
	if err := json.Unmarshal(ev.Payload, &receipt); err != nil {
		logger.Warn("dropping malformed read receipt", zap.Error(err))
		return
	}
	s.cache.ApplyReadReceipt(receipt)
}

// Backfill pulls notifications created since the given time over the
// API and ingests them. Used on startup and after a stream gap; ingest
// idempotence makes overlap with live events harmless.
func (s *Syncer) Backfill(ctx context.Context, since time.Time) error {
	notifications, err := s.api.FetchSince(ctx, since)
	if err != nil {
		return err
	}
	for _, n := range notifications {
		s.cache.Ingest(n)
	}
	logger.Info("notification backfill complete", zap.Int("count", len(notifications)))
	return nil
}

// MarkRead applies the read state optimistically, then confirms it with
// the server. If the server rejects the update, the authoritative copy
// of each affected notification is fetched back and reconciled, so the
// cache never stays ahead of the server for longer than one round trip.
func (s *Syncer) MarkRead(ctx context.Context, ids []uuid.UUID) error {
	flipped := s.cache.MarkRead(ids, time.Now())
	if len(flipped) == 0 {
		return nil
	}

	if err := s.api.MarkRead(ctx, flipped); err != nil {
		logger.Warn("mark read rejected by server, reconciling",
			zap.Int("count", len(flipped)),
			zap.Error(err))
		s.reconcile(ctx, flipped)
		return err
	}
	return nil
}

func (s *Syncer) reconcile(ctx context.Context, ids []uuid.UUID) {
	for _, id := range ids {
		n, err := s.api.Fetch(ctx, id)
		if err != nil {
			logger.Warn("failed to reconcile notification",
				zap.String("notification_id", id.String()),
				zap.Error(err))
			continue
		}
		s.cache.Reconcile(n)
	}
}
