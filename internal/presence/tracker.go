// Package presence tracks the last known online state of peers as
// pushed over the event stream.
package presence

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callsync/internal/domain"
	"callsync/internal/stream"
	"callsync/pkg/logger"
)

// Tracker is a read-mostly presence registry. Records are never
// removed; a user going offline is an update, not a deletion, so the
// last active time survives.
type Tracker struct {
	mu      sync.RWMutex
	records map[uuid.UUID]domain.PresenceRecord
}

func NewTracker() *Tracker {
	return &Tracker{records: make(map[uuid.UUID]domain.PresenceRecord)}
}

// Apply records one presence update. Updates older than the current
// record are ignored so out-of-order delivery cannot flip a user's
// state backwards.
func (t *Tracker) Apply(ev domain.PresenceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.records[ev.UserID]; ok && ev.LastActiveAt.Before(prev.LastActiveAt) {
		return
	}
	t.records[ev.UserID] = domain.PresenceRecord{
		UserID:       ev.UserID,
		IsOnline:     ev.IsOnline,
		LastActiveAt: ev.LastActiveAt,
	}
}

// Get returns the last known state for a user
func (t *Tracker) Get(userID uuid.UUID) (domain.PresenceRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[userID]
	return rec, ok
}

// Snapshot returns all tracked records
func (t *Tracker) Snapshot() []domain.PresenceRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.PresenceRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, rec)
	}
	return out
}

// OnlineCount returns how many tracked users are currently online
func (t *Tracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	online := 0
	for _, rec := range t.records {
		if rec.IsOnline {
			online++
		}
	}
	return online
}

// HandleEvent decodes a presence-topic event and applies it. Intended
// as the handler for a supervised subscription.
func (t *Tracker) HandleEvent(ev stream.Event) {
	var update domain.PresenceEvent
	if err := json.Unmarshal(ev.Payload, &update); err != nil {
		logger.Warn("dropping malformed presence event", zap.Error(err))
		return
	}
	t.Apply(update)
}
