// Package notify maintains the local notification cache and keeps it
// synchronized with the server through the event stream.
package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callsync/internal/domain"
	"callsync/pkg/logger"
	"callsync/pkg/metrics"
)

// DefaultRetention is how long notifications stay cached
const DefaultRetention = 30 * 24 * time.Hour

// Cache is an in-memory notification store keyed by notification id.
// Ingest is idempotent so replayed stream events and bulk re-fetches
// after a reconnect cannot duplicate entries.
type Cache struct {
	mu        sync.RWMutex
	items     map[uuid.UUID]domain.Notification
	retention time.Duration

	subMu sync.Mutex
	subs  []chan int
}

func NewCache(retention time.Duration) *Cache {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Cache{
		items:     make(map[uuid.UUID]domain.Notification),
		retention: retention,
	}
}

// Ingest upserts one notification. A replay of an id already marked
// read locally does not resurrect it as unread; the local read state
// wins until a reconcile says otherwise.
func (c *Cache) Ingest(n domain.Notification) {
	c.mu.Lock()
	if prev, ok := c.items[n.NotificationID]; ok {
		if prev.IsRead && !n.IsRead {
			n.IsRead = true
			n.ReadAt = prev.ReadAt
		}
	} else {
		metrics.NotificationsIngestedTotal.WithLabelValues(string(n.Type)).Inc()
	}
	c.items[n.NotificationID] = n
	unread := c.unreadLocked()
	c.mu.Unlock()

	c.publish(unread)
}

// Reconcile replaces the cached entry with the server's authoritative
// copy, read state included
func (c *Cache) Reconcile(n domain.Notification) {
	c.mu.Lock()
	c.items[n.NotificationID] = n
	unread := c.unreadLocked()
	c.mu.Unlock()

	c.publish(unread)
}

// MarkRead optimistically marks the given ids as read now. Unknown ids
// are ignored. Returns the ids actually flipped.
func (c *Cache) MarkRead(ids []uuid.UUID, readAt time.Time) []uuid.UUID {
	c.mu.Lock()
	var flipped []uuid.UUID
	for _, id := range ids {
		n, ok := c.items[id]
		if !ok || n.IsRead {
			continue
		}
		n.IsRead = true
		at := readAt
		n.ReadAt = &at
		c.items[id] = n
		flipped = append(flipped, id)
	}
	unread := c.unreadLocked()
	c.mu.Unlock()

	if len(flipped) > 0 {
		metrics.NotificationsMarkedReadTotal.Add(float64(len(flipped)))
		c.publish(unread)
	}
	return flipped
}

// ApplyReadReceipt marks ids confirmed read by the server, typically
// because another device of the same user read them
func (c *Cache) ApplyReadReceipt(ev domain.ReadReceiptEvent) {
	c.MarkRead(ev.NotificationIDs, ev.ReadAt)
}

// Get returns the cached notification for id
func (c *Cache) Get(id uuid.UUID) (domain.Notification, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.items[id]
	return n, ok
}

// Snapshot returns all cached notifications, newest first
func (c *Cache) Snapshot() []domain.Notification {
	c.mu.RLock()
	out := make([]domain.Notification, 0, len(c.items))
	for _, n := range c.items {
		out = append(out, n)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].NotificationID.String() > out[j].NotificationID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// UnreadCount returns the number of unread notifications
func (c *Cache) UnreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unreadLocked()
}

func (c *Cache) unreadLocked() int {
	unread := 0
	for _, n := range c.items {
		if !n.IsRead {
			unread++
		}
	}
	return unread
}

// Updates returns a channel receiving the unread count after every
// mutation. Slow receivers miss intermediate counts.
func (c *Cache) Updates() <-chan int {
	ch := make(chan int, 16)
	c.subMu.Lock()
	c.subs = append(c.subs, ch)
	c.subMu.Unlock()
	return ch
}

func (c *Cache) publish(unread int) {
	metrics.NotificationsUnread.Set(float64(unread))
	c.subMu.Lock()
	subs := c.subs
	c.subMu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- unread:
		default:
		}
	}
}

// Sweep removes entries older than the retention window and returns
// how many were removed
func (c *Cache) Sweep() int {
	cutoff := time.Now().Add(-c.retention)

	c.mu.Lock()
	removed := 0
	for id, n := range c.items {
		if n.CreatedAt.Before(cutoff) {
			delete(c.items, id)
			removed++
		}
	}
	unread := c.unreadLocked()
	c.mu.Unlock()

	if removed > 0 {
		metrics.NotificationsSweptTotal.Add(float64(removed))
		logger.Debug("swept expired notifications", zap.Int("removed", removed))
		c.publish(unread)
	}
	return removed
}

// StartSweep runs Sweep on the given interval until the returned stop
// function is called
func (c *Cache) StartSweep(interval time.Duration) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}
