package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const presenceTTL = 60 * time.Second

// PresenceStore records which users currently hold a live connection.
// Entries expire unless refreshed, so a crashed relay instance cannot
// leave its users online forever.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID uuid.UUID) error
	Refresh(ctx context.Context, userID uuid.UUID) error
	SetOffline(ctx context.Context, userID uuid.UUID) error
	IsOnline(ctx context.Context, userID uuid.UUID) (bool, error)
}

// RedisPresence is the shared presence store for multi-instance
// deployments
type RedisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) *RedisPresence {
	return &RedisPresence{rdb: rdb}
}

func presenceKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:%s", userID)
}

func (p *RedisPresence) SetOnline(ctx context.Context, userID uuid.UUID) error {
	return p.rdb.Set(ctx, presenceKey(userID), "1", presenceTTL).Err()
}

func (p *RedisPresence) Refresh(ctx context.Context, userID uuid.UUID) error {
	return p.rdb.Expire(ctx, presenceKey(userID), presenceTTL).Err()
}

func (p *RedisPresence) SetOffline(ctx context.Context, userID uuid.UUID) error {
	return p.rdb.Del(ctx, presenceKey(userID)).Err()
}

func (p *RedisPresence) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	n, err := p.rdb.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryPresence backs single-instance deployments with no redis
type MemoryPresence struct {
	mu      sync.Mutex
	expires map[uuid.UUID]time.Time
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{expires: make(map[uuid.UUID]time.Time)}
}

func (p *MemoryPresence) SetOnline(_ context.Context, userID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expires[userID] = time.Now().Add(presenceTTL)
	return nil
}

func (p *MemoryPresence) Refresh(ctx context.Context, userID uuid.UUID) error {
	return p.SetOnline(ctx, userID)
}

func (p *MemoryPresence) SetOffline(_ context.Context, userID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.expires, userID)
	return nil
}

func (p *MemoryPresence) IsOnline(_ context.Context, userID uuid.UUID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	exp, ok := p.expires[userID]
	if !ok {
		return false, nil
	}
	if time.Now().After(exp) {
		delete(p.expires, userID)
		return false, nil
	}
	return true, nil
}
