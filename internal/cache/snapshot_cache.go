package cache

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	subscriptiondomain "github.com/smallbiznis/pagequota/internal/subscription/domain"
)

const (
	defaultSnapshotTTL        = 45 * time.Second
	defaultSnapshotMaxEntries = 10000
)

// SnapshotCache holds recent subscription snapshot reads. A cached nil
// snapshot means the user had no subscription at read time.
type SnapshotCache interface {
	GetSnapshot(ctx context.Context, userID string) (*subscriptiondomain.Snapshot, bool)
	SetSnapshot(ctx context.Context, userID string, snapshot *subscriptiondomain.Snapshot)
	DeleteSnapshot(ctx context.Context, userID string)
}

type memorySnapshotCache struct {
	snapshots *lru.LRU[string, *subscriptiondomain.Snapshot]
}

// NewMemorySnapshotCache returns a per-process snapshot cache bounded to
// maxEntries. Expired entries are purged in the background.
func NewMemorySnapshotCache(maxEntries int, ttl time.Duration) SnapshotCache {
	if maxEntries <= 0 {
		maxEntries = defaultSnapshotMaxEntries
	}
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &memorySnapshotCache{
		snapshots: lru.NewLRU[string, *subscriptiondomain.Snapshot](maxEntries, nil, ttl),
	}
}

// Len reports the number of live entries.
func (c *memorySnapshotCache) Len() int {
	return c.snapshots.Len()
}

func (c *memorySnapshotCache) GetSnapshot(_ context.Context, userID string) (*subscriptiondomain.Snapshot, bool) {
	cached, ok := c.snapshots.Get(cacheKey(userID))
	if !ok {
		return nil, false
	}
	if cached == nil {
		return nil, true
	}
	clone := *cached
	return &clone, true
}

func (c *memorySnapshotCache) SetSnapshot(_ context.Context, userID string, snapshot *subscriptiondomain.Snapshot) {
	var stored *subscriptiondomain.Snapshot
	if snapshot != nil {
		clone := *snapshot
		stored = &clone
	}
	c.snapshots.Add(cacheKey(userID), stored)
}

func (c *memorySnapshotCache) DeleteSnapshot(_ context.Context, userID string) {
	c.snapshots.Remove(cacheKey(userID))
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, trimmed)
	}
	return strings.Join(values, "|")
}
