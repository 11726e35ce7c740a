package gamification

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var (
	catalogHits = promauto.NewCounter(prometheus.CounterOpts{Name: "achievement_catalog_cache_hits_total"})
	catalogMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "achievement_catalog_cache_miss_total"})
)

type catalogEntry struct {
	achievements []Achievement
	updatedAt    time.Time
}

// catalogCache holds the active achievement catalog per category. The
// catalog changes rarely (admin seeding plus lazy milestone creation), so a
// short TTL with singleflight-coalesced loads keeps evaluation off the
// database's hot path.
type catalogCache struct {
	mu    sync.RWMutex
	items map[AchievementCategory]*catalogEntry
	ttl   time.Duration
	group singleflight.Group
	repo  Repository
}

func newCatalogCache(repo Repository, ttl time.Duration) *catalogCache {
	return &catalogCache{
		items: make(map[AchievementCategory]*catalogEntry),
		ttl:   ttl,
		repo:  repo,
	}
}

func (c *catalogCache) Active(ctx context.Context, category AchievementCategory) ([]Achievement, error) {
	c.mu.RLock()
	entry, ok := c.items[category]
	c.mu.RUnlock()
	if ok && (c.ttl <= 0 || time.Since(entry.updatedAt) <= c.ttl) {
		catalogHits.Inc()
		return entry.achievements, nil
	}

	v, err, _ := c.group.Do(string(category), func() (any, error) {
		catalogMiss.Inc()
		achievements, err := c.repo.ActiveAchievementsByCategory(ctx, category)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.items[category] = &catalogEntry{achievements: achievements, updatedAt: time.Now()}
		c.mu.Unlock()
		return achievements, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Achievement), nil
}

func (c *catalogCache) Invalidate(category AchievementCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, category)
}
