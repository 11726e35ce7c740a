package gamification

import (
	"context"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type countingCatalogRepo struct {
	Repository
	loads int
}

func (r *countingCatalogRepo) ActiveAchievementsByCategory(_ context.Context, category AchievementCategory) ([]Achievement, error) {
	r.loads++
	return []Achievement{{ID: "a1", Key: "k1", Category: category}}, nil
}

func TestCatalogCacheReusesEntries(t *testing.T) {
	repo := &countingCatalogRepo{}
	cache := newCatalogCache(repo, time.Minute)
	ctx := context.Background()

	first, err := cache.Active(ctx, CategoryStreak)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, 1, repo.loads)

	second, err := cache.Active(ctx, CategoryStreak)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, 1, repo.loads)

	_, err = cache.Active(ctx, CategorySocial)
	require.NoError(t, err)
	require.Equal(t, 2, repo.loads)
}

func TestCatalogCacheInvalidate(t *testing.T) {
	repo := &countingCatalogRepo{}
	cache := newCatalogCache(repo, time.Minute)
	ctx := context.Background()

	_, err := cache.Active(ctx, CategoryLevelMilestone)
	require.NoError(t, err)
	require.Equal(t, 1, repo.loads)

	cache.Invalidate(CategoryLevelMilestone)

	_, err = cache.Active(ctx, CategoryLevelMilestone)
	require.NoError(t, err)
	require.Equal(t, 2, repo.loads)
}

type blockingCatalogRepo struct {
	Repository
	started sync.Once
	ready   chan struct{}
	release chan struct{}
	loads   int
}

func (r *blockingCatalogRepo) ActiveAchievementsByCategory(_ context.Context, category AchievementCategory) ([]Achievement, error) {
	r.loads++
	r.started.Do(func() { close(r.ready) })
	<-r.release
	return []Achievement{{ID: "a1", Key: "k1", Category: category}}, nil
}

func TestCatalogCacheCoalescedWaitersCountOneMiss(t *testing.T) {
	repo := &blockingCatalogRepo{
		ready:   make(chan struct{}),
		release: make(chan struct{}),
	}
	cache := newCatalogCache(repo, time.Minute)
	ctx := context.Background()

	before := promtestutil.ToFloat64(catalogMiss)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = cache.Active(ctx, CategoryStreak)
	}()
	<-repo.ready

	// Second caller joins while the first load is in flight and must wait on
	// it instead of counting another miss.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = cache.Active(ctx, CategoryStreak)
	}()
	time.Sleep(50 * time.Millisecond)
	close(repo.release)
	wg.Wait()

	require.Equal(t, 1, repo.loads)
	require.Equal(t, float64(1), promtestutil.ToFloat64(catalogMiss)-before)
}

func TestCatalogCacheExpiry(t *testing.T) {
	repo := &countingCatalogRepo{}
	cache := newCatalogCache(repo, time.Nanosecond)
	ctx := context.Background()

	_, err := cache.Active(ctx, CategoryStreak)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)

	_, err = cache.Active(ctx, CategoryStreak)
	require.NoError(t, err)
	require.Equal(t, 2, repo.loads)
}
