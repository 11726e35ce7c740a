package gamification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"learnhub-gamification/pkg/errutil"
	"learnhub-gamification/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&PlayerProfile{},
		&XpTransaction{},
		&Achievement{},
		&UnlockedAchievement{},
	)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &Config{
		Location:       time.UTC,
		LeaderboardKey: defaultLeaderboardKey,
		Tiers:          DefaultTiers(),
		Classes:        DefaultClasses(),
	}

	svc := NewService(ServiceParams{
		DB:         db,
		Node:       node,
		Config:     cfg,
		Repository: NewRepository(db),
	})
	return svc, db
}

func seedProfile(t *testing.T, db *gorm.DB, profile *PlayerProfile) *PlayerProfile {
	t.Helper()
	if profile.Level == 0 {
		profile.Level = 1
	}
	require.NoError(t, db.Create(profile).Error)
	return profile
}

func TestAwardXPValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	testcases := []struct {
		name  string
		input AwardXPInput
	}{
		{name: "missing player", input: AwardXPInput{Amount: 10, Source: SourceLessonCompleted}},
		{name: "zero amount", input: AwardXPInput{PlayerID: "p1", Amount: 0, Source: SourceLessonCompleted}},
		{name: "negative amount", input: AwardXPInput{PlayerID: "p1", Amount: -5, Source: SourceLessonCompleted}},
		{name: "unknown source", input: AwardXPInput{PlayerID: "p1", Amount: 10, Source: "quiz_completed"}},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.AwardXP(ctx, tc.input)
			require.Error(t, err)
			require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
		})
	}
}

func TestAwardXPUnknownPlayer(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.AwardXP(context.Background(), AwardXPInput{
		PlayerID: "ghost",
		Amount:   10,
		Source:   SourceLessonCompleted,
	})
	require.Error(t, err)
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestAwardXPAppliesClassMultiplier(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	seedProfile(t, db, &PlayerProfile{PlayerID: "p1", PlayerClass: "achiever"})

	txn, err := svc.AwardXP(ctx, AwardXPInput{
		PlayerID: "p1",
		Amount:   100,
		Source:   SourceLessonCompleted,
	})
	require.NoError(t, err)
	require.Equal(t, int64(110), txn.Amount)

	profile, err := svc.repo.GetProfile(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(110), profile.TotalXP)
	require.Equal(t, 2, profile.Level)
}

func TestAwardXPUnknownClassDefaultsToBase(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	seedProfile(t, db, &PlayerProfile{PlayerID: "p1", PlayerClass: "time_traveler"})

	txn, err := svc.AwardXP(ctx, AwardXPInput{
		PlayerID: "p1",
		Amount:   50,
		Source:   SourceCourseEnrolled,
	})
	require.NoError(t, err)
	require.Equal(t, int64(50), txn.Amount)
}

func TestAwardXPTotalMatchesLedgerSum(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	seedProfile(t, db, &PlayerProfile{PlayerID: "p1", PlayerClass: "scholar"})

	amounts := []int64{10, 25, 33, 7, 120}
	for _, amount := range amounts {
		_, err := svc.AwardXP(ctx, AwardXPInput{
			PlayerID: "p1",
			Amount:   amount,
			Source:   SourceLessonCompleted,
		})
		require.NoError(t, err)
	}

	profile, err := svc.repo.GetProfile(ctx, "p1")
	require.NoError(t, err)

	var sum int64
	require.NoError(t, db.Model(&XpTransaction{}).
		Where("player_id = ?", "p1").
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error)
	require.Equal(t, sum, profile.TotalXP)
	require.Equal(t, svc.calc.LevelFor(profile.TotalXP), profile.Level)
}

func TestAwardXPDeduplicatesBySourceID(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	seedProfile(t, db, &PlayerProfile{PlayerID: "p1"})

	first, err := svc.AwardXP(ctx, AwardXPInput{
		PlayerID: "p1",
		Amount:   10,
		Source:   SourceLessonCompleted,
		SourceID: "lesson-42",
	})
	require.NoError(t, err)

	second, err := svc.AwardXP(ctx, AwardXPInput{
		PlayerID: "p1",
		Amount:   10,
		Source:   SourceLessonCompleted,
		SourceID: "lesson-42",
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&XpTransaction{}).
		Where("player_id = ?", "p1").
		Count(&count).Error)
	require.Equal(t, int64(1), count)

	profile, err := svc.repo.GetProfile(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(10), profile.TotalXP)
}

func TestAwardXPConcurrentSameSourceID(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	seedProfile(t, db, &PlayerProfile{PlayerID: "p1"})

	const workers = 8
	var wg sync.WaitGroup
	txns := make([]*XpTransaction, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txns[i], errs[i] = svc.AwardXP(ctx, AwardXPInput{
				PlayerID: "p1",
				Amount:   10,
				Source:   SourceLessonCompleted,
				SourceID: "lesson-42",
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, txns[0].ID, txns[i].ID)
	}

	var count int64
	require.NoError(t, db.Model(&XpTransaction{}).
		Where("player_id = ?", "p1").
		Count(&count).Error)
	require.Equal(t, int64(1), count)

	profile, err := svc.repo.GetProfile(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(10), profile.TotalXP)
}

func TestAwardXPConcurrentAwards(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	seedProfile(t, db, &PlayerProfile{PlayerID: "p1"})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.AwardXP(ctx, AwardXPInput{
				PlayerID: "p1",
				Amount:   10,
				Source:   SourceLessonCompleted,
			})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	profile, err := svc.repo.GetProfile(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(20), profile.TotalXP)

	var count int64
	require.NoError(t, db.Model(&XpTransaction{}).
		Where("player_id = ?", "p1").
		Count(&count).Error)
	require.Equal(t, int64(2), count)
}

func TestEnsureProfile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	profile, err := svc.EnsureProfile(ctx, "p1", "scholar")
	require.NoError(t, err)
	require.Equal(t, 1, profile.Level)
	require.Equal(t, int64(0), profile.TotalXP)
	require.Equal(t, "scholar", profile.PlayerClass)

	again, err := svc.EnsureProfile(ctx, "p1", "explorer")
	require.NoError(t, err)
	require.Equal(t, "scholar", again.PlayerClass)

	_, err = svc.EnsureProfile(ctx, "", "scholar")
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestGetPlayerStats(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	seedProfile(t, db, &PlayerProfile{PlayerID: "p1", PlayerClass: "achiever", StreakDays: 4})

	_, err := svc.AwardXP(ctx, AwardXPInput{
		PlayerID: "p1",
		Amount:   100,
		Source:   SourceLessonCompleted,
	})
	require.NoError(t, err)

	stats, err := svc.GetPlayerStats(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "p1", stats.PlayerID)
	require.Equal(t, int64(110), stats.TotalXP)
	require.Equal(t, 2, stats.Level)
	require.Equal(t, "Aprendiz", stats.LevelTitle)
	require.Equal(t, int64(220), stats.XPForNextLevel)
	require.Greater(t, stats.XPProgressPercent, float64(0))
	require.Equal(t, 4, stats.StreakDays)
	require.Len(t, stats.RecentTransactions, 1)
}

func TestGetPlayerStatsUnknownPlayer(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetPlayerStats(context.Background(), "ghost")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}
