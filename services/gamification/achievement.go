package gamification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"learnhub-gamification/pkg/errutil"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// milestoneLevels are the fixed level milestones that get a lazily created
// achievement the first time any player crosses them.
var milestoneLevels = []int{5, 10, 20, 30, 50, 100}

var errDuplicateUnlock = errors.New("achievement already unlocked")

// Engine evaluates achievement rules and performs unlocks. Rule dispatch is a
// lookup on the achievement category; each variant implements categoryRule.
type Engine struct {
	svc    *Service
	repo   Repository
	cache  *catalogCache
	rules  map[AchievementCategory]categoryRule
	logger *zap.Logger
}

func newEngine(svc *Service) *Engine {
	rules := map[AchievementCategory]categoryRule{
		CategoryLevelMilestone:   levelMilestoneRule{},
		CategoryLearningProgress: learningProgressRule{},
		CategoryStreak:           streakRule{},
		CategorySocial:           socialRule{},
	}
	return &Engine{
		svc:    svc,
		repo:   svc.repo,
		cache:  newCatalogCache(svc.repo, 30*time.Second),
		rules:  rules,
		logger: svc.logger,
	}
}

// playerSnapshot is the state a rule evaluates against. Aggregate counts are
// only populated when a learning-progress rule is in play.
type playerSnapshot struct {
	profile          *PlayerProfile
	source           Source
	metadata         map[string]any
	lessonsCompleted int64
	coursesCompleted int64
}

type categoryRule interface {
	Category() AchievementCategory
	Evaluate(ctx context.Context, snap *playerSnapshot, a *Achievement) (bool, error)
}

type levelMilestoneRule struct{}

func (levelMilestoneRule) Category() AchievementCategory { return CategoryLevelMilestone }

func (levelMilestoneRule) Evaluate(_ context.Context, snap *playerSnapshot, a *Achievement) (bool, error) {
	level, err := conditionInt(a.UnlockConditions, "level")
	if err != nil {
		return false, err
	}
	return int64(snap.profile.Level) >= level, nil
}

type learningProgressRule struct{}

func (learningProgressRule) Category() AchievementCategory { return CategoryLearningProgress }

func (learningProgressRule) Evaluate(_ context.Context, snap *playerSnapshot, a *Achievement) (bool, error) {
	if snap.source != SourceLessonCompleted && snap.source != SourceCourseCompleted {
		return false, nil
	}
	if _, ok := a.UnlockConditions["lessons_completed"]; ok {
		want, err := conditionInt(a.UnlockConditions, "lessons_completed")
		if err != nil {
			return false, err
		}
		return snap.lessonsCompleted >= want, nil
	}
	if _, ok := a.UnlockConditions["courses_completed"]; ok {
		want, err := conditionInt(a.UnlockConditions, "courses_completed")
		if err != nil {
			return false, err
		}
		return snap.coursesCompleted >= want, nil
	}
	return false, fmt.Errorf("achievement %s has no learning progress condition", a.Key)
}

type streakRule struct{}

func (streakRule) Category() AchievementCategory { return CategoryStreak }

func (streakRule) Evaluate(_ context.Context, snap *playerSnapshot, a *Achievement) (bool, error) {
	want, err := conditionInt(a.UnlockConditions, "streak_days")
	if err != nil {
		return false, err
	}
	return int64(snap.profile.StreakDays) >= want, nil
}

// socialRule has no defined conditions yet and never matches.
type socialRule struct{}

func (socialRule) Category() AchievementCategory { return CategorySocial }

func (socialRule) Evaluate(context.Context, *playerSnapshot, *Achievement) (bool, error) {
	return false, nil
}

// HandleEvent evaluates the non-level categories for one player after an XP
// award or streak update. A broken rule is logged and skipped; it never stops
// the remaining achievements.
func (e *Engine) HandleEvent(ctx context.Context, playerID string, source Source, metadata map[string]any) error {
	return e.evaluateCategories(ctx, playerID, source, metadata,
		CategoryLearningProgress, CategoryStreak, CategorySocial)
}

// HandleStreak re-runs only the streak category, used after UpdateStreak.
func (e *Engine) HandleStreak(ctx context.Context, playerID string) error {
	return e.evaluateCategories(ctx, playerID, "", nil, CategoryStreak)
}

func (e *Engine) evaluateCategories(ctx context.Context, playerID string, source Source, metadata map[string]any, categories ...AchievementCategory) error {
	profile, err := e.repo.GetProfile(ctx, playerID)
	if err != nil {
		return err
	}

	snap := &playerSnapshot{profile: profile, source: source, metadata: metadata}
	for _, category := range categories {
		if category == CategoryLearningProgress {
			if snap.lessonsCompleted, err = e.repo.CountTransactionsBySource(ctx, playerID, SourceLessonCompleted); err != nil {
				return err
			}
			if snap.coursesCompleted, err = e.repo.CountTransactionsBySource(ctx, playerID, SourceCourseCompleted); err != nil {
				return err
			}
			break
		}
	}

	for _, category := range categories {
		rule, ok := e.rules[category]
		if !ok {
			continue
		}

		achievements, err := e.cache.Active(ctx, category)
		if err != nil {
			return err
		}

		for i := range achievements {
			a := achievements[i]
			matched, err := rule.Evaluate(ctx, snap, &a)
			if err != nil {
				e.logger.Warn("achievement rule evaluation failed",
					zap.String("achievement_key", a.Key),
					zap.String("category", string(category)),
					zap.Error(err),
				)
				continue
			}
			if !matched {
				continue
			}
			if _, err := e.UnlockAchievement(ctx, playerID, &a, unlockDataFor(&a, snap)); err != nil {
				e.logger.Error("failed to unlock achievement",
					zap.String("achievement_key", a.Key),
					zap.String("player_id", playerID),
					zap.Error(err),
				)
			}
		}
	}

	return nil
}

// HandleLevelUp unlocks level-milestone achievements after a committed level
// transition: explicit catalog rows first, then the fixed numeric milestones,
// lazily creating their achievement rows on first crossing.
func (e *Engine) HandleLevelUp(ctx context.Context, playerID string, oldLevel, newLevel int) error {
	achievements, err := e.cache.Active(ctx, CategoryLevelMilestone)
	if err != nil {
		return err
	}

	for i := range achievements {
		a := achievements[i]
		level, err := conditionInt(a.UnlockConditions, "level")
		if err != nil {
			e.logger.Warn("level milestone with malformed conditions",
				zap.String("achievement_key", a.Key), zap.Error(err))
			continue
		}
		if level > int64(newLevel) {
			continue
		}
		if _, err := e.UnlockAchievement(ctx, playerID, &a, datatypes.JSONMap{"level": level}); err != nil {
			e.logger.Error("failed to unlock level achievement",
				zap.String("achievement_key", a.Key), zap.Error(err))
		}
	}

	for _, n := range milestoneLevels {
		if n <= oldLevel || n > newLevel {
			continue
		}
		a, err := e.ensureMilestoneAchievement(ctx, n)
		if err != nil {
			e.logger.Error("failed to ensure milestone achievement",
				zap.Int("level", n), zap.Error(err))
			continue
		}
		if _, err := e.UnlockAchievement(ctx, playerID, a, datatypes.JSONMap{"level": n}); err != nil {
			e.logger.Error("failed to unlock milestone achievement",
				zap.String("achievement_key", a.Key), zap.Error(err))
		}
	}

	return nil
}

// ensureMilestoneAchievement lazily creates the level_<n> achievement row.
// A creation race is resolved by the unique key: on conflict the winner's row
// is re-read.
func (e *Engine) ensureMilestoneAchievement(ctx context.Context, level int) (*Achievement, error) {
	key := fmt.Sprintf("level_%d", level)

	existing, err := e.repo.GetAchievementByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now()
	a := &Achievement{
		ID:               e.svc.node.Generate().String(),
		Key:              key,
		Name:             fmt.Sprintf("Nível %d", level),
		Category:         CategoryLevelMilestone,
		Rarity:           milestoneRarity(level),
		XPReward:         int64(level) * 10,
		UnlockConditions: datatypes.JSONMap{"level": level},
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.repo.CreateAchievement(ctx, a); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return e.repo.GetAchievementByKey(ctx, key)
		}
		return nil, err
	}
	e.cache.Invalidate(CategoryLevelMilestone)
	return a, nil
}

func milestoneRarity(level int) Rarity {
	switch {
	case level >= 50:
		return RarityLegendary
	case level >= 30:
		return RarityEpic
	case level >= 10:
		return RarityRare
	default:
		return RarityCommon
	}
}

// UnlockAchievement records an unlock exactly once and credits its XP reward
// through the shared in-transaction award path. A duplicate unlock, whether
// caught by the pre-check under the row lock or by the unique index, is a
// no-op. The reward credit never re-enters rule evaluation.
func (e *Engine) UnlockAchievement(ctx context.Context, playerID string, a *Achievement, unlockData datatypes.JSONMap) (bool, error) {
	existing, err := e.repo.GetUnlock(ctx, playerID, a.ID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	var rewarded *PlayerProfile
	err = e.svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)

		profile, err := repo.LockProfile(ctx, playerID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.NotFound("player profile not found")
		}
		if err != nil {
			return err
		}

		// Re-check under the lock: a concurrent unlock may have committed
		// between the fast-path check and here.
		if u, err := repo.GetUnlock(ctx, playerID, a.ID); err != nil {
			return err
		} else if u != nil {
			return errDuplicateUnlock
		}

		unlock := &UnlockedAchievement{
			ID:            e.svc.node.Generate().String(),
			PlayerID:      playerID,
			AchievementID: a.ID,
			UnlockedAt:    time.Now(),
			UnlockData:    unlockData,
		}
		if err := repo.CreateUnlock(ctx, unlock); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errDuplicateUnlock
			}
			return err
		}

		if a.XPReward > 0 {
			if _, err := e.svc.appendXP(ctx, repo, profile, a.XPReward, SourceAchievement, a.ID,
				fmt.Sprintf("Achievement unlocked: %s", a.Name), nil); err != nil {
				return err
			}
			rewarded = profile
		}

		return nil
	})
	if errors.Is(err, errDuplicateUnlock) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	e.logger.Info("achievement unlocked",
		zap.String("player_id", playerID),
		zap.String("achievement_key", a.Key),
		zap.Int64("xp_reward", a.XPReward),
	)

	if rewarded != nil {
		e.svc.board.Publish(ctx, playerID, rewarded.TotalXP)
	}

	return true, nil
}

func unlockDataFor(a *Achievement, snap *playerSnapshot) datatypes.JSONMap {
	data := datatypes.JSONMap{}
	switch a.Category {
	case CategoryLearningProgress:
		if _, ok := a.UnlockConditions["lessons_completed"]; ok {
			data["lessons_completed"] = snap.lessonsCompleted
		}
		if _, ok := a.UnlockConditions["courses_completed"]; ok {
			data["courses_completed"] = snap.coursesCompleted
		}
	case CategoryStreak:
		data["streak_days"] = snap.profile.StreakDays
	}
	return data
}

// conditionInt extracts a numeric unlock condition. JSON round-trips hand
// back float64; seeded rows may carry native ints.
func conditionInt(conditions datatypes.JSONMap, key string) (int64, error) {
	raw, ok := conditions[key]
	if !ok {
		return 0, fmt.Errorf("unlock condition %q missing", key)
	}
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("unlock condition %q is not numeric: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unlock condition %q has unsupported type %T", key, raw)
	}
}
