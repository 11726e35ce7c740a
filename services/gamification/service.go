package gamification

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"learnhub-gamification/pkg/errutil"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service is the gamification engine: XP ledger, leveling, achievement rules
// and streak tracking behind one API. All writes for a player happen inside a
// transaction that locks the player's profile row.
type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	repo   Repository
	cfg    *Config
	calc   *Calculator
	engine *Engine
	board  *Leaderboard
	logger *zap.Logger
}

type ServiceParams struct {
	fx.In

	DB         *gorm.DB
	Node       *snowflake.Node
	Config     *Config
	Repository Repository
	Redis      *redis.Client `optional:"true"`
	Logger     *zap.Logger   `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.L()
	}
	s := &Service{
		db:     p.DB,
		node:   p.Node,
		repo:   p.Repository,
		cfg:    p.Config,
		calc:   NewCalculator(p.Config.Tiers),
		board:  NewLeaderboard(p.Redis, p.Config.LeaderboardKey),
		logger: logger,
	}
	s.engine = newEngine(s)
	return s
}

// Engine exposes the achievement rule engine, mainly for administrative
// seeding and tests.
func (s *Service) Engine() *Engine { return s.engine }

// EnsureProfile registers a player with a fresh level-1 profile. Calling it
// for an existing player returns the stored profile unchanged, so course
// platforms can invoke it on every enrollment.
func (s *Service) EnsureProfile(ctx context.Context, playerID, playerClass string) (*PlayerProfile, error) {
	if playerID == "" {
		return nil, errutil.ValidationFailed("player_id is required")
	}

	profile, err := s.repo.GetProfile(ctx, playerID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.Internal("failed to load player profile", errutil.WithErr(err))
	}

	profile = &PlayerProfile{
		PlayerID:    playerID,
		Level:       1,
		PlayerClass: playerClass,
	}
	if err := s.repo.CreateProfile(ctx, profile); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.repo.GetProfile(ctx, playerID)
		}
		return nil, errutil.Internal("failed to create player profile", errutil.WithErr(err))
	}

	s.logger.Info("player profile created",
		zap.String("player_id", playerID),
		zap.String("player_class", playerClass),
	)
	return profile, nil
}

// AwardXPInput carries one XP award request. Amount is the raw value before
// the class multiplier.
type AwardXPInput struct {
	PlayerID    string
	Amount      int64
	Source      Source
	SourceID    string
	Description string
	Metadata    map[string]any
}

func (in AwardXPInput) validate() error {
	if in.PlayerID == "" {
		return errutil.ValidationFailed("player_id is required")
	}
	if in.Amount <= 0 {
		return errutil.ValidationFailed("amount must be greater than zero")
	}
	if !in.Source.Valid() {
		return errutil.ValidationFailed("unknown xp source")
	}
	return nil
}

type awardResult struct {
	txn       *XpTransaction
	profile   *PlayerProfile
	oldLevel  int
	newLevel  int
	duplicate bool
	input     AwardXPInput
}

// AwardXP credits class-adjusted XP to a player, recomputes the level and
// dispatches achievement evaluation. The returned transaction is committed
// before any rule runs; rule failures never surface to the caller.
func (s *Service) AwardXP(ctx context.Context, in AwardXPInput) (*XpTransaction, error) {
	span := trace.SpanFromContext(ctx)
	log := s.logger.With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("player_id", in.PlayerID),
		zap.String("source", in.Source.String()),
		zap.Int64("amount", in.Amount),
	)

	if err := in.validate(); err != nil {
		return nil, err
	}

	// Retried submissions of the same logical event are deduplicated by
	// (player, source, source_id). Events without a source_id are not.
	// This is the fast path only; awardTx re-checks under the row lock.
	if in.SourceID != "" {
		existing, err := s.repo.FindTransactionBySource(ctx, in.PlayerID, in.Source, in.SourceID)
		if err != nil {
			return nil, errutil.Internal("failed to check duplicate xp event", errutil.WithErr(err))
		}
		if existing != nil {
			log.Warn("duplicate xp event ignored", zap.String("source_id", in.SourceID))
			return existing, nil
		}
	}

	res, err := s.awardTx(ctx, in)
	if err != nil {
		log.Error("failed to award xp", zap.Error(err))
		return nil, err
	}
	if res.duplicate {
		log.Warn("duplicate xp event ignored", zap.String("source_id", in.SourceID))
		return res.txn, nil
	}

	log.Info("xp awarded",
		zap.Int64("final_amount", res.txn.Amount),
		zap.Int64("total_xp", res.profile.TotalXP),
		zap.Int("level", res.newLevel),
	)

	s.dispatchAfterAward(ctx, res)

	return res.txn, nil
}

func (s *Service) awardTx(ctx context.Context, in AwardXPInput) (*awardResult, error) {
	res := &awardResult{input: in}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		profile, err := repo.LockProfile(ctx, in.PlayerID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.NotFound("player profile not found")
		}
		if err != nil {
			return err
		}

		// Re-check the dedup key under the lock: a concurrent submission of
		// the same event may have committed after the fast-path check.
		if in.SourceID != "" {
			existing, err := repo.FindTransactionBySource(ctx, in.PlayerID, in.Source, in.SourceID)
			if err != nil {
				return err
			}
			if existing != nil {
				res.txn = existing
				res.duplicate = true
				return nil
			}
		}

		res.oldLevel = profile.Level
		txn, err := s.appendXP(ctx, repo, profile, in.Amount, in.Source, in.SourceID, in.Description, in.Metadata)
		if err != nil {
			return err
		}

		res.txn = txn
		res.profile = profile
		res.newLevel = profile.Level
		return nil
	})
	if err != nil {
		var base errutil.BaseError
		if errors.As(err, &base) {
			return nil, err
		}
		return nil, errutil.Internal("failed to commit xp award", errutil.WithErr(err))
	}
	return res, nil
}

// appendXP is the shared in-transaction award path: applies the class
// multiplier, appends the ledger row and updates totals and level on the
// locked profile. It never dispatches rule evaluation, which is what bounds
// the unlock -> reward -> unlock recursion to a single level.
func (s *Service) appendXP(ctx context.Context, repo Repository, profile *PlayerProfile, rawAmount int64, source Source, sourceID, description string, metadata map[string]any) (*XpTransaction, error) {
	multiplier := s.cfg.Classes.For(profile.PlayerClass)
	final := int64(math.Round(float64(rawAmount) * multiplier))

	var metaBytes []byte
	if len(metadata) > 0 {
		metaBytes, _ = json.Marshal(metadata)
	}

	txn := &XpTransaction{
		ID:          s.node.Generate().String(),
		PlayerID:    profile.PlayerID,
		Amount:      final,
		Source:      source,
		SourceID:    sourceID,
		Description: description,
		Metadata:    metaBytes,
		CreatedAt:   time.Now(),
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}

	profile.TotalXP += final
	profile.Level = s.calc.LevelFor(profile.TotalXP)
	if err := repo.SaveProfile(ctx, profile); err != nil {
		return nil, err
	}

	return txn, nil
}

// dispatchAfterAward runs the post-commit, best-effort side of an award:
// level-up handling, source-keyed rule evaluation and the leaderboard
// projection. Failures here are logged and swallowed.
func (s *Service) dispatchAfterAward(ctx context.Context, res *awardResult) {
	playerID := res.profile.PlayerID

	if res.newLevel > res.oldLevel {
		if err := s.engine.HandleLevelUp(ctx, playerID, res.oldLevel, res.newLevel); err != nil {
			s.logger.Error("level-up achievement evaluation failed",
				zap.String("player_id", playerID),
				zap.Int("new_level", res.newLevel),
				zap.Error(err),
			)
		}
	}

	if err := s.engine.HandleEvent(ctx, playerID, res.input.Source, res.input.Metadata); err != nil {
		s.logger.Error("achievement evaluation failed",
			zap.String("player_id", playerID),
			zap.String("source", res.input.Source.String()),
			zap.Error(err),
		)
	}

	s.board.Publish(ctx, playerID, res.profile.TotalXP)
}

// GetPlayerStats assembles the read projection for one player.
func (s *Service) GetPlayerStats(ctx context.Context, playerID string) (*PlayerStats, error) {
	profile, err := s.repo.GetProfile(ctx, playerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("player profile not found")
	}
	if err != nil {
		return nil, errutil.Internal("failed to load player profile", errutil.WithErr(err))
	}

	next, hasNext := s.calc.NextLevelXP(profile.Level)
	if !hasNext {
		next = 0
	}

	var title string
	if tier, ok := s.calc.TierFor(profile.Level); ok {
		title = tier.Title
	}

	count, err := s.repo.CountUnlocks(ctx, playerID)
	if err != nil {
		return nil, errutil.Internal("failed to count achievements", errutil.WithErr(err))
	}

	unlocks, err := s.repo.RecentUnlocks(ctx, playerID, 5)
	if err != nil {
		return nil, errutil.Internal("failed to load recent achievements", errutil.WithErr(err))
	}

	txns, err := s.repo.RecentTransactions(ctx, playerID, 10)
	if err != nil {
		return nil, errutil.Internal("failed to load recent transactions", errutil.WithErr(err))
	}

	return &PlayerStats{
		PlayerID:           profile.PlayerID,
		TotalXP:            profile.TotalXP,
		Level:              profile.Level,
		LevelTitle:         title,
		XPForNextLevel:     next,
		XPProgressPercent:  s.calc.ProgressPercent(profile.TotalXP),
		StreakDays:         profile.StreakDays,
		AchievementsCount:  count,
		RecentAchievements: unlocks,
		RecentTransactions: txns,
	}, nil
}
