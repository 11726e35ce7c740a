package gamification

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository describes the database operations the engine needs. Lookup
// methods (FindTransactionBySource, GetAchievementByKey, GetUnlock) return
// (nil, nil) when no row exists; Get/LockProfile surface
// gorm.ErrRecordNotFound so callers can map it to a NotFound error.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	GetProfile(ctx context.Context, playerID string) (*PlayerProfile, error)
	LockProfile(ctx context.Context, playerID string) (*PlayerProfile, error)
	CreateProfile(ctx context.Context, profile *PlayerProfile) error
	SaveProfile(ctx context.Context, profile *PlayerProfile) error

	CreateTransaction(ctx context.Context, txn *XpTransaction) error
	FindTransactionBySource(ctx context.Context, playerID string, source Source, sourceID string) (*XpTransaction, error)
	CountTransactionsBySource(ctx context.Context, playerID string, source Source) (int64, error)
	RecentTransactions(ctx context.Context, playerID string, limit int) ([]XpTransaction, error)

	ActiveAchievementsByCategory(ctx context.Context, category AchievementCategory) ([]Achievement, error)
	GetAchievementByKey(ctx context.Context, key string) (*Achievement, error)
	CreateAchievement(ctx context.Context, achievement *Achievement) error

	GetUnlock(ctx context.Context, playerID, achievementID string) (*UnlockedAchievement, error)
	CreateUnlock(ctx context.Context, unlock *UnlockedAchievement) error
	CountUnlocks(ctx context.Context, playerID string) (int64, error)
	RecentUnlocks(ctx context.Context, playerID string, limit int) ([]UnlockedAchievement, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	return &gormRepository{db: tx}
}

func (r *gormRepository) GetProfile(ctx context.Context, playerID string) (*PlayerProfile, error) {
	var profile PlayerProfile
	err := r.db.WithContext(ctx).
		Where("player_id = ?", playerID).
		First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// LockProfile reads the profile row FOR UPDATE. Must run inside a
// transaction; it is the single-writer section for one player.
func (r *gormRepository) LockProfile(ctx context.Context, playerID string) (*PlayerProfile, error) {
	var profile PlayerProfile
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("player_id = ?", playerID).
		First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *gormRepository) CreateProfile(ctx context.Context, profile *PlayerProfile) error {
	return r.db.WithContext(ctx).Create(profile).Error
}

func (r *gormRepository) SaveProfile(ctx context.Context, profile *PlayerProfile) error {
	return r.db.WithContext(ctx).Save(profile).Error
}

func (r *gormRepository) CreateTransaction(ctx context.Context, txn *XpTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *gormRepository) FindTransactionBySource(ctx context.Context, playerID string, source Source, sourceID string) (*XpTransaction, error) {
	var txn XpTransaction
	err := r.db.WithContext(ctx).
		Where("player_id = ? AND source = ? AND source_id = ?", playerID, source, sourceID).
		First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *gormRepository) CountTransactionsBySource(ctx context.Context, playerID string, source Source) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&XpTransaction{}).
		Where("player_id = ? AND source = ?", playerID, source).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) RecentTransactions(ctx context.Context, playerID string, limit int) ([]XpTransaction, error) {
	var txns []XpTransaction
	err := r.db.WithContext(ctx).
		Where("player_id = ?", playerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

func (r *gormRepository) ActiveAchievementsByCategory(ctx context.Context, category AchievementCategory) ([]Achievement, error) {
	var achievements []Achievement
	err := r.db.WithContext(ctx).
		Where("category = ? AND is_active = ?", category, true).
		Order("key ASC").
		Find(&achievements).Error
	return achievements, err
}

func (r *gormRepository) GetAchievementByKey(ctx context.Context, key string) (*Achievement, error) {
	var achievement Achievement
	err := r.db.WithContext(ctx).
		Where("key = ?", key).
		First(&achievement).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &achievement, nil
}

func (r *gormRepository) CreateAchievement(ctx context.Context, achievement *Achievement) error {
	return r.db.WithContext(ctx).Create(achievement).Error
}

func (r *gormRepository) GetUnlock(ctx context.Context, playerID, achievementID string) (*UnlockedAchievement, error) {
	var unlock UnlockedAchievement
	err := r.db.WithContext(ctx).
		Where("player_id = ? AND achievement_id = ?", playerID, achievementID).
		First(&unlock).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &unlock, nil
}

func (r *gormRepository) CreateUnlock(ctx context.Context, unlock *UnlockedAchievement) error {
	return r.db.WithContext(ctx).Create(unlock).Error
}

func (r *gormRepository) CountUnlocks(ctx context.Context, playerID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&UnlockedAchievement{}).
		Where("player_id = ?", playerID).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) RecentUnlocks(ctx context.Context, playerID string, limit int) ([]UnlockedAchievement, error) {
	var unlocks []UnlockedAchievement
	err := r.db.WithContext(ctx).
		Preload("Achievement").
		Where("player_id = ?", playerID).
		Order("unlocked_at DESC").
		Limit(limit).
		Find(&unlocks).Error
	return unlocks, err
}
