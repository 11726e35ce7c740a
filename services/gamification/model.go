package gamification

import (
	"time"

	"gorm.io/datatypes"
)

// Source tags the origin of an XP transaction.
type Source string

const (
	SourceLessonCompleted Source = "lesson_completed"
	SourceCourseCompleted Source = "course_completed"
	SourceCourseEnrolled  Source = "course_enrolled"
	SourceAchievement     Source = "achievement"
)

func (s Source) Valid() bool {
	switch s {
	case SourceLessonCompleted, SourceCourseCompleted, SourceCourseEnrolled, SourceAchievement:
		return true
	default:
		return false
	}
}

func (s Source) String() string { return string(s) }

// AchievementCategory selects the rule variant used to evaluate unlocks.
type AchievementCategory string

const (
	CategoryLevelMilestone   AchievementCategory = "level_milestone"
	CategoryLearningProgress AchievementCategory = "learning_progress"
	CategoryStreak           AchievementCategory = "streak"
	CategorySocial           AchievementCategory = "social"
)

type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// PlayerProfile is the per-player aggregate. Every mutation goes through a
// transaction that locks this row, which serialises awards, unlocks and
// streak updates for the same player.
type PlayerProfile struct {
	PlayerID         string     `gorm:"column:player_id;primaryKey"`
	TotalXP          int64      `gorm:"column:total_xp;not null;default:0"`
	Level            int        `gorm:"column:level;not null;default:1"`
	StreakDays       int        `gorm:"column:streak_days;not null;default:0"`
	LastActivityDate *time.Time `gorm:"column:last_activity_date"`
	PlayerClass      string     `gorm:"column:player_class;type:varchar(30)"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
}

func (PlayerProfile) TableName() string { return "player_profiles" }

// XpTransaction is an append-only ledger row. Amount is the class-adjusted
// value actually credited.
type XpTransaction struct {
	ID          string         `gorm:"column:id;primaryKey"`
	PlayerID    string         `gorm:"column:player_id;index;not null"`
	Amount      int64          `gorm:"column:amount;not null"`
	Source      Source         `gorm:"column:source;type:varchar(30);index;not null"`
	SourceID    string         `gorm:"column:source_id;index"`
	Description string         `gorm:"column:description;type:text"`
	Metadata    datatypes.JSON `gorm:"column:metadata"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
}

func (XpTransaction) TableName() string { return "xp_transactions" }

type Achievement struct {
	ID               string              `gorm:"column:id;primaryKey"`
	Key              string              `gorm:"column:key;uniqueIndex;not null"`
	Name             string              `gorm:"column:name;not null"`
	Category         AchievementCategory `gorm:"column:category;type:varchar(30);index;not null"`
	Rarity           Rarity              `gorm:"column:rarity;type:varchar(20)"`
	XPReward         int64               `gorm:"column:xp_reward;not null;default:0"`
	UnlockConditions datatypes.JSONMap   `gorm:"column:unlock_conditions"`
	IsActive         bool                `gorm:"column:is_active;not null;default:true"`
	CreatedAt        time.Time           `gorm:"column:created_at"`
	UpdatedAt        time.Time           `gorm:"column:updated_at"`
}

func (Achievement) TableName() string { return "achievements" }

// UnlockedAchievement records a single unlock. The composite unique index is
// the idempotence backstop behind the row-lock pre-check.
type UnlockedAchievement struct {
	ID            string            `gorm:"column:id;primaryKey"`
	PlayerID      string            `gorm:"column:player_id;uniqueIndex:idx_player_achievement;not null"`
	AchievementID string            `gorm:"column:achievement_id;uniqueIndex:idx_player_achievement;not null"`
	UnlockedAt    time.Time         `gorm:"column:unlocked_at"`
	UnlockData    datatypes.JSONMap `gorm:"column:unlock_data"`

	Achievement Achievement `gorm:"foreignKey:AchievementID;references:ID"`
}

func (UnlockedAchievement) TableName() string { return "unlocked_achievements" }

// PlayerStats is the read projection returned to callers.
type PlayerStats struct {
	PlayerID           string                `json:"player_id"`
	TotalXP            int64                 `json:"total_xp"`
	Level              int                   `json:"level"`
	LevelTitle         string                `json:"level_title"`
	XPForNextLevel     int64                 `json:"xp_for_next_level"`
	XPProgressPercent  float64               `json:"xp_progress_percent"`
	StreakDays         int                   `json:"streak_days"`
	AchievementsCount  int64                 `json:"achievements_count"`
	RecentAchievements []UnlockedAchievement `json:"recent_achievements"`
	RecentTransactions []XpTransaction       `json:"recent_transactions"`
}
