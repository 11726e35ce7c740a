package gamification

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("gamification.service",
	fx.Provide(
		NewConfig,
		NewRepository,
		NewService,
	),
	fx.Invoke(Migrate),
)

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&PlayerProfile{},
		&XpTransaction{},
		&Achievement{},
		&UnlockedAchievement{},
	)
	if err != nil {
		zap.L().Error("failed to migrate gamification schema", zap.Error(err))
	}
	return err
}
