package gamification

import (
	"context"
	"errors"
	"math"
	"time"

	"learnhub-gamification/pkg/errutil"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UpdateStreak advances the consecutive-activity-day counter for a player.
// Same calendar day leaves the streak untouched, the next day increments it,
// any larger gap resets it to 1. The activity date is refreshed on every
// call. Day boundaries are midnights in the configured timezone, never raw
// elapsed hours.
func (s *Service) UpdateStreak(ctx context.Context, playerID string) (int, error) {
	if playerID == "" {
		return 0, errutil.ValidationFailed("player_id is required")
	}

	var streak int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		profile, err := repo.LockProfile(ctx, playerID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.NotFound("player profile not found")
		}
		if err != nil {
			return err
		}

		now := time.Now()
		if profile.LastActivityDate == nil {
			profile.StreakDays = 1
		} else {
			switch diff := calendarDaysBetween(*profile.LastActivityDate, now, s.cfg.Location); {
			case diff == 0:
				// already counted today
			case diff == 1:
				profile.StreakDays++
			case diff < 0:
				s.logger.Warn("activity date in the future, keeping streak",
					zap.String("player_id", playerID),
					zap.Time("last_activity", *profile.LastActivityDate))
			default:
				profile.StreakDays = 1
			}
		}

		profile.LastActivityDate = &now
		streak = profile.StreakDays
		return repo.SaveProfile(ctx, profile)
	})
	if err != nil {
		var base errutil.BaseError
		if errors.As(err, &base) {
			return 0, err
		}
		return 0, errutil.Internal("failed to update streak", errutil.WithErr(err))
	}

	if err := s.engine.HandleStreak(ctx, playerID); err != nil {
		s.logger.Error("streak achievement evaluation failed",
			zap.String("player_id", playerID), zap.Error(err))
	}

	return streak, nil
}

// calendarDaysBetween counts midnight boundaries crossed between two instants
// in loc. Rounding absorbs the DST hour so a "day" is never 23 or 25 hours.
func calendarDaysBetween(from, to time.Time, loc *time.Location) int {
	f := from.In(loc)
	t := to.In(loc)
	a := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, loc)
	b := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return int(math.Round(b.Sub(a).Hours() / 24))
}
