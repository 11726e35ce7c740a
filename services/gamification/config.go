package gamification

import (
	"fmt"
	"time"

	appconfig "learnhub-gamification/pkg/config"
)

const defaultLeaderboardKey = "gamification:leaderboard"

// ClassMultipliers maps a player class to its XP-gain multiplier.
type ClassMultipliers map[string]float64

// For returns the multiplier for a class. Unknown classes and anything below
// 1.0 resolve to 1.0.
func (m ClassMultipliers) For(class string) float64 {
	if v, ok := m[class]; ok && v >= 1.0 {
		return v
	}
	return 1.0
}

// Config is the engine's static configuration: the tier table, the class
// multipliers, and the timezone that defines calendar-day boundaries for
// streaks. Loaded once at startup and passed explicitly into the service.
type Config struct {
	Location       *time.Location
	LeaderboardKey string
	Tiers          []LevelTier
	Classes        ClassMultipliers
}

// NewConfig builds the engine configuration from the application config,
// falling back to compiled-in defaults where the file leaves sections empty.
func NewConfig(cfg *appconfig.Config) (*Config, error) {
	g := cfg.Gamification

	loc := time.UTC
	if g.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(g.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid gamification timezone %q: %w", g.Timezone, err)
		}
	}

	tiers := DefaultTiers()
	if len(g.Tiers) > 0 {
		tiers = make([]LevelTier, 0, len(g.Tiers))
		for _, t := range g.Tiers {
			tiers = append(tiers, LevelTier{
				Level:       t.Level,
				XPThreshold: t.XPThreshold,
				Title:       t.Title,
				Benefits:    t.Benefits,
			})
		}
	}

	classes := DefaultClasses()
	if len(g.Classes) > 0 {
		classes = ClassMultipliers(g.Classes)
	}

	key := g.LeaderboardKey
	if key == "" {
		key = defaultLeaderboardKey
	}

	return &Config{
		Location:       loc,
		LeaderboardKey: key,
		Tiers:          tiers,
		Classes:        classes,
	}, nil
}

// DefaultClasses returns the built-in class multiplier table.
func DefaultClasses() ClassMultipliers {
	return ClassMultipliers{
		"explorer": 1.0,
		"achiever": 1.1,
		"scholar":  1.2,
	}
}

// DefaultTiers returns the built-in level tier table.
func DefaultTiers() []LevelTier {
	return []LevelTier{
		{Level: 1, XPThreshold: 0, Title: "Iniciante"},
		{Level: 2, XPThreshold: 100, Title: "Aprendiz"},
		{Level: 3, XPThreshold: 220, Title: "Estudante"},
		{Level: 4, XPThreshold: 360, Title: "Explorador"},
		{Level: 5, XPThreshold: 520, Title: "Dedicado", Benefits: []string{"badge_frame"}},
		{Level: 6, XPThreshold: 700, Title: "Persistente"},
		{Level: 7, XPThreshold: 900, Title: "Conhecedor"},
		{Level: 8, XPThreshold: 1100, Title: "Avançado"},
		{Level: 9, XPThreshold: 1300, Title: "Especialista"},
		{Level: 10, XPThreshold: 1500, Title: "Mestre", Benefits: []string{"profile_banner"}},
		{Level: 11, XPThreshold: 1750, Title: "Mentor"},
		{Level: 12, XPThreshold: 2050, Title: "Veterano"},
		{Level: 13, XPThreshold: 2400, Title: "Erudito"},
		{Level: 14, XPThreshold: 2800, Title: "Sábio"},
		{Level: 15, XPThreshold: 3250, Title: "Notável"},
		{Level: 16, XPThreshold: 3750, Title: "Brilhante"},
		{Level: 17, XPThreshold: 4300, Title: "Visionário"},
		{Level: 18, XPThreshold: 4900, Title: "Épico"},
		{Level: 19, XPThreshold: 5550, Title: "Grão-Mestre"},
		{Level: 20, XPThreshold: 6250, Title: "Lenda", Benefits: []string{"legend_badge"}},
	}
}
