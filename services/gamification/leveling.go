package gamification

import "sort"

// LevelTier maps a cumulative XP threshold to a level. The tier table is
// immutable configuration loaded once at startup.
type LevelTier struct {
	Level       int
	XPThreshold int64
	Title       string
	Benefits    []string
}

// Calculator answers level questions against a fixed tier table. It performs
// no I/O and is safe for concurrent use.
type Calculator struct {
	tiers []LevelTier
}

// NewCalculator copies and sorts the tier table ascending by threshold.
// An empty table falls back to the built-in defaults so the level-1 tier
// (threshold 0) always exists.
func NewCalculator(tiers []LevelTier) *Calculator {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	sorted := make([]LevelTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].XPThreshold < sorted[j].XPThreshold
	})
	return &Calculator{tiers: sorted}
}

// LevelFor returns the highest level whose threshold does not exceed totalXP.
// Never below 1.
func (c *Calculator) LevelFor(totalXP int64) int {
	level := 1
	for _, tier := range c.tiers {
		if totalXP < tier.XPThreshold {
			break
		}
		level = tier.Level
	}
	return level
}

// NextLevelXP returns the threshold of the first tier above level. The second
// return is false at the top of the table.
func (c *Calculator) NextLevelXP(level int) (int64, bool) {
	for _, tier := range c.tiers {
		if tier.Level > level {
			return tier.XPThreshold, true
		}
	}
	return 0, false
}

// TierFor returns the tier row for an exact level.
func (c *Calculator) TierFor(level int) (LevelTier, bool) {
	for _, tier := range c.tiers {
		if tier.Level == level {
			return tier, true
		}
	}
	return LevelTier{}, false
}

// ProgressPercent reports how far totalXP sits between the current tier
// threshold and the next one, 0-100. At the top tier it is always 100.
func (c *Calculator) ProgressPercent(totalXP int64) float64 {
	level := c.LevelFor(totalXP)
	next, ok := c.NextLevelXP(level)
	if !ok {
		return 100
	}
	current, found := c.TierFor(level)
	if !found || next <= current.XPThreshold {
		return 0
	}
	pct := float64(totalXP-current.XPThreshold) / float64(next-current.XPThreshold) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// MaxLevel is the highest configured level.
func (c *Calculator) MaxLevel() int {
	max := 1
	for _, tier := range c.tiers {
		if tier.Level > max {
			max = tier.Level
		}
	}
	return max
}
