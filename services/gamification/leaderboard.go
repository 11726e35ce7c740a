package gamification

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Leaderboard mirrors player totals into a redis sorted set. It is a
// read-only projection: the ledger stays the source of truth, and a missing
// or unreachable redis only degrades reads, never awards.
type Leaderboard struct {
	rdb *redis.Client
	key string
}

func NewLeaderboard(rdb *redis.Client, key string) *Leaderboard {
	if key == "" {
		key = defaultLeaderboardKey
	}
	return &Leaderboard{rdb: rdb, key: key}
}

type LeaderboardEntry struct {
	PlayerID string `json:"player_id"`
	TotalXP  int64  `json:"total_xp"`
	Rank     int    `json:"rank"`
}

// Publish records a player's new total after a committed award. Best-effort.
func (l *Leaderboard) Publish(ctx context.Context, playerID string, totalXP int64) {
	if l == nil || l.rdb == nil {
		return
	}
	if err := l.rdb.ZAdd(ctx, l.key, redis.Z{Score: float64(totalXP), Member: playerID}).Err(); err != nil {
		zap.L().Warn("failed to publish leaderboard entry",
			zap.String("player_id", playerID), zap.Error(err))
	}
}

// Top returns the highest-XP players, best first. Without redis it returns
// an empty board.
func (l *Leaderboard) Top(ctx context.Context, n int) ([]LeaderboardEntry, error) {
	if l == nil || l.rdb == nil || n <= 0 {
		return nil, nil
	}
	zs, err := l.rdb.ZRevRangeWithScores(ctx, l.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, len(zs))
	for i, z := range zs {
		member, _ := z.Member.(string)
		entries = append(entries, LeaderboardEntry{
			PlayerID: member,
			TotalXP:  int64(z.Score),
			Rank:     i + 1,
		})
	}
	return entries, nil
}
