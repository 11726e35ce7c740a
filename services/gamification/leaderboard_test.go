package gamification

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLeaderboardWithoutRedis(t *testing.T) {
	board := NewLeaderboard(nil, "")
	ctx := context.Background()

	// Publishing without a client must be a silent no-op.
	board.Publish(ctx, "p1", 100)

	entries, err := board.Top(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestLeaderboardTopNonPositiveN(t *testing.T) {
	// n <= 0 must return an empty board without touching redis; the client
	// below points nowhere, so any query would error.
	board := NewLeaderboard(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "")
	ctx := context.Background()

	entries, err := board.Top(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, entries)

	entries, err = board.Top(ctx, -3)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestLeaderboardDefaultKey(t *testing.T) {
	board := NewLeaderboard(nil, "")
	require.Equal(t, defaultLeaderboardKey, board.key)

	board = NewLeaderboard(nil, "custom:key")
	require.Equal(t, "custom:key", board.key)
}
