package users

import (
	"context"
	"errors"
	"testing"
)

func newTestStatsStore(t *testing.T) *StatsStore {
	t.Helper()
	store, err := NewStatsStore(StatsStoreConfig{Database: newTestDB(t)})
	if err != nil {
		t.Fatalf("failed to build stats store: %v", err)
	}
	return store
}

func TestStatsStoreFetchUnseenUserIsZero(t *testing.T) {
	store := newTestStatsStore(t)
	xp, err := store.FetchStats(context.Background(), "u-new")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if xp != 0 {
		t.Fatalf("unseen user should report 0 xp, got %d", xp)
	}
}

func TestStatsStoreApplyXPDeltaAccumulates(t *testing.T) {
	store := newTestStatsStore(t)
	ctx := context.Background()

	total, err := store.ApplyXPDelta(ctx, "u-bob", "Bob", 20)
	if err != nil {
		t.Fatalf("first delta failed: %v", err)
	}
	if total != 20 {
		t.Fatalf("expected total 20, got %d", total)
	}

	total, err = store.ApplyXPDelta(ctx, "u-bob", "Bob", 5)
	if err != nil {
		t.Fatalf("second delta failed: %v", err)
	}
	if total != 25 {
		t.Fatalf("expected total 25, got %d", total)
	}

	xp, err := store.FetchStats(ctx, "u-bob")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if xp != 25 {
		t.Fatalf("durable xp should match, got %d", xp)
	}
}

func TestStatsStoreRejectsNegativeDelta(t *testing.T) {
	store := newTestStatsStore(t)
	if _, err := store.ApplyXPDelta(context.Background(), "u-bob", "Bob", -1); !errors.Is(err, ErrNegativeDelta) {
		t.Fatalf("expected ErrNegativeDelta, got %v", err)
	}
}

func TestStatsStoreLeaderboardOrdersByXP(t *testing.T) {
	store := newTestStatsStore(t)
	ctx := context.Background()

	if _, err := store.ApplyXPDelta(ctx, "u-low", "Low", 10); err != nil {
		t.Fatalf("delta failed: %v", err)
	}
	if _, err := store.ApplyXPDelta(ctx, "u-high", "High", 500); err != nil {
		t.Fatalf("delta failed: %v", err)
	}

	board, err := store.Leaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if len(board) != 2 || board[0].UserID != "u-high" {
		t.Fatalf("expected u-high first, got %+v", board)
	}
}
