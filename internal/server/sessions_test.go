package server

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/smacktalklabs/central/backend/internal/chat"
	"github.com/smacktalklabs/central/backend/internal/users"
)

func newSessionTestStats(testContext *testing.T, databaseName string) *users.StatsStore {
	testContext.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", databaseName)
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&users.StatsRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := users.NewStatsStore(users.StatsStoreConfig{Database: database})
	if err != nil {
		testContext.Fatalf("failed to construct stats store: %v", err)
	}
	return store
}

func TestAcquireSeedsSessionFromDurableXP(testContext *testing.T) {
	store := newSessionTestStats(testContext, "sessions_seed")
	if _, err := store.ApplyXPDelta(context.Background(), "user-1", "Seeded", 150); err != nil {
		testContext.Fatalf("failed to seed durable xp: %v", err)
	}

	manager, err := NewSessionManager(SessionManagerConfig{Stats: store})
	if err != nil {
		testContext.Fatalf("failed to construct manager: %v", err)
	}
	defer manager.Close()

	session, err := manager.Acquire(context.Background(), "user-1", "Seeded")
	if err != nil {
		testContext.Fatalf("failed to acquire session: %v", err)
	}
	stats := session.Stats()
	if stats.XP != 150 {
		testContext.Fatalf("expected seeded xp 150, got %d", stats.XP)
	}
	if stats.Tier.Rank != 2 {
		testContext.Fatalf("expected Sideline Sniper at 150 xp, got %+v", stats.Tier)
	}
}

func TestAcquireReturnsSameSessionPerUser(testContext *testing.T) {
	store := newSessionTestStats(testContext, "sessions_identity")
	manager, err := NewSessionManager(SessionManagerConfig{Stats: store})
	if err != nil {
		testContext.Fatalf("failed to construct manager: %v", err)
	}
	defer manager.Close()

	first, err := manager.Acquire(context.Background(), "user-1", "Fan")
	if err != nil {
		testContext.Fatalf("first acquire failed: %v", err)
	}
	second, err := manager.Acquire(context.Background(), "user-1", "Fan")
	if err != nil {
		testContext.Fatalf("second acquire failed: %v", err)
	}
	if first != second {
		testContext.Fatalf("expected the same session instance for one user")
	}

	other, err := manager.Acquire(context.Background(), "user-2", "Rival")
	if err != nil {
		testContext.Fatalf("acquire for second user failed: %v", err)
	}
	if other == first {
		testContext.Fatalf("expected distinct sessions per user")
	}
}

func TestBroadcastSkipsAuthorSession(testContext *testing.T) {
	store := newSessionTestStats(testContext, "sessions_broadcast")
	manager, err := NewSessionManager(SessionManagerConfig{Stats: store})
	if err != nil {
		testContext.Fatalf("failed to construct manager: %v", err)
	}
	defer manager.Close()

	author, err := manager.Acquire(context.Background(), "user-author", "Author")
	if err != nil {
		testContext.Fatalf("acquire author failed: %v", err)
	}
	listener, err := manager.Acquire(context.Background(), "user-listener", "Listener")
	if err != nil {
		testContext.Fatalf("acquire listener failed: %v", err)
	}

	event, err := chat.NewEvent(1, "user-author", "Author", "incoming", nil, chat.EventKindMessage, time.Now(), nil)
	if err != nil {
		testContext.Fatalf("failed to build event: %v", err)
	}
	if _, applied := author.RecordSend(event); !applied {
		testContext.Fatalf("expected optimistic send to apply")
	}

	manager.Broadcast(event)

	if got := len(listener.History()); got != 1 {
		testContext.Fatalf("expected broadcast to reach listener, history len %d", got)
	}
	// The author already holds the event; a broadcast replay must not
	// double-count it.
	if got := len(author.History()); got != 1 {
		testContext.Fatalf("expected author history to stay deduplicated, len %d", got)
	}
}

func TestManagerCloseTearsDownSessions(testContext *testing.T) {
	store := newSessionTestStats(testContext, "sessions_close")
	manager, err := NewSessionManager(SessionManagerConfig{Stats: store})
	if err != nil {
		testContext.Fatalf("failed to construct manager: %v", err)
	}

	session, err := manager.Acquire(context.Background(), "user-1", "Fan")
	if err != nil {
		testContext.Fatalf("acquire failed: %v", err)
	}
	manager.Close()

	if _, ok := <-session.Notices(); ok {
		testContext.Fatalf("expected notice stream to be closed")
	}
	if _, ok := manager.Peek("user-1"); ok {
		testContext.Fatalf("expected sessions to be dropped after close")
	}
}
