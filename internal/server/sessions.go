package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smacktalklabs/central/backend/internal/chat"
	"github.com/smacktalklabs/central/backend/internal/users"
)

var errMissingStatsStore = errors.New("stats store dependency required")

// SessionManagerConfig bundles the dependencies for the session manager.
type SessionManagerConfig struct {
	Stats          *users.StatsStore
	LedgerCapacity int
	Clock          func() time.Time
	Logger         *zap.Logger
}

// SessionManager owns one chat.Session per signed-in user. Sessions are
// created lazily on first authenticated request, seeded from durable XP,
// and run their reaction ticker until the manager shuts down.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*chat.Session
	stats    *users.StatsStore
	capacity int
	clock    func() time.Time
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewSessionManager validates the configuration and constructs the manager.
func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	if cfg.Stats == nil {
		return nil, errMissingStatsStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionManager{
		sessions: make(map[string]*chat.Session),
		stats:    cfg.Stats,
		capacity: cfg.LedgerCapacity,
		clock:    clock,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Acquire returns the user's session, creating and seeding it on first use.
// A failed durable-stats fetch degrades to a zero seed rather than blocking
// the sign-in; the optimistic view reconciles on the next fetch.
func (m *SessionManager) Acquire(ctx context.Context, userID, displayName string) (*chat.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[userID]; ok {
		return session, nil
	}

	session, err := chat.NewSession(chat.SessionConfig{
		UserID:         userID,
		DisplayName:    displayName,
		LedgerCapacity: m.capacity,
		Clock:          m.clock,
		Logger:         m.logger,
	})
	if err != nil {
		return nil, err
	}

	durableXP, err := m.stats.FetchStats(ctx, userID)
	if err != nil {
		m.logger.Warn("seeding session with zero xp", zap.String("user_id", userID), zap.Error(err))
	} else {
		session.SeedXP(int(durableXP))
	}

	m.sessions[userID] = session
	go session.RunReactionTicker(m.ctx)
	return session, nil
}

// Peek returns the user's session without creating one.
func (m *SessionManager) Peek(userID string) (*chat.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[userID]
	return session, ok
}

// Broadcast folds one event into every active session except the author's,
// mirroring what each connected client would do on delivery. The author's
// session already holds the event from the optimistic send path.
func (m *SessionManager) Broadcast(event chat.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, session := range m.sessions {
		if userID == event.AuthorID {
			continue
		}
		session.Apply(event)
	}
}

// Close tears down every session and stops their tickers.
func (m *SessionManager) Close() {
	m.cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		session.Close()
	}
	m.sessions = make(map[string]*chat.Session)
}
