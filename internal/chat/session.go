package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// NoticeStreakMilestone announces a one-time streak bonus.
	NoticeStreakMilestone = "streak-milestone"
	// NoticeLevelUp announces a tier transition.
	NoticeLevelUp = "level-up"

	noticeBufferSize = 16
)

var errMissingIdentity = errors.New("chat: session requires user id and display name")

// Notice is a transient gamification notification surfaced to the client.
type Notice struct {
	Kind     string
	Streak   int
	XPBonus  int
	NewTier  *LevelTier
	IssuedAt time.Time
}

// Stats is the session-local view of the user's gamification state.
// XP only ever increases within a session; the durable copy lives with the
// stats store and is reconciled opportunistically.
type Stats struct {
	XP            int
	CurrentStreak int
	Tier          LevelTier
}

// SessionConfig bundles the dependencies for a chat session.
type SessionConfig struct {
	UserID         string
	DisplayName    string
	LedgerCapacity int
	Window         *ReactionWindow
	Clock          func() time.Time
	Logger         *zap.Logger
}

// Session is the explicit owner of all per-session chat state: the dedup
// ledger, the visible event history, the rolling reaction window, and the
// optimistic stats view. There are no package-level singletons; one Session
// per connected user, torn down via Close.
type Session struct {
	mu      sync.Mutex
	userID  string
	name    string
	ledger  *Ledger
	window  *ReactionWindow
	history []Event
	stats   Stats
	clock   func() time.Time
	logger  *zap.Logger
	notices chan Notice
	done    chan struct{}
	closed  bool
}

// NewSession constructs a session seeded with the user's durable XP.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.UserID == "" || cfg.DisplayName == "" {
		return nil, errMissingIdentity
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	window := cfg.Window
	if window == nil {
		window = NewReactionWindow(ReactionHorizon)
	}
	return &Session{
		userID:  cfg.UserID,
		name:    cfg.DisplayName,
		ledger:  NewLedger(cfg.LedgerCapacity),
		window:  window,
		clock:   clock,
		logger:  logger,
		notices: make(chan Notice, noticeBufferSize),
		done:    make(chan struct{}),
	}, nil
}

// SeedXP initializes the optimistic XP view from the durable stats fetch.
func (s *Session) SeedXP(xp int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if xp > s.stats.XP {
		s.stats.XP = xp
	}
	s.stats.Tier = LevelFor(s.stats.XP)
}

// Notices exposes the gamification notification stream.
func (s *Session) Notices() <-chan Notice {
	return s.notices
}

// Apply folds one inbound event into visible state. Events arrive from
// three paths (local optimistic send, broadcast delivery, history load)
// and the ledger guarantees each id mutates state at most once; the second
// and later deliveries are silently discarded and Apply reports false.
// Events append in receipt order, not CreatedAt order.
func (s *Session) Apply(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(event)
}

func (s *Session) applyLocked(event Event) bool {
	if s.closed {
		return false
	}
	if s.ledger.HasProcessed(event.ID) {
		return false
	}
	s.ledger.MarkProcessed(event.ID)
	s.history = append(s.history, event)
	if event.Kind == EventKindReaction {
		s.window.Record(event.Body, time.UnixMilli(event.CreatedAt))
	}
	return true
}

// MergeHistory folds a persisted-history page, delivered newest-first by
// the store, oldest-first into the session. Duplicates against already
// applied events (optimistic or broadcast) are discarded by the ledger.
func (s *Session) MergeHistory(newestFirst []Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	applied := 0
	for i := len(newestFirst) - 1; i >= 0; i-- {
		if s.applyLocked(newestFirst[i]) {
			applied++
		}
	}
	return applied
}

// RecordSend applies a locally-authored message optimistically and runs the
// streak → XP → level pipeline. The returned delta is for the durable stats
// collaborator; the session has already committed the optimistic change and
// a transport failure afterward must not roll it back.
func (s *Session) RecordSend(event Event) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.applyLocked(event) {
		return 0, false
	}
	if event.Kind != EventKindMessage {
		return 0, true
	}

	streak := ComputeStreak(s.history, s.name)
	award := AwardForMessage(streak)
	s.stats.CurrentStreak = streak

	now := s.clock()
	if award.Bonus > 0 {
		s.emitLocked(Notice{
			Kind:     NoticeStreakMilestone,
			Streak:   award.Milestone,
			XPBonus:  award.Bonus,
			IssuedAt: now,
		})
	}

	oldXP := s.stats.XP
	s.stats.XP += award.Total()
	s.stats.Tier = LevelFor(s.stats.XP)
	if tier := DetectLevelUp(oldXP, s.stats.XP); tier != nil {
		s.emitLocked(Notice{Kind: NoticeLevelUp, NewTier: tier, IssuedAt: now})
	}

	return award.Total(), true
}

// AwardXP applies a non-message XP delta (poll create, poll vote) to the
// optimistic view and reports any resulting tier transition.
func (s *Session) AwardXP(delta int) *LevelTier {
	if delta <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	oldXP := s.stats.XP
	s.stats.XP += delta
	s.stats.Tier = LevelFor(s.stats.XP)
	tier := DetectLevelUp(oldXP, s.stats.XP)
	if tier != nil {
		s.emitLocked(Notice{Kind: NoticeLevelUp, NewTier: tier, IssuedAt: s.clock()})
	}
	return tier
}

// emitLocked drops the notice when the buffer is full or the session has
// closed; a send can race teardown when a websocket outlives server
// shutdown, and emitting into the closed stream would panic.
func (s *Session) emitLocked(notice Notice) {
	if s.closed {
		return
	}
	select {
	case s.notices <- notice:
	default:
		s.logger.Debug("notice dropped, buffer full", zap.String("kind", notice.Kind))
	}
}

// Stats returns a snapshot of the optimistic gamification view.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats.Tier.Rank == 0 {
		s.stats.Tier = LevelFor(s.stats.XP)
	}
	return s.stats
}

// History returns a copy of the visible event history in receipt order.
func (s *Session) History() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]Event, len(s.history))
	copy(snapshot, s.history)
	return snapshot
}

// ReactionCounts recomputes and returns the rolling tally as of now, so a
// read between ticker fires never reports entries past the horizon.
func (s *Session) ReactionCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Tick(s.clock())
}

// RunReactionTicker recomputes the rolling tally every period until the
// context is cancelled or the session closes. The ticker is released on
// exit so sessions never leak timers across teardown.
func (s *Session) RunReactionTicker(ctx context.Context) {
	ticker := time.NewTicker(ReactionTickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			s.window.Tick(now)
			s.mu.Unlock()
		}
	}
}

// Close tears the session down: the ticker goroutine stops and the notice
// stream ends. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.notices)
}
