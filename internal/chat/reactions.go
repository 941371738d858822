package chat

import (
	"time"
)

const (
	// ReactionHorizon is how long a single reaction contributes to the tally.
	ReactionHorizon = 30 * time.Second
	// ReactionTickPeriod is how often the tally is recomputed.
	ReactionTickPeriod = time.Second
)

// TalliedEmojis is the fixed set of symbols the rolling window counts.
// Reactions outside this set are accepted as chat events but never tallied.
var TalliedEmojis = []string{"🔥", "😂", "💀", "👏", "😡"}

type reactionEntry struct {
	emoji      string
	recordedAt time.Time
}

// ReactionWindow maintains per-emoji counts over a sliding time horizon.
// Counts never include an entry older than the horizon; each recomputation
// replaces the observable count map wholesale.
type ReactionWindow struct {
	horizon time.Duration
	tallied map[string]struct{}
	entries []reactionEntry
	counts  map[string]int
}

// NewReactionWindow constructs a window over the fixed emoji enumeration.
func NewReactionWindow(horizon time.Duration) *ReactionWindow {
	if horizon <= 0 {
		horizon = ReactionHorizon
	}
	tallied := make(map[string]struct{}, len(TalliedEmojis))
	counts := make(map[string]int, len(TalliedEmojis))
	for _, emoji := range TalliedEmojis {
		tallied[emoji] = struct{}{}
		counts[emoji] = 0
	}
	return &ReactionWindow{
		horizon: horizon,
		tallied: tallied,
		counts:  counts,
	}
}

// Record appends a timestamped reaction. Symbols outside the enumerated set
// are ignored here; the event itself still flows through the session.
func (w *ReactionWindow) Record(emoji string, now time.Time) {
	if _, ok := w.tallied[emoji]; !ok {
		return
	}
	w.entries = append(w.entries, reactionEntry{emoji: emoji, recordedAt: now})
}

// Tick drops entries older than the horizon and rebuilds the count map.
// Returns the fresh counts keyed by emoji, zero-filled for the full set.
func (w *ReactionWindow) Tick(now time.Time) map[string]int {
	cutoff := now.Add(-w.horizon)
	kept := w.entries[:0]
	for _, entry := range w.entries {
		if entry.recordedAt.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	w.entries = kept

	counts := make(map[string]int, len(w.tallied))
	for emoji := range w.tallied {
		counts[emoji] = 0
	}
	for _, entry := range w.entries {
		counts[entry.emoji]++
	}
	w.counts = counts
	return w.Counts()
}

// Counts returns a copy of the most recently computed tally.
func (w *ReactionWindow) Counts() map[string]int {
	snapshot := make(map[string]int, len(w.counts))
	for emoji, count := range w.counts {
		snapshot[emoji] = count
	}
	return snapshot
}
