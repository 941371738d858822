package chat

// DefaultLedgerCapacity bounds the deduplication ledger. Sized well above
// the realistic in-flight event volume for one browser session.
const DefaultLedgerCapacity = 4096

// Ledger tracks which event ids have already been folded into visible
// state so an event delivered both optimistically and via broadcast is
// applied at most once. Bounded: a ring of recent ids backs the index and
// the oldest entry is forgotten when capacity is reached, trading strict
// infinite dedup for bounded memory.
type Ledger struct {
	index    map[int64]struct{}
	ring     []int64
	cursor   int
	occupied int
}

// NewLedger constructs a ledger holding at most capacity ids.
func NewLedger(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultLedgerCapacity
	}
	return &Ledger{
		index: make(map[int64]struct{}, capacity),
		ring:  make([]int64, capacity),
	}
}

// HasProcessed reports whether the id was already applied.
func (l *Ledger) HasProcessed(id int64) bool {
	_, ok := l.index[id]
	return ok
}

// MarkProcessed records the id, evicting the oldest remembered id when the
// ledger is full. Marking an already-known id is a no-op.
func (l *Ledger) MarkProcessed(id int64) {
	if l.HasProcessed(id) {
		return
	}
	if l.occupied == len(l.ring) {
		delete(l.index, l.ring[l.cursor])
	} else {
		l.occupied++
	}
	l.ring[l.cursor] = id
	l.index[id] = struct{}{}
	l.cursor = (l.cursor + 1) % len(l.ring)
}

// Len returns the number of ids currently remembered.
func (l *Ledger) Len() int {
	return l.occupied
}
