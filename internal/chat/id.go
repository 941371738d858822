package chat

import (
	"sync"
	"time"
)

// EventIDSource issues session-unique event identifiers derived from the
// creation time in epoch milliseconds, bumped forward when two events land
// inside the same millisecond so ids stay strictly monotonic.
type EventIDSource struct {
	mu    sync.Mutex
	last  int64
	clock func() time.Time
}

// NewEventIDSource constructs a source over the provided clock.
func NewEventIDSource(clock func() time.Time) *EventIDSource {
	if clock == nil {
		clock = time.Now
	}
	return &EventIDSource{clock: clock}
}

// NextID returns the next strictly increasing identifier.
func (s *EventIDSource) NextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	candidate := s.clock().UnixMilli()
	if candidate <= s.last {
		candidate = s.last + 1
	}
	s.last = candidate
	return candidate
}
