package chat

// XP awards for the actions that earn them.
const (
	XPPerMessage    = 5
	XPPerPollCreate = 10
	XPPerPollVote   = 5
)

// streakMilestones maps an exact streak length to its one-time bonus.
// Non-milestone lengths earn base XP only; bonuses are neither cumulative
// nor retroactive.
var streakMilestones = map[int]int{
	3:  15,
	5:  30,
	10: 50,
}

// ComputeStreak counts the trailing run of consecutive messages by author,
// scanning history from the newest entry backward. Messages by a different
// author break the run; reactions and system notices are skipped without
// breaking it, so a streak survives interleaved reactions.
func ComputeStreak(history []Event, authorName string) int {
	streak := 0
	for i := len(history) - 1; i >= 0; i-- {
		event := history[i]
		if event.Kind != EventKindMessage {
			continue
		}
		if event.AuthorName != authorName {
			break
		}
		streak++
	}
	return streak
}

// MessageAward is the XP outcome for a single sent message.
type MessageAward struct {
	Base      int
	Bonus     int
	Milestone int
}

// Total returns the XP delta to hand to the stats store.
func (a MessageAward) Total() int {
	return a.Base + a.Bonus
}

// AwardForMessage computes the XP delta for a send at the given streak
// length. The milestone bonus fires only on an exact table match, so it is
// awarded exactly once per milestone crossed.
func AwardForMessage(streak int) MessageAward {
	award := MessageAward{Base: XPPerMessage}
	if bonus, ok := streakMilestones[streak]; ok {
		award.Bonus = bonus
		award.Milestone = streak
	}
	return award
}
