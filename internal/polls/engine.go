package polls

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Status enumerates the poll lifecycle. The active → closed transition is
// one-way and only the creator may trigger it.
type Status string

const (
	// StatusActive accepts votes.
	StatusActive Status = "active"
	// StatusClosed is terminal; options and counts are frozen.
	StatusClosed Status = "closed"
)

const (
	minOptions = 2
	maxOptions = 4
)

var (
	// ErrAlreadyVoted signals the user already holds a vote on this poll.
	ErrAlreadyVoted = errors.New("polls: already voted")
	// ErrPollNotActive signals a vote against a closed poll.
	ErrPollNotActive = errors.New("polls: poll not active")
	// ErrNotCreator signals a close attempt by someone other than the creator.
	ErrNotCreator = errors.New("polls: only the creator may close")
	// ErrUnknownOption signals a vote for an option the poll does not carry.
	ErrUnknownOption = errors.New("polls: unknown option")
	// ErrInvalidOptionCount signals fewer than 2 or more than 4 options.
	ErrInvalidOptionCount = errors.New("polls: polls carry 2 to 4 options")
	// ErrDuplicateOption signals a repeated option id within one poll.
	ErrDuplicateOption = errors.New("polls: duplicate option id")
	// ErrEmptyQuestion signals a poll with no question text.
	ErrEmptyQuestion = errors.New("polls: question required")
)

// Option is one votable choice. Insertion order is stable and meaningful:
// winner ties resolve to the first option reaching the maximum count.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	VoteCount int    `json:"vote_count"`
}

// Poll is a votable question. TotalVotes is derived and always equals the
// sum of option counts; there is no independent mutation path.
type Poll struct {
	ID         string   `json:"id"`
	Question   string   `json:"question"`
	Options    []Option `json:"options"`
	TotalVotes int      `json:"total_votes"`
	CreatedBy  string   `json:"created_by"`
	CreatedAt  int64    `json:"created_at_ms"`
	Status     Status   `json:"status"`
}

// OptionPercent pairs an option with its rounded share of the total.
type OptionPercent struct {
	OptionID string `json:"option_id"`
	Percent  int    `json:"percent"`
}

// NewPoll validates and assembles an active poll.
func NewPoll(id, question, createdBy string, options []Option, createdAt time.Time) (Poll, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Poll{}, ErrEmptyQuestion
	}
	if len(options) < minOptions || len(options) > maxOptions {
		return Poll{}, fmt.Errorf("%w: got %d", ErrInvalidOptionCount, len(options))
	}
	seen := make(map[string]struct{}, len(options))
	cloned := make([]Option, len(options))
	for i, option := range options {
		optionID := strings.TrimSpace(option.ID)
		if _, duplicate := seen[optionID]; duplicate || optionID == "" {
			return Poll{}, fmt.Errorf("%w: %q", ErrDuplicateOption, option.ID)
		}
		seen[optionID] = struct{}{}
		cloned[i] = Option{ID: optionID, Text: strings.TrimSpace(option.Text)}
	}
	return Poll{
		ID:        id,
		Question:  question,
		Options:   cloned,
		CreatedBy: createdBy,
		CreatedAt: createdAt.UnixMilli(),
		Status:    StatusActive,
	}, nil
}

// VoteLedger records, per session, which option the local user chose on
// each poll. At most one entry per poll; entries are immutable once set.
type VoteLedger struct {
	votes map[string]string
}

// NewVoteLedger constructs an empty ledger.
func NewVoteLedger() *VoteLedger {
	return &VoteLedger{votes: make(map[string]string)}
}

// HasVoted reports whether the poll already has a recorded choice.
func (l *VoteLedger) HasVoted(pollID string) bool {
	_, ok := l.votes[pollID]
	return ok
}

// ChoiceFor returns the recorded option id for the poll, if any.
func (l *VoteLedger) ChoiceFor(pollID string) (string, bool) {
	optionID, ok := l.votes[pollID]
	return optionID, ok
}

// Record stores the choice unless one exists; the first write wins.
func (l *VoteLedger) Record(pollID, optionID string) error {
	if l.HasVoted(pollID) {
		return ErrAlreadyVoted
	}
	l.votes[pollID] = optionID
	return nil
}

// ApplyVote returns a copy of the poll with the target option and the
// derived total both incremented; the two counts are never observable out
// of sync because the caller swaps in the returned value wholesale. The
// input poll is untouched on any failure.
func ApplyVote(poll Poll, optionID string, ledger *VoteLedger) (Poll, error) {
	if poll.Status != StatusActive {
		return poll, ErrPollNotActive
	}
	if ledger != nil && ledger.HasVoted(poll.ID) {
		return poll, ErrAlreadyVoted
	}

	target := -1
	for i, option := range poll.Options {
		if option.ID == optionID {
			target = i
			break
		}
	}
	if target < 0 {
		return poll, fmt.Errorf("%w: %q", ErrUnknownOption, optionID)
	}

	updated := poll
	updated.Options = make([]Option, len(poll.Options))
	copy(updated.Options, poll.Options)
	updated.Options[target].VoteCount++
	updated.TotalVotes++

	if ledger != nil {
		if err := ledger.Record(poll.ID, optionID); err != nil {
			return poll, err
		}
	}
	return updated, nil
}

// Percentages computes each option's rounded share. A zero-vote poll maps
// every option to 0 rather than dividing by zero.
func Percentages(poll Poll) []OptionPercent {
	shares := make([]OptionPercent, len(poll.Options))
	for i, option := range poll.Options {
		percent := 0
		if poll.TotalVotes > 0 {
			percent = int(math.Round(float64(option.VoteCount) / float64(poll.TotalVotes) * 100))
		}
		shares[i] = OptionPercent{OptionID: option.ID, Percent: percent}
	}
	return shares
}

// ResolveWinner scans the options linearly for the maximum count; ties go
// to the first option that reached the maximum. A zero-vote poll has no
// winner.
func ResolveWinner(poll Poll) (string, bool) {
	if poll.TotalVotes == 0 {
		return "", false
	}
	winnerID := ""
	best := -1
	for _, option := range poll.Options {
		if option.VoteCount > best {
			best = option.VoteCount
			winnerID = option.ID
		}
	}
	return winnerID, true
}

// Close freezes the poll and resolves its winner. Only the creator may
// close; the transition is one-way, and closing an already-closed poll
// fails with ErrPollNotActive.
func Close(poll Poll, requestedBy string) (Poll, string, bool, error) {
	if poll.CreatedBy != requestedBy {
		return poll, "", false, ErrNotCreator
	}
	if poll.Status != StatusActive {
		return poll, "", false, ErrPollNotActive
	}
	closed := poll
	closed.Status = StatusClosed
	winnerID, hasWinner := ResolveWinner(closed)
	return closed, winnerID, hasWinner, nil
}
