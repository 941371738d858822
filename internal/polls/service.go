package polls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	// ErrPollNotFound signals an unknown poll identifier.
	ErrPollNotFound = errors.New("polls: poll not found")
)

// ServiceError carries a dotted operation code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code exposes the dotted operation code for log correlation.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "polls.service.new"
	opCreate     = "polls.create"
	opGet        = "polls.get"
	opList       = "polls.list"
	opVote       = "polls.vote"
	opClose      = "polls.close"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues poll and option identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig bundles the dependencies for the poll service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service persists polls and applies the tally engine under transactions,
// so the option count and derived total never diverge durably either.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// CreateRequest describes a poll creation submitted by a signed-in user.
type CreateRequest struct {
	RoomID      string
	Question    string
	OptionTexts []string
	CreatedBy   string
}

// Create validates the poll via the engine and persists it active.
func (s *Service) Create(ctx context.Context, request CreateRequest) (Poll, error) {
	options := make([]Option, 0, len(request.OptionTexts))
	for _, text := range request.OptionTexts {
		optionID, err := s.idProvider.NewID()
		if err != nil {
			return Poll{}, newServiceError(opCreate, "id_generation_failed", err)
		}
		options = append(options, Option{ID: optionID, Text: text})
	}

	pollID, err := s.idProvider.NewID()
	if err != nil {
		return Poll{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	poll, err := NewPoll(pollID, request.Question, request.CreatedBy, options, s.clock().UTC())
	if err != nil {
		return Poll{}, newServiceError(opCreate, "invalid_poll", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := PollRecord{
			PollID:      poll.ID,
			RoomID:      request.RoomID,
			Question:    poll.Question,
			CreatedBy:   poll.CreatedBy,
			CreatedAtMs: poll.CreatedAt,
			Status:      string(poll.Status),
		}
		if err := tx.Create(&record).Error; err != nil {
			return newServiceError(opCreate, "poll_insert_failed", err)
		}
		for position, option := range poll.Options {
			optionRecord := PollOptionRecord{
				PollID:   poll.ID,
				OptionID: option.ID,
				Position: position,
				Text:     option.Text,
			}
			if err := tx.Create(&optionRecord).Error; err != nil {
				return newServiceError(opCreate, "option_insert_failed", err)
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreate, txErr, zap.String("room_id", request.RoomID))
		return Poll{}, txErr
	}
	return poll, nil
}

// Get loads one poll with its options in insertion order.
func (s *Service) Get(ctx context.Context, pollID string) (Poll, error) {
	poll, _, err := s.loadPoll(s.db.WithContext(ctx), pollID, false)
	return poll, err
}

// ListForRoom returns the room's polls, newest first.
func (s *Service) ListForRoom(ctx context.Context, roomID string) ([]Poll, error) {
	var records []PollRecord
	if err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at_ms DESC").
		Find(&records).Error; err != nil {
		s.logError(opList, err, zap.String("room_id", roomID))
		return nil, newServiceError(opList, "query_failed", err)
	}
	polls := make([]Poll, 0, len(records))
	for _, record := range records {
		poll, _, err := s.loadPoll(s.db.WithContext(ctx), record.PollID, false)
		if err != nil {
			return nil, err
		}
		polls = append(polls, poll)
	}
	return polls, nil
}

// Vote applies one vote for the user. Policy violations surface as the
// engine's sentinel errors so handlers can map them to no-op responses.
func (s *Service) Vote(ctx context.Context, pollID, optionID, userID string) (Poll, error) {
	var updated Poll
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		poll, _, err := s.loadPoll(tx, pollID, true)
		if err != nil {
			return err
		}

		var existing VoteRecord
		err = tx.Where("poll_id = ? AND user_id = ?", pollID, userID).Take(&existing).Error
		if err == nil {
			return ErrAlreadyVoted
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opVote, "vote_select_failed", err)
		}

		updated, err = ApplyVote(poll, optionID, nil)
		if err != nil {
			return err
		}

		if err := tx.Model(&PollOptionRecord{}).
			Where("poll_id = ? AND option_id = ?", pollID, optionID).
			Update("vote_count", gorm.Expr("vote_count + 1")).Error; err != nil {
			return newServiceError(opVote, "count_update_failed", err)
		}
		vote := VoteRecord{
			PollID:   pollID,
			UserID:   userID,
			OptionID: optionID,
			CastAtMs: s.clock().UTC().UnixMilli(),
		}
		if err := tx.Create(&vote).Error; err != nil {
			return newServiceError(opVote, "vote_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		if !isPolicyError(txErr) {
			s.logError(opVote, txErr, zap.String("poll_id", pollID), zap.String("user_id", userID))
		}
		return Poll{}, txErr
	}
	return updated, nil
}

// CloseResult reports the frozen poll, the room it ran in, and its
// resolved winner, if any.
type CloseResult struct {
	Poll      Poll
	RoomID    string
	WinnerID  string
	HasWinner bool
}

// Close freezes the poll on behalf of its creator and stores the winner.
// The stored room rides along so the caller announces the result where the
// poll actually ran.
func (s *Service) Close(ctx context.Context, pollID, requestedBy string) (CloseResult, error) {
	var result CloseResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		poll, record, err := s.loadPoll(tx, pollID, true)
		if err != nil {
			return err
		}
		closed, winnerID, hasWinner, err := Close(poll, requestedBy)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{
			"status":           string(StatusClosed),
			"winner_option_id": winnerID,
		}
		if err := tx.Model(&PollRecord{}).Where("poll_id = ?", pollID).Updates(updates).Error; err != nil {
			return newServiceError(opClose, "status_update_failed", err)
		}
		result = CloseResult{Poll: closed, RoomID: record.RoomID, WinnerID: winnerID, HasWinner: hasWinner}
		return nil
	})
	if txErr != nil {
		if !isPolicyError(txErr) {
			s.logError(opClose, txErr, zap.String("poll_id", pollID))
		}
		return CloseResult{}, txErr
	}
	return result, nil
}

func (s *Service) loadPoll(tx *gorm.DB, pollID string, forUpdate bool) (Poll, PollRecord, error) {
	query := tx
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var record PollRecord
	err := query.Where("poll_id = ?", pollID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Poll{}, PollRecord{}, ErrPollNotFound
	}
	if err != nil {
		return Poll{}, PollRecord{}, newServiceError(opGet, "poll_select_failed", err)
	}

	var optionRecords []PollOptionRecord
	if err := tx.Where("poll_id = ?", pollID).Order("position ASC").Find(&optionRecords).Error; err != nil {
		return Poll{}, PollRecord{}, newServiceError(opGet, "options_select_failed", err)
	}

	poll := Poll{
		ID:        record.PollID,
		Question:  record.Question,
		CreatedBy: record.CreatedBy,
		CreatedAt: record.CreatedAtMs,
		Status:    Status(record.Status),
		Options:   make([]Option, 0, len(optionRecords)),
	}
	for _, optionRecord := range optionRecords {
		poll.Options = append(poll.Options, Option{
			ID:        optionRecord.OptionID,
			Text:      optionRecord.Text,
			VoteCount: optionRecord.VoteCount,
		})
		poll.TotalVotes += optionRecord.VoteCount
	}
	return poll, record, nil
}

func isPolicyError(err error) bool {
	return errors.Is(err, ErrAlreadyVoted) ||
		errors.Is(err, ErrPollNotActive) ||
		errors.Is(err, ErrNotCreator) ||
		errors.Is(err, ErrUnknownOption) ||
		errors.Is(err, ErrPollNotFound)
}

func (s *Service) logError(operation string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	s.logger.Error(operation, fields...)
}
