package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smacktalklabs/central/backend/internal/chat"
)

// DefaultLoadLimit bounds a history page when the caller passes none.
const DefaultLoadLimit = 50

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingRoomID   = errors.New("room identifier is required")
)

// EventRecord persists one chat event for short-lived history replay.
type EventRecord struct {
	RoomID      string `gorm:"column:room_id;primaryKey;size:190;not null;index:idx_events_room_created,priority:1"`
	EventID     int64  `gorm:"column:event_id;primaryKey;not null"`
	AuthorID    string `gorm:"column:author_id;size:190;not null"`
	AuthorName  string `gorm:"column:author_name;size:190;not null"`
	Body        string `gorm:"column:body;type:text;not null"`
	Kind        string `gorm:"column:kind;size:16;not null"`
	MediaURL    string `gorm:"column:media_url;size:512;not null;default:''"`
	MediaAlt    string `gorm:"column:media_alt;size:200;not null;default:''"`
	CreatedAtMs int64  `gorm:"column:created_at_ms;not null;index:idx_events_room_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (EventRecord) TableName() string {
	return "chat_events"
}

// StoreConfig bundles the dependencies for the history store.
type StoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Store appends and replays room events. Appends are fire-and-forget from
// the caller's perspective: a failed write is logged and the optimistic
// local state stands.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore validates the configuration and constructs the store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, logger: logger}, nil
}

// Append persists one event. A duplicate (room, event id) pair is ignored
// rather than erroring, matching the at-most-once fold on the read side.
func (s *Store) Append(ctx context.Context, roomID string, event chat.Event) error {
	if roomID == "" {
		return errMissingRoomID
	}
	record := EventRecord{
		RoomID:      roomID,
		EventID:     event.ID,
		AuthorID:    event.AuthorID,
		AuthorName:  event.AuthorName,
		Body:        event.Body,
		Kind:        string(event.Kind),
		CreatedAtMs: event.CreatedAt,
	}
	if event.Media != nil {
		record.MediaURL = event.Media.URL
		record.MediaAlt = event.Media.AltText
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record).Error
	if err != nil {
		s.logger.Error("history append failed",
			zap.String("room_id", roomID),
			zap.Int64("event_id", event.ID),
			zap.Error(err))
		return fmt.Errorf("history.append: %w", err)
	}
	return nil
}

// LoadRecent returns up to limit events for the room, newest first. The
// session reverses the page to oldest-first before merging.
func (s *Store) LoadRecent(ctx context.Context, roomID string, limit int) ([]chat.Event, error) {
	if roomID == "" {
		return nil, errMissingRoomID
	}
	if limit <= 0 {
		limit = DefaultLoadLimit
	}
	var records []EventRecord
	if err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at_ms DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		s.logger.Error("history load failed", zap.String("room_id", roomID), zap.Error(err))
		return nil, fmt.Errorf("history.load_recent: %w", err)
	}

	events := make([]chat.Event, 0, len(records))
	for _, record := range records {
		events = append(events, recordToEvent(record))
	}
	return events, nil
}

// PruneBefore deletes events older than the cutoff. Persistence here is
// short-lived by design; the operator schedules pruning, not the session.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("created_at_ms < ?", cutoff.UnixMilli()).
		Delete(&EventRecord{})
	if result.Error != nil {
		s.logger.Error("history prune failed", zap.Error(result.Error))
		return 0, fmt.Errorf("history.prune: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func recordToEvent(record EventRecord) chat.Event {
	event := chat.Event{
		ID:         record.EventID,
		AuthorID:   record.AuthorID,
		AuthorName: record.AuthorName,
		Body:       record.Body,
		Kind:       chat.EventKind(record.Kind),
		CreatedAt:  record.CreatedAtMs,
	}
	if record.MediaURL != "" {
		event.Media = &chat.MediaAttachment{
			Kind:    chat.MediaKindGIF,
			URL:     record.MediaURL,
			AltText: record.MediaAlt,
		}
	}
	return event
}
