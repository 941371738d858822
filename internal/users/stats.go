package users

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
	// ErrNegativeDelta indicates an attempt to decrease durable XP.
	ErrNegativeDelta = errors.New("users: xp deltas must be non-negative")
	// ErrMissingStatsUser indicates a stats call without a user id.
	ErrMissingStatsUser = errors.New("users: user id required for stats")
)

// StatsRecord is the durable copy of a user's gamification state. The
// session owns the optimistic view; this row is reconciled opportunistically
// and XP never decreases.
type StatsRecord struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	DisplayName string    `gorm:"column:display_name;size:320;not null;default:''"`
	XP          int64     `gorm:"column:xp;not null;default:0"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing durable stats.
func (StatsRecord) TableName() string {
	return "user_stats"
}

// StatsStoreConfig bundles dependencies for the stats store.
type StatsStoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// StatsStore persists cumulative XP per user.
type StatsStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStatsStore validates the configuration and constructs the store.
func NewStatsStore(cfg StatsStoreConfig) (*StatsStore, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsStore{db: cfg.Database, logger: logger}, nil
}

// FetchStats returns the durable XP for the user, zero when unseen.
func (s *StatsStore) FetchStats(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrMissingStatsUser
	}
	var record StatsRecord
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		s.logger.Error("stats fetch failed", zap.String("user_id", userID), zap.Error(err))
		return 0, fmt.Errorf("users.fetch_stats: %w", err)
	}
	return record.XP, nil
}

// ApplyXPDelta atomically adds delta to the user's durable XP, creating the
// row on first sight, and returns the new total. Negative deltas are
// rejected so the durable copy stays monotonic like the session view.
func (s *StatsStore) ApplyXPDelta(ctx context.Context, userID, displayName string, delta int64) (int64, error) {
	if userID == "" {
		return 0, ErrMissingStatsUser
	}
	if delta < 0 {
		return 0, ErrNegativeDelta
	}

	var total int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := StatsRecord{UserID: userID, DisplayName: displayName, XP: delta}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"xp":           gorm.Expr("xp + ?", delta),
				"display_name": displayName,
			}),
		}).Create(&record).Error
		if err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Take(&record).Error; err != nil {
			return err
		}
		total = record.XP
		return nil
	})
	if txErr != nil {
		s.logger.Error("xp delta failed", zap.String("user_id", userID), zap.Int64("delta", delta), zap.Error(txErr))
		return 0, fmt.Errorf("users.apply_xp_delta: %w", txErr)
	}
	return total, nil
}

// Leaderboard returns the top users by durable XP, highest first.
func (s *StatsStore) Leaderboard(ctx context.Context, limit int) ([]StatsRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	var records []StatsRecord
	if err := s.db.WithContext(ctx).
		Order("xp DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		s.logger.Error("leaderboard query failed", zap.Error(err))
		return nil, fmt.Errorf("users.leaderboard: %w", err)
	}
	return records, nil
}
