package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smacktalklabs/central/backend/internal/polls"
)

const migrationBackfillPollWinners = "2026-07-14_backfill_poll_winners"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillPollWinners, apply: backfillPollWinners},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillPollWinners resolves winners for polls closed before the winner
// column existed. First-max wins, matching the engine's tie-break.
func backfillPollWinners(db *gorm.DB) error {
	var closed []polls.PollRecord
	if err := db.
		Where("status = ? AND winner_option_id = ''", string(polls.StatusClosed)).
		Find(&closed).Error; err != nil {
		return err
	}

	for _, record := range closed {
		var options []polls.PollOptionRecord
		if err := db.
			Where("poll_id = ?", record.PollID).
			Order("position ASC").
			Find(&options).Error; err != nil {
			return err
		}

		winnerID := ""
		best := 0
		for _, option := range options {
			if option.VoteCount > best {
				best = option.VoteCount
				winnerID = option.OptionID
			}
		}
		if winnerID == "" {
			continue
		}
		if err := db.Model(&polls.PollRecord{}).
			Where("poll_id = ?", record.PollID).
			Update("winner_option_id", winnerID).Error; err != nil {
			return err
		}
	}
	return nil
}
