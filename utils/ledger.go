package utils

import (
	"mailflare/models"

	"gorm.io/gorm"
)

// AttemptLedger is the append-only record of delivery outcomes. Record
// inserts one immutable row; HasSucceeded is the sole idempotency check
// the dispatch engine runs before attempting a send. No updates, no
// deletes - rows only disappear by cascade when their mailing is deleted.
type AttemptLedger interface {
	Record(attempt *models.Attempt) error
	HasSucceeded(mailingID, recipientID, runNumber uint) (bool, error)
}

// GormAttemptLedger stores attempts in the attempts table.
type GormAttemptLedger struct {
	DB *gorm.DB
}

func NewAttemptLedger(db *gorm.DB) *GormAttemptLedger {
	return &GormAttemptLedger{DB: db}
}

func (l *GormAttemptLedger) Record(attempt *models.Attempt) error {
	return l.DB.Create(attempt).Error
}

func (l *GormAttemptLedger) HasSucceeded(mailingID, recipientID, runNumber uint) (bool, error) {
	var count int64
	err := l.DB.Model(&models.Attempt{}).
		Where("mailing_id = ? AND recipient_id = ? AND run_number = ? AND status = ?",
			mailingID, recipientID, runNumber, models.AttemptStatusSuccess).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
