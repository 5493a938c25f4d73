package utils

import (
	"time"

	"gorm.io/gorm"

	"mailflare/models"
)

// MailingStore is the persistence surface the dispatch engine consumes:
// filtered selection, recipient lookup and single-row status updates.
type MailingStore interface {
	// DueMailings returns every mailing eligible for dispatch at now:
	// active, not yet fully sent, inside its window, owner active.
	// Message content is loaded with each result.
	DueMailings(now time.Time) ([]models.Mailing, error)

	// GetMailing loads one mailing with its message, or gorm.ErrRecordNotFound.
	GetMailing(id uint) (*models.Mailing, error)

	// Recipients returns the active recipients currently attached to a mailing.
	Recipients(mailingID uint) ([]models.Recipient, error)

	UpdateStatus(mailingID uint, status string) error
	MarkSuccessfullySent(mailingID uint) error

	// CompleteFinished promotes to completed every active, not-yet-completed
	// mailing that is either fully sent or past its end time. Returns the
	// number of mailings promoted.
	CompleteFinished(now time.Time) (int64, error)

	// Reset reopens a mailing for a fresh cycle in a single update:
	// status back to created, run counter bumped, sent flag cleared.
	Reset(mailingID uint) error
}

// GormMailingStore backs MailingStore with the mailings tables.
type GormMailingStore struct {
	DB *gorm.DB
}

func NewMailingStore(db *gorm.DB) *GormMailingStore {
	return &GormMailingStore{DB: db}
}

func (s *GormMailingStore) DueMailings(now time.Time) ([]models.Mailing, error) {
	var mailings []models.Mailing
	err := s.DB.
		Joins("JOIN users ON users.id = mailings.user_id").
		Where("mailings.is_active = ?", true).
		Where("mailings.successfully_sent = ?", false).
		Where("mailings.start_at <= ? AND mailings.end_at >= ?", now, now).
		Where("users.is_active = ?", true).
		Preload("Message").
		Find(&mailings).Error
	if err != nil {
		return nil, err
	}
	return mailings, nil
}

func (s *GormMailingStore) GetMailing(id uint) (*models.Mailing, error) {
	var mailing models.Mailing
	if err := s.DB.Preload("Message").First(&mailing, id).Error; err != nil {
		return nil, err
	}
	return &mailing, nil
}

func (s *GormMailingStore) Recipients(mailingID uint) ([]models.Recipient, error) {
	var recipients []models.Recipient
	err := s.DB.
		Joins("JOIN mailing_recipients mr ON mr.recipient_id = recipients.id").
		Where("mr.mailing_id = ? AND recipients.is_active = ?", mailingID, true).
		Find(&recipients).Error
	if err != nil {
		return nil, err
	}
	return recipients, nil
}

func (s *GormMailingStore) UpdateStatus(mailingID uint, status string) error {
	return s.DB.Model(&models.Mailing{}).
		Where("id = ?", mailingID).
		Update("status", status).Error
}

func (s *GormMailingStore) MarkSuccessfullySent(mailingID uint) error {
	return s.DB.Model(&models.Mailing{}).
		Where("id = ?", mailingID).
		Update("successfully_sent", true).Error
}

func (s *GormMailingStore) CompleteFinished(now time.Time) (int64, error) {
	result := s.DB.Model(&models.Mailing{}).
		Where("is_active = ? AND status <> ?", true, models.MailingStatusCompleted).
		Where("successfully_sent = ? OR end_at < ?", true, now).
		Update("status", models.MailingStatusCompleted)
	return result.RowsAffected, result.Error
}

func (s *GormMailingStore) Reset(mailingID uint) error {
	return s.DB.Model(&models.Mailing{}).
		Where("id = ?", mailingID).
		Updates(map[string]interface{}{
			"status":            models.MailingStatusCreated,
			"successfully_sent": false,
			"current_run":       gorm.Expr("current_run + ?", 1),
		}).Error
}
