package models

import (
	"time"

	"gorm.io/gorm"
)

// Mailing statuses. A mailing only moves forward (created -> running ->
// completed); the one exception is an administrative reset back to created,
// which bumps CurrentRun so the next dispatch cycle starts fresh.
const (
	MailingStatusCreated   = "created"
	MailingStatusRunning   = "running"
	MailingStatusCompleted = "completed"
)

// Mailing ties one message to a set of recipients inside a delivery window.
type Mailing struct {
	gorm.Model
	UserID    uint `gorm:"not null;index" json:"user_id"`
	MessageID uint `gorm:"not null;index" json:"message_id"`

	// Scheduling window
	StartAt time.Time `gorm:"not null" json:"start_at"`
	EndAt   time.Time `gorm:"not null" json:"end_at"`

	Status string `gorm:"default:'created'" json:"status"` // created, running, completed

	// SuccessfullySent is set only when a dispatch pass saw zero failures
	// across every recipient for the current run.
	SuccessfullySent bool `gorm:"default:false" json:"successfully_sent"`

	// Administrative kill-switch, independent of Status. Disabled mailings
	// are invisible to the dispatch engine and to manual sends.
	IsActive bool `gorm:"default:true" json:"is_active"`

	// CurrentRun increments on every reset to created. Idempotency checks
	// are scoped to it, so attempts from an old run never satisfy or block
	// a new one.
	CurrentRun uint `gorm:"default:1" json:"current_run"`

	// Relations
	User       User        `json:"-"`
	Message    Message     `json:"message,omitempty"`
	Recipients []Recipient `gorm:"many2many:mailing_recipients;" json:"recipients,omitempty"`
	Attempts   []Attempt   `gorm:"foreignKey:MailingID;constraint:OnDelete:CASCADE" json:"attempts,omitempty"`
}

// WindowContains reports whether now falls inside the delivery window.
func (m *Mailing) WindowContains(now time.Time) bool {
	return !m.StartAt.After(now) && !m.EndAt.Before(now)
}

// Expired reports whether the delivery window has lapsed.
func (m *Mailing) Expired(now time.Time) bool {
	return m.EndAt.Before(now)
}
