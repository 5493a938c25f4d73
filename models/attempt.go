package models

import (
	"time"

	"gorm.io/gorm"
)

// Attempt outcomes
const (
	AttemptStatusSuccess = "success"
	AttemptStatusFailure = "failure"
)

// Attempt triggers: who asked for the send
const (
	TriggerManual    = "manual"    // web UI send button
	TriggerScheduled = "scheduled" // periodic dispatch worker
	TriggerCommand   = "command"   // sendmailing CLI
)

// Attempt is the immutable record of one delivery try to one recipient
// within one run. Rows are only ever inserted by the dispatch engine (or
// the manual/command entry points sharing its send routine) and removed by
// cascade when the owning mailing is deleted. They are the sole source of
// truth for "was this recipient already reached in this run".
type Attempt struct {
	gorm.Model
	MailingID uint `gorm:"not null;index" json:"mailing_id"`

	// Nullable: the recipient may be removed after the attempt was made.
	RecipientID *uint `gorm:"index" json:"recipient_id,omitempty"`

	RunNumber uint `gorm:"default:1;index" json:"run_number"`

	TriggerType string `gorm:"default:'manual'" json:"trigger_type"` // manual, scheduled, command
	Status      string `gorm:"not null" json:"status"`               // success, failure

	// Raw mail-server response or error text; display code truncates it.
	ServerResponse string `gorm:"type:text" json:"server_response"`

	AttemptedAt time.Time `gorm:"autoCreateTime" json:"attempted_at"`

	// Relations
	Mailing   Mailing    `json:"-"`
	Recipient *Recipient `json:"recipient,omitempty"`
}
