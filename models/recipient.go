package models

import (
	"fmt"

	"gorm.io/gorm"
)

// Recipient represents a single mailing recipient owned by a user.
// The same email may exist for different owners, never twice per owner.
type Recipient struct {
	gorm.Model
	UserID uint `gorm:"not null;index;uniqueIndex:idx_recipients_email_owner" json:"user_id"`

	Email    string `gorm:"not null;uniqueIndex:idx_recipients_email_owner" json:"email"`
	FullName string `gorm:"not null" json:"full_name"`
	Comment  string `gorm:"type:text" json:"comment"`

	// Tombstone flag. Soft-deleted recipients stay queryable for attempt
	// history but are excluded from every dispatch and listing query.
	IsActive bool `gorm:"default:true" json:"is_active"`

	// Relations
	User     User      `json:"-"`
	Mailings []Mailing `gorm:"many2many:mailing_recipients;" json:"-"`
}

func (r *Recipient) String() string {
	if r.FullName == "" {
		return r.Email
	}
	return fmt.Sprintf("%s <%s>", r.FullName, r.Email)
}
