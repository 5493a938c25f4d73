package models

import (
	"gorm.io/gorm"
)

// Message holds the subject and body a mailing sends out. Content is not
// mutated by the dispatch engine; it is referenced by one or more mailings.
type Message struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Subject string `gorm:"not null" json:"subject"`
	Body    string `gorm:"type:text;not null" json:"body"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	// Relations
	User     User      `json:"-"`
	Mailings []Mailing `gorm:"foreignKey:MessageID" json:"mailings,omitempty"`
}
