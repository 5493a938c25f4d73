package models

import (
	"gorm.io/gorm"
)

// User represents an account that owns recipients, messages and mailings
type User struct {
	gorm.Model

	// Authentication fields
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`

	// Profile information
	Name string `json:"name"`

	// Account status
	// IsActive=false freezes every mailing the user owns: the dispatch
	// engine skips mailings whose owner is deactivated.
	IsActive  bool `gorm:"default:true" json:"is_active"`
	IsManager bool `gorm:"default:false" json:"is_manager"`

	// Relations
	Recipients []Recipient `gorm:"foreignKey:UserID" json:"recipients,omitempty"`
	Messages   []Message   `gorm:"foreignKey:UserID" json:"messages,omitempty"`
	Mailings   []Mailing   `gorm:"foreignKey:UserID" json:"mailings,omitempty"`
}
