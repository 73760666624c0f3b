package models

import (
	"time"

	"gorm.io/gorm"
)

// Account is the directory entry for a wallet owner. The digest job reads it to
// resolve a user ID into a delivery address; sign-up and profile editing live elsewhere.
type Account struct {
	UserID      string         `gorm:"primaryKey;size:64;not null" json:"user_id"`
	Email       string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	DisplayName string         `gorm:"size:100" json:"display_name"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate hook is called before creating a new account
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}
	return nil
}

// BeforeSave hook is called before saving the account
func (a *Account) BeforeSave(tx *gorm.DB) error {
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// TableName specifies the table name for the Account model
func (Account) TableName() string {
	return "account"
}
