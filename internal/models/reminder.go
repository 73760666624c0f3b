package models

import "time"

// Cadence values accepted on a reminder schedule
const (
	CadenceMonthly   = "monthly"
	CadenceQuarterly = "quarterly"
	CadenceAnnual    = "annual"
)

// ReminderSchedule is one recurring reminder for a (user, card, benefit).
// NextSendAt only moves forward, and only through the reminder runner's
// conditional advance.
type ReminderSchedule struct {
	ID         string     `gorm:"primaryKey;size:64" json:"id"`
	UserID     string     `gorm:"size:64;index" json:"user_id"`
	CardID     string     `gorm:"size:64" json:"card_id"`
	BenefitID  string     `gorm:"size:64" json:"benefit_id"`
	Cadence    string     `gorm:"size:32;not null" json:"cadence"`
	NextSendAt time.Time  `gorm:"not null;index:idx_reminder_schedule_due,priority:2" json:"next_send_at"`
	LastSentAt *time.Time `json:"last_sent_at"`
	Enabled    bool       `gorm:"not null;default:true;index:idx_reminder_schedule_due,priority:1" json:"enabled"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName specifies the table name for the ReminderSchedule model
func (ReminderSchedule) TableName() string {
	return "reminder_schedule"
}
