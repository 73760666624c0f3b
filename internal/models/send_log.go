package models

import (
	"time"

	"gorm.io/datatypes"
)

// SendStatus is the lifecycle state of a send-log row
type SendStatus string

const (
	SendStatusAttempted SendStatus = "attempted"
	SendStatusSent      SendStatus = "sent"
	SendStatusFailed    SendStatus = "failed"
)

// CanTransitionTo reports whether a row in status s may move to next.
// Only attempted rows move, and only to sent or failed.
func (s SendStatus) CanTransitionTo(next SendStatus) bool {
	return s == SendStatusAttempted && (next == SendStatusSent || next == SendStatusFailed)
}

// ReminderSendLog records one claimed (schedule, UTC day) for the reminder runner.
// The unique dedupe key is what stops two runs from sending the same schedule twice.
type ReminderSendLog struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ScheduleID    string     `gorm:"size:64;not null;index" json:"schedule_id"`
	UserID        string     `gorm:"size:64;not null" json:"user_id"`
	CardID        string     `gorm:"size:64;not null" json:"card_id"`
	BenefitID     string     `gorm:"size:64;not null" json:"benefit_id"`
	RunID         string     `gorm:"size:64;not null;index" json:"run_id"`
	DedupeKey     string     `gorm:"size:200;not null;uniqueIndex:ux_reminder_send_log_dedupe_key" json:"dedupe_key"`
	PlannedSendAt time.Time  `gorm:"not null" json:"planned_send_at"`
	Status        SendStatus `gorm:"size:16;not null;default:attempted" json:"status"`
	Error         *string    `gorm:"type:text" json:"error,omitempty"`
	SkipReason    *string    `gorm:"type:text" json:"skip_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// EmailSendLog records one claimed (user, UTC day) digest email
type EmailSendLog struct {
	ID                int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            string         `gorm:"size:64;not null;index" json:"user_id"`
	RunID             string         `gorm:"size:64;not null;index" json:"run_id"`
	DedupeKey         string         `gorm:"size:200;not null;uniqueIndex:ux_email_send_log_dedupe_key" json:"dedupe_key"`
	SendDate          string         `gorm:"size:10;not null" json:"send_date"`
	Sections          datatypes.JSON `json:"sections"`
	ItemCount         int            `gorm:"not null;default:0" json:"item_count"`
	ProviderMessageID *string        `gorm:"size:200" json:"provider_message_id,omitempty"`
	Status            SendStatus     `gorm:"size:16;not null;default:attempted" json:"status"`
	Error             *string        `gorm:"type:text" json:"error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// TableName specifies the table name for the ReminderSendLog model
func (ReminderSendLog) TableName() string {
	return "reminder_send_log"
}

// TableName specifies the table name for the EmailSendLog model
func (EmailSendLog) TableName() string {
	return "email_send_log"
}
