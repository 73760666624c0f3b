package models

import (
	"time"

	"gorm.io/datatypes"
)

// Job names recorded in job_run
const (
	JobReminders = "reminders"
	JobDigest    = "digest"
)

// JobRun is the history row written after each batch job invocation
type JobRun struct {
	RunID      string         `gorm:"primaryKey;size:64" json:"run_id"`
	Job        string         `gorm:"size:32;not null;index:idx_job_run_job_started,priority:1" json:"job"`
	StartedAt  time.Time      `gorm:"not null;index:idx_job_run_job_started,priority:2" json:"started_at"`
	FinishedAt time.Time      `gorm:"not null" json:"finished_at"`
	Summary    datatypes.JSON `json:"summary"`
	Error      *string        `gorm:"type:text" json:"error,omitempty"`
}

// Duration returns how long the run took
func (r JobRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// TableName specifies the table name for the JobRun model
func (JobRun) TableName() string {
	return "job_run"
}
