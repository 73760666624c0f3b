package services

import (
	"context"
	"time"

	"perkwallet/internal/models"

	"github.com/google/uuid"
)

// ReminderStore is what the reminder runner needs from persistence
type ReminderStore interface {
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]models.ReminderSchedule, error)
	InsertReminderLog(ctx context.Context, entry *models.ReminderSendLog) error
	MarkReminderLog(ctx context.Context, id int64, status models.SendStatus, errText *string) error
	AnnotateReminderLog(ctx context.Context, id int64, reason string) error
	AdvanceSchedule(ctx context.Context, id string, expected, next, sentAt time.Time) (int64, error)
	ShiftNextSendAt(ctx context.Context, id string, to time.Time) error
}

// DigestStore is what the digest runner needs from persistence
type DigestStore interface {
	ListEligibleBenefits(ctx context.Context, cadences []string, unusedOnly bool) ([]models.EligibleBenefit, error)
	InsertEmailLog(ctx context.Context, entry *models.EmailSendLog) error
	MarkEmailLog(ctx context.Context, id int64, status models.SendStatus, providerMessageID, errText *string) error
}

// RunHistory stores and lists job run rows
type RunHistory interface {
	RecordJobRun(ctx context.Context, run *models.JobRun) error
	ListJobRuns(ctx context.Context, job string, limit int) ([]models.JobRun, error)
}

// Option customizes a runner
type Option func(*runnerDeps)

type runnerDeps struct {
	now      func() time.Time
	newRunID func() string
}

func defaultDeps() runnerDeps {
	return runnerDeps{
		now:      func() time.Time { return time.Now().UTC() },
		newRunID: uuid.NewString,
	}
}

func applyOptions(opts []Option) runnerDeps {
	deps := defaultDeps()
	for _, opt := range opts {
		opt(&deps)
	}
	return deps
}

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(d *runnerDeps) {
		d.now = now
	}
}

// WithRunIDs replaces the run ID generator
func WithRunIDs(newRunID func() string) Option {
	return func(d *runnerDeps) {
		d.newRunID = newRunID
	}
}

func strPtr(s string) *string {
	return &s
}
