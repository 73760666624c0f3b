package services

import (
	"context"
	"encoding/json"
	"time"

	"perkwallet/internal/models"

	"github.com/getsentry/sentry-go"
	log "github.com/sirupsen/logrus"
)

// Jobs runs the batch jobs and records each run's history and metrics
type Jobs struct {
	reminders *ReminderRunner
	digest    *DigestRunner
	history   RunHistory
	metrics   *JobMetrics
	now       func() time.Time
}

// NewJobs wires the runners. history and metrics may be nil.
func NewJobs(reminders *ReminderRunner, digest *DigestRunner, history RunHistory, metrics *JobMetrics) *Jobs {
	return &Jobs{
		reminders: reminders,
		digest:    digest,
		history:   history,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunReminders runs the reminder job once
func (j *Jobs) RunReminders(ctx context.Context) (*ReminderSummary, error) {
	started := j.now()
	summary, err := j.reminders.Run(ctx)
	j.metrics.ObserveReminders(summary)
	j.finish(ctx, models.JobReminders, summary.RunID, started, summary, err)
	return summary, err
}

// RunDigest runs the digest job once
func (j *Jobs) RunDigest(ctx context.Context) (*DigestSummary, error) {
	started := j.now()
	summary, err := j.digest.Run(ctx)
	j.metrics.ObserveDigest(summary)
	j.finish(ctx, models.JobDigest, summary.RunID, started, summary, err)
	return summary, err
}

// RecentRuns lists the newest job runs, optionally for one job
func (j *Jobs) RecentRuns(ctx context.Context, job string, limit int) ([]models.JobRun, error) {
	if j.history == nil {
		return []models.JobRun{}, nil
	}
	return j.history.ListJobRuns(ctx, job, limit)
}

func (j *Jobs) finish(ctx context.Context, job, runID string, started time.Time, summary any, runErr error) {
	finished := j.now()
	j.metrics.ObserveRun(job, finished, finished.Sub(started), runErr)

	logger := log.WithFields(log.Fields{"job": job, "run_id": runID})
	if runErr != nil {
		logger.WithError(runErr).Error("Job run failed")
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("job", job)
			scope.SetTag("run_id", runID)
			sentry.CaptureException(runErr)
		})
	}

	if j.history == nil {
		return
	}

	run := &models.JobRun{
		RunID:      runID,
		Job:        job,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if encoded, err := json.Marshal(summary); err != nil {
		logger.WithError(err).Warn("Failed to encode job run summary")
	} else {
		run.Summary = encoded
	}
	if runErr != nil {
		run.Error = strPtr(runErr.Error())
	}

	// Run history is best effort and must not change the run's result
	if err := j.history.RecordJobRun(context.WithoutCancel(ctx), run); err != nil {
		logger.WithError(err).Warn("Failed to record job run")
	}
}
