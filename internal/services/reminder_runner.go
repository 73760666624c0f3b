package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"perkwallet/internal/models"
	"perkwallet/internal/schedule"
	"perkwallet/internal/store"

	log "github.com/sirupsen/logrus"
)

// ErrFetchDue is returned when a run cannot list its candidates
var ErrFetchDue = errors.New("failed to fetch due candidates")

const (
	// advanceFailedNoRows marks a schedule whose conditional advance matched nothing
	advanceFailedNoRows = "advance_failed: concurrent_update_no_rows"

	// raceShift is how far the race simulation moves next_send_at
	raceShift = time.Minute
)

// ReminderSummary is the result of one reminder run
type ReminderSummary struct {
	RunID          string `json:"runId"`
	DueCount       int    `json:"dueCount"`
	Claimed        int    `json:"claimed"`
	Deduped        int    `json:"deduped"`
	Sent           int    `json:"sent"`
	Advanced       int    `json:"advanced"`
	Truncated      bool   `json:"truncated"`
	ProcessedCount int    `json:"processedCount"`
	Failed         int    `json:"failed"`
	AdvanceFailed  int    `json:"advanceFailed"`
}

// reminderOutcome is what happened to one candidate
type reminderOutcome struct {
	claimed       bool
	deduped       bool
	sent          bool
	advanced      bool
	failed        bool
	advanceFailed bool
}

func (s *ReminderSummary) add(o reminderOutcome) {
	if o.claimed {
		s.Claimed++
	}
	if o.deduped {
		s.Deduped++
	}
	if o.sent {
		s.Sent++
	}
	if o.advanced {
		s.Advanced++
	}
	if o.failed {
		s.Failed++
	}
	if o.advanceFailed {
		s.AdvanceFailed++
	}
	s.ProcessedCount = s.Claimed + s.Deduped
}

// ReminderRunnerConfig tunes a reminder run
type ReminderRunnerConfig struct {
	BatchLimit int
	TimeBudget time.Duration
	// SimulateAdvanceRace moves next_send_at between the send and the advance
	// so the compare-and-swap misses. Never enable in production.
	SimulateAdvanceRace bool
}

// ReminderRunner claims due reminder schedules, records the send and advances
// each schedule to its next occurrence.
type ReminderRunner struct {
	store ReminderStore
	cfg   ReminderRunnerConfig
	runnerDeps
}

// NewReminderRunner creates a reminder runner
func NewReminderRunner(s ReminderStore, cfg ReminderRunnerConfig, opts ...Option) *ReminderRunner {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	return &ReminderRunner{
		store:      s,
		cfg:        cfg,
		runnerDeps: applyOptions(opts),
	}
}

// Run processes one batch of due schedules. Per-schedule failures are counted in
// the summary; only a failure to list the batch returns an error.
func (r *ReminderRunner) Run(ctx context.Context) (*ReminderSummary, error) {
	runID := r.newRunID()
	started := r.now()
	summary := &ReminderSummary{RunID: runID}

	due, err := r.store.ListDueSchedules(ctx, started, r.cfg.BatchLimit)
	if err != nil {
		return summary, fmt.Errorf("%w: %w", ErrFetchDue, err)
	}
	summary.DueCount = len(due)

	deadline := started.Add(r.cfg.TimeBudget)
	for _, sched := range due {
		if ctx.Err() != nil || (r.cfg.TimeBudget > 0 && !r.now().Before(deadline)) {
			summary.Truncated = true
			break
		}
		summary.add(r.processSchedule(ctx, runID, sched))
	}

	log.WithFields(log.Fields{
		"run_id":    runID,
		"due":       summary.DueCount,
		"claimed":   summary.Claimed,
		"deduped":   summary.Deduped,
		"sent":      summary.Sent,
		"advanced":  summary.Advanced,
		"failed":    summary.Failed,
		"truncated": summary.Truncated,
	}).Info("Reminder run finished")

	return summary, nil
}

// processSchedule claims and resolves one schedule. Cancellation is only honored
// between schedules by Run; once a claim is attempted it is carried through to a
// final status so the day's key never stays stuck at attempted.
func (r *ReminderRunner) processSchedule(ctx context.Context, runID string, sched models.ReminderSchedule) reminderOutcome {
	ctx = context.WithoutCancel(ctx)
	planned := sched.NextSendAt.UTC()
	dedupeKey := fmt.Sprintf("%s:%s", sched.ID, schedule.DateKey(planned))
	logger := log.WithFields(log.Fields{
		"run_id":      runID,
		"schedule_id": sched.ID,
		"dedupe_key":  dedupeKey,
	})

	entry := &models.ReminderSendLog{
		ScheduleID:    sched.ID,
		UserID:        sched.UserID,
		CardID:        sched.CardID,
		BenefitID:     sched.BenefitID,
		RunID:         runID,
		DedupeKey:     dedupeKey,
		PlannedSendAt: planned,
		Status:        models.SendStatusAttempted,
	}
	if err := r.store.InsertReminderLog(ctx, entry); err != nil {
		if store.IsConstraintViolation(err) {
			logger.Debug("Reminder already claimed for this day")
			return reminderOutcome{deduped: true}
		}
		logger.WithError(err).Error("Failed to claim reminder")
		r.recordClaimFailure(ctx, logger, *entry, err)
		return reminderOutcome{failed: true}
	}
	out := reminderOutcome{claimed: true}

	next, err := schedule.NextOccurrence(planned, sched.Cadence)
	if err != nil {
		logger.WithError(err).Warn("Reminder schedule has an unsupported cadence")
		if markErr := r.store.MarkReminderLog(ctx, entry.ID, models.SendStatusFailed, strPtr(err.Error())); markErr != nil {
			logger.WithError(markErr).Error("Failed to mark reminder failed")
		}
		out.failed = true
		return out
	}

	if err := r.store.MarkReminderLog(ctx, entry.ID, models.SendStatusSent, nil); err != nil {
		logger.WithError(err).Error("Failed to mark reminder sent")
		out.failed = true
		return out
	}
	out.sent = true

	if r.cfg.SimulateAdvanceRace {
		if err := r.store.ShiftNextSendAt(ctx, sched.ID, sched.NextSendAt.Add(raceShift)); err != nil {
			logger.WithError(err).Warn("Race simulation could not move next_send_at")
		} else {
			logger.Warn("Race simulation moved next_send_at before advance")
		}
	}

	rows, err := r.store.AdvanceSchedule(ctx, sched.ID, sched.NextSendAt, next, r.now())
	switch {
	case err != nil:
		logger.WithError(err).Error("Failed to advance reminder schedule")
		r.annotate(ctx, logger, entry.ID, "advance_failed: "+err.Error())
		out.advanceFailed = true
	case rows == 0:
		logger.Warn("Reminder schedule changed before advance, leaving it as is")
		r.annotate(ctx, logger, entry.ID, advanceFailedNoRows)
		out.advanceFailed = true
	default:
		out.advanced = true
	}
	return out
}

// recordClaimFailure stores a failed row under a key no retry can collide with
func (r *ReminderRunner) recordClaimFailure(ctx context.Context, logger *log.Entry, entry models.ReminderSendLog, cause error) {
	entry.ID = 0
	entry.DedupeKey = fmt.Sprintf("%s:error:%s:%d", entry.DedupeKey, entry.RunID, r.now().UnixNano())
	entry.Status = models.SendStatusFailed
	entry.Error = strPtr(cause.Error())
	if err := r.store.InsertReminderLog(ctx, &entry); err != nil {
		logger.WithError(err).Error("Failed to record reminder claim failure")
	}
}

func (r *ReminderRunner) annotate(ctx context.Context, logger *log.Entry, id int64, reason string) {
	if err := r.store.AnnotateReminderLog(ctx, id, reason); err != nil {
		logger.WithError(err).Error("Failed to annotate reminder log")
	}
}
