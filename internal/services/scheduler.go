package services

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// JobRunner is the part of Jobs the scheduler drives
type JobRunner interface {
	RunReminders(ctx context.Context) (*ReminderSummary, error)
	RunDigest(ctx context.Context) (*DigestSummary, error)
}

// Scheduler triggers the jobs in-process for deployments without an external cron.
// Each job runs at most once at a time within this process.
type Scheduler struct {
	jobs       JobRunner
	interval   time.Duration
	digestHour int
	now        func() time.Time

	remindersMu sync.Mutex
	digestMu    sync.Mutex
}

// NewScheduler runs reminders every interval and the digest daily at digestHour UTC
func NewScheduler(jobs JobRunner, interval time.Duration, digestHour int) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		jobs:       jobs,
		interval:   interval,
		digestHour: digestHour,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the workers and returns a function that stops them and waits
// for any in-flight run to return.
func (s *Scheduler) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		s.reminderLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.digestLoop(ctx)
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

func (s *Scheduler) reminderLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Infof("Reminder worker started, running every %s", s.interval)
	s.RunReminders(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("Reminder worker shutting down")
			return
		case <-ticker.C:
			s.RunReminders(ctx)
		}
	}
}

func (s *Scheduler) digestLoop(ctx context.Context) {
	log.Infof("Digest worker started, next run at %02d:00 UTC", s.digestHour)

	for {
		timer := time.NewTimer(nextDailyRun(s.now(), s.digestHour))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("Digest worker shutting down")
			return
		case <-timer.C:
			s.RunDigest(ctx)
		}
	}
}

// RunReminders runs the reminder job unless a previous run is still going.
// It reports whether the job ran.
func (s *Scheduler) RunReminders(ctx context.Context) bool {
	if !s.remindersMu.TryLock() {
		log.Warn("Previous reminder run still in progress, skipping")
		return false
	}
	defer s.remindersMu.Unlock()

	if _, err := s.jobs.RunReminders(ctx); err != nil {
		log.WithError(err).Error("Scheduled reminder run failed")
	}
	return true
}

// RunDigest runs the digest job unless a previous run is still going
func (s *Scheduler) RunDigest(ctx context.Context) bool {
	if !s.digestMu.TryLock() {
		log.Warn("Previous digest run still in progress, skipping")
		return false
	}
	defer s.digestMu.Unlock()

	if _, err := s.jobs.RunDigest(ctx); err != nil {
		log.WithError(err).Error("Scheduled digest run failed")
	}
	return true
}

// nextDailyRun returns how long until the next hour:00 UTC strictly after now
func nextDailyRun(now time.Time, hour int) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
