package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"perkwallet/internal/models"
	"perkwallet/internal/schedule"
	"perkwallet/internal/store"

	log "github.com/sirupsen/logrus"
)

// DigestSummary is the result of one digest run
type DigestSummary struct {
	RunID           string             `json:"runId"`
	DueSections     []schedule.Section `json:"dueSections"`
	UsersConsidered int                `json:"usersConsidered"`
	UsersEligible   int                `json:"usersEligible"`
	SentCount       int                `json:"sentCount"`
	DedupedCount    int                `json:"dedupedCount"`
	FailedCount     int                `json:"failedCount"`
	// Truncated is set when the run was cancelled before every user was claimed
	Truncated bool `json:"truncated,omitempty"`
}

// DigestItem is one benefit line in a digest
type DigestItem struct {
	CardName    string
	BenefitName string
	Value       float64
	Notes       string
}

// DigestSection groups the items of one due section
type DigestSection struct {
	Section schedule.Section
	Items   []DigestItem
}

// UserDigest is everything one user is reminded of today
type UserDigest struct {
	UserID   string
	Date     time.Time
	Sections []DigestSection
}

// ItemCount returns the number of benefit lines across all sections
func (d UserDigest) ItemCount() int {
	n := 0
	for _, s := range d.Sections {
		n += len(s.Items)
	}
	return n
}

func (d UserDigest) sectionNames() []schedule.Section {
	names := make([]schedule.Section, 0, len(d.Sections))
	for _, s := range d.Sections {
		names = append(names, s.Section)
	}
	return names
}

type digestOutcome int

const (
	digestSent digestOutcome = iota
	digestDeduped
	digestFailed
)

// DigestRunner sends at most one digest email per user per UTC day
type DigestRunner struct {
	store     DigestStore
	directory UserDirectory
	sender    EmailSender
	runnerDeps
}

// NewDigestRunner creates a digest runner
func NewDigestRunner(s DigestStore, directory UserDirectory, sender EmailSender, opts ...Option) *DigestRunner {
	return &DigestRunner{
		store:      s,
		directory:  directory,
		sender:     sender,
		runnerDeps: applyOptions(opts),
	}
}

// Run sends today's digests. Per-user failures are counted in the summary; only
// a failure to read the eligible benefits returns an error.
func (r *DigestRunner) Run(ctx context.Context) (*DigestSummary, error) {
	runID := r.newRunID()
	today := schedule.DateOnly(r.now())
	summary := &DigestSummary{RunID: runID, DueSections: []schedule.Section{}}

	due := schedule.DueSections(today)
	if len(due) == 0 {
		log.WithField("run_id", runID).Info("No digest sections due today")
		return summary, nil
	}
	summary.DueSections = due
	cadences := schedule.CadencesForSections(due)

	considered, err := r.store.ListEligibleBenefits(ctx, cadences, false)
	if err != nil {
		return summary, fmt.Errorf("%w: %w", ErrFetchDue, err)
	}
	summary.UsersConsidered = countUsers(considered)

	eligible, err := r.store.ListEligibleBenefits(ctx, cadences, true)
	if err != nil {
		return summary, fmt.Errorf("%w: %w", ErrFetchDue, err)
	}

	digests := groupDigests(eligible, due, today)
	summary.UsersEligible = len(digests)

	for _, digest := range digests {
		if ctx.Err() != nil {
			summary.Truncated = true
			break
		}
		switch r.processUser(ctx, runID, digest) {
		case digestSent:
			summary.SentCount++
		case digestDeduped:
			summary.DedupedCount++
		case digestFailed:
			summary.FailedCount++
		}
	}

	log.WithFields(log.Fields{
		"run_id":     runID,
		"sections":   due,
		"considered": summary.UsersConsidered,
		"eligible":   summary.UsersEligible,
		"sent":       summary.SentCount,
		"deduped":    summary.DedupedCount,
		"failed":     summary.FailedCount,
		"truncated":  summary.Truncated,
	}).Info("Digest run finished")

	return summary, nil
}

func countUsers(rows []models.EligibleBenefit) int {
	users := make(map[string]struct{})
	for _, row := range rows {
		users[row.UserID] = struct{}{}
	}
	return len(users)
}

// groupDigests buckets rows per user and section. Rows whose cadence is unknown
// or not due today are dropped. Users come back in ID order with sections in
// fixed section order.
func groupDigests(rows []models.EligibleBenefit, due []schedule.Section, today time.Time) []UserDigest {
	isDue := make(map[schedule.Section]bool, len(due))
	for _, s := range due {
		isDue[s] = true
	}

	buckets := make(map[string]map[schedule.Section][]DigestItem)
	for _, row := range rows {
		section, ok := schedule.SectionForCadence(row.Cadence)
		if !ok || !isDue[section] {
			continue
		}
		if buckets[row.UserID] == nil {
			buckets[row.UserID] = make(map[schedule.Section][]DigestItem)
		}
		buckets[row.UserID][section] = append(buckets[row.UserID][section], DigestItem{
			CardName:    row.CardName,
			BenefitName: row.BenefitName,
			Value:       row.BenefitValue,
			Notes:       row.BenefitNotes,
		})
	}

	userIDs := make([]string, 0, len(buckets))
	for userID := range buckets {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)

	digests := make([]UserDigest, 0, len(userIDs))
	for _, userID := range userIDs {
		digest := UserDigest{UserID: userID, Date: today}
		for _, section := range schedule.Sections {
			if items := buckets[userID][section]; len(items) > 0 {
				digest.Sections = append(digest.Sections, DigestSection{Section: section, Items: items})
			}
		}
		digests = append(digests, digest)
	}
	return digests
}

// processUser claims, sends and records one user's digest. Like the reminder
// runner it ignores cancellation once started so a claimed row always ends sent or failed.
func (r *DigestRunner) processUser(ctx context.Context, runID string, digest UserDigest) digestOutcome {
	ctx = context.WithoutCancel(ctx)
	dedupeKey := fmt.Sprintf("%s:%s", digest.UserID, schedule.DateKey(digest.Date))
	logger := log.WithFields(log.Fields{
		"run_id":     runID,
		"user_id":    digest.UserID,
		"dedupe_key": dedupeKey,
	})

	sections, err := json.Marshal(digest.sectionNames())
	if err != nil {
		logger.WithError(err).Error("Failed to encode digest sections")
		return digestFailed
	}

	entry := &models.EmailSendLog{
		UserID:    digest.UserID,
		RunID:     runID,
		DedupeKey: dedupeKey,
		SendDate:  schedule.DateKey(digest.Date),
		Sections:  sections,
		ItemCount: digest.ItemCount(),
		Status:    models.SendStatusAttempted,
	}
	if err := r.store.InsertEmailLog(ctx, entry); err != nil {
		if store.IsConstraintViolation(err) {
			logger.Debug("Digest already claimed for this day")
			return digestDeduped
		}
		logger.WithError(err).Error("Failed to claim digest")
		return digestFailed
	}

	messageID, err := r.deliver(ctx, digest)
	if err != nil {
		logger.WithError(err).Error("Failed to send digest")
		if markErr := r.store.MarkEmailLog(ctx, entry.ID, models.SendStatusFailed, nil, strPtr(err.Error())); markErr != nil {
			logger.WithError(markErr).Error("Failed to mark digest failed")
		}
		return digestFailed
	}

	var providerID *string
	if messageID != "" {
		providerID = &messageID
	}
	if err := r.store.MarkEmailLog(ctx, entry.ID, models.SendStatusSent, providerID, nil); err != nil {
		logger.WithError(err).Error("Digest sent but its log row could not be marked sent")
		return digestFailed
	}

	logger.WithField("items", entry.ItemCount).Info("Digest sent")
	return digestSent
}

func (r *DigestRunner) deliver(ctx context.Context, digest UserDigest) (string, error) {
	rendered, err := RenderDigest(digest)
	if err != nil {
		return "", err
	}

	address, err := r.directory.EmailFor(ctx, digest.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve email address: %w", err)
	}

	result, err := r.sender.Send(ctx, Email{
		ToAddress: address,
		Subject:   rendered.Subject,
		PlainText: rendered.PlainText,
		HTML:      rendered.HTML,
	})
	if err != nil {
		return "", err
	}
	return result.MessageID, nil
}
