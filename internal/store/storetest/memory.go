// Package storetest provides an in-memory stand-in for store.GormStore. It
// enforces the same dedupe-key uniqueness and compare-and-swap rules and lets
// tests inject failures at each step.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"perkwallet/internal/models"
	"perkwallet/internal/store"
)

// Memory is safe for concurrent use
type Memory struct {
	mu     sync.Mutex
	nextID int64
	calls  map[string]int

	schedules    map[string]*models.ReminderSchedule
	reminderLogs []*models.ReminderSendLog
	emailLogs    []*models.EmailSendLog
	benefits     []models.EligibleBenefit
	emails       map[string]string
	runs         []models.JobRun

	// Failure injection. A nil field means the call behaves normally.
	ListDueErr           error
	ListEligibleErr      error
	InsertReminderLogErr func(entry *models.ReminderSendLog) error
	MarkReminderLogErr   func(id int64, status models.SendStatus) error
	AdvanceErr           func(scheduleID string) error
	InsertEmailLogErr    func(entry *models.EmailSendLog) error
	MarkEmailLogErr      func(id int64, status models.SendStatus) error
	RecordJobRunErr      error

	// AfterInsertReminderLog runs after every successful claim, outside the lock
	AfterInsertReminderLog func(entry models.ReminderSendLog)
}

// New returns an empty store
func New() *Memory {
	return &Memory{
		calls:     make(map[string]int),
		schedules: make(map[string]*models.ReminderSchedule),
		emails:    make(map[string]string),
	}
}

func (m *Memory) track(name string) {
	m.calls[name]++
}

// Calls returns how many times the named method was invoked
func (m *Memory) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// TotalCalls returns the number of store method invocations of any kind
func (m *Memory) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

// AddSchedule seeds a reminder schedule
func (m *Memory) AddSchedule(s models.ReminderSchedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.NextSendAt = s.NextSendAt.UTC()
	m.schedules[s.ID] = &s
}

// Schedule returns a copy of the stored schedule
func (m *Memory) Schedule(id string) (models.ReminderSchedule, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return models.ReminderSchedule{}, false
	}
	return *s, true
}

// AddBenefit seeds one row of the opted-in benefit view. RemindMe is implied.
func (m *Memory) AddBenefit(b models.EligibleBenefit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.benefits = append(m.benefits, b)
}

// SetEmail seeds the account directory
func (m *Memory) SetEmail(userID, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails[userID] = email
}

// ReminderLogs returns copies of every reminder send-log row in insert order
func (m *Memory) ReminderLogs() []models.ReminderSendLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ReminderSendLog, 0, len(m.reminderLogs))
	for _, l := range m.reminderLogs {
		out = append(out, *l)
	}
	return out
}

// EmailLogs returns copies of every digest send-log row in insert order
func (m *Memory) EmailLogs() []models.EmailSendLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.EmailSendLog, 0, len(m.emailLogs))
	for _, l := range m.emailLogs {
		out = append(out, *l)
	}
	return out
}

// Runs returns every recorded job run
func (m *Memory) Runs() []models.JobRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.JobRun(nil), m.runs...)
}

func (m *Memory) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]models.ReminderSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track("ListDueSchedules")

	if m.ListDueErr != nil {
		return nil, m.ListDueErr
	}

	var due []models.ReminderSchedule
	for _, s := range m.schedules {
		if !s.Enabled || s.NextSendAt.After(now) {
			continue
		}
		if s.UserID == "" || s.CardID == "" || s.BenefitID == "" {
			continue
		}
		due = append(due, *s)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextSendAt.Equal(due[j].NextSendAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextSendAt.Before(due[j].NextSendAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) InsertReminderLog(ctx context.Context, entry *models.ReminderSendLog) error {
	m.mu.Lock()
	m.track("InsertReminderLog")

	if m.InsertReminderLogErr != nil {
		if err := m.InsertReminderLogErr(entry); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	for _, l := range m.reminderLogs {
		if l.DedupeKey == entry.DedupeKey {
			m.mu.Unlock()
			return &store.ConstraintViolation{
				Constraint: "ux_reminder_send_log_dedupe_key",
				Err:        fmt.Errorf("duplicate key value %q", entry.DedupeKey),
			}
		}
	}

	m.nextID++
	entry.ID = m.nextID
	now := time.Now().UTC()
	entry.CreatedAt, entry.UpdatedAt = now, now
	if entry.Status == "" {
		entry.Status = models.SendStatusAttempted
	}
	row := *entry
	m.reminderLogs = append(m.reminderLogs, &row)
	hook := m.AfterInsertReminderLog
	m.mu.Unlock()

	if hook != nil {
		hook(row)
	}
	return nil
}

func (m *Memory) reminderLog(id int64) *models.ReminderSendLog {
	for _, l := range m.reminderLogs {
		if l.ID == id {
			return l
		}
	}
	return nil
}

func (m *Memory) MarkReminderLog(ctx context.Context, id int64, status models.SendStatus, errText *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track("MarkReminderLog")

	if m.MarkReminderLogErr != nil {
		if err := m.MarkReminderLogErr(id, status); err != nil {
			return err
		}
	}
	l := m.reminderLog(id)
	if l == nil || !l.Status.CanTransitionTo(status) {
		return fmt.Errorf("reminder log %d: %w", id, store.ErrStaleStatus)
	}
	l.Status = status
	l.Error = errText
	l.SkipReason = nil
	l.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) AnnotateReminderLog(ctx context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track("AnnotateReminderLog")

	l := m.reminderLog(id)
	if l == nil {
		return fmt.Errorf("reminder log %d: %w", id, store.ErrNotFound)
	}
	l.SkipReason = &reason
	l.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) AdvanceSchedule(ctx context.Context, id string, expected, next, sentAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track("AdvanceSchedule")

	if m.AdvanceErr != nil {
		if err := m.AdvanceErr(id); err != nil {
			return 0, err
		}
	}
	s, ok := m.schedules[id]
	if !ok || !s.NextSendAt.Equal(expected) {
		return 0, nil
	}
	sent := sentAt.UTC()
	s.NextSendAt = next.UTC()
	s.LastSentAt = &sent
	s.UpdatedAt = time.Now().UTC()
	return 1, nil
}

func (m *Memory) ShiftNextSendAt(ctx context.Context, id string, to time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track("ShiftNextSendAt")

	s, ok := m.schedules[id]
	if !ok {
		return fmt.Errorf("schedule %s: %w", id, store.ErrNotFound)
	}
	s.NextSendAt = to.UTC()
	return nil
}

func (m *Memory) ListEligibleBenefits(ctx context.Context, cadences []string, unusedOnly bool) ([]models.EligibleBenefit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track("ListEligibleBenefits")

	if m.ListEligibleErr != nil {
		return nil, m.ListEligibleErr
	}

	wanted := make(map[string]bool, len(cadences))
	for _, c := range cadences {
		wanted[c] = true
	}

	var rows []models.EligibleBenefit
	for _, b := range m.benefits {
		if !wanted[strings.ToLower(strings.TrimSpace(b.Cadence))] {
			continue
		}
		if unusedOnly && b.Used {
			continue
		}
		rows = append(rows, b)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].UserID != rows[j].UserID {
			return rows[i].UserID < rows[j].UserID
		}
		if rows[i].CardName != rows[j].CardName {
			return rows[i].CardName < rows[j].CardName
		}
		return rows[i].BenefitName < rows[j].BenefitName
	})
	return rows, nil
}

func (m *Memory) InsertEmailLog(ctx context.Context, entry *models.EmailSendLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track("InsertEmailLog")

	if m.InsertEmailLogErr != nil {
		if err := m.InsertEmailLogErr(entry); err != nil {
			return err
		}
	}
	for _, l := range m.emailLogs {
		if l.DedupeKey == entry.DedupeKey {
			return &store.ConstraintViolation{
				Constraint: "ux_email_send_log_dedupe_key",
				Err:        fmt.Errorf("duplicate key value %q", entry.DedupeKey),
			}
		}
	}

	m.nextID++
	entry.ID = m.nextID
	now := time.Now().UTC()
	entry.CreatedAt, entry.UpdatedAt = now, now
	if entry.Status == "" {
		entry.Status = models.SendStatusAttempted
	}
	row := *entry
	m.emailLogs = append(m.emailLogs, &row)
	return nil
}

func (m *Memory) MarkEmailLog(ctx context.Context, id int64, status models.SendStatus, providerMessageID, errText *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track("MarkEmailLog")

	if m.MarkEmailLogErr != nil {
		if err := m.MarkEmailLogErr(id, status); err != nil {
			return err
		}
	}
	for _, l := range m.emailLogs {
		if l.ID != id {
			continue
		}
		if !l.Status.CanTransitionTo(status) {
			break
		}
		l.Status = status
		l.ProviderMessageID = providerMessageID
		l.Error = errText
		l.UpdatedAt = time.Now().UTC()
		return nil
	}
	return fmt.Errorf("email log %d: %w", id, store.ErrStaleStatus)
}

func (m *Memory) LookupEmail(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track("LookupEmail")

	email, ok := m.emails[userID]
	if !ok {
		return "", fmt.Errorf("account %s: %w", userID, store.ErrNotFound)
	}
	return email, nil
}

func (m *Memory) RecordJobRun(ctx context.Context, run *models.JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track("RecordJobRun")

	if m.RecordJobRunErr != nil {
		return m.RecordJobRunErr
	}
	m.runs = append(m.runs, *run)
	return nil
}

func (m *Memory) ListJobRuns(ctx context.Context, job string, limit int) ([]models.JobRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track("ListJobRuns")

	var out []models.JobRun
	for i := len(m.runs) - 1; i >= 0; i-- {
		if job != "" && m.runs[i].Job != job {
			continue
		}
		out = append(out, m.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
