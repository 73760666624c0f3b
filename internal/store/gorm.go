// Package store is the persistence boundary for the batch jobs. It turns driver
// errors into tagged errors and surfaces affected-row counts for conditional
// updates so callers can tell a lost race from success.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"perkwallet/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// uniqueViolationCode is the Postgres SQLSTATE for unique_violation
const uniqueViolationCode = "23505"

// GormStore implements the job stores on top of a gorm connection
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm connection
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB returns the underlying connection
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// classify converts unique violations into *ConstraintViolation and leaves
// every other error untouched.
func (s *GormStore) classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return &ConstraintViolation{Constraint: pgErr.ConstraintName, Err: err}
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &ConstraintViolation{Err: err}
	}

	// Other dialects (sqlite in tests) only expose their codes through gorm's translator.
	if translator, ok := s.db.Dialector.(gorm.ErrorTranslator); ok {
		if errors.Is(translator.Translate(err), gorm.ErrDuplicatedKey) {
			return &ConstraintViolation{Err: err}
		}
	}

	return err
}

// ListDueSchedules returns up to limit enabled schedules due at or before now,
// oldest first. Rows missing a user, card or benefit reference are skipped.
func (s *GormStore) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]models.ReminderSchedule, error) {
	var schedules []models.ReminderSchedule
	err := s.db.WithContext(ctx).
		Where("enabled = ? AND next_send_at <= ?", true, now.UTC()).
		Where("user_id IS NOT NULL AND card_id IS NOT NULL AND benefit_id IS NOT NULL").
		Order("next_send_at ASC").
		Limit(limit).
		Find(&schedules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due reminder schedules: %w", err)
	}
	return schedules, nil
}

// InsertReminderLog inserts a send-log row. A duplicate dedupe key returns *ConstraintViolation.
func (s *GormStore) InsertReminderLog(ctx context.Context, entry *models.ReminderSendLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return s.classify(err)
	}
	return nil
}

// MarkReminderLog moves an attempted row to status, replacing its error text and
// clearing any skip annotation.
func (s *GormStore) MarkReminderLog(ctx context.Context, id int64, status models.SendStatus, errText *string) error {
	res := s.db.WithContext(ctx).Model(&models.ReminderSendLog{}).
		Where("id = ? AND status = ?", id, models.SendStatusAttempted).
		Updates(map[string]interface{}{
			"status":      status,
			"error":       errText,
			"skip_reason": nil,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark reminder log %d %s: %w", id, status, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("reminder log %d: %w", id, ErrStaleStatus)
	}
	return nil
}

// AnnotateReminderLog records a skip reason without touching status
func (s *GormStore) AnnotateReminderLog(ctx context.Context, id int64, reason string) error {
	err := s.db.WithContext(ctx).Model(&models.ReminderSendLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"skip_reason": reason,
			"updated_at":  time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to annotate reminder log %d: %w", id, err)
	}
	return nil
}

// AdvanceSchedule moves a schedule to next only if its stored next_send_at still
// equals expected. It returns the number of rows changed; zero means another
// writer got there first.
func (s *GormStore) AdvanceSchedule(ctx context.Context, id string, expected, next, sentAt time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.ReminderSchedule{}).
		Where("id = ? AND next_send_at = ?", id, expected.UTC()).
		Updates(map[string]interface{}{
			"next_send_at": next.UTC(),
			"last_sent_at": sentAt.UTC(),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to advance schedule %s: %w", id, res.Error)
	}
	return res.RowsAffected, nil
}

// ShiftNextSendAt overwrites a schedule's next_send_at unconditionally.
// Only the race simulation uses it.
func (s *GormStore) ShiftNextSendAt(ctx context.Context, id string, to time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.ReminderSchedule{}).
		Where("id = ?", id).
		Update("next_send_at", to.UTC()).Error
	if err != nil {
		return fmt.Errorf("failed to shift schedule %s: %w", id, err)
	}
	return nil
}

// ListEligibleBenefits returns opted-in user benefits whose cadence (compared
// lowercased and trimmed) is one of cadences. With unusedOnly, benefits already
// marked used are excluded.
func (s *GormStore) ListEligibleBenefits(ctx context.Context, cadences []string, unusedOnly bool) ([]models.EligibleBenefit, error) {
	var rows []models.EligibleBenefit

	q := s.db.WithContext(ctx).
		Table("user_benefit AS ub").
		Select(`ub.user_id, ub.benefit_id, ub.used,
			b.name AS benefit_name, b.value AS benefit_value, COALESCE(b.notes, '') AS benefit_notes,
			b.cadence, c.id AS card_id, c.name AS card_name`).
		Joins("JOIN benefit b ON b.id = ub.benefit_id").
		Joins("JOIN card c ON c.id = b.card_id").
		Where("ub.remind_me = ?", true).
		Where("LOWER(TRIM(b.cadence)) IN ?", cadences)
	if unusedOnly {
		q = q.Where("ub.used = ?", false)
	}

	if err := q.Order("ub.user_id, c.name, b.name").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list eligible benefits: %w", err)
	}
	return rows, nil
}

// InsertEmailLog inserts a digest send-log row. A duplicate dedupe key returns *ConstraintViolation.
func (s *GormStore) InsertEmailLog(ctx context.Context, entry *models.EmailSendLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return s.classify(err)
	}
	return nil
}

// MarkEmailLog moves an attempted digest row to status
func (s *GormStore) MarkEmailLog(ctx context.Context, id int64, status models.SendStatus, providerMessageID, errText *string) error {
	res := s.db.WithContext(ctx).Model(&models.EmailSendLog{}).
		Where("id = ? AND status = ?", id, models.SendStatusAttempted).
		Updates(map[string]interface{}{
			"status":              status,
			"provider_message_id": providerMessageID,
			"error":               errText,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark email log %d %s: %w", id, status, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("email log %d: %w", id, ErrStaleStatus)
	}
	return nil
}

// LookupEmail returns the delivery address on file for userID
func (s *GormStore) LookupEmail(ctx context.Context, userID string) (string, error) {
	var account models.Account
	err := s.db.WithContext(ctx).
		Select("user_id, email").
		Where("user_id = ?", userID).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up account %s: %w", userID, err)
	}
	return account.Email, nil
}

// RecordJobRun stores the history row for a finished run
func (s *GormStore) RecordJobRun(ctx context.Context, run *models.JobRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to record %s run %s: %w", run.Job, run.RunID, err)
	}
	return nil
}

// ListJobRuns returns the most recent runs, newest first. An empty job lists every job.
func (s *GormStore) ListJobRuns(ctx context.Context, job string, limit int) ([]models.JobRun, error) {
	var runs []models.JobRun
	q := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit)
	if job != "" {
		q = q.Where("job = ?", job)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	return runs, nil
}
