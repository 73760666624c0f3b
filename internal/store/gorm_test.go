package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"perkwallet/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func setupStoreTestDB(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
	})
	require.NoError(t, err)

	// Every pooled connection to :memory: would otherwise see its own empty database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Account{},
		&models.Card{},
		&models.Benefit{},
		&models.UserBenefit{},
		&models.ReminderSchedule{},
		&models.ReminderSendLog{},
		&models.EmailSendLog{},
		&models.JobRun{},
	))
	return NewGormStore(db)
}

func seedSchedule(t *testing.T, s *GormStore, nextSendAt time.Time, enabled bool) models.ReminderSchedule {
	t.Helper()
	sched := models.ReminderSchedule{
		ID:         uuid.NewString(),
		UserID:     "user-1",
		CardID:     "card-1",
		BenefitID:  "benefit-1",
		Cadence:    models.CadenceMonthly,
		NextSendAt: nextSendAt,
		Enabled:    true,
	}
	require.NoError(t, s.DB().Create(&sched).Error)
	if !enabled {
		// gorm skips zero-value bools on create when the column has a default
		require.NoError(t, s.DB().Model(&sched).Update("enabled", false).Error)
	}
	return sched
}

func TestListDueSchedules(t *testing.T) {
	s := setupStoreTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)

	late := seedSchedule(t, s, now.Add(-time.Hour), true)
	early := seedSchedule(t, s, now.Add(-48*time.Hour), true)
	seedSchedule(t, s, now.Add(time.Hour), true)
	seedSchedule(t, s, now.Add(-2*time.Hour), false)
	exact := seedSchedule(t, s, now, true)

	t.Run("oldest first, enabled and due only", func(t *testing.T) {
		due, err := s.ListDueSchedules(ctx, now, 50)
		require.NoError(t, err)
		require.Len(t, due, 3)
		assert.Equal(t, early.ID, due[0].ID)
		assert.Equal(t, late.ID, due[1].ID)
		assert.Equal(t, exact.ID, due[2].ID)
	})

	t.Run("limit", func(t *testing.T) {
		due, err := s.ListDueSchedules(ctx, now, 1)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, early.ID, due[0].ID)
	})
}

func TestInsertReminderLog_DuplicateKeyIsConstraintViolation(t *testing.T) {
	s := setupStoreTestDB(t)
	ctx := context.Background()
	planned := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)

	newEntry := func() *models.ReminderSendLog {
		return &models.ReminderSendLog{
			ScheduleID:    "sched-1",
			UserID:        "user-1",
			CardID:        "card-1",
			BenefitID:     "benefit-1",
			RunID:         uuid.NewString(),
			DedupeKey:     "sched-1:2024-03-31",
			PlannedSendAt: planned,
			Status:        models.SendStatusAttempted,
		}
	}

	first := newEntry()
	require.NoError(t, s.InsertReminderLog(ctx, first))
	assert.NotZero(t, first.ID)

	err := s.InsertReminderLog(ctx, newEntry())
	require.Error(t, err)
	assert.True(t, IsConstraintViolation(err))

	var cv *ConstraintViolation
	require.True(t, errors.As(err, &cv))
	assert.NotNil(t, cv.Unwrap())
}

func TestMarkReminderLog(t *testing.T) {
	s := setupStoreTestDB(t)
	ctx := context.Background()

	entry := &models.ReminderSendLog{
		ScheduleID:    "sched-1",
		UserID:        "user-1",
		CardID:        "card-1",
		BenefitID:     "benefit-1",
		RunID:         "run-1",
		DedupeKey:     "sched-1:2024-03-31",
		PlannedSendAt: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		Status:        models.SendStatusAttempted,
	}
	require.NoError(t, s.InsertReminderLog(ctx, entry))

	require.NoError(t, s.MarkReminderLog(ctx, entry.ID, models.SendStatusSent, nil))

	var got models.ReminderSendLog
	require.NoError(t, s.DB().First(&got, entry.ID).Error)
	assert.Equal(t, models.SendStatusSent, got.Status)
	assert.Nil(t, got.Error)

	t.Run("sent rows never move again", func(t *testing.T) {
		msg := "late failure"
		err := s.MarkReminderLog(ctx, entry.ID, models.SendStatusFailed, &msg)
		assert.ErrorIs(t, err, ErrStaleStatus)

		require.NoError(t, s.DB().First(&got, entry.ID).Error)
		assert.Equal(t, models.SendStatusSent, got.Status)
	})

	t.Run("annotation keeps status", func(t *testing.T) {
		require.NoError(t, s.AnnotateReminderLog(ctx, entry.ID, "advance_failed: concurrent_update_no_rows"))

		require.NoError(t, s.DB().First(&got, entry.ID).Error)
		assert.Equal(t, models.SendStatusSent, got.Status)
		require.NotNil(t, got.SkipReason)
		assert.Equal(t, "advance_failed: concurrent_update_no_rows", *got.SkipReason)
	})
}

func TestAdvanceSchedule_CompareAndSwap(t *testing.T) {
	s := setupStoreTestDB(t)
	ctx := context.Background()
	planned := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	next := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
	sentAt := time.Date(2024, 3, 31, 9, 0, 0, 0, time.UTC)

	sched := seedSchedule(t, s, planned, true)

	rows, err := s.AdvanceSchedule(ctx, sched.ID, planned, next, sentAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	var got models.ReminderSchedule
	require.NoError(t, s.DB().First(&got, "id = ?", sched.ID).Error)
	assert.True(t, got.NextSendAt.Equal(next))
	require.NotNil(t, got.LastSentAt)
	assert.True(t, got.LastSentAt.Equal(sentAt))

	// A second writer holding the stale value loses
	rows, err = s.AdvanceSchedule(ctx, sched.ID, planned, next.AddDate(0, 1, 0), sentAt)
	require.NoError(t, err)
	assert.Zero(t, rows)

	require.NoError(t, s.DB().First(&got, "id = ?", sched.ID).Error)
	assert.True(t, got.NextSendAt.Equal(next))
}

func TestShiftNextSendAt(t *testing.T) {
	s := setupStoreTestDB(t)
	ctx := context.Background()
	planned := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	sched := seedSchedule(t, s, planned, true)

	require.NoError(t, s.ShiftNextSendAt(ctx, sched.ID, planned.Add(time.Minute)))

	rows, err := s.AdvanceSchedule(ctx, sched.ID, planned, planned.AddDate(0, 1, 0), planned)
	require.NoError(t, err)
	assert.Zero(t, rows)
}

func seedCatalog(t *testing.T, s *GormStore) {
	t.Helper()
	db := s.DB()
	require.NoError(t, db.Create(&models.Card{ID: "card-a", Name: "Amber Rewards"}).Error)
	require.NoError(t, db.Create(&models.Card{ID: "card-b", Name: "Blue Travel"}).Error)

	benefits := []models.Benefit{
		{ID: "b-dining", CardID: "card-a", Name: "Dining credit", Value: 10, Cadence: "monthly"},
		{ID: "b-hotel", CardID: "card-b", Name: "Hotel credit", Value: 50, Notes: "Prepaid only", Cadence: " Semi_Annual "},
		{ID: "b-lounge", CardID: "card-b", Name: "Lounge pass", Value: 35, Cadence: "annual"},
		{ID: "b-once", CardID: "card-a", Name: "Welcome bonus", Value: 200, Cadence: "one_time"},
	}
	require.NoError(t, db.Create(&benefits).Error)

	userBenefits := []models.UserBenefit{
		{UserID: "user-1", BenefitID: "b-dining", RemindMe: true},
		{UserID: "user-1", BenefitID: "b-hotel", RemindMe: true},
		{UserID: "user-2", BenefitID: "b-hotel", RemindMe: true, Used: true},
		{UserID: "user-2", BenefitID: "b-lounge", RemindMe: true},
		{UserID: "user-3", BenefitID: "b-dining", RemindMe: false},
		{UserID: "user-3", BenefitID: "b-once", RemindMe: true},
	}
	require.NoError(t, db.Create(&userBenefits).Error)
}

func TestListEligibleBenefits(t *testing.T) {
	s := setupStoreTestDB(t)
	ctx := context.Background()
	seedCatalog(t, s)

	cadences := []string{"monthly", "semi_annual", "semiannual", "annual"}

	t.Run("unused only", func(t *testing.T) {
		rows, err := s.ListEligibleBenefits(ctx, cadences, true)
		require.NoError(t, err)
		require.Len(t, rows, 3)

		assert.Equal(t, "user-1", rows[0].UserID)
		assert.Equal(t, "Amber Rewards", rows[0].CardName)
		assert.Equal(t, "Dining credit", rows[0].BenefitName)
		assert.InDelta(t, 10.0, rows[0].BenefitValue, 0.001)

		assert.Equal(t, "user-1", rows[1].UserID)
		assert.Equal(t, "Hotel credit", rows[1].BenefitName)
		assert.Equal(t, "Prepaid only", rows[1].BenefitNotes)

		assert.Equal(t, "user-2", rows[2].UserID)
		assert.Equal(t, "Lounge pass", rows[2].BenefitName)
	})

	t.Run("including used", func(t *testing.T) {
		rows, err := s.ListEligibleBenefits(ctx, cadences, false)
		require.NoError(t, err)
		assert.Len(t, rows, 4)
	})

	t.Run("cadence filter", func(t *testing.T) {
		rows, err := s.ListEligibleBenefits(ctx, []string{"annual"}, true)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "b-lounge", rows[0].BenefitID)
	})
}

func TestEmailLogLifecycle(t *testing.T) {
	s := setupStoreTestDB(t)
	ctx := context.Background()

	entry := &models.EmailSendLog{
		UserID:    "user-1",
		RunID:     "run-1",
		DedupeKey: "user-1:2024-12-17",
		SendDate:  "2024-12-17",
		ItemCount: 2,
		Status:    models.SendStatusAttempted,
	}
	require.NoError(t, s.InsertEmailLog(ctx, entry))

	dup := *entry
	dup.ID = 0
	dup.RunID = "run-2"
	assert.True(t, IsConstraintViolation(s.InsertEmailLog(ctx, &dup)))

	msgID := "sg-123"
	require.NoError(t, s.MarkEmailLog(ctx, entry.ID, models.SendStatusSent, &msgID, nil))

	var got models.EmailSendLog
	require.NoError(t, s.DB().First(&got, entry.ID).Error)
	assert.Equal(t, models.SendStatusSent, got.Status)
	require.NotNil(t, got.ProviderMessageID)
	assert.Equal(t, "sg-123", *got.ProviderMessageID)

	assert.ErrorIs(t, s.MarkEmailLog(ctx, entry.ID, models.SendStatusFailed, nil, nil), ErrStaleStatus)
}

func TestLookupEmail(t *testing.T) {
	s := setupStoreTestDB(t)
	ctx := context.Background()
	require.NoError(t, s.DB().Create(&models.Account{UserID: "user-1", Email: "ana@example.com"}).Error)

	email, err := s.LookupEmail(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", email)

	_, err = s.LookupEmail(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobRuns(t *testing.T) {
	s := setupStoreTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 12, 17, 14, 0, 0, 0, time.UTC)

	for i, job := range []string{models.JobReminders, models.JobDigest, models.JobReminders} {
		start := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.RecordJobRun(ctx, &models.JobRun{
			RunID:      uuid.NewString(),
			Job:        job,
			StartedAt:  start,
			FinishedAt: start.Add(2 * time.Second),
			Summary:    []byte(`{"ok":true}`),
		}))
	}

	runs, err := s.ListJobRuns(ctx, models.JobReminders, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt))
	assert.Equal(t, 2*time.Second, runs[0].Duration())

	all, err := s.ListJobRuns(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
