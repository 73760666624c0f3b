package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"perkwallet/internal/models"
	"perkwallet/internal/store/storetest"
)

// testClock is a manually advanced clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sequentialIDs returns run-1, run-2, ...
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("run-%d", n)
	}
}

// ctxAwareStore fails writes on a cancelled context the way a real driver does
type ctxAwareStore struct {
	*storetest.Memory
}

func (s ctxAwareStore) InsertReminderLog(ctx context.Context, entry *models.ReminderSendLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Memory.InsertReminderLog(ctx, entry)
}

func (s ctxAwareStore) MarkReminderLog(ctx context.Context, id int64, status models.SendStatus, errText *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Memory.MarkReminderLog(ctx, id, status, errText)
}

func (s ctxAwareStore) AnnotateReminderLog(ctx context.Context, id int64, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Memory.AnnotateReminderLog(ctx, id, reason)
}

func (s ctxAwareStore) AdvanceSchedule(ctx context.Context, id string, expected, next, sentAt time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.Memory.AdvanceSchedule(ctx, id, expected, next, sentAt)
}

func (s ctxAwareStore) InsertEmailLog(ctx context.Context, entry *models.EmailSendLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Memory.InsertEmailLog(ctx, entry)
}

func (s ctxAwareStore) MarkEmailLog(ctx context.Context, id int64, status models.SendStatus, providerMessageID, errText *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Memory.MarkEmailLog(ctx, id, status, providerMessageID, errText)
}
