package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"perkwallet/internal/models"
	"perkwallet/internal/services"

	"github.com/gin-gonic/gin"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// JobService is what the cron endpoints drive; *services.Jobs implements it
type JobService interface {
	RunReminders(ctx context.Context) (*services.ReminderSummary, error)
	RunDigest(ctx context.Context) (*services.DigestSummary, error)
	RecentRuns(ctx context.Context, job string, limit int) ([]models.JobRun, error)
}

// CronHandler serves the externally triggered batch job endpoints
type CronHandler struct {
	jobs JobService
}

// NewCronHandler creates a cron handler. A nil jobs means no store is configured
// and every request answers 500.
func NewCronHandler(jobs JobService) *CronHandler {
	return &CronHandler{jobs: jobs}
}

// RemindersHandler runs one reminder batch
func (h *CronHandler) RemindersHandler(c *gin.Context) {
	if !h.ready(c) {
		return
	}

	summary, err := h.jobs.RunReminders(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrFetchDue) {
			handleError(c, http.StatusInternalServerError, "failed to fetch due reminders", err)
			return
		}
		handleError(c, http.StatusInternalServerError, "reminder run failed", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// DigestHandler runs one digest batch
func (h *CronHandler) DigestHandler(c *gin.Context) {
	if !h.ready(c) {
		return
	}

	summary, err := h.jobs.RunDigest(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrFetchDue) {
			handleError(c, http.StatusInternalServerError, "failed to fetch eligible benefits", err)
			return
		}
		handleError(c, http.StatusInternalServerError, "digest run failed", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// RunsHandler lists recent job runs, newest first
func (h *CronHandler) RunsHandler(c *gin.Context) {
	if !h.ready(c) {
		return
	}

	job := c.Query("job")
	if job != "" && job != models.JobReminders && job != models.JobDigest {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown job"})
		return
	}

	limit := defaultRunsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.jobs.RecentRuns(c.Request.Context(), job, limit)
	if err != nil {
		handleError(c, http.StatusInternalServerError, "failed to list job runs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *CronHandler) ready(c *gin.Context) bool {
	if h == nil || h.jobs == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server misconfigured"})
		return false
	}
	return true
}
