package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"perkwallet/internal/models"
	"perkwallet/internal/schedule"
	"perkwallet/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "cron-secret"

type fakeJobs struct {
	reminderCalls int
	digestCalls   int
	reminderErr   error
	digestErr     error
	runsErr       error

	gotJob   string
	gotLimit int
}

func (f *fakeJobs) RunReminders(ctx context.Context) (*services.ReminderSummary, error) {
	f.reminderCalls++
	return &services.ReminderSummary{RunID: "run-r", DueCount: 3, Claimed: 2, Deduped: 1, Sent: 2, Advanced: 2, ProcessedCount: 3}, f.reminderErr
}

func (f *fakeJobs) RunDigest(ctx context.Context) (*services.DigestSummary, error) {
	f.digestCalls++
	return &services.DigestSummary{RunID: "run-d", DueSections: []schedule.Section{schedule.SectionMonthly}, SentCount: 1, FailedCount: 1}, f.digestErr
}

func (f *fakeJobs) RecentRuns(ctx context.Context, job string, limit int) ([]models.JobRun, error) {
	f.gotJob, f.gotLimit = job, limit
	if f.runsErr != nil {
		return nil, f.runsErr
	}
	started := time.Date(2025, 12, 17, 14, 0, 0, 0, time.UTC)
	return []models.JobRun{{RunID: "run-r", Job: models.JobReminders, StartedAt: started, FinishedAt: started.Add(time.Second)}}, nil
}

func newTestRouter(jobs JobService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(RouterConfig{CronSecret: testSecret, Jobs: jobs})
}

func doRequest(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCronEndpoints_Unauthorized(t *testing.T) {
	jobs := &fakeJobs{}
	r := newTestRouter(jobs)

	for _, path := range []string{"/api/cron/reminders", "/api/cron/digest"} {
		for _, method := range []string{http.MethodGet, http.MethodPost} {
			t.Run(method+" "+path, func(t *testing.T) {
				w := doRequest(r, method, path, "wrong")
				assert.Equal(t, http.StatusUnauthorized, w.Code)
				assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())

				w = doRequest(r, method, path, "")
				assert.Equal(t, http.StatusUnauthorized, w.Code)
			})
		}
	}

	w := doRequest(r, http.MethodGet, "/api/cron/runs", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Zero(t, jobs.reminderCalls)
	assert.Zero(t, jobs.digestCalls)
}

func TestCronEndpoints_NoSecretConfigured(t *testing.T) {
	jobs := &fakeJobs{}
	gin.SetMode(gin.TestMode)
	r := NewRouter(RouterConfig{Jobs: jobs})

	w := doRequest(r, http.MethodPost, "/api/cron/reminders", "anything")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, jobs.reminderCalls)
}

func TestCronEndpoints_Misconfigured(t *testing.T) {
	r := newTestRouter(nil)

	for _, path := range []string{"/api/cron/reminders", "/api/cron/digest", "/api/cron/runs"} {
		w := doRequest(r, http.MethodGet, path, testSecret)
		assert.Equal(t, http.StatusInternalServerError, w.Code, path)
		assert.JSONEq(t, `{"error":"server misconfigured"}`, w.Body.String(), path)
	}

	// auth still comes first
	w := doRequest(r, http.MethodGet, "/api/cron/reminders", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRemindersHandler(t *testing.T) {
	t.Run("success returns summary", func(t *testing.T) {
		jobs := &fakeJobs{}
		w := doRequest(newTestRouter(jobs), http.MethodPost, "/api/cron/reminders", testSecret)

		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "run-r", body["runId"])
		assert.EqualValues(t, 3, body["dueCount"])
		assert.EqualValues(t, 2, body["claimed"])
		assert.EqualValues(t, 1, body["deduped"])
		assert.Equal(t, false, body["truncated"])
		assert.Equal(t, 1, jobs.reminderCalls)
	})

	t.Run("fetch failure is a server error", func(t *testing.T) {
		jobs := &fakeJobs{reminderErr: fmt.Errorf("%w: %w", services.ErrFetchDue, errors.New("db down"))}
		w := doRequest(newTestRouter(jobs), http.MethodGet, "/api/cron/reminders", testSecret)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"error":"failed to fetch due reminders"}`, w.Body.String())
	})
}

func TestDigestHandler(t *testing.T) {
	t.Run("success with per-user failures is still 200", func(t *testing.T) {
		jobs := &fakeJobs{}
		w := doRequest(newTestRouter(jobs), http.MethodPost, "/api/cron/digest", testSecret)

		require.Equal(t, http.StatusOK, w.Code)
		var body services.DigestSummary
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "run-d", body.RunID)
		assert.Equal(t, []schedule.Section{schedule.SectionMonthly}, body.DueSections)
		assert.Equal(t, 1, body.FailedCount)
	})

	t.Run("fetch failure is a server error", func(t *testing.T) {
		jobs := &fakeJobs{digestErr: fmt.Errorf("%w: %w", services.ErrFetchDue, errors.New("timeout"))}
		w := doRequest(newTestRouter(jobs), http.MethodPost, "/api/cron/digest", testSecret)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"error":"failed to fetch eligible benefits"}`, w.Body.String())
	})
}

func TestRunsHandler(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantJob   string
		wantLimit int
	}{
		{"defaults", "", http.StatusOK, "", defaultRunsLimit},
		{"filtered", "?job=digest&limit=5", http.StatusOK, "digest", 5},
		{"limit capped", "?limit=1000", http.StatusOK, "", maxRunsLimit},
		{"unknown job", "?job=cleanup", http.StatusBadRequest, "", 0},
		{"bad limit", "?limit=abc", http.StatusBadRequest, "", 0},
		{"zero limit", "?limit=0", http.StatusBadRequest, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &fakeJobs{}
			w := doRequest(newTestRouter(jobs), http.MethodGet, "/api/cron/runs"+tt.query, testSecret)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantJob, jobs.gotJob)
			assert.Equal(t, tt.wantLimit, jobs.gotLimit)
			if tt.wantCode == http.StatusOK {
				var body struct {
					Runs []models.JobRun `json:"runs"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				require.Len(t, body.Runs, 1)
				assert.Equal(t, "run-r", body.Runs[0].RunID)
			}
		})
	}

	t.Run("store error", func(t *testing.T) {
		jobs := &fakeJobs{runsErr: errors.New("boom")}
		w := doRequest(newTestRouter(jobs), http.MethodGet, "/api/cron/runs", testSecret)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestPublicRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	metrics, err := services.NewJobMetrics(registry)
	require.NoError(t, err)
	metrics.ObserveRun(models.JobReminders, time.Now(), time.Second, nil)

	r := NewRouter(RouterConfig{
		CronSecret:     testSecret,
		AllowedOrigins: []string{"https://app.example.com"},
		Gatherer:       registry,
	})

	w := doRequest(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = doRequest(r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "perkwallet_job_runs_total")

	req := httptest.NewRequest(http.MethodOptions, "/api/cron/reminders", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewRouter_NoMetricsWithoutGatherer(t *testing.T) {
	w := doRequest(newTestRouter(&fakeJobs{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
