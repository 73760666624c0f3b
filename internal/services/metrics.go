package services

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics contains the Prometheus metrics for the batch jobs
type JobMetrics struct {
	RunsTotal       *prometheus.CounterVec   // Runs by job and status (ok, error)
	RunDuration     *prometheus.HistogramVec // Wall time by job
	OutcomesTotal   *prometheus.CounterVec   // Candidate outcomes by job and outcome
	RunsTruncated   prometheus.Counter       // Reminder runs cut short by the time budget
	LastSuccessTime *prometheus.GaugeVec     // Unix time of the last successful run by job

	collectors []prometheus.Collector
}

// NewJobMetrics creates the job metrics and registers them on registry
func NewJobMetrics(registry prometheus.Registerer) (*JobMetrics, error) {
	m := &JobMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register job metrics: %w", err)
	}
	return m, nil
}

func (m *JobMetrics) initMetrics() {
	m.RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perkwallet_job_runs_total",
			Help: "Total number of batch job runs by job and status",
		},
		[]string{"job", "status"},
	)

	m.RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perkwallet_job_run_duration_seconds",
			Help:    "Wall time of batch job runs",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 8, 15, 30, 60},
		},
		[]string{"job"},
	)

	m.OutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perkwallet_job_outcomes_total",
			Help: "Per-candidate outcomes of batch job runs",
		},
		[]string{"job", "outcome"},
	)

	m.RunsTruncated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "perkwallet_reminder_runs_truncated_total",
			Help: "Reminder runs that stopped early because the time budget ran out",
		},
	)

	m.LastSuccessTime = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "perkwallet_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run by job",
		},
		[]string{"job"},
	)

	m.collectors = []prometheus.Collector{
		m.RunsTotal,
		m.RunDuration,
		m.OutcomesTotal,
		m.RunsTruncated,
		m.LastSuccessTime,
	}
}

// Describe implements prometheus.Collector
func (m *JobMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector
func (m *JobMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// ObserveRun records a finished run
func (m *JobMetrics) ObserveRun(job string, finished time.Time, took time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	} else {
		m.LastSuccessTime.WithLabelValues(job).Set(float64(finished.Unix()))
	}
	m.RunsTotal.WithLabelValues(job, status).Inc()
	m.RunDuration.WithLabelValues(job).Observe(took.Seconds())
}

// ObserveReminders records the outcome counts of a reminder run
func (m *JobMetrics) ObserveReminders(s *ReminderSummary) {
	if m == nil || s == nil {
		return
	}
	m.addOutcomes("reminders", map[string]int{
		"claimed":        s.Claimed,
		"deduped":        s.Deduped,
		"sent":           s.Sent,
		"advanced":       s.Advanced,
		"failed":         s.Failed,
		"advance_failed": s.AdvanceFailed,
	})
	if s.Truncated {
		m.RunsTruncated.Inc()
	}
}

// ObserveDigest records the outcome counts of a digest run
func (m *JobMetrics) ObserveDigest(s *DigestSummary) {
	if m == nil || s == nil {
		return
	}
	m.addOutcomes("digest", map[string]int{
		"sent":    s.SentCount,
		"deduped": s.DedupedCount,
		"failed":  s.FailedCount,
	})
}

func (m *JobMetrics) addOutcomes(job string, counts map[string]int) {
	for outcome, n := range counts {
		if n > 0 {
			m.OutcomesTotal.WithLabelValues(job, outcome).Add(float64(n))
		}
	}
}
