package main

import (
	"net/http"
	"os"
	"time"

	"perkwallet/internal/config"
	"perkwallet/internal/database"
	"perkwallet/internal/handlers"
	"perkwallet/internal/services"
	"perkwallet/internal/store"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	directoryCacheTTL = 10 * time.Minute
	emailHTTPTimeout  = 10 * time.Second
)

// app holds the wired dependencies for one process
type app struct {
	db       *gorm.DB
	jobs     *services.Jobs
	registry *prometheus.Registry
}

func newApp(cfg *config.Config) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := services.NewJobMetrics(registry)
	if err != nil {
		return nil, err
	}

	a := &app{registry: registry}
	if !cfg.Database.Configured() {
		log.Warn("No database configured, cron endpoints will answer 500")
		return a, nil
	}

	db, err := database.Open(cfg.Database, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a.db = db

	st := store.NewGormStore(db)
	reminders := services.NewReminderRunner(st, services.ReminderRunnerConfig{
		BatchLimit:          cfg.Reminders.BatchLimit,
		TimeBudget:          cfg.Reminders.TimeBudget,
		SimulateAdvanceRace: cfg.RaceSimulationEnabled(),
	})
	if cfg.SimulateAdvanceRace && !cfg.RaceSimulationEnabled() {
		log.Warn("SIMULATE_ADVANCE_RACE ignored in production")
	}

	directory := services.NewAccountDirectory(st, cfg.EmailToOverride, directoryCacheTTL)
	digest := services.NewDigestRunner(st, directory, newEmailSender(cfg))

	a.jobs = services.NewJobs(reminders, digest, st, metrics)
	return a, nil
}

// jobService keeps a nil *services.Jobs from becoming a non-nil interface
func (a *app) jobService() handlers.JobService {
	if a.jobs == nil {
		return nil
	}
	return a.jobs
}

func (a *app) close() {
	if a.db != nil {
		database.Close(a.db)
	}
}

func newEmailSender(cfg *config.Config) services.EmailSender {
	if cfg.SendGrid.APIKey == "" {
		if cfg.IsProduction() {
			log.Warn("SENDGRID_API_KEY not set in production, digests will only be logged")
		}
		return services.LogOnlySender{}
	}
	return services.NewSendGridSender(
		cfg.SendGrid.APIKey,
		cfg.SendGrid.FromEmail,
		cfg.SendGrid.FromName,
		&http.Client{Timeout: emailHTTPTimeout},
	)
}

func setupLogging(cfg *config.Config) {
	log.SetOutput(os.Stdout)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("Unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

// setupSentry initializes error reporting when a DSN is configured and returns
// a function that flushes pending events.
func setupSentry(cfg *config.Config) func() {
	if cfg.SentryDSN == "" {
		return func() {}
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
	}); err != nil {
		log.WithError(err).Warn("Failed to initialize Sentry")
		return func() {}
	}
	return func() { sentry.Flush(2 * time.Second) }
}
