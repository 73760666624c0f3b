// Package config loads process configuration from the environment. A .env file
// in the working directory is read first when present; real environment
// variables take precedence over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMisconfigured is wrapped by every error about missing required settings
var ErrMisconfigured = errors.New("server misconfigured")

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config is the full process configuration
type Config struct {
	Environment string
	Port        string
	CronSecret  string

	Database  DatabaseConfig
	SendGrid  SendGridConfig
	Reminders ReminderConfig
	Scheduler SchedulerConfig

	EmailToOverride     string
	SimulateAdvanceRace bool
	CORSAllowedOrigins  []string
	SentryDSN           string
	LogLevel            string
	LogFormat           string
}

// DatabaseConfig holds either a full URL or the individual connection parameters
type DatabaseConfig struct {
	URL         string
	Host        string
	User        string
	Password    string
	Name        string
	Port        string
	SSLMode     string
	AutoMigrate bool
}

// SendGridConfig holds the delivery sink credentials. An empty APIKey means dry run.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// ReminderConfig tunes the reminder runner
type ReminderConfig struct {
	BatchLimit int
	TimeBudget time.Duration
}

// SchedulerConfig controls the optional in-process scheduler
type SchedulerConfig struct {
	Enabled    bool
	Interval   time.Duration
	DigestHour int
}

// Load reads .env (if present) and the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("ENVIRONMENT", EnvDevelopment)
	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_AUTO_MIGRATE", false)
	v.SetDefault("SENDGRID_FROM_NAME", "PerkWallet")
	v.SetDefault("REMINDER_BATCH_LIMIT", 50)
	v.SetDefault("REMINDER_TIME_BUDGET", 8*time.Second)
	v.SetDefault("SCHEDULER_ENABLED", false)
	v.SetDefault("SCHEDULER_INTERVAL", 5*time.Minute)
	v.SetDefault("DIGEST_HOUR", 14)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")

	return v
}

// FromViper builds a Config from an already populated viper instance
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Environment: strings.ToLower(v.GetString("ENVIRONMENT")),
		Port:        v.GetString("PORT"),
		CronSecret:  v.GetString("CRON_SECRET"),
		Database: DatabaseConfig{
			URL:         v.GetString("DATABASE_URL"),
			Host:        v.GetString("DB_HOST"),
			User:        v.GetString("DB_USER"),
			Password:    v.GetString("DB_PASSWORD"),
			Name:        v.GetString("DB_NAME"),
			Port:        v.GetString("DB_PORT"),
			SSLMode:     v.GetString("DB_SSL_MODE"),
			AutoMigrate: v.GetBool("DB_AUTO_MIGRATE"),
		},
		SendGrid: SendGridConfig{
			APIKey:    v.GetString("SENDGRID_API_KEY"),
			FromEmail: v.GetString("SENDGRID_FROM_EMAIL"),
			FromName:  v.GetString("SENDGRID_FROM_NAME"),
		},
		Reminders: ReminderConfig{
			BatchLimit: v.GetInt("REMINDER_BATCH_LIMIT"),
			TimeBudget: v.GetDuration("REMINDER_TIME_BUDGET"),
		},
		Scheduler: SchedulerConfig{
			Enabled:    v.GetBool("SCHEDULER_ENABLED"),
			Interval:   v.GetDuration("SCHEDULER_INTERVAL"),
			DigestHour: v.GetInt("DIGEST_HOUR"),
		},
		EmailToOverride:     v.GetString("EMAIL_TO_OVERRIDE"),
		SimulateAdvanceRace: v.GetBool("SIMULATE_ADVANCE_RACE"),
		CORSAllowedOrigins:  splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		SentryDSN:           v.GetString("SENTRY_DSN"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogFormat:           v.GetString("LOG_FORMAT"),
	}

	if cfg.Reminders.BatchLimit <= 0 {
		return nil, fmt.Errorf("REMINDER_BATCH_LIMIT must be positive, got %d", cfg.Reminders.BatchLimit)
	}
	if cfg.Scheduler.DigestHour < 0 || cfg.Scheduler.DigestHour > 23 {
		return nil, fmt.Errorf("DIGEST_HOUR must be between 0 and 23, got %d", cfg.Scheduler.DigestHour)
	}
	if cfg.SendGrid.APIKey != "" && cfg.SendGrid.FromEmail == "" {
		return nil, fmt.Errorf("%w: SENDGRID_FROM_EMAIL is required when SENDGRID_API_KEY is set", ErrMisconfigured)
	}

	return cfg, nil
}

// IsProduction reports whether the process runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// RaceSimulationEnabled reports whether the advance race simulation may run.
// It is always off in production.
func (c *Config) RaceSimulationEnabled() bool {
	return c.SimulateAdvanceRace && !c.IsProduction()
}

// DSN returns the Postgres connection string. DATABASE_URL wins when set;
// otherwise every individual parameter except the SSL mode is required.
func (d DatabaseConfig) DSN() (string, error) {
	if d.URL != "" {
		return d.URL, nil
	}

	var missing []string
	for key, value := range map[string]string{
		"DB_HOST":     d.Host,
		"DB_USER":     d.User,
		"DB_PASSWORD": d.Password,
		"DB_NAME":     d.Name,
		"DB_PORT":     d.Port,
	} {
		if value == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("%w: DATABASE_URL or %s must be set", ErrMisconfigured, strings.Join(missing, ", "))
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC connect_timeout=10",
		d.Host, d.User, d.Password, d.Name, d.Port, sslMode), nil
}

// Configured reports whether enough is set to build a DSN
func (d DatabaseConfig) Configured() bool {
	_, err := d.DSN()
	return err == nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
