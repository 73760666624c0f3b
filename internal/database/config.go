// Package database opens the Postgres connection and manages the schema
package database

import (
	"fmt"
	"time"

	"perkwallet/internal/config"
	"perkwallet/internal/models"
	"perkwallet/internal/utils"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const (
	maxRetries = 5
	retryDelay = 5 * time.Second
)

// dueSchedulePoll is the reminder runner's batch query, run every few minutes
const dueSchedulePoll = `FROM "reminder_schedule" WHERE (enabled =`

// Open connects to Postgres with retries and configures the pool. When
// DB_AUTO_MIGRATE is set the schema is brought up to date with AutoMigrate.
func Open(cfg config.DatabaseConfig, logLevel string) (*gorm.DB, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	gormLevel := logger.Warn
	if logLevel == "debug" || logLevel == "trace" {
		gormLevel = logger.Info
	}

	gormConfig := &gorm.Config{
		Logger: utils.NewGormLogger(gormLevel, time.Second, dueSchedulePoll),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
	}

	var db *gorm.DB
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
		if err == nil {
			break
		}
		log.Warnf("Database connection attempt %d failed: %v", i+1, err)
		if i < maxRetries-1 {
			log.Infof("Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if cfg.AutoMigrate {
		if err := AutoMigrate(db); err != nil {
			return nil, err
		}
	}

	log.Info("Database connection established")
	return db, nil
}

// AutoMigrate creates or updates every table the jobs use
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Account{},
		&models.Card{},
		&models.Benefit{},
		&models.UserBenefit{},
		&models.ReminderSchedule{},
		&models.ReminderSendLog{},
		&models.EmailSendLog{},
		&models.JobRun{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool
func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.WithError(err).Warn("Failed to close database")
	}
}
