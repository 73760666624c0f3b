package utils

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormLogger routes gorm's query log through logrus. Queries matching an ignored
// pattern are dropped unless they fail, and unique violations are logged at
// debug since the jobs use them to detect an existing claim.
type GormLogger struct {
	level                logger.LogLevel
	slowThreshold        time.Duration
	ignoredQueryPatterns []string
}

// NewGormLogger creates a logger with the given ignored query patterns
func NewGormLogger(level logger.LogLevel, slowThreshold time.Duration, ignoredPatterns ...string) *GormLogger {
	return &GormLogger{
		level:                level,
		slowThreshold:        slowThreshold,
		ignoredQueryPatterns: ignoredPatterns,
	}
}

// LogMode implements logger.Interface
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

// Info implements logger.Interface
func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Info {
		log.WithContext(ctx).Infof(msg, data...)
	}
}

// Warn implements logger.Interface
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Warn {
		log.WithContext(ctx).Warnf(msg, data...)
	}
}

// Error implements logger.Interface
func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Error {
		log.WithContext(ctx).Errorf(msg, data...)
	}
}

// Trace implements logger.Interface
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	if err == nil && l.ignored(sql) {
		return
	}

	entry := log.WithContext(ctx).WithFields(log.Fields{
		"elapsed_ms": elapsed.Milliseconds(),
		"rows":       rows,
	})
	if caller := findCaller(); caller != "" {
		entry = entry.WithField("caller", caller)
	}

	switch {
	case err != nil && errors.Is(err, gorm.ErrRecordNotFound):
		// callers handle not-found themselves
	case err != nil && isUniqueViolation(err):
		entry.WithError(err).Debug(sql)
	case err != nil && l.level >= logger.Error:
		entry.WithError(err).Error(sql)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= logger.Warn:
		entry.Warnf("Slow query (over %s): %s", l.slowThreshold, sql)
	case l.level >= logger.Info:
		entry.Debug(sql)
	}
}

func (l *GormLogger) ignored(sql string) bool {
	for _, pattern := range l.ignoredQueryPatterns {
		if strings.Contains(sql, pattern) {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// findCaller walks the stack to the first frame outside gorm and this package
func findCaller() string {
	for i := 2; i < 15; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		if strings.Contains(file, "gorm.io") ||
			strings.Contains(file, "internal/database") ||
			strings.Contains(file, "internal/utils/db_logger.go") {
			continue
		}

		if fn := runtime.FuncForPC(pc); fn != nil {
			name := fn.Name()
			if idx := strings.LastIndexByte(name, '/'); idx != -1 {
				name = name[idx+1:]
			}
			return fmt.Sprintf("%s (%s:%d)", name, trimPath(file), line)
		}
		return fmt.Sprintf("%s:%d", trimPath(file), line)
	}
	return ""
}

func trimPath(file string) string {
	if idx := strings.Index(file, "internal/"); idx != -1 {
		return file[idx:]
	}
	return file
}
