package datastore

import (
	"context"
	"fmt"
	"sync"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"gorm.io/gorm"

	"github.com/markertrack/markertrack/internal/errors"
	"github.com/markertrack/markertrack/internal/logger"
	"github.com/markertrack/markertrack/internal/observability/metrics"
)

// DefaultSlowQueryThreshold marks queries logged as slow
const DefaultSlowQueryThreshold = 200 * time.Millisecond

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the datastore package logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("datastore")
	})
	return serviceLogger
}

// GormLogger routes GORM logging to the datastore logger and records query metrics
type GormLogger struct {
	SlowThreshold time.Duration
	LogLevel      gormlogger.LogLevel
	metrics       *metrics.DatastoreMetrics
}

// NewGormLogger creates a new GORM logger instance; m may be nil
func NewGormLogger(slowThreshold time.Duration, logLevel gormlogger.LogLevel, m *metrics.DatastoreMetrics) *GormLogger {
	return &GormLogger{
		SlowThreshold: slowThreshold,
		LogLevel:      logLevel,
		metrics:       m,
	}
}

// LogMode implements logger.Interface
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

// Info implements logger.Interface
func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Info {
		GetLogger().WithContext(ctx).Info(fmt.Sprintf(msg, data...))
	}
}

// Warn implements logger.Interface
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Warn {
		GetLogger().WithContext(ctx).Warn(fmt.Sprintf(msg, data...))
	}
}

// Error implements logger.Interface
func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= gormlogger.Error {
		GetLogger().WithContext(ctx).Error("GORM error",
			logger.String("msg", fmt.Sprintf(msg, data...)))

		if l.metrics != nil {
			l.metrics.RecordDbOperationError("gorm_internal", sqlUnknown, "gorm_error")
		}
	}
}

// Trace implements logger.Interface
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.LogLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	operation, table := parseSQLOperation(sql)

	if l.metrics != nil {
		l.metrics.RecordDbOperationDuration(operation, table, elapsed.Seconds())
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		enhancedErr := errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "sql_query").
			Context("duration_ms", elapsed.Milliseconds()).
			Build()

		GetLogger().WithContext(ctx).Error("database query failed",
			logger.Error(enhancedErr),
			logger.String("sql", sql),
			logger.Duration("duration", elapsed),
			logger.Int64("rows_affected", rows))

		if l.metrics != nil {
			l.metrics.RecordDbOperation(operation, table, "error")
			l.metrics.RecordDbOperationError(operation, table, categorizeError(err))
		}

	case elapsed > l.SlowThreshold && l.SlowThreshold != 0:
		GetLogger().WithContext(ctx).Warn("slow query detected",
			logger.String("sql", sql),
			logger.Duration("duration", elapsed),
			logger.Int64("rows_affected", rows),
			logger.Duration("threshold", l.SlowThreshold))

		if l.metrics != nil {
			l.metrics.RecordDbOperation(operation, table, "success")
		}

	default:
		if l.LogLevel >= gormlogger.Info {
			GetLogger().WithContext(ctx).Debug("query executed",
				logger.String("sql", sql),
				logger.Duration("duration", elapsed),
				logger.Int64("rows_affected", rows))
		}
		if l.metrics != nil {
			l.metrics.RecordDbOperation(operation, table, "success")
		}
	}
}
