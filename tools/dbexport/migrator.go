package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/markertrack/markertrack/internal/datastore"
)

// Migrator copies the sighting history from SQLite into another database.
type Migrator struct {
	cfg      Config
	out      io.Writer
	sourceDB *gorm.DB
	targetDB *gorm.DB
}

// MigrationStats tracks export statistics.
type MigrationStats struct {
	StartTime time.Time
	EndTime   time.Time
	Tables    []TableStats
}

// TableStats tracks per-table export statistics.
type TableStats struct {
	Name      string
	Migrated  int64
	Skipped   int64
	Errors    int64
	Duration  time.Duration
	BatchSize int
}

// Print writes the export statistics to w.
func (s *MigrationStats) Print(w io.Writer) {
	rule := strings.Repeat("-", 70)

	fmt.Fprintln(w, "\n=== Export Summary ===")
	fmt.Fprintf(w, "Duration: %s\n\n", s.EndTime.Sub(s.StartTime).Round(time.Millisecond))

	fmt.Fprintf(w, "%-25s %10s %10s %10s %12s\n", "Table", "Migrated", "Skipped", "Errors", "Duration")
	fmt.Fprintln(w, rule)

	var totalMigrated, totalSkipped, totalErrors int64
	for _, t := range s.Tables {
		fmt.Fprintf(w, "%-25s %10d %10d %10d %12s\n",
			t.Name, t.Migrated, t.Skipped, t.Errors, t.Duration.Round(time.Millisecond))
		totalMigrated += t.Migrated
		totalSkipped += t.Skipped
		totalErrors += t.Errors
	}

	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-25s %10d %10d %10d\n", "TOTAL", totalMigrated, totalSkipped, totalErrors)
}

// NewMigrator opens the SQLite source and the MySQL target.
func NewMigrator(cfg *Config, out io.Writer) (*Migrator, error) {
	return newMigrator(cfg, mysql.Open(cfg.GetMySQLDSN()), out)
}

func newMigrator(cfg *Config, target gorm.Dialector, out io.Writer) (*Migrator, error) {
	m := &Migrator{cfg: *cfg, out: out}

	logLevel := gormlogger.Silent
	if cfg.Verbose {
		logLevel = gormlogger.Info
	}
	gormConfig := &gorm.Config{
		Logger: datastore.NewGormLogger(datastore.DefaultSlowQueryThreshold, logLevel, nil),
	}

	sourceDB, err := gorm.Open(sqlite.Open(cfg.SQLitePath), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	m.sourceDB = sourceDB

	targetDB, err := gorm.Open(target, gormConfig)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to open %s database: %w", target.Name(), err)
	}
	m.targetDB = targetDB

	for name, db := range map[string]*gorm.DB{"source": sourceDB, "target": targetDB} {
		sqlDB, err := db.DB()
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to get %s connection: %w", name, err)
		}
		if err := sqlDB.Ping(); err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to ping %s database: %w", name, err)
		}
	}

	fmt.Fprintln(out, "Database connections established successfully")
	return m, nil
}

// Close closes both database connections.
func (m *Migrator) Close() {
	for _, g := range []*gorm.DB{m.sourceDB, m.targetDB} {
		if g == nil {
			continue
		}
		if db, err := g.DB(); err == nil {
			_ = db.Close()
		}
	}
}

// Run executes the full export.
func (m *Migrator) Run(ctx context.Context) (*MigrationStats, error) {
	stats := &MigrationStats{StartTime: time.Now()}
	table := datastore.Sighting{}.TableName()

	if m.cfg.DropTables {
		fmt.Fprintln(m.out, "Dropping target table...")
		if err := m.targetDB.WithContext(ctx).Migrator().DropTable(&datastore.Sighting{}); err != nil {
			return nil, fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}

	if err := m.targetDB.WithContext(ctx).AutoMigrate(&datastore.Sighting{}); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", table, err)
	}

	if m.cfg.Clean {
		if err := m.cleanTable(ctx, table); err != nil {
			return nil, err
		}
	}

	tableStats, err := migrateTable[datastore.Sighting](ctx, m, table, m.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to export %s: %w", table, err)
	}
	stats.Tables = append(stats.Tables, *tableStats)
	stats.EndTime = time.Now()

	return stats, nil
}

// cleanTable empties the target table, falling back to DELETE where
// TRUNCATE is not supported.
func (m *Migrator) cleanTable(ctx context.Context, table string) error {
	db := m.targetDB.WithContext(ctx)
	if err := db.Exec("TRUNCATE TABLE " + table).Error; err != nil {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to clean %s: %w", table, err)
		}
	}
	if m.cfg.Verbose {
		fmt.Fprintf(m.out, "  Cleaned: %s\n", table)
	}
	return nil
}

// migrateTable copies one table in batches. Rows whose primary key already
// exists in the target are skipped.
func migrateTable[T any](ctx context.Context, m *Migrator, tableName string, batchSize int) (*TableStats, error) {
	start := time.Now()
	stats := &TableStats{
		Name:      tableName,
		BatchSize: batchSize,
	}

	fmt.Fprintf(m.out, "Exporting %s...\n", tableName)

	var sourceCount int64
	if err := m.sourceDB.WithContext(ctx).Model(new(T)).Count(&sourceCount).Error; err != nil {
		return stats, fmt.Errorf("failed to count source records: %w", err)
	}

	if sourceCount == 0 {
		fmt.Fprintf(m.out, "  %s: no records to export\n", tableName)
		stats.Duration = time.Since(start)
		return stats, nil
	}

	var processed int64
	batchNum := 0

	err := m.sourceDB.WithContext(ctx).Model(new(T)).FindInBatches(new([]T), batchSize, func(tx *gorm.DB, _ int) error {
		batchNum++
		records := tx.Statement.Dest.(*[]T)

		result := m.targetDB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(records)
		if result.Error != nil {
			stats.Errors += int64(len(*records))
			fmt.Fprintf(m.out, "  Batch %d error: %v\n", batchNum, result.Error)
			// keep going, the failed rows are reported in the summary
			return nil //nolint:nilerr // a failed batch does not abort the export
		}

		stats.Migrated += result.RowsAffected
		stats.Skipped += int64(len(*records)) - result.RowsAffected
		processed += int64(len(*records))

		if m.cfg.Verbose || batchNum%10 == 0 {
			fmt.Fprintf(m.out, "  %s: %d/%d (%.1f%%)\n", tableName, processed, sourceCount,
				float64(processed)/float64(sourceCount)*100)
		}
		return nil
	}).Error
	if err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	fmt.Fprintf(m.out, "  %s: completed (%d exported, %d skipped, %d errors) in %s\n",
		tableName, stats.Migrated, stats.Skipped, stats.Errors, stats.Duration.Round(time.Millisecond))

	return stats, nil
}
