package datastore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/markertrack/markertrack/internal/errors"
	"github.com/markertrack/markertrack/internal/events"
	"github.com/markertrack/markertrack/internal/logger"
	"github.com/markertrack/markertrack/internal/observability/metrics"
)

// Store is the SQLite sighting history. Query metrics are recorded by the
// GORM logger.
type Store struct {
	db   *gorm.DB
	path string
}

// OpenSQLite opens or creates the database at path and migrates the schema.
// m may be nil.
func OpenSQLite(path string, m *metrics.DatastoreMetrics) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("path", dir).
				Build()
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: NewGormLogger(DefaultSlowQueryThreshold, gormlogger.Warn, m),
	})
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open").
			Context("path", path).
			Build()
	}

	if err := db.AutoMigrate(&Sighting{}); err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Build()
	}

	GetLogger().Info("sighting database ready", logger.String("path", path))
	return &Store{db: db, path: path}, nil
}

// Path returns the database file
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save inserts a sighting
func (s *Store) Save(ctx context.Context, sighting *Sighting) error {
	if err := s.db.WithContext(ctx).Create(sighting).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "save_sighting").
			MarkerContext(sighting.MarkerID).
			Build()
	}
	return nil
}

// SaveTransition stores one appeared or lost transition
func (s *Store) SaveTransition(ctx context.Context, tr events.Transition) error {
	return s.Save(ctx, &Sighting{
		MarkerID:  tr.ID,
		Visible:   tr.Visible,
		SessionID: tr.SessionID,
		Cycle:     tr.Cycle,
		Timestamp: tr.Time,
	})
}

// Latest returns the most recent transition of markerID
func (s *Store) Latest(ctx context.Context, markerID int) (Sighting, error) {
	var out Sighting
	err := s.db.WithContext(ctx).
		Where("marker_id = ?", markerID).
		Order("timestamp DESC, id DESC").
		First(&out).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Sighting{}, errors.Newf("no sightings of marker %d", markerID).
			Component("datastore").
			Category(errors.CategoryNotFound).
			MarkerContext(markerID).
			Build()
	}
	if err != nil {
		return Sighting{}, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "latest_sighting").
			Build()
	}
	return out, nil
}

// History returns up to limit transitions of markerID, newest first.
// A limit of zero or less returns all of them.
func (s *Store) History(ctx context.Context, markerID, limit int) ([]Sighting, error) {
	var out []Sighting
	q := s.db.WithContext(ctx).
		Where("marker_id = ?", markerID).
		Order("timestamp DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Find(&out).Error; err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "sighting_history").
			Build()
	}
	return out, nil
}

// Summaries aggregates appearances per marker, ordered by marker id
func (s *Store) Summaries(ctx context.Context) ([]MarkerSummary, error) {
	var rows []struct {
		MarkerID    int
		Appearances int64
		FirstSeen   string
		LastSeen    string
	}

	err := s.db.WithContext(ctx).
		Model(&Sighting{}).
		Select("marker_id, COUNT(*) AS appearances, MIN(timestamp) AS first_seen, MAX(timestamp) AS last_seen").
		Where("visible = ?", true).
		Group("marker_id").
		Order("marker_id").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "sighting_summaries").
			Build()
	}

	out := make([]MarkerSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, MarkerSummary{
			MarkerID:    r.MarkerID,
			Appearances: r.Appearances,
			FirstSeen:   parseSQLiteTime(r.FirstSeen),
			LastSeen:    parseSQLiteTime(r.LastSeen),
		})
	}
	return out, nil
}

// CountBySession returns the number of transitions stored for a session
func (s *Store) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Sighting{}).Where("session_id = ?", sessionID).Count(&n).Error; err != nil {
		return 0, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "count_by_session").
			Build()
	}
	return n, nil
}

// sqliteTimeLayouts are the formats the sqlite driver writes time values in
var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
}

// parseSQLiteTime parses an aggregate time column, which the driver returns as text
func parseSQLiteTime(v string) time.Time {
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
