package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"github.com/markertrack/markertrack/internal/datastore"
	"github.com/markertrack/markertrack/internal/events"
)

func seedSource(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.db")
	store, err := datastore.OpenSQLite(path, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	base := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	for i := range n {
		require.NoError(t, store.SaveTransition(t.Context(), events.Transition{
			ID:        i % 3,
			Visible:   i%2 == 0,
			SessionID: "s1",
			Cycle:     uint64(i),
			Time:      base.Add(time.Duration(i) * time.Second),
		}))
	}
	return path
}

func newTestMigrator(t *testing.T, cfg *Config, targetPath string) (*Migrator, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	m, err := newMigrator(cfg, sqlite.Open(targetPath), &out)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, &out
}

func TestExportCopiesAndVerifies(t *testing.T) {
	cfg := &Config{SQLitePath: seedSource(t, 7), BatchSize: 3}
	target := filepath.Join(t.TempDir(), "target.db")

	m, out := newTestMigrator(t, cfg, target)
	stats, err := m.Run(t.Context())
	require.NoError(t, err)
	require.Len(t, stats.Tables, 1)
	assert.Equal(t, "sightings", stats.Tables[0].Name)
	assert.Equal(t, int64(7), stats.Tables[0].Migrated)
	assert.Zero(t, stats.Tables[0].Errors)

	require.NoError(t, NewVerifier(m.sourceDB, m.targetDB, out).Verify(t.Context()))
	assert.Contains(t, out.String(), "samples verified")

	// a second run finds every row already present
	stats, err = m.Run(t.Context())
	require.NoError(t, err)
	assert.Zero(t, stats.Tables[0].Migrated)
	assert.Equal(t, int64(7), stats.Tables[0].Skipped)

	stats.Print(out)
	assert.Contains(t, out.String(), "TOTAL")
}

func TestExportCleanAndDrop(t *testing.T) {
	target := filepath.Join(t.TempDir(), "target.db")
	first, _ := newTestMigrator(t, &Config{SQLitePath: seedSource(t, 4), BatchSize: 10}, target)
	_, err := first.Run(t.Context())
	require.NoError(t, err)

	for _, cfg := range []*Config{
		{SQLitePath: seedSource(t, 2), BatchSize: 10, Clean: true},
		{SQLitePath: seedSource(t, 2), BatchSize: 10, DropTables: true},
	} {
		m, out := newTestMigrator(t, cfg, target)
		stats, err := m.Run(t.Context())
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Tables[0].Migrated)

		var n int64
		require.NoError(t, m.targetDB.Model(&datastore.Sighting{}).Count(&n).Error)
		assert.Equal(t, int64(2), n)
		require.NoError(t, NewVerifier(m.sourceDB, m.targetDB, out).Verify(t.Context()))
	}
}

func TestVerifyDetectsMissingRows(t *testing.T) {
	cfg := &Config{SQLitePath: seedSource(t, 3), BatchSize: 10}
	m, out := newTestMigrator(t, cfg, filepath.Join(t.TempDir(), "target.db"))
	_, err := m.Run(t.Context())
	require.NoError(t, err)

	require.NoError(t, m.targetDB.Where("marker_id = ?", 0).Delete(&datastore.Sighting{}).Error)
	err = NewVerifier(m.sourceDB, m.targetDB, out).Verify(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing sightings")
}

func TestEmptySource(t *testing.T) {
	cfg := &Config{SQLitePath: seedSource(t, 0), BatchSize: 10}
	m, out := newTestMigrator(t, cfg, filepath.Join(t.TempDir(), "target.db"))
	stats, err := m.Run(t.Context())
	require.NoError(t, err)
	assert.Zero(t, stats.Tables[0].Migrated)
	assert.Contains(t, out.String(), "no records to export")
	require.NoError(t, NewVerifier(m.sourceDB, m.targetDB, out).Verify(t.Context()))
}

func TestConfigLoad(t *testing.T) {
	source := seedSource(t, 1)

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"valid dsn", Config{SQLitePath: source, BatchSize: 100, MySQLDSN: "u:p@tcp(db:3306)/m"}, ""},
		{"valid host", Config{SQLitePath: source, BatchSize: 100, MySQLHost: "db", MySQLDatabase: "m"}, ""},
		{"missing source", Config{SQLitePath: filepath.Join(t.TempDir(), "nope.db"), BatchSize: 100, MySQLDSN: "x"}, "not found"},
		{"zero batch", Config{SQLitePath: source, MySQLDSN: "x"}, "at least 1"},
		{"huge batch", Config{SQLitePath: source, BatchSize: maxBatchSize + 1, MySQLDSN: "x"}, "too large"},
		{"no target", Config{SQLitePath: source, BatchSize: 100}, "--mysql-dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Load()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigFallsBackToConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Rename(seedSource(t, 1), filepath.Join(dir, "history.db")))
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("output:\n  sqlite:\n    path: history.db\n"), 0o600))

	cfg := Config{ConfigPath: configPath, BatchSize: 10, MySQLDSN: "x"}
	require.NoError(t, cfg.Load())
	assert.Equal(t, filepath.Join(dir, "history.db"), cfg.SQLitePath)

	cfg = Config{ConfigPath: filepath.Join(dir, "missing.yaml"), BatchSize: 10, MySQLDSN: "x"}
	assert.ErrorContains(t, cfg.Load(), "--sqlite-path is required")
}

func TestMySQLDSN(t *testing.T) {
	cfg := Config{MySQLHost: "db", MySQLPort: 3307, MySQLUser: "mt", MySQLPass: "p@ss", MySQLDatabase: "lab"}
	assert.Equal(t, "mt:p@ss@tcp(db:3307)/lab?charset=utf8mb4&parseTime=True&loc=UTC", cfg.GetMySQLDSN())
	assert.Equal(t, "mt:****@tcp(db:3307)/lab?charset=utf8mb4&parseTime=True&loc=UTC", cfg.GetSanitizedMySQLDSN())

	cfg.MySQLDSN = "root:secret@tcp(localhost:3306)/x"
	assert.Equal(t, "root:****@tcp(localhost:3306)/x", cfg.GetSanitizedMySQLDSN())
}

func TestVersionFlag(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "dbexport version dev\n", out.String())
}
