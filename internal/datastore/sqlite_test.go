package datastore

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/markertrack/markertrack/internal/errors"
	"github.com/markertrack/markertrack/internal/events"
	"github.com/markertrack/markertrack/internal/observability/metrics"
	"github.com/markertrack/markertrack/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openTestStore(t *testing.T, m *metrics.DatastoreMetrics) *Store {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "data", "sightings.db"), m)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

func TestStoreTransitions(t *testing.T) {
	store := openTestStore(t, nil)
	ctx := t.Context()
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	transitions := []events.Transition{
		{ID: 1, Visible: true, SessionID: "s1", Cycle: 1, Time: base},
		{ID: 2, Visible: true, SessionID: "s1", Cycle: 1, Time: base},
		{ID: 1, Visible: false, SessionID: "s1", Cycle: 5, Time: base.Add(time.Second)},
		{ID: 1, Visible: true, SessionID: "s2", Cycle: 2, Time: base.Add(time.Minute)},
	}
	for _, tr := range transitions {
		require.NoError(t, store.SaveTransition(ctx, tr))
	}

	latest, err := store.Latest(ctx, 1)
	require.NoError(t, err)
	assert.True(t, latest.Visible)
	assert.Equal(t, "s2", latest.SessionID)
	assert.Equal(t, uint64(2), latest.Cycle)
	assert.True(t, latest.Timestamp.Equal(base.Add(time.Minute)))

	history, err := store.History(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Visible)
	assert.False(t, history[1].Visible)

	all, err := store.History(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	n, err := store.CountBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	summaries, err := store.Summaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, 1, summaries[0].MarkerID)
	assert.Equal(t, int64(2), summaries[0].Appearances)
	assert.Equal(t, int64(1), summaries[1].Appearances)
}

func TestLatestNotFound(t *testing.T) {
	store := openTestStore(t, nil)

	_, err := store.Latest(t.Context(), 42)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestGormLoggerRecordsMetrics(t *testing.T) {
	dm, err := metrics.NewDatastoreMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	store := openTestStore(t, dm)

	require.NoError(t, store.SaveTransition(t.Context(), events.Transition{ID: 1, Visible: true, Time: time.Now()}))
	_, _ = store.Latest(t.Context(), 1)

	assert.Positive(t, promtestutil.CollectAndCount(dm, "markertrack_db_operations_total"))
}

func TestSightingRecorderStoresEdges(t *testing.T) {
	store := openTestStore(t, nil)
	registered := map[int]bool{1: true, 2: true}
	rec := NewSightingRecorder(store, func(id int) bool { return registered[id] })

	bus := events.NewBus()
	rec.Attach(bus)
	rec.Attach(bus)
	require.Equal(t, 1, bus.Len())

	bus.Publish(events.MarkerEvent{Kind: events.KindLost, IDs: []int{}, SessionID: "s1"})
	bus.Publish(events.MarkerEvent{Kind: events.KindDetected, IDs: []int{1, 3}, SessionID: "s1", Cycle: 1})
	bus.Publish(events.MarkerEvent{Kind: events.KindDetected, IDs: []int{1}, SessionID: "s1", Cycle: 2})
	bus.Publish(events.MarkerEvent{Kind: events.KindLost, IDs: []int{1}, SessionID: "s1", Cycle: 3})

	require.NoError(t, rec.Close(testutil.DefaultTestTimeout))
	require.NoError(t, rec.Close(testutil.DefaultTestTimeout))
	assert.Zero(t, bus.Len())

	saved, failed := rec.Saved()
	assert.Equal(t, uint64(2), saved)
	assert.Zero(t, failed)

	history, err := store.History(t.Context(), 1, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.False(t, history[0].Visible)
	assert.Equal(t, uint64(3), history[0].Cycle)

	_, err = store.Latest(t.Context(), 3)
	assert.True(t, errors.IsNotFound(err), "unregistered ids are not stored")
}

func TestSightingRecorderCountsFailures(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "closed.db"), nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	rec := NewSightingRecorder(store, nil)
	rec.Handle(events.MarkerEvent{Kind: events.KindDetected, IDs: []int{5}, Time: time.Now()})

	saved, failed := rec.Saved()
	assert.Zero(t, saved)
	assert.Equal(t, uint64(1), failed)
}

func TestParseSQLOperation(t *testing.T) {
	tests := []struct {
		sql       string
		operation string
		table     string
	}{
		{"SELECT * FROM `sightings` WHERE marker_id = 1", "select", "sightings"},
		{"INSERT INTO `sightings` (`marker_id`) VALUES (1)", "insert", "sightings"},
		{"UPDATE sightings SET visible = 0", "update", "sightings"},
		{"DELETE FROM sightings", "delete", "sightings"},
		{"CREATE TABLE IF NOT EXISTS `sightings` (id integer)", "create", "sightings"},
		{"CREATE INDEX `idx_sightings_session_id` ON `sightings`(`session_id`)", "create", "idx_sightings_session_id"},
		{"PRAGMA foreign_keys = ON", sqlUnknown, sqlUnknown},
	}
	for _, tt := range tests {
		op, table := parseSQLOperation(tt.sql)
		assert.Equal(t, tt.operation, op, tt.sql)
		assert.Equal(t, tt.table, table, tt.sql)
	}
}

func TestCategorizeError(t *testing.T) {
	assert.Equal(t, "none", categorizeError(nil))
	assert.Equal(t, "database_locked", categorizeError(fmt.Errorf("database is locked")))
	assert.Equal(t, "constraint_violation", categorizeError(fmt.Errorf("UNIQUE constraint failed: sightings.id")))
	assert.Equal(t, "missing_table", categorizeError(fmt.Errorf("no such table: sightings")))
	assert.Equal(t, "other", categorizeError(fmt.Errorf("boom")))
}
