package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"gorm.io/gorm"

	"github.com/markertrack/markertrack/internal/datastore"
)

const defaultSampleSize = 5

// Verifier performs post-export verification.
type Verifier struct {
	sourceDB *gorm.DB
	targetDB *gorm.DB
	out      io.Writer
}

// NewVerifier creates a new Verifier.
func NewVerifier(sourceDB, targetDB *gorm.DB, out io.Writer) *Verifier {
	return &Verifier{
		sourceDB: sourceDB,
		targetDB: targetDB,
		out:      out,
	}
}

// Verify compares record counts and a sample of rows.
func (v *Verifier) Verify(ctx context.Context) error {
	if err := v.verifyCounts(ctx); err != nil {
		return fmt.Errorf("count verification failed: %w", err)
	}
	if err := v.sampleSightings(ctx, defaultSampleSize); err != nil {
		return fmt.Errorf("sample verification failed: %w", err)
	}
	return nil
}

// verifyCounts compares the row count per marker between source and target.
// The target may hold more rows from earlier exports, never fewer.
func (v *Verifier) verifyCounts(ctx context.Context) error {
	fmt.Fprintln(v.out, "\nVerifying record counts...")

	type markerCount struct {
		MarkerID int
		Count    int64
	}
	count := func(db *gorm.DB) (map[int]int64, error) {
		var rows []markerCount
		err := db.WithContext(ctx).Model(&datastore.Sighting{}).
			Select("marker_id, COUNT(*) AS count").
			Group("marker_id").
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		counts := make(map[int]int64, len(rows))
		for _, r := range rows {
			counts[r.MarkerID] = r.Count
		}
		return counts, nil
	}

	source, err := count(v.sourceDB)
	if err != nil {
		return fmt.Errorf("failed to count source sightings: %w", err)
	}
	target, err := count(v.targetDB)
	if err != nil {
		return fmt.Errorf("failed to count target sightings: %w", err)
	}

	allMatch := true
	fmt.Fprintf(v.out, "%-10s %12s %12s %8s\n", "Marker", "Source", "Target", "Match")
	for id, n := range source {
		match := "✓"
		if target[id] < n {
			match = "✗"
			allMatch = false
		}
		fmt.Fprintf(v.out, "%-10d %12d %12d %8s\n", id, n, target[id], match)
	}

	if !allMatch {
		return fmt.Errorf("target is missing sightings")
	}

	fmt.Fprintln(v.out, "\nAll counts match!")
	return nil
}

// sampleSightings checks that random source rows arrived unchanged.
func (v *Verifier) sampleSightings(ctx context.Context, count int) error {
	var samples []datastore.Sighting
	if err := v.sourceDB.WithContext(ctx).Order("RANDOM()").Limit(count).Find(&samples).Error; err != nil {
		return fmt.Errorf("failed to fetch source samples: %w", err)
	}

	if len(samples) == 0 {
		fmt.Fprintln(v.out, "  Sightings: no records to sample")
		return nil
	}

	for i := range samples {
		src := &samples[i]
		var target datastore.Sighting
		if err := v.targetDB.WithContext(ctx).First(&target, src.ID).Error; err != nil {
			return fmt.Errorf("sighting ID %d not found in target: %w", src.ID, err)
		}

		if src.MarkerID != target.MarkerID {
			return fmt.Errorf("sighting ID %d: MarkerID mismatch (%d vs %d)",
				src.ID, src.MarkerID, target.MarkerID)
		}
		if src.Visible != target.Visible {
			return fmt.Errorf("sighting ID %d: Visible mismatch (%t vs %t)",
				src.ID, src.Visible, target.Visible)
		}
		if src.SessionID != target.SessionID {
			return fmt.Errorf("sighting ID %d: SessionID mismatch (%s vs %s)",
				src.ID, src.SessionID, target.SessionID)
		}
		// MySQL keeps millisecond precision
		if d := src.Timestamp.Sub(target.Timestamp).Abs(); d >= time.Millisecond {
			return fmt.Errorf("sighting ID %d: Timestamp mismatch (%s vs %s)",
				src.ID, src.Timestamp, target.Timestamp)
		}
	}

	fmt.Fprintf(v.out, "  Sightings: %d samples verified\n", len(samples))
	return nil
}
