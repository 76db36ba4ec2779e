// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Operation type constants passed to Recorder.
const (
	// OpCapture is a frame submission.
	OpCapture = "capture"
	// OpGrayscale is a luminance conversion.
	OpGrayscale = "grayscale"
	// OpDetect is a detection engine call.
	OpDetect = "detect"
	// OpReconcile is a lifecycle reconciliation pass.
	OpReconcile = "reconcile"
	// OpCycle is a full capture-to-idle cycle.
	OpCycle = "cycle"
	// OpMarkerCallback is a handle callback.
	OpMarkerCallback = "marker_callback"
	// OpPublish is an MQTT publish.
	OpPublish = "publish"
	// OpDbInsert is a sighting insert.
	OpDbInsert = "db_insert"
	// OpDbQuery is a sighting query.
	OpDbQuery = "db_query"
	// OpCacheSet is a sightings cache update.
	OpCacheSet = "cache_set"
)

// Status label values.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusDropped  = "dropped"
	StatusAccepted = "accepted"
	StatusTimeout  = "timeout"
	StatusPanic    = "panic"
)

// Histogram bucket configuration constants.
const (
	// BucketStart100us is the starting bucket for 0.1ms histograms (0.1ms to ~400ms range).
	BucketStart100us = 0.0001
	// BucketStart1ms is the starting bucket for 1ms histograms (1ms to ~1s range).
	BucketStart1ms = 0.001
	// BucketStart64B is the starting bucket for 64 byte histograms.
	BucketStart64B = 64.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
)

// Time and conversion constants.
const (
	// ShutdownTimeout is the timeout for graceful shutdown operations.
	ShutdownTimeout = 5 * time.Second
	// PercentageFactor is the multiplier to convert ratio to percentage.
	PercentageFactor = 100.0
)
