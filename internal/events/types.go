// Package events provides the process-wide marker event bus. The tracker
// publishes MarkersDetected and MarkersLost once per detection cycle; consumers
// subscribe with a handle they close at teardown.
package events

import (
	"sync"
	"time"

	"github.com/markertrack/markertrack/internal/logger"
)

// Kind identifies a marker event
type Kind string

const (
	// KindDetected carries every id of a frame in which at least one registered marker was seen
	KindDetected Kind = "markers_detected"
	// KindLost carries the ids that left the active set in a cycle, possibly none
	KindLost Kind = "markers_lost"
)

// MarkerEvent is one aggregate event published by the tracker
type MarkerEvent struct {
	Kind      Kind      `json:"kind"`
	IDs       []int     `json:"ids"`
	SessionID string    `json:"session_id,omitempty"`
	Cycle     uint64    `json:"cycle"`
	Time      time.Time `json:"time"`
}

// Empty reports whether the event carries no ids
func (e MarkerEvent) Empty() bool {
	return len(e.IDs) == 0
}

// Handler receives events. IDs is shared between subscribers and must not be modified.
type Handler func(MarkerEvent)

// Publisher is the publishing side of the bus
type Publisher interface {
	Publish(ev MarkerEvent)
}

// Stats contains runtime statistics for monitoring
type Stats struct {
	Published     uint64 `json:"published"`
	Delivered     uint64 `json:"delivered"`
	HandlerPanics uint64 `json:"handler_panics"`
	Subscribers   int    `json:"subscribers"`
}

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the events package logger
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("events")
	})
	return serviceLogger
}
