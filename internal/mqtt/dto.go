package mqtt

import (
	"time"

	"github.com/markertrack/markertrack/internal/events"
)

// MarkerEventDTO is the JSON payload published for each aggregate event.
// Field names are part of the topic contract consumed by automations.
type MarkerEventDTO struct {
	Event     string `json:"event"` // markers_detected or markers_lost
	IDs       []int  `json:"ids"`
	SessionID string `json:"sessionId"`
	Cycle     uint64 `json:"cycle"`
	Timestamp string `json:"timestamp"` // RFC 3339 with nanoseconds, UTC
}

// NewMarkerEventDTO converts a bus event into its payload
func NewMarkerEventDTO(ev events.MarkerEvent) MarkerEventDTO {
	ids := ev.IDs
	if ids == nil {
		ids = []int{}
	}
	return MarkerEventDTO{
		Event:     string(ev.Kind),
		IDs:       ids,
		SessionID: ev.SessionID,
		Cycle:     ev.Cycle,
		Timestamp: ev.Time.UTC().Format(time.RFC3339Nano),
	}
}
