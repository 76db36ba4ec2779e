// Package datastore persists marker sighting history in SQLite through GORM.
package datastore

import "time"

// Sighting is one visibility transition of a registered marker
type Sighting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MarkerID  int       `gorm:"index:idx_sightings_marker_time,priority:1;not null" json:"marker_id"`
	Visible   bool      `gorm:"not null" json:"visible"`   // true when the marker appeared
	SessionID string    `gorm:"index;size:36" json:"session_id"`
	Cycle     uint64    `json:"cycle"`
	Timestamp time.Time `gorm:"index:idx_sightings_marker_time,priority:2;not null" json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName overrides the GORM default
func (Sighting) TableName() string {
	return "sightings"
}

// MarkerSummary aggregates the history of one marker
type MarkerSummary struct {
	MarkerID    int       `json:"marker_id"`
	Appearances int64     `json:"appearances"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}
