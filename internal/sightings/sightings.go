// Package sightings keeps the recently seen markers in an expiring
// in-memory cache for the status API.
package sightings

import (
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/markertrack/markertrack/internal/events"
)

// DefaultTTL is how long a marker is remembered after it was last seen
const DefaultTTL = 5 * time.Minute

// Sighting is what is known about one marker
type Sighting struct {
	ID        int       `json:"id"`
	Visible   bool      `json:"visible"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	LostAt    time.Time `json:"lost_at,omitzero"`
	Frames    uint64    `json:"frames"`
	SessionID string    `json:"session_id"`
}

// CacheMetrics receives cache hit, miss and size updates; satisfied by
// metrics.DatastoreMetrics
type CacheMetrics interface {
	RecordCacheOperation(operation, result string)
	UpdateCacheSize(size int)
}

// Store is the sightings cache
type Store struct {
	cache   *cache.Cache
	metrics CacheMetrics

	// serializes read-modify-write of entries
	mu  sync.Mutex
	sub *events.Subscription
}

// New creates a store forgetting markers ttl after they were last seen
func New(ttl time.Duration, m CacheMetrics) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		cache:   cache.New(ttl, 2*ttl),
		metrics: m,
	}
}

// Attach subscribes the store to bus
func (s *Store) Attach(bus *events.Bus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	s.sub = bus.Subscribe(s.Handle)
}

// Close unsubscribes from the bus. Cached sightings stay readable.
func (s *Store) Close() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	return nil
}

// Handle applies one aggregate event
func (s *Store) Handle(ev events.MarkerEvent) {
	if ev.Empty() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ev.IDs {
		key := strconv.Itoa(id)
		cur, found := s.lookup(key)

		switch ev.Kind {
		case events.KindDetected:
			if !found {
				cur = Sighting{ID: id, FirstSeen: ev.Time}
			}
			cur.Visible = true
			cur.LastSeen = ev.Time
			cur.Frames++
			cur.SessionID = ev.SessionID
		case events.KindLost:
			if !found {
				continue
			}
			cur.Visible = false
			cur.LostAt = ev.Time
		default:
			continue
		}

		s.cache.Set(key, cur, cache.DefaultExpiration)
		s.record("set", "success")
	}

	if s.metrics != nil {
		s.metrics.UpdateCacheSize(s.cache.ItemCount())
	}
}

func (s *Store) lookup(key string) (Sighting, bool) {
	v, found := s.cache.Get(key)
	if !found {
		return Sighting{}, false
	}
	sighting, ok := v.(Sighting)
	return sighting, ok
}

func (s *Store) record(operation, result string) {
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(operation, result)
	}
}

// Get returns the sighting of id
func (s *Store) Get(id int) (Sighting, bool) {
	sighting, found := s.lookup(strconv.Itoa(id))
	if found {
		s.record("get", "hit")
	} else {
		s.record("get", "miss")
	}
	return sighting, found
}

// List returns every remembered sighting ordered by id
func (s *Store) List() []Sighting {
	items := s.cache.Items()
	out := make([]Sighting, 0, len(items))
	for _, item := range items {
		if sighting, ok := item.Object.(Sighting); ok {
			out = append(out, sighting)
		}
	}
	slices.SortFunc(out, func(a, b Sighting) int { return a.ID - b.ID })
	return out
}

// Len returns the number of remembered markers
func (s *Store) Len() int {
	return s.cache.ItemCount()
}

// Flush forgets every sighting
func (s *Store) Flush() {
	s.cache.Flush()
	if s.metrics != nil {
		s.metrics.UpdateCacheSize(0)
	}
}
