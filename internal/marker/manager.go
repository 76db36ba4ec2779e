package marker

import (
	"maps"
	"slices"
	"sync"

	"github.com/markertrack/markertrack/internal/errors"
	"github.com/markertrack/markertrack/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the marker package logger scoped to the marker module.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("marker")
	})
	return serviceLogger
}

// Manager is a thread-safe in-memory Registry
type Manager struct {
	mu      sync.RWMutex
	handles map[ID]Handle
}

// NewManager creates an empty registry
func NewManager() *Manager {
	return &Manager{handles: make(map[ID]Handle)}
}

// Register adds a handle for id. Registering an id twice is an error.
func (m *Manager) Register(id ID, h Handle) error {
	if h == nil {
		return errors.Newf("marker %d: nil handle", id).
			Component("marker").
			Category(errors.CategoryValidation).
			MarkerContext(id).
			Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.handles[id]; exists {
		return errors.Newf("marker %d is already registered", id).
			Component("marker").
			Category(errors.CategoryValidation).
			MarkerContext(id).
			Build()
	}

	m.handles[id] = h
	return nil
}

// RegisterMarkers creates and registers a Marker for every id and returns them by id
func (m *Manager) RegisterMarkers(ids []ID, opts ...Option) (map[ID]*Marker, error) {
	created := make(map[ID]*Marker, len(ids))
	for _, id := range ids {
		mk := New(id, opts...)
		if err := m.Register(id, mk); err != nil {
			return nil, err
		}
		created[id] = mk
	}
	return created, nil
}

// Unregister removes id. It reports whether the id was registered.
func (m *Manager) Unregister(id ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.handles[id]
	delete(m.handles, id)
	return ok
}

// IsRegistered implements Registry
func (m *Manager) IsRegistered(id ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.handles[id]
	return ok
}

// Get implements Registry
func (m *Manager) Get(id ID) (Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.handles[id]
	return h, ok
}

// IDs returns the registered ids in ascending order
func (m *Manager) IDs() []ID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Sorted(maps.Keys(m.handles))
}

// Markers returns every registered handle that is a *Marker, ordered by id
func (m *Manager) Markers() []*Marker {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Marker, 0, len(m.handles))
	for _, id := range slices.Sorted(maps.Keys(m.handles)) {
		if mk, ok := m.handles[id].(*Marker); ok {
			out = append(out, mk)
		}
	}
	return out
}
