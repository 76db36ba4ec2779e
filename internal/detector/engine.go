// Package detector defines the marker detection engine contract, the detection
// configuration, and the engines shipped with markertrack.
package detector

import (
	"context"
	"fmt"
	"image"
	"maps"
	"slices"
	"sync"

	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/marker"
)

// Result is the output of one detection call. Corners[i] belongs to IDs[i].
type Result struct {
	IDs      []int
	Corners  []marker.Quad
	Rejected []marker.Quad
}

// Empty reports whether no marker was detected
func (r *Result) Empty() bool {
	return len(r.IDs) == 0
}

// CornersFor returns the corners of the first occurrence of id
func (r *Result) CornersFor(id int) (marker.Quad, bool) {
	for i, got := range r.IDs {
		if got == id && i < len(r.Corners) {
			return r.Corners[i], true
		}
	}
	return marker.Quad{}, false
}

// Engine extracts marker ids and corners from a grayscale image.
// Implementations must not retain gray after Detect returns.
type Engine interface {
	Detect(ctx context.Context, gray *image.Gray, dict Dictionary, params Parameters) (Result, error)
}

// FuncEngine adapts a function to Engine
type FuncEngine func(ctx context.Context, gray *image.Gray, dict Dictionary, params Parameters) (Result, error)

// Detect calls f
func (f FuncEngine) Detect(ctx context.Context, gray *image.Gray, dict Dictionary, params Parameters) (Result, error) {
	return f(ctx, gray, dict, params)
}

// Closer is implemented by engines holding native resources
type Closer interface {
	Close() error
}

// Factory builds an engine from the detection settings
type Factory func(s *conf.DetectionSettings) (Engine, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes an engine available by name. It panics on duplicate names,
// matching database/sql driver registration.
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if factory == nil {
		panic("detector: Register factory is nil")
	}
	if _, dup := factories[name]; dup {
		panic("detector: Register called twice for engine " + name)
	}
	factories[name] = factory
}

// New builds the engine named in the settings
func New(s *conf.DetectionSettings) (Engine, error) {
	factoriesMu.RLock()
	factory, ok := factories[s.Engine]
	factoriesMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown detection engine %q (available: %v)", s.Engine, Names())
	}
	return factory(s)
}

// Names returns the registered engine names, sorted
func Names() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	return slices.Sorted(maps.Keys(factories))
}
