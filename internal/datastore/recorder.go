package datastore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/markertrack/markertrack/internal/events"
	"github.com/markertrack/markertrack/internal/logger"
)

const saveTimeout = 5 * time.Second

// SightingRecorder turns the aggregate bus events into per-marker
// transitions of registered markers and stores them. Writes happen on an
// async worker, in event order.
type SightingRecorder struct {
	store  *Store
	filter *events.TransitionFilter
	logger logger.Logger

	saved  atomic.Uint64
	failed atomic.Uint64

	mu    sync.Mutex
	async *events.AsyncHandler
	sub   *events.Subscription
}

// NewSightingRecorder records transitions of ids accepted by include; a nil
// include records every id
func NewSightingRecorder(store *Store, include func(id int) bool) *SightingRecorder {
	r := &SightingRecorder{
		store:  store,
		logger: GetLogger(),
	}
	r.filter = events.NewTransitionFilter(include, r.save)
	return r
}

func (r *SightingRecorder) save(tr events.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := r.store.SaveTransition(ctx, tr); err != nil {
		r.failed.Add(1)
		r.logger.Warn("failed to store sighting",
			logger.Int("marker_id", tr.ID),
			logger.Bool("visible", tr.Visible),
			logger.Error(err))
		return
	}
	r.saved.Add(1)
}

// Handle feeds one event through the transition filter synchronously
func (r *SightingRecorder) Handle(ev events.MarkerEvent) {
	r.filter.Handle(ev)
}

// Attach subscribes to bus through an async handler
func (r *SightingRecorder) Attach(bus *events.Bus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		return
	}
	async := events.NewAsyncHandler("datastore", events.DefaultAsyncBufferSize, r.filter.Handle)
	r.async = async
	r.sub = bus.Subscribe(func(ev events.MarkerEvent) {
		if !ev.Empty() {
			async.Handle(ev)
		}
	})
}

// Saved returns how many transitions were stored and how many failed
func (r *SightingRecorder) Saved() (saved, failed uint64) {
	return r.saved.Load(), r.failed.Load()
}

// Close unsubscribes and waits up to timeout for pending writes
func (r *SightingRecorder) Close(timeout time.Duration) error {
	r.mu.Lock()
	sub, async := r.sub, r.async
	r.sub, r.async = nil, nil
	r.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if async != nil {
		return async.Close(timeout)
	}
	return nil
}
