package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/markertrack/markertrack/internal/logger"
)

// DefaultAsyncBufferSize is the queue length used when none is given
const DefaultAsyncBufferSize = 256

// AsyncStats contains runtime statistics of an AsyncHandler
type AsyncStats struct {
	Received  uint64 `json:"received"`
	Processed uint64 `json:"processed"`
	Dropped   uint64 `json:"dropped"`
	Panics    uint64 `json:"panics"`
}

// AsyncHandler moves slow consumers (network, disk) off the publishing
// goroutine. Events are queued without blocking and dropped when the queue is
// full, so the detection stage never waits on I/O.
type AsyncHandler struct {
	name    string
	handler Handler
	eventCh chan MarkerEvent

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	received  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64

	logger logger.Logger
}

// NewAsyncHandler starts a worker feeding handler from a queue of bufferSize events
func NewAsyncHandler(name string, bufferSize int, handler Handler) *AsyncHandler {
	if bufferSize <= 0 {
		bufferSize = DefaultAsyncBufferSize
	}

	a := &AsyncHandler{
		name:    name,
		handler: handler,
		eventCh: make(chan MarkerEvent, bufferSize),
		done:    make(chan struct{}),
		logger:  GetLogger().With(logger.String("consumer", name)),
	}

	go a.worker()

	return a
}

// Handle queues ev. It never blocks; it returns false when ev was dropped.
func (a *AsyncHandler) Handle(ev MarkerEvent) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.dropped.Add(1)
		return false
	}

	select {
	case a.eventCh <- ev:
		a.received.Add(1)
		return true
	default:
		a.dropped.Add(1)
		a.logger.Debug("event dropped due to full buffer",
			logger.String("kind", string(ev.Kind)),
			logger.Uint64("cycle", ev.Cycle))
		return false
	}
}

// Subscribe attaches the handler to bus
func (a *AsyncHandler) Subscribe(bus *Bus) *Subscription {
	return bus.Subscribe(func(ev MarkerEvent) { a.Handle(ev) })
}

func (a *AsyncHandler) worker() {
	defer close(a.done)

	a.logger.Debug("worker started")

	for ev := range a.eventCh {
		a.process(ev)
	}

	a.logger.Debug("worker stopped")
}

func (a *AsyncHandler) process(ev MarkerEvent) {
	defer func() {
		if r := recover(); r != nil {
			a.panics.Add(1)
			a.logger.Error("consumer panicked",
				logger.String("kind", string(ev.Kind)),
				logger.Any("panic", r))
		}
	}()

	a.handler(ev)
	a.processed.Add(1)
}

// Close stops accepting events and waits up to timeout for the queue to drain
func (a *AsyncHandler) Close(timeout time.Duration) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.eventCh)
	}
	a.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-a.done:
		return nil
	case <-timer.C:
		a.logger.Warn("consumer shutdown timeout exceeded",
			logger.Duration("timeout", timeout),
			logger.Int("pending", len(a.eventCh)))
		return fmt.Errorf("consumer %s: shutdown timeout exceeded", a.name)
	}
}

// Stats returns current handler statistics
func (a *AsyncHandler) Stats() AsyncStats {
	return AsyncStats{
		Received:  a.received.Load(),
		Processed: a.processed.Load(),
		Dropped:   a.dropped.Load(),
		Panics:    a.panics.Load(),
	}
}
