package events

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/markertrack/markertrack/internal/logger"
)

// Bus dispatches marker events synchronously, in subscription order, on the
// publishing goroutine. A panicking handler is recovered and counted; the
// remaining handlers still run.
type Bus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	nextID uint64

	published     atomic.Uint64
	delivered     atomic.Uint64
	handlerPanics atomic.Uint64

	logger logger.Logger
}

// Subscription is the handle returned by Subscribe. Unsubscribe and Close are
// idempotent and safe to call from inside the handler.
type Subscription struct {
	id      uint64
	kind    Kind
	handler Handler
	bus     *Bus
	active  atomic.Bool
	once    sync.Once
}

var defaultBus = sync.OnceValue(NewBus)

// Default returns the process-wide bus. It outlives every pipeline.
func Default() *Bus {
	return defaultBus()
}

// NewBus creates an isolated bus
func NewBus() *Bus {
	return &Bus{logger: GetLogger()}
}

// Subscribe registers handler for every event kind
func (b *Bus) Subscribe(handler Handler) *Subscription {
	return b.subscribe("", handler)
}

// SubscribeDetected registers fn for MarkersDetected events
func (b *Bus) SubscribeDetected(fn func(ids []int)) *Subscription {
	return b.subscribe(KindDetected, func(ev MarkerEvent) { fn(ev.IDs) })
}

// SubscribeLost registers fn for MarkersLost events
func (b *Bus) SubscribeLost(fn func(ids []int)) *Subscription {
	return b.subscribe(KindLost, func(ev MarkerEvent) { fn(ev.IDs) })
}

func (b *Bus) subscribe(kind Kind, handler Handler) *Subscription {
	if handler == nil {
		panic("events: nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &Subscription{
		id:      b.nextID,
		kind:    kind,
		handler: handler,
		bus:     b,
	}
	s.active.Store(true)
	b.subs = append(b.subs, s)

	b.logger.Debug("subscriber added",
		logger.Uint64("subscription_id", s.id),
		logger.String("kind", string(kind)),
		logger.Int("subscribers", len(b.subs)))

	return s
}

// Publish delivers ev to every matching subscriber before returning
func (b *Bus) Publish(ev MarkerEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	// one private copy shared by all handlers so the publisher may reuse its slice
	ev.IDs = slices.Clone(ev.IDs)
	if ev.IDs == nil {
		ev.IDs = []int{}
	}

	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	b.published.Add(1)

	for _, s := range subs {
		if s.kind != "" && s.kind != ev.Kind {
			continue
		}
		if !s.active.Load() {
			continue
		}
		b.deliver(s, ev)
	}
}

// PublishDetected publishes a MarkersDetected event
func (b *Bus) PublishDetected(ids []int) {
	b.Publish(MarkerEvent{Kind: KindDetected, IDs: ids})
}

// PublishLost publishes a MarkersLost event
func (b *Bus) PublishLost(ids []int) {
	b.Publish(MarkerEvent{Kind: KindLost, IDs: ids})
}

func (b *Bus) deliver(s *Subscription, ev MarkerEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerPanics.Add(1)
			b.logger.Error("event handler panicked",
				logger.Uint64("subscription_id", s.id),
				logger.String("kind", string(ev.Kind)),
				logger.Uint64("cycle", ev.Cycle),
				logger.Any("panic", r))
		}
	}()

	s.handler(ev)
	b.delivered.Add(1)
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs = slices.DeleteFunc(b.subs, func(x *Subscription) bool { return x == s })

	b.logger.Debug("subscriber removed",
		logger.Uint64("subscription_id", s.id),
		logger.Int("subscribers", len(b.subs)))
}

// Len returns the number of active subscriptions
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stats returns current bus statistics
func (b *Bus) Stats() Stats {
	return Stats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		HandlerPanics: b.handlerPanics.Load(),
		Subscribers:   b.Len(),
	}
}

// Unsubscribe stops future deliveries. A delivery already running on another
// goroutine may still complete.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.active.Store(false)
		s.bus.remove(s)
	})
}

// Close unsubscribes; it always returns nil
func (s *Subscription) Close() error {
	s.Unsubscribe()
	return nil
}

// Active reports whether the subscription still receives events
func (s *Subscription) Active() bool {
	return s != nil && s.active.Load()
}
