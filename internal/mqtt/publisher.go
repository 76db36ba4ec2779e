package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/errors"
	"github.com/markertrack/markertrack/internal/events"
	"github.com/markertrack/markertrack/internal/logger"
	"github.com/markertrack/markertrack/internal/observability/metrics"
)

const (
	defaultTopic          = "markertrack"
	defaultPublishTimeout = 10 * time.Second
)

// PublisherConfig controls topics and throttling
type PublisherConfig struct {
	Topic          string        // prefix; events go to <Topic>/detected and <Topic>/lost
	RateLimit      float64       // detected events per second, 0 is unlimited
	Burst          int           // detected events allowed at once
	PublishTimeout time.Duration // per message
}

// PublisherConfigFromSettings builds a PublisherConfig from the mqtt settings section
func PublisherConfigFromSettings(s *conf.MQTTSettings) PublisherConfig {
	return PublisherConfig{
		Topic:     s.Topic,
		RateLimit: s.RateLimit,
		Burst:     s.Burst,
	}
}

// Publisher sends non-empty marker events to the broker. Detected events are
// rate limited since they repeat every frame while markers are in view; lost
// events are state changes and always go out.
type Publisher struct {
	client  Client
	cfg     PublisherConfig
	limiter *rate.Limiter
	metrics *metrics.MQTTMetrics
	logger  logger.Logger

	mu    sync.Mutex
	async *events.AsyncHandler
	sub   *events.Subscription
}

// NewPublisher creates a publisher. m may be nil.
func NewPublisher(client Client, cfg PublisherConfig, m *metrics.MQTTMetrics) *Publisher {
	cfg.Topic = strings.TrimSuffix(cfg.Topic, "/")
	if cfg.Topic == "" {
		cfg.Topic = defaultTopic
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	p := &Publisher{
		client:  client,
		cfg:     cfg,
		metrics: m,
		logger:  GetLogger(),
	}
	if cfg.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}
	return p
}

// Topic returns the topic an event kind is published on
func (p *Publisher) Topic(kind events.Kind) string {
	switch kind {
	case events.KindDetected:
		return p.cfg.Topic + "/detected"
	case events.KindLost:
		return p.cfg.Topic + "/lost"
	default:
		return p.cfg.Topic + "/" + string(kind)
	}
}

// Handle publishes ev. It blocks on the network, so subscribe it through
// Attach rather than directly on the bus.
func (p *Publisher) Handle(ev events.MarkerEvent) {
	if p.admit(ev) {
		p.publish(ev)
	}
}

// admit drops empty events and throttles detected ones
func (p *Publisher) admit(ev events.MarkerEvent) bool {
	if ev.Empty() {
		return false
	}
	if ev.Kind == events.KindDetected && p.limiter != nil && !p.limiter.Allow() {
		if p.metrics != nil {
			p.metrics.IncrementMessagesThrottled()
		}
		return false
	}
	return true
}

func (p *Publisher) publish(ev events.MarkerEvent) {
	payload, err := json.Marshal(NewMarkerEventDTO(ev))
	if err != nil {
		p.logger.Error("failed to encode marker event", logger.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PublishTimeout)
	defer cancel()

	topic := p.Topic(ev.Kind)
	if err := p.client.Publish(ctx, topic, payload); err != nil {
		if p.metrics != nil {
			p.metrics.IncrementErrors()
		}
		ee := errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Context("session_id", ev.SessionID).
			Build()
		p.logger.Warn("failed to publish marker event",
			logger.String("topic", topic),
			logger.Ints("ids", ev.IDs),
			logger.Error(ee))
		return
	}

	p.logger.Debug("published marker event",
		logger.String("topic", topic),
		logger.Uint64("cycle", ev.Cycle))
}

// Attach subscribes to bus through an async handler so the detection stage
// never waits on the broker
func (p *Publisher) Attach(bus *events.Bus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sub != nil {
		return
	}
	async := events.NewAsyncHandler("mqtt", events.DefaultAsyncBufferSize, p.publish)
	p.async = async
	p.sub = bus.Subscribe(func(ev events.MarkerEvent) {
		// filter before queueing; the empty lost event arrives every cycle
		if p.admit(ev) {
			async.Handle(ev)
		}
	})
}

// Stats returns the async queue counters; zero before Attach
func (p *Publisher) Stats() events.AsyncStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.async == nil {
		return events.AsyncStats{}
	}
	return p.async.Stats()
}

// Close unsubscribes and drains queued events for up to timeout
func (p *Publisher) Close(timeout time.Duration) error {
	p.mu.Lock()
	sub, async := p.sub, p.async
	p.sub, p.async = nil, nil
	p.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if async != nil {
		return async.Close(timeout)
	}
	return nil
}
