package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/errors"
	"github.com/markertrack/markertrack/internal/events"
	"github.com/markertrack/markertrack/internal/observability/metrics"
	"github.com/markertrack/markertrack/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type message struct {
	topic   string
	payload []byte
}

// fakeClient records publishes instead of talking to a broker
type fakeClient struct {
	mu        sync.Mutex
	messages  []message
	err       error
	connected bool
	block     chan struct{}
}

func (f *fakeClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeClient) Publish(_ context.Context, topic string, payload []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, message{topic: topic, payload: payload})
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeClient) published() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.messages...)
}

func newMQTTMetrics(t *testing.T) *metrics.MQTTMetrics {
	t.Helper()
	m, err := metrics.NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestPublisherPayloadAndTopics(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, PublisherConfig{Topic: "lab/markers/"}, nil)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	p.Handle(events.MarkerEvent{Kind: events.KindDetected, IDs: []int{3, 1}, SessionID: "s1", Cycle: 7, Time: ts})
	p.Handle(events.MarkerEvent{Kind: events.KindLost, IDs: []int{}, Cycle: 8})
	p.Handle(events.MarkerEvent{Kind: events.KindLost, IDs: []int{3}, SessionID: "s1", Cycle: 9, Time: ts})

	msgs := client.published()
	require.Len(t, msgs, 2, "empty events are not published")
	assert.Equal(t, "lab/markers/detected", msgs[0].topic)
	assert.Equal(t, "lab/markers/lost", msgs[1].topic)

	var dto MarkerEventDTO
	require.NoError(t, json.Unmarshal(msgs[0].payload, &dto))
	assert.Equal(t, MarkerEventDTO{
		Event:     "markers_detected",
		IDs:       []int{3, 1},
		SessionID: "s1",
		Cycle:     7,
		Timestamp: "2026-03-01T12:00:00.0000005Z",
	}, dto)
}

func TestPublisherDefaultTopic(t *testing.T) {
	p := NewPublisher(&fakeClient{}, PublisherConfig{}, nil)
	assert.Equal(t, "markertrack/detected", p.Topic(events.KindDetected))
	assert.Equal(t, "markertrack/lost", p.Topic(events.KindLost))
}

func TestPublisherThrottlesDetectedOnly(t *testing.T) {
	client := &fakeClient{}
	m := newMQTTMetrics(t)
	p := NewPublisher(client, PublisherConfig{RateLimit: 0.001, Burst: 1}, m)

	for range 3 {
		p.Handle(events.MarkerEvent{Kind: events.KindDetected, IDs: []int{1}})
	}
	p.Handle(events.MarkerEvent{Kind: events.KindLost, IDs: []int{1}})
	p.Handle(events.MarkerEvent{Kind: events.KindLost, IDs: []int{2}})

	msgs := client.published()
	require.Len(t, msgs, 3)
	assert.Equal(t, "markertrack/detected", msgs[0].topic)
	assert.InDelta(t, 2, promtestutil.ToFloat64(m.MessagesThrottled), 0)
}

func TestPublisherCountsErrors(t *testing.T) {
	client := &fakeClient{err: fmt.Errorf("broker unavailable")}
	m := newMQTTMetrics(t)
	p := NewPublisher(client, PublisherConfig{}, m)

	p.Handle(events.MarkerEvent{Kind: events.KindLost, IDs: []int{1}})
	assert.InDelta(t, 1, promtestutil.ToFloat64(m.Errors), 0)
	assert.Empty(t, client.published())
}

func TestPublisherAttachDoesNotBlockBus(t *testing.T) {
	client := &fakeClient{block: make(chan struct{})}
	bus := events.NewBus()
	p := NewPublisher(client, PublisherConfig{}, nil)
	p.Attach(bus)
	p.Attach(bus)
	require.Equal(t, 1, bus.Len())

	published := make(chan struct{})
	go func() {
		for i := range 5 {
			bus.PublishLost(nil)
			bus.PublishDetected([]int{i})
		}
		close(published)
	}()
	testutil.WaitForChannel(t, published, testutil.DefaultTestTimeout, "bus blocked on the broker")

	close(client.block)
	testutil.Eventually(t, func() bool {
		return len(client.published()) == 5
	}, testutil.DefaultTestTimeout, "queued events were not published")

	stats := p.Stats()
	assert.Equal(t, uint64(5), stats.Received, "empty events are filtered before the queue")

	require.NoError(t, p.Close(testutil.DefaultTestTimeout))
	require.NoError(t, p.Close(testutil.DefaultTestTimeout))
	assert.Zero(t, bus.Len())
}

func TestConfigFromSettings(t *testing.T) {
	s := &conf.MQTTSettings{
		Broker:   "tcp://broker.local:1883",
		Topic:    "markers",
		Username: "user",
		Password: "secret",
		QoS:      1,
		Retain:   true,
	}

	cfg := ConfigFromSettings(s)
	assert.Equal(t, "tcp://broker.local:1883", cfg.Broker)
	assert.Equal(t, byte(1), cfg.QoS)
	assert.True(t, cfg.Retain)
	assert.Equal(t, DefaultConfig().PublishTimeout, cfg.PublishTimeout)

	pc := PublisherConfigFromSettings(s)
	assert.Equal(t, "markers", pc.Topic)
}

func TestClientRejectsInvalidBroker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Broker = "://missing-scheme"
	c := NewClient(cfg, nil)

	err := c.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.False(t, c.IsConnected())

	err = c.Publish(t.Context(), "t", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnection))

	// a second attempt inside the cooldown is refused
	err = c.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnection))

	c.Disconnect()
}
