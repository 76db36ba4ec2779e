package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/errors"
	"github.com/markertrack/markertrack/internal/events"
	"github.com/markertrack/markertrack/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type sent struct {
	title, body string
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (f *fakeSender) Send(_ context.Context, title, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, sent{title, body})
	return nil
}

func (f *fakeSender) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.msgs...)
}

var t0 = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

func detected(cycle uint64, ids ...int) events.MarkerEvent {
	return events.MarkerEvent{Kind: events.KindDetected, IDs: ids, SessionID: "s1", Cycle: cycle, Time: t0}
}

func lost(cycle uint64, ids ...int) events.MarkerEvent {
	return events.MarkerEvent{Kind: events.KindLost, IDs: ids, SessionID: "s1", Cycle: cycle, Time: t0}
}

func TestNotifierAnnouncesSelectedTransitions(t *testing.T) {
	sender := &fakeSender{}
	registered := map[int]bool{1: true, 2: true}
	n := New(sender, Config{Lost: true}, func(id int) bool { return registered[id] })

	n.Handle(detected(1, 1, 2, 9))
	n.Handle(detected(2, 1, 2, 9))
	n.Handle(lost(3))
	n.Handle(lost(4, 2, 9))

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Marker 2 lost", msgs[0].title)
	assert.Equal(t, "Marker 2 left the camera view at 2026-04-02T09:30:00Z (session s1)", msgs[0].body)
	assert.Equal(t, Stats{Sent: 1}, n.Stats())
}

func TestNotifierCooldown(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, Config{Appeared: true, Lost: true, Cooldown: time.Hour}, nil)

	for cycle := range uint64(3) {
		n.Handle(detected(cycle*2, 4))
		n.Handle(lost(cycle*2+1, 4))
	}
	n.Handle(detected(10, 5))

	msgs := sender.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "Marker 4 in view", msgs[0].title)
	assert.Equal(t, "Marker 4 lost", msgs[1].title)
	assert.Equal(t, "Marker 5 in view", msgs[2].title)
	assert.Equal(t, Stats{Sent: 3, Suppressed: 4}, n.Stats())
}

func TestNotifierCountsFailures(t *testing.T) {
	n := New(&fakeSender{err: errors.NewStd("service down")}, Config{Appeared: true}, nil)
	n.Handle(detected(1, 3))
	assert.Equal(t, Stats{Failed: 1}, n.Stats())
}

func TestNotifierAttach(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, Config{Appeared: true, Lost: true}, nil)

	bus := events.NewBus()
	n.Attach(bus)
	n.Attach(bus)
	require.Equal(t, 1, bus.Len())

	bus.Publish(detected(1, 7))
	bus.Publish(lost(2))
	bus.Publish(lost(3, 7))

	require.NoError(t, n.Close(testutil.DefaultTestTimeout))
	require.NoError(t, n.Close(testutil.DefaultTestTimeout))
	assert.Zero(t, bus.Len())
	assert.Len(t, sender.messages(), 2)
}

func TestConfigFromSettings(t *testing.T) {
	cfg := ConfigFromSettings(&conf.NotifySettings{Events: []string{conf.NotifyLost}, Cooldown: time.Minute})
	assert.Equal(t, Config{Lost: true, Cooldown: time.Minute}, cfg)
}

func TestShoutrrrSenderRejectsBadURLs(t *testing.T) {
	_, err := NewShoutrrrSender(nil, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = NewShoutrrrSender([]string{"nosuchservice://supersecret@channel"}, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.NotContains(t, err.Error(), "supersecret")
}

func TestShoutrrrSenderPostsToGenericWebhook(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			hits.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	url := "generic://" + strings.TrimPrefix(srv.URL, "http://") + "/hook?disabletls=yes"
	sender, err := NewShoutrrrSender([]string{url}, 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, sender.Send(t.Context(), "Marker 1 lost", "Marker 1 left the camera view"))
	assert.Equal(t, int32(1), hits.Load())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.ErrorIs(t, sender.Send(ctx, "t", "b"), context.Canceled)
}

func TestRedactError(t *testing.T) {
	err := redactError(errors.NewStd("post discord://tok123@chan failed"), []string{"discord://tok123@chan"})
	assert.Equal(t, "post discord://[REDACTED] failed", err.Error())
}
