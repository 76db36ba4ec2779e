package notify

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/markertrack/markertrack/internal/conf"
	"github.com/markertrack/markertrack/internal/events"
	"github.com/markertrack/markertrack/internal/logger"
)

const sendTimeout = 15 * time.Second

// Config selects which transitions are announced
type Config struct {
	Appeared bool
	Lost     bool
	Cooldown time.Duration // minimum gap per marker and direction, 0 disables
}

// ConfigFromSettings builds a Config from the notify settings section
func ConfigFromSettings(s *conf.NotifySettings) Config {
	return Config{
		Appeared: slices.Contains(s.Events, conf.NotifyAppeared),
		Lost:     slices.Contains(s.Events, conf.NotifyLost),
		Cooldown: s.Cooldown,
	}
}

// Stats counts notifier outcomes
type Stats struct {
	Sent       uint64 `json:"sent"`
	Failed     uint64 `json:"failed"`
	Suppressed uint64 `json:"suppressed"` // held back by the cooldown
}

type cooldownKey struct {
	id      int
	visible bool
}

// Notifier announces appearance and loss of registered markers. A marker
// flickering at the edge of the view would flood the channel, so each marker
// and direction is limited to one message per cooldown.
type Notifier struct {
	sender Sender
	cfg    Config
	filter *events.TransitionFilter
	logger logger.Logger

	cooldownMu sync.Mutex
	cooldowns  map[cooldownKey]*rate.Limiter

	sent       atomic.Uint64
	failed     atomic.Uint64
	suppressed atomic.Uint64

	mu    sync.Mutex
	async *events.AsyncHandler
	sub   *events.Subscription
}

// New creates a notifier for ids accepted by include; a nil include accepts
// every id
func New(sender Sender, cfg Config, include func(id int) bool) *Notifier {
	n := &Notifier{
		sender:    sender,
		cfg:       cfg,
		logger:    GetLogger(),
		cooldowns: make(map[cooldownKey]*rate.Limiter),
	}
	n.filter = events.NewTransitionFilter(include, n.notify)
	return n
}

// Message renders the title and body announcing tr
func Message(tr events.Transition) (title, body string) {
	if tr.Visible {
		title = fmt.Sprintf("Marker %d in view", tr.ID)
		body = fmt.Sprintf("Marker %d appeared at %s", tr.ID, tr.Time.Format(time.RFC3339))
	} else {
		title = fmt.Sprintf("Marker %d lost", tr.ID)
		body = fmt.Sprintf("Marker %d left the camera view at %s", tr.ID, tr.Time.Format(time.RFC3339))
	}
	if tr.SessionID != "" {
		body += " (session " + tr.SessionID + ")"
	}
	return title, body
}

func (n *Notifier) wanted(tr events.Transition) bool {
	if tr.Visible {
		return n.cfg.Appeared
	}
	return n.cfg.Lost
}

// allow applies the per-marker cooldown
func (n *Notifier) allow(tr events.Transition) bool {
	if n.cfg.Cooldown <= 0 {
		return true
	}

	n.cooldownMu.Lock()
	defer n.cooldownMu.Unlock()

	key := cooldownKey{id: tr.ID, visible: tr.Visible}
	lim, ok := n.cooldowns[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(n.cfg.Cooldown), 1)
		n.cooldowns[key] = lim
	}
	return lim.Allow()
}

func (n *Notifier) notify(tr events.Transition) {
	if !n.wanted(tr) {
		return
	}
	if !n.allow(tr) {
		n.suppressed.Add(1)
		return
	}

	title, body := Message(tr)

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := n.sender.Send(ctx, title, body); err != nil {
		n.failed.Add(1)
		n.logger.Warn("failed to send notification",
			logger.Int("marker_id", tr.ID),
			logger.Bool("visible", tr.Visible),
			logger.Error(err))
		return
	}

	n.sent.Add(1)
	n.logger.Debug("notification sent",
		logger.Int("marker_id", tr.ID),
		logger.Bool("visible", tr.Visible))
}

// Handle feeds one event through the transition filter synchronously
func (n *Notifier) Handle(ev events.MarkerEvent) {
	n.filter.Handle(ev)
}

// Attach subscribes to bus through an async handler so a slow push service
// never holds up the detection stage
func (n *Notifier) Attach(bus *events.Bus) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.sub != nil {
		return
	}
	async := events.NewAsyncHandler("notify", events.DefaultAsyncBufferSize, n.filter.Handle)
	n.async = async
	n.sub = bus.Subscribe(func(ev events.MarkerEvent) {
		if !ev.Empty() {
			async.Handle(ev)
		}
	})
}

// Stats returns the notification counters
func (n *Notifier) Stats() Stats {
	return Stats{
		Sent:       n.sent.Load(),
		Failed:     n.failed.Load(),
		Suppressed: n.suppressed.Load(),
	}
}

// Close unsubscribes and waits up to timeout for queued notifications
func (n *Notifier) Close(timeout time.Duration) error {
	n.mu.Lock()
	sub, async := n.sub, n.async
	n.sub, n.async = nil, nil
	n.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if async != nil {
		return async.Close(timeout)
	}
	return nil
}
