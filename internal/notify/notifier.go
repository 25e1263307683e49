// Package notify delivers operator alerts to chat channels. Every alert is
// tagged with an Event so operators can mute the ones they do not care about;
// delivery is best effort and failures are only logged.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/lendliquidator/internal/metrics"
)

// Event classifies an alert.
type Event string

const (
	EventStartup           Event = "startup"
	EventApproaching       Event = "approaching"
	EventAllClear          Event = "all_clear"
	EventUnderwater        Event = "underwater"
	EventLiquidated        Event = "liquidated"
	EventLiquidationFailed Event = "liquidation_failed"
	EventSkipped           Event = "skipped"
	EventSwap              Event = "swap"
	EventSwapFailed        Event = "swap_failed"
	EventRebalanceStalled  Event = "rebalance_stalled"
	EventDataError         Event = "data_error"
	EventActivity          Event = "activity"
)

// Severity is the log level an alert is mirrored at.
func (e Event) Severity() slog.Level {
	switch e {
	case EventLiquidationFailed, EventSwapFailed, EventRebalanceStalled, EventDataError:
		return slog.LevelError
	case EventUnderwater, EventSkipped, EventApproaching:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Throttle counts deliveries against a shared per-sender budget.
type Throttle interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Notifier fans alerts out to its senders. An empty event list allows every
// event.
type Notifier struct {
	app     string
	senders []Sender
	events  map[Event]bool
	timeout time.Duration
	logger  *slog.Logger

	throttle  Throttle
	perMinute int
}

// NewNotifier creates a Notifier. app prefixes every title so alerts from
// several deployments sharing a chat can be told apart.
func NewNotifier(app string, senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[Event]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[Event(e)] = true
		}
	}
	return &Notifier{
		app:     app,
		senders: senders,
		events:  allowed,
		timeout: 10 * time.Second,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// WithThrottle caps deliveries to perMinute per sender. Alerts over the cap
// are logged but not delivered.
func (n *Notifier) WithThrottle(t Throttle, perMinute int) *Notifier {
	n.throttle, n.perMinute = t, perMinute
	return n
}

// Notify logs the alert and delivers it to every sender. It never fails: a
// sender error is logged and the remaining senders still run.
func (n *Notifier) Notify(ctx context.Context, event Event, message string) {
	n.logger.Log(ctx, event.Severity(), message, slog.String("event", string(event)))

	if len(n.events) > 0 && !n.events[event] {
		return
	}

	title := string(event)
	if n.app != "" {
		title = n.app + ": " + title
	}

	for _, s := range n.senders {
		if !n.allow(ctx, s.Name()) {
			metrics.Notifications.WithLabelValues(s.Name(), "throttled").Inc()
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
		err := s.Send(sendCtx, title, message)
		cancel()
		if err != nil {
			metrics.Notifications.WithLabelValues(s.Name(), "error").Inc()
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(event)),
				slog.String("error", err.Error()),
			)
			continue
		}
		metrics.Notifications.WithLabelValues(s.Name(), "ok").Inc()
	}
}

func (n *Notifier) allow(ctx context.Context, sender string) bool {
	if n.throttle == nil || n.perMinute <= 0 {
		return true
	}
	ok, err := n.throttle.Allow(ctx, "notify:"+sender, n.perMinute, time.Minute)
	if err != nil {
		// Fail open: a throttle outage must not mute alerts.
		n.logger.WarnContext(ctx, "throttle check failed", slog.String("error", err.Error()))
		return true
	}
	return ok
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
