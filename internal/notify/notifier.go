// Package notify delivers trade and system events to chat channels.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Event classifies a notification so channels can filter what they carry.
type Event string

const (
	EventEntry     Event = "entry"
	EventExit      Event = "exit"
	EventStopMoved Event = "stop_moved"
	EventSignal    Event = "signal"
	EventRiskBlock Event = "risk_block"
	EventError     Event = "error"
)

// Message is one notification.
type Message struct {
	Event Event
	Title string
	Body  string
}

// Sender delivers a message to one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Notifier fans messages out to all configured senders. Delivery is
// best-effort: failures are logged and never propagate to the caller.
type Notifier struct {
	senders []Sender
	events  map[Event]bool // nil means all events
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithEvents restricts delivery to the given events.
func WithEvents(events ...Event) Option {
	return func(n *Notifier) {
		n.events = make(map[Event]bool, len(events))
		for _, e := range events {
			n.events[e] = true
		}
	}
}

// WithTimeout bounds each delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.timeout = d }
}

func New(logger *slog.Logger, senders []Sender, opts ...Option) *Notifier {
	n := &Notifier{
		senders: senders,
		timeout: 10 * time.Second,
		logger:  logger.With(slog.String("component", "notify")),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify delivers msg to every sender that carries its event. Safe to call
// from the trading path; it never blocks longer than the per-send timeout
// and never returns an error.
func (n *Notifier) Notify(ctx context.Context, msg Message) {
	if n == nil {
		return
	}
	if n.events != nil && !n.events[msg.Event] {
		return
	}
	for _, s := range n.senders {
		sctx, cancel := context.WithTimeout(ctx, n.timeout)
		if err := s.Send(sctx, msg); err != nil {
			n.logger.Warn("notification failed",
				slog.String("channel", s.Name()),
				slog.String("event", string(msg.Event)),
				slog.Any("error", err))
		}
		cancel()
	}
}
