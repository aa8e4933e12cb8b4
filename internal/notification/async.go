package notification

import (
	"context"
	"errors"
	"log/slog"

	"github.com/congo-pay/tipvault/internal/metrics"
)

// ErrQueueFull is returned by Async.Send when the queue has no room.
var ErrQueueFull = errors.New("notification queue full")

// Async queues messages and delivers them from a single worker so that a slow
// chat API never blocks ledger callers.
type Async struct {
	next    Notifier
	queue   chan Message
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewAsync wraps next with a queue of the given size.
func NewAsync(next Notifier, size int, logger *slog.Logger, m *metrics.Metrics) *Async {
	if size <= 0 {
		size = 1
	}
	return &Async{next: next, queue: make(chan Message, size), logger: logger, metrics: m}
}

// Send enqueues message without blocking.
func (a *Async) Send(_ context.Context, message Message) error {
	select {
	case a.queue <- message:
		return nil
	default:
		a.metrics.Notification(message.Kind, "dropped")
		a.logger.Warn("notification dropped", "kind", message.Kind, "recipient", message.Recipient.String())
		return ErrQueueFull
	}
}

// Run delivers queued messages until ctx is done.
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-a.queue:
			a.deliver(ctx, message)
		}
	}
}

func (a *Async) deliver(ctx context.Context, message Message) {
	if err := a.next.Send(ctx, message); err != nil {
		a.metrics.Notification(message.Kind, "failed")
		a.logger.Error("notification failed",
			"kind", message.Kind,
			"recipient", message.Recipient.String(),
			"error", err,
		)
		return
	}
	a.metrics.Notification(message.Kind, "sent")
}
