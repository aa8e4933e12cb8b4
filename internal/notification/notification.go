package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/congo-pay/tipvault/internal/identity"
)

const (
	// KindDeposit announces a credited deposit.
	KindDeposit = "deposit"
	// KindTransfer announces an incoming tip.
	KindTransfer = "transfer"
	// KindWithdrawal announces a submitted withdrawal.
	KindWithdrawal = "withdrawal"
)

// ErrNoChannel is returned when no notifier serves the recipient's platform.
var ErrNoChannel = errors.New("no notification channel for platform")

// Field is a labelled value rendered under the title.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Message describes a notification payload.
type Message struct {
	Kind        string
	Recipient   identity.UserIdentity
	Title       string
	Description string
	Fields      []Field
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// PlatformNotifier is a Notifier bound to one chat platform.
type PlatformNotifier interface {
	Notifier
	Platform() identity.Platform
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"recipient", message.Recipient.String(),
		"title", message.Title,
		"description", message.Description,
	)
	return nil
}

// Dispatcher routes messages to the notifier of the recipient's platform.
type Dispatcher struct {
	channels map[identity.Platform]Notifier
	fallback Notifier
}

// NewDispatcher builds a dispatcher over platform notifiers. Messages for
// platforms without a notifier go to fallback when it is non-nil.
func NewDispatcher(fallback Notifier, notifiers ...PlatformNotifier) *Dispatcher {
	d := &Dispatcher{channels: make(map[identity.Platform]Notifier), fallback: fallback}
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		d.channels[n.Platform()] = n
	}
	return d
}

// Send implements Notifier.
func (d *Dispatcher) Send(ctx context.Context, message Message) error {
	n, ok := d.channels[message.Recipient.Platform]
	if !ok {
		if d.fallback == nil {
			return fmt.Errorf("%w: %s", ErrNoChannel, message.Recipient.Platform)
		}
		n = d.fallback
	}
	return n.Send(ctx, message)
}
