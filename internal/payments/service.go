package payments

import (
	"context"
	"errors"
	"log/slog"

	"github.com/congo-pay/tipvault/internal/identity"
	"github.com/congo-pay/tipvault/internal/ledger"
	"github.com/congo-pay/tipvault/internal/metrics"
	"github.com/congo-pay/tipvault/internal/notification"
)

// Service moves funds between users off-chain.
type Service struct {
	ledger   *ledger.Ledger
	notifier notification.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewService constructs a transfer service. notifier may be nil.
func NewService(l *ledger.Ledger, notifier notification.Notifier, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: l, notifier: notifier, logger: logger, metrics: m}
}

// Transfer debits from and credits to in one exclusive section. A zero
// amount is rejected before the self-transfer check.
func (s *Service) Transfer(ctx context.Context, from, to identity.UserIdentity, amount uint64) error {
	if err := s.ledger.Transfer(ctx, from, to, amount); err != nil {
		s.metrics.Transfer(resultOf(err))
		return err
	}
	s.metrics.Transfer("ok")
	s.logger.Info("transfer completed", "from", from.String(), "to", to.String(), "amount", amount)

	if s.notifier != nil {
		if err := s.notifier.Send(ctx, notification.TransferMessage(from, to, amount)); err != nil {
			s.logger.Warn("transfer notification failed", "recipient", to.String(), "error", err)
		}
	}
	return nil
}

// Balance returns the user's ledger balance.
func (s *Service) Balance(ctx context.Context, user identity.UserIdentity) (uint64, error) {
	return s.ledger.Balance(ctx, user)
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, ledger.ErrZeroAmount), errors.Is(err, ledger.ErrSelfTransfer):
		return "invalid"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "error"
	}
}
