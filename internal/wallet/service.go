package wallet

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/congo-pay/tipvault/internal/chain"
	"github.com/congo-pay/tipvault/internal/identity"
	"github.com/congo-pay/tipvault/internal/ledger"
	"github.com/congo-pay/tipvault/internal/metrics"
	"github.com/congo-pay/tipvault/internal/notification"
	"github.com/congo-pay/tipvault/internal/reconcile"
)

const defaultQueueSize = 256

// Service is the facade the command layer talks to.
type Service struct {
	ledger    *ledger.Ledger
	chain     chain.Engine
	engine    *reconcile.Engine
	logger    *slog.Logger
	metrics   *metrics.Metrics
	queueSize int
}

// NewService builds the wallet facade. queueSize bounds the notification
// queue started by Start.
func NewService(l *ledger.Ledger, w chain.Engine, e *reconcile.Engine, logger *slog.Logger, m *metrics.Metrics, queueSize int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Service{ledger: l, chain: w, engine: e, logger: logger, metrics: m, queueSize: queueSize}
}

// BalanceOf returns the user's ledger balance.
func (s *Service) BalanceOf(ctx context.Context, user identity.UserIdentity) (uint64, error) {
	return s.ledger.Balance(ctx, user)
}

// DepositAddressFor returns the integrated address whose payload is the
// user's identity bytes.
func (s *Service) DepositAddressFor(user identity.UserIdentity) (chain.Address, error) {
	addr, err := s.chain.DeriveAddress(user.Bytes())
	if err != nil {
		return chain.Address{}, fmt.Errorf("derive deposit address: %w", err)
	}
	return addr, nil
}

// Status gathers ledger and wallet figures.
func (s *Service) Status(ctx context.Context) (Status, error) {
	st := Status{
		Network:         s.chain.Network(),
		Online:          s.chain.IsOnline(ctx),
		State:           s.engine.State(),
		WithdrawalsLock: s.engine.WithdrawalsLocked(),
	}

	var err error
	if st.WalletBalance, err = s.chain.Balance(ctx, chain.NativeAsset); err != nil {
		return Status{}, fmt.Errorf("wallet balance: %w", err)
	}
	if st.UsersBalance, err = s.ledger.Total(ctx); err != nil {
		return Status{}, fmt.Errorf("ledger total: %w", err)
	}
	if st.SyncedTopoheight, err = s.chain.SyncedTopoheight(ctx); err != nil {
		return Status{}, fmt.Errorf("synced topoheight: %w", err)
	}
	if st.StableTopoheight, err = s.chain.StableTopoheight(ctx); err != nil {
		return Status{}, fmt.Errorf("stable topoheight: %w", err)
	}
	if st.PendingDeposits, err = s.engine.Pending(ctx); err != nil {
		return Status{}, fmt.Errorf("pending deposits: %w", err)
	}
	return st, nil
}

// Start routes deposit notifications to the given chat notifiers, falling
// back to the logger, and starts the reconciliation engine.
func (s *Service) Start(ctx context.Context, notifiers ...notification.PlatformNotifier) error {
	dispatcher := notification.NewDispatcher(notification.NewLoggerNotifier(s.logger), notifiers...)
	queue := notification.NewAsync(dispatcher, s.queueSize, s.logger, s.metrics)
	if err := s.engine.Start(ctx, queue); err != nil {
		return err
	}
	go queue.Run(ctx)
	s.logger.Info("wallet service started", "network", string(s.chain.Network()), "notifiers", len(notifiers))
	return nil
}
