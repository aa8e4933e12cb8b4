package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/congo-pay/tipvault/internal/amount"
	"github.com/congo-pay/tipvault/internal/chain"
	"github.com/congo-pay/tipvault/internal/identity"
	"github.com/congo-pay/tipvault/internal/ledger"
	"github.com/congo-pay/tipvault/internal/metrics"
	"github.com/congo-pay/tipvault/internal/notification"
)

var (
	// ErrWithdrawalsLocked is returned while the wallet rescans.
	ErrWithdrawalsLocked = errors.New("withdrawals are temporarily locked")
	// ErrWalletOffline is returned when the wallet cannot reach its daemon.
	ErrWalletOffline = errors.New("wallet is offline")
	// ErrWrongNetwork rejects destinations of another network.
	ErrWrongNetwork = errors.New("destination address is for another network")
	// ErrInsufficientFundsForFee matches *InsufficientFundsForFeeError.
	ErrInsufficientFundsForFee = errors.New("insufficient funds for fee")
	// ErrUnsettled matches *UnsettledError.
	ErrUnsettled = errors.New("withdrawal submitted but not debited")
)

const (
	defaultSettleAttempts = 3
	defaultSettleBackoff  = 200 * time.Millisecond
)

// InsufficientFundsForFeeError carries the estimated fee that could not be
// covered on top of the amount.
type InsufficientFundsForFeeError struct {
	Fee uint64
}

func (e *InsufficientFundsForFeeError) Error() string {
	return fmt.Sprintf("not enough funds to pay the fee of %s", amount.Format(e.Fee))
}

// Is makes errors.Is(err, ErrInsufficientFundsForFee) hold.
func (e *InsufficientFundsForFeeError) Is(target error) bool {
	return target == ErrInsufficientFundsForFee
}

// UnsettledError reports a transaction that reached the network while the
// ledger debit could not be committed. It must not be retried by the caller.
type UnsettledError struct {
	Hash   chain.Hash
	Amount uint64
	Fee    uint64
	Err    error
}

func (e *UnsettledError) Error() string {
	return fmt.Sprintf("withdrawal %s submitted but the ledger debit failed: %v", e.Hash, e.Err)
}

func (e *UnsettledError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrUnsettled) hold.
func (e *UnsettledError) Is(target error) bool {
	return target == ErrUnsettled
}

// LockState reports whether withdrawals are currently refused.
type LockState interface {
	WithdrawalsLocked() bool
}

// Result describes a submitted withdrawal.
type Result struct {
	Hash        chain.Hash
	Amount      uint64
	Fee         uint64
	Balance     uint64
	SubmittedAt time.Time
}

// Service pays users out on-chain from the custodial wallet.
type Service struct {
	ledger   *ledger.Ledger
	wallet   chain.Engine
	lock     LockState
	asset    chain.Hash
	notifier notification.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics

	settleAttempts int
	settleBackoff  time.Duration
}

// NewService constructs a withdrawal service. notifier may be nil.
func NewService(l *ledger.Ledger, wallet chain.Engine, lock LockState, notifier notification.Notifier, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ledger:   l,
		wallet:   wallet,
		lock:     lock,
		asset:    chain.NativeAsset,
		notifier: notifier,
		logger:   logger,
		metrics:  m,

		settleAttempts: defaultSettleAttempts,
		settleBackoff:  defaultSettleBackoff,
	}
}

// Withdraw sends amount to destination and debits amount plus fee from user
// once the transaction was submitted. Build or submit failures leave the
// ledger untouched.
func (s *Service) Withdraw(ctx context.Context, user identity.UserIdentity, destination chain.Address, units uint64) (Result, error) {
	res, err := s.withdraw(ctx, user, destination, units)
	if err != nil {
		s.metrics.Withdrawal(resultOf(err))
		return Result{}, err
	}
	s.metrics.Withdrawal("ok")
	s.logger.Info("withdrawal submitted",
		"user", user.String(),
		"hash", res.Hash.String(),
		"amount", res.Amount,
		"fee", res.Fee,
	)

	if s.notifier != nil {
		msg := notification.WithdrawalMessage(user, res.Amount, res.Fee, destination, res.Hash)
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.logger.Warn("withdrawal notification failed", "recipient", user.String(), "error", err)
		}
	}
	return res, nil
}

func (s *Service) withdraw(ctx context.Context, user identity.UserIdentity, destination chain.Address, units uint64) (Result, error) {
	if units == 0 {
		return Result{}, ledger.ErrZeroAmount
	}
	if s.lock != nil && s.lock.WithdrawalsLocked() {
		return Result{}, ErrWithdrawalsLocked
	}
	if !s.wallet.IsOnline(ctx) {
		return Result{}, ErrWalletOffline
	}
	if destination.Network != s.wallet.Network() {
		return Result{}, ErrWrongNetwork
	}

	var (
		res       Result
		submitted *chain.Transaction
		spent     bool
	)
	err := s.ledger.Update(ctx, func(tx *ledger.Tx) error {
		// A rescan may have started while waiting for the section.
		if s.lock != nil && s.lock.WithdrawalsLocked() {
			return ErrWithdrawalsLocked
		}
		balance, err := tx.Balance(ctx, user)
		if err != nil {
			return err
		}
		if balance < units {
			return &ledger.InsufficientFundsError{Amount: units}
		}

		spec := chain.TransferSpec{
			Destination: destination,
			Asset:       s.asset,
			Amount:      units,
			ExtraData:   destination.Payload,
		}
		fee, err := s.wallet.EstimateFee(ctx, spec)
		if err != nil {
			return fmt.Errorf("estimate fee: %w", err)
		}
		if !covers(balance, units, fee) {
			return &InsufficientFundsForFeeError{Fee: fee}
		}

		signed, err := s.wallet.Build(ctx, spec, fee)
		if err != nil {
			return fmt.Errorf("build transaction: %w", err)
		}
		// The built transaction pays signed.Fee, which may differ from the estimate.
		if !covers(balance, units, signed.Fee) {
			return &InsufficientFundsForFeeError{Fee: signed.Fee}
		}
		if err := s.wallet.Submit(ctx, signed); err != nil {
			return fmt.Errorf("submit transaction: %w", err)
		}
		submitted = signed

		total := units + signed.Fee
		if err := tx.Debit(ctx, user, total); err != nil {
			return err
		}
		if err := s.wallet.ApplySpend(ctx, signed); err != nil {
			s.logger.Error("apply spend state", "hash", signed.Hash.String(), "error", err)
		}
		spent = true

		res = Result{
			Hash:        signed.Hash,
			Amount:      units,
			Fee:         signed.Fee,
			Balance:     balance - total,
			SubmittedAt: time.Now().UTC(),
		}
		return nil
	})
	switch {
	case err == nil:
		return res, nil
	case submitted == nil:
		return Result{}, err
	default:
		return s.settle(ctx, user, units, submitted, spent, err)
	}
}

// settle retries the debit of a transaction that was already submitted.
// The request context is detached so that a client disconnect cannot abandon
// the debit.
func (s *Service) settle(ctx context.Context, user identity.UserIdentity, units uint64, signed *chain.Transaction, spent bool, cause error) (Result, error) {
	ctx = context.WithoutCancel(ctx)
	total := units + signed.Fee
	s.logger.Error("debit of submitted withdrawal failed, retrying",
		"user", user.String(),
		"hash", signed.Hash.String(),
		"amount", units,
		"fee", signed.Fee,
		"error", cause,
	)

	var balance uint64
	err := cause
	for attempt := 1; attempt <= s.settleAttempts; attempt++ {
		if attempt > 1 && s.settleBackoff > 0 {
			time.Sleep(s.settleBackoff * time.Duration(attempt-1))
		}
		err = s.ledger.Update(ctx, func(tx *ledger.Tx) error {
			current, err := tx.Balance(ctx, user)
			if err != nil {
				return err
			}
			if err := tx.Debit(ctx, user, total); err != nil {
				return err
			}
			balance = current - total
			return nil
		})
		if err == nil {
			break
		}
	}
	if err != nil {
		s.logger.Error("withdrawal left unsettled",
			"user", user.String(),
			"hash", signed.Hash.String(),
			"total", total,
			"error", err,
		)
		return Result{}, &UnsettledError{Hash: signed.Hash, Amount: units, Fee: signed.Fee, Err: err}
	}

	if !spent {
		if err := s.wallet.ApplySpend(ctx, signed); err != nil {
			s.logger.Error("apply spend state", "hash", signed.Hash.String(), "error", err)
		}
	}
	return Result{
		Hash:        signed.Hash,
		Amount:      units,
		Fee:         signed.Fee,
		Balance:     balance,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

func covers(balance, units, fee uint64) bool {
	return fee <= math.MaxUint64-units && units+fee <= balance
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, ErrUnsettled):
		return "unsettled"
	case errors.Is(err, ledger.ErrZeroAmount), errors.Is(err, ErrWrongNetwork):
		return "invalid"
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ErrInsufficientFundsForFee):
		return "insufficient_funds"
	case errors.Is(err, ErrWithdrawalsLocked), errors.Is(err, ErrWalletOffline):
		return "unavailable"
	default:
		return "error"
	}
}
