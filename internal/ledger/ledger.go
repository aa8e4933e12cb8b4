package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/congo-pay/tipvault/internal/amount"
	"github.com/congo-pay/tipvault/internal/chain"
	"github.com/congo-pay/tipvault/internal/identity"
)

const (
	// BalancesNamespace maps identity bytes to a big-endian uint64 balance.
	BalancesNamespace = "balances"
	// HistoryNamespace maps processed transaction hashes to the credited identity.
	HistoryNamespace = "history"
	// MetaNamespace holds reconciliation bookkeeping.
	MetaNamespace = "meta"

	checkpointKey = "stable_topoheight"
)

var (
	// ErrInsufficientFunds occurs when the source account lacks available balance
	// to cover a requested debit. Errors of type *InsufficientFundsError match it.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrZeroAmount rejects transfers and withdrawals of nothing.
	ErrZeroAmount = errors.New("amount must be greater than zero")

	// ErrSelfTransfer rejects transfers whose source and destination match.
	ErrSelfTransfer = errors.New("cannot transfer to yourself")

	// ErrOverflow indicates a credit would overflow the balance.
	ErrOverflow = errors.New("balance overflow")

	// ErrCorruptValue is returned when a stored value has an unexpected shape.
	ErrCorruptValue = errors.New("corrupt ledger value")
)

// InsufficientFundsError carries the amount that could not be covered.
type InsufficientFundsError struct {
	Amount uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("not enough funds to transfer %s", amount.Format(e.Amount))
}

// Is makes errors.Is(err, ErrInsufficientFunds) hold.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Credit is one (user, amount) pair applied by ApplyDeposit.
type Credit struct {
	User   identity.UserIdentity
	Amount uint64
}

// Ledger is the off-chain balance book. Reads may run concurrently; every
// mutation runs inside one exclusive section spanning the store transaction.
type Ledger struct {
	mu    sync.RWMutex
	store Store
}

// New wraps a store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Update runs fn inside the exclusive section. Writes made through tx are
// committed together when fn returns nil and discarded otherwise.
func (l *Ledger) Update(ctx context.Context, fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Update(ctx, func(w Writer) error {
		return fn(&Tx{w: w})
	})
}

func (l *Ledger) view(ctx context.Context, fn func(r Reader) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.store.View(ctx, fn)
}

// Balance returns the user's balance; absent users have 0.
func (l *Ledger) Balance(ctx context.Context, user identity.UserIdentity) (uint64, error) {
	var balance uint64
	err := l.view(ctx, func(r Reader) error {
		var err error
		balance, err = readBalance(ctx, r, user)
		return err
	})
	return balance, err
}

// Total sums every balance. It is meant for status reporting only.
func (l *Ledger) Total(ctx context.Context) (uint64, error) {
	var total uint64
	err := l.view(ctx, func(r Reader) error {
		return r.Scan(ctx, BalancesNamespace, func(_, value []byte) error {
			v, err := decodeAmount(value)
			if err != nil {
				return err
			}
			if total > math.MaxUint64-v {
				return ErrOverflow
			}
			total += v
			return nil
		})
	})
	return total, err
}

// HasProcessed reports whether hash was already credited.
func (l *Ledger) HasProcessed(ctx context.Context, hash chain.Hash) (bool, error) {
	var seen bool
	err := l.view(ctx, func(r Reader) error {
		var err error
		seen, err = r.Has(ctx, HistoryNamespace, hash[:])
		return err
	})
	return seen, err
}

// ProcessedBy returns the identity recorded for a processed hash.
func (l *Ledger) ProcessedBy(ctx context.Context, hash chain.Hash) (identity.UserIdentity, bool, error) {
	var (
		user  identity.UserIdentity
		found bool
	)
	err := l.view(ctx, func(r Reader) error {
		raw, err := r.Get(ctx, HistoryNamespace, hash[:])
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		user, err = identity.FromBytes(raw)
		found = err == nil
		return err
	})
	return user, found, err
}

// Credit adds amount to the user's balance.
func (l *Ledger) Credit(ctx context.Context, user identity.UserIdentity, amount uint64) error {
	return l.Update(ctx, func(tx *Tx) error {
		return tx.Credit(ctx, user, amount)
	})
}

// Debit removes amount from the user's balance.
func (l *Ledger) Debit(ctx context.Context, user identity.UserIdentity, amount uint64) error {
	return l.Update(ctx, func(tx *Tx) error {
		return tx.Debit(ctx, user, amount)
	})
}

// MarkProcessed records hash as credited to user.
func (l *Ledger) MarkProcessed(ctx context.Context, hash chain.Hash, user identity.UserIdentity) error {
	return l.Update(ctx, func(tx *Tx) error {
		return tx.MarkProcessed(ctx, hash, user)
	})
}

// ApplyDeposit credits every pair and records hash as processed in one
// exclusive section. It returns false without writing when hash was already
// processed.
func (l *Ledger) ApplyDeposit(ctx context.Context, hash chain.Hash, credits []Credit) (bool, error) {
	if len(credits) == 0 {
		return false, nil
	}
	applied := false
	err := l.Update(ctx, func(tx *Tx) error {
		seen, err := tx.HasProcessed(ctx, hash)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
		for _, c := range credits {
			if err := tx.Credit(ctx, c.User, c.Amount); err != nil {
				return err
			}
		}
		if err := tx.MarkProcessed(ctx, hash, credits[0].User); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Transfer moves amount between two users atomically.
func (l *Ledger) Transfer(ctx context.Context, from, to identity.UserIdentity, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	if from == to {
		return ErrSelfTransfer
	}
	return l.Update(ctx, func(tx *Tx) error {
		if err := tx.Debit(ctx, from, amount); err != nil {
			return err
		}
		return tx.Credit(ctx, to, amount)
	})
}

// Checkpoint returns the last fully reconciled stable topoheight.
func (l *Ledger) Checkpoint(ctx context.Context) (uint64, bool, error) {
	var (
		height uint64
		found  bool
	)
	err := l.view(ctx, func(r Reader) error {
		raw, err := r.Get(ctx, MetaNamespace, []byte(checkpointKey))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		height, err = decodeAmount(raw)
		found = err == nil
		return err
	})
	return height, found, err
}

// SetCheckpoint stores the last fully reconciled stable topoheight.
func (l *Ledger) SetCheckpoint(ctx context.Context, height uint64) error {
	return l.Update(ctx, func(tx *Tx) error {
		return tx.w.Set(ctx, MetaNamespace, []byte(checkpointKey), encodeAmount(height))
	})
}

// Tx exposes ledger primitives inside an exclusive section.
type Tx struct {
	w Writer
}

// Balance reads the user's balance including writes made earlier in tx.
func (tx *Tx) Balance(ctx context.Context, user identity.UserIdentity) (uint64, error) {
	return readBalance(ctx, tx.w, user)
}

// Credit adds amount to the user's balance.
func (tx *Tx) Credit(ctx context.Context, user identity.UserIdentity, amount uint64) error {
	balance, err := tx.Balance(ctx, user)
	if err != nil {
		return err
	}
	if balance > math.MaxUint64-amount {
		return ErrOverflow
	}
	return tx.w.Set(ctx, BalancesNamespace, user.Bytes(), encodeAmount(balance+amount))
}

// Debit removes amount from the user's balance or fails with
// *InsufficientFundsError.
func (tx *Tx) Debit(ctx context.Context, user identity.UserIdentity, amount uint64) error {
	balance, err := tx.Balance(ctx, user)
	if err != nil {
		return err
	}
	if balance < amount {
		return &InsufficientFundsError{Amount: amount}
	}
	return tx.w.Set(ctx, BalancesNamespace, user.Bytes(), encodeAmount(balance-amount))
}

// HasProcessed reports whether hash was already credited.
func (tx *Tx) HasProcessed(ctx context.Context, hash chain.Hash) (bool, error) {
	return tx.w.Has(ctx, HistoryNamespace, hash[:])
}

// MarkProcessed records hash as credited to user.
func (tx *Tx) MarkProcessed(ctx context.Context, hash chain.Hash, user identity.UserIdentity) error {
	return tx.w.Set(ctx, HistoryNamespace, hash.Bytes(), user.Bytes())
}

func readBalance(ctx context.Context, r Reader, user identity.UserIdentity) (uint64, error) {
	raw, err := r.Get(ctx, BalancesNamespace, user.Bytes())
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance of %s: %w", user, err)
	}
	return decodeAmount(raw)
}

func encodeAmount(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeAmount(raw []byte) (uint64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("%w: %d bytes", ErrCorruptValue, len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}
