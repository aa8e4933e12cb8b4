// Package reconcile credits confirmed on-chain deposits to the ledger exactly
// once. A single goroutine consumes wallet events and the stable topoheight
// stream; incoming transactions wait in a PendingStore until their topoheight
// is stable.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/congo-pay/tipvault/internal/chain"
	"github.com/congo-pay/tipvault/internal/identity"
	"github.com/congo-pay/tipvault/internal/ledger"
	"github.com/congo-pay/tipvault/internal/metrics"
	"github.com/congo-pay/tipvault/internal/notification"
)

// State is the engine lifecycle.
type State int

const (
	StateStopped State = iota
	StateRunning
	// StateRunningLocked is entered on a wallet rescan. Withdrawals are refused
	// until the wallet reports it synced past the rescan start.
	StateRunningLocked
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateRunningLocked:
		return "running_locked"
	default:
		return "unknown"
	}
}

// ErrAlreadyRunning is returned by Start when the engine is not stopped.
var ErrAlreadyRunning = errors.New("reconciliation engine already running")

const defaultRetryInterval = 5 * time.Second

// Options tune an Engine. Zero values select defaults.
type Options struct {
	// Asset is the only asset credited. Defaults to chain.NativeAsset.
	Asset         chain.Hash
	RetryInterval time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Engine reconciles wallet deposits into the ledger.
type Engine struct {
	wallet  chain.Engine
	ledger  *ledger.Ledger
	pending PendingStore
	asset   chain.Hash
	retry   time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	state      State
	rescanFrom uint64
	notifier   notification.Notifier
	done       chan struct{}
	stable     uint64
	haveStable bool

	// Owned by the engine goroutine.
	checkpoint    uint64
	hasCheckpoint bool
}

// New builds a stopped engine.
func New(wallet chain.Engine, l *ledger.Ledger, pending PendingStore, opts Options) *Engine {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		wallet:  wallet,
		ledger:  l,
		pending: pending,
		asset:   opts.Asset,
		retry:   opts.RetryInterval,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Start launches the engine goroutine. It runs until ctx is cancelled.
func (e *Engine) Start(ctx context.Context, notifier notification.Notifier) error {
	e.mu.Lock()
	if e.state != StateStopped {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.state = StateRunning
	e.notifier = notifier
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	go e.run(ctx, done)
	return nil
}

// Done is closed when the goroutine launched by the last Start exits. It is
// nil before the first Start.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// WithdrawalsLocked reports whether a rescan is in progress.
func (e *Engine) WithdrawalsLocked() bool {
	return e.State() == StateRunningLocked
}

// Pending returns the number of queued deposits.
func (e *Engine) Pending(ctx context.Context) (int, error) {
	return e.pending.Len(ctx)
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer func() {
		e.mu.Lock()
		e.state = StateStopped
		e.mu.Unlock()
		close(done)
	}()

	for {
		err := e.session(ctx)
		if ctx.Err() != nil {
			e.logger.Info("reconciliation engine stopped")
			return
		}
		e.metrics.EngineRestarted()
		e.logger.Error("reconciliation loop failed, restarting", "error", err, "retry_in", e.retry.String())

		timer := time.NewTimer(e.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session subscribes, catches up from the checkpoint and processes events
// until a subscription or store fails.
func (e *Engine) session(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := e.wallet.SubscribeEvents(ctx)
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	defer events.Close()

	heights, err := e.wallet.SubscribeStableTopoheight(ctx)
	if err != nil {
		return fmt.Errorf("subscribe stable topoheight: %w", err)
	}
	defer heights.Close()

	if err := e.catchUp(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-events.Done():
			return fmt.Errorf("event subscription ended: %w", events.Err())
		case <-heights.Done():
			return fmt.Errorf("stable topoheight subscription ended: %w", heights.Err())
		case ev := <-events.C():
			if err := e.handleEvent(ctx, ev); err != nil {
				return err
			}
		case h := <-heights.C():
			if err := e.handleStable(ctx, h); err != nil {
				return err
			}
		}
	}
}

// catchUp queues wallet history newer than the checkpoint and settles what
// is already stable. Events missed while unsubscribed are recovered here.
func (e *Engine) catchUp(ctx context.Context) error {
	checkpoint, found, err := e.ledger.Checkpoint(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	from := uint64(0)
	if found {
		e.checkpoint = checkpoint
		e.hasCheckpoint = true
		from = checkpoint + 1
	}

	entries, err := e.wallet.History(ctx, from)
	if err != nil {
		return fmt.Errorf("load wallet history: %w", err)
	}
	for _, entry := range entries {
		if err := e.observe(ctx, entry); err != nil {
			return err
		}
	}

	stable, err := e.wallet.StableTopoheight(ctx)
	if err != nil {
		return fmt.Errorf("load stable topoheight: %w", err)
	}
	e.logger.Info("reconciliation caught up", "from", from, "history", len(entries), "stable_topoheight", stable)
	return e.handleStable(ctx, stable)
}

func (e *Engine) handleEvent(ctx context.Context, ev chain.Event) error {
	switch ev.Kind {
	case chain.EventNewTransaction:
		if err := e.observe(ctx, ev.Transaction); err != nil {
			return err
		}
		if stable, ok := e.lastStable(); ok && ev.Transaction.Topoheight <= stable {
			return e.handleStable(ctx, stable)
		}
	case chain.EventRescan:
		e.mu.Lock()
		e.state = StateRunningLocked
		e.rescanFrom = ev.Topoheight
		e.mu.Unlock()
		e.logger.Warn("wallet rescan started, withdrawals locked", "from", ev.Topoheight)
	case chain.EventSynced:
		e.mu.Lock()
		unlocked := e.state == StateRunningLocked && ev.Topoheight >= e.rescanFrom
		if unlocked {
			e.state = StateRunning
		}
		e.mu.Unlock()
		if unlocked {
			e.logger.Info("wallet synced, withdrawals unlocked", "topoheight", ev.Topoheight)
		}
	}
	return nil
}

// observe queues an incoming transaction unless it was already credited.
func (e *Engine) observe(ctx context.Context, entry chain.TransactionEntry) error {
	if entry.Outgoing || len(entry.Incoming) == 0 {
		return nil
	}
	processed, err := e.ledger.HasProcessed(ctx, entry.Hash)
	if err != nil {
		return fmt.Errorf("check history: %w", err)
	}
	if processed {
		return nil
	}

	added, err := e.pending.Add(ctx, PendingDeposit{
		Hash:       entry.Hash,
		Topoheight: entry.Topoheight,
		Transfers:  entry.Incoming,
		ObservedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if added {
		e.logger.Debug("deposit pending", "hash", entry.Hash.String(), "topoheight", entry.Topoheight)
		e.reportPending(ctx)
	}
	return nil
}

// handleStable applies every queued deposit at or below height. Entries
// that fail stay queued for the next height.
func (e *Engine) handleStable(ctx context.Context, height uint64) error {
	e.mu.Lock()
	if !e.haveStable || height > e.stable {
		e.stable = height
		e.haveStable = true
	}
	e.mu.Unlock()
	e.metrics.SetStableTopoheight(height)

	// The checkpoint may only cover heights the wallet itself has scanned.
	// Everything the wallet reported up to that mark is queued before the
	// queue is settled.
	mark, err := e.checkpointMark(ctx, height)
	if err != nil {
		return err
	}
	advance := mark > e.checkpoint
	if advance {
		if err := e.sweep(ctx, mark); err != nil {
			return err
		}
	}

	due, err := e.pending.Due(ctx, height)
	if err != nil {
		return err
	}

	settled := true
	for _, d := range due {
		if err := e.apply(ctx, d); err != nil {
			settled = false
			e.metrics.DepositFailed()
			e.logger.Error("apply deposit", "hash", d.Hash.String(), "topoheight", d.Topoheight, "error", err)
			continue
		}
		if err := e.pending.Remove(ctx, d.Hash); err != nil {
			return err
		}
	}
	if len(due) > 0 {
		e.reportPending(ctx)
	}

	if settled && advance {
		if err := e.ledger.SetCheckpoint(ctx, mark); err != nil {
			return fmt.Errorf("store checkpoint: %w", err)
		}
		e.checkpoint = mark
		e.hasCheckpoint = true
	}
	return nil
}

// checkpointMark is the lower of the stable height and the wallet's synced
// height.
func (e *Engine) checkpointMark(ctx context.Context, stable uint64) (uint64, error) {
	synced, err := e.wallet.SyncedTopoheight(ctx)
	if err != nil {
		return 0, fmt.Errorf("load synced topoheight: %w", err)
	}
	return min(stable, synced), nil
}

// sweep queues wallet history between the checkpoint and mark that no event
// delivered yet.
func (e *Engine) sweep(ctx context.Context, mark uint64) error {
	from := uint64(0)
	if e.hasCheckpoint {
		from = e.checkpoint + 1
	}
	entries, err := e.wallet.History(ctx, from)
	if err != nil {
		return fmt.Errorf("load wallet history: %w", err)
	}
	for _, entry := range entries {
		if entry.Topoheight > mark {
			continue
		}
		if err := e.observe(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// apply credits every transfer of the target asset addressed to a user.
func (e *Engine) apply(ctx context.Context, d PendingDeposit) error {
	var credits []ledger.Credit
	for _, t := range d.Transfers {
		if t.Asset != e.asset || t.Amount == 0 {
			continue
		}
		user, err := identity.FromBytes(t.ExtraData)
		if err != nil {
			e.logger.Debug("transfer without user identity", "hash", d.Hash.String(), "error", err)
			continue
		}
		credits = append(credits, ledger.Credit{User: user, Amount: t.Amount})
	}
	if len(credits) == 0 {
		return nil
	}

	applied, err := e.ledger.ApplyDeposit(ctx, d.Hash, credits)
	if err != nil {
		return err
	}
	if !applied {
		e.metrics.DepositDuplicate()
		e.logger.Info("deposit already processed", "hash", d.Hash.String())
		return nil
	}

	for _, c := range credits {
		e.metrics.DepositCredited(c.Amount)
		e.logger.Info("deposit credited",
			"hash", d.Hash.String(),
			"user", c.User.String(),
			"amount", c.Amount,
			"topoheight", d.Topoheight,
		)
		e.notify(ctx, notification.DepositMessage(c.User, c.Amount, d.Hash))
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, message notification.Message) {
	e.mu.Lock()
	notifier := e.notifier
	e.mu.Unlock()
	if notifier == nil {
		return
	}
	if err := notifier.Send(ctx, message); err != nil {
		e.logger.Warn("deposit notification failed", "recipient", message.Recipient.String(), "error", err)
	}
}

func (e *Engine) reportPending(ctx context.Context) {
	if n, err := e.pending.Len(ctx); err == nil {
		e.metrics.SetPending(n)
	}
}

// LastStable returns the highest stable topoheight handled so far.
func (e *Engine) LastStable() uint64 {
	stable, _ := e.lastStable()
	return stable
}

func (e *Engine) lastStable() (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stable, e.haveStable
}
