package reconcile

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/tipvault/internal/chain"
	"github.com/congo-pay/tipvault/internal/identity"
	"github.com/congo-pay/tipvault/internal/ledger"
	"github.com/congo-pay/tipvault/internal/logging"
	"github.com/congo-pay/tipvault/internal/notification"
)

var alice = identity.Discord(1001)

type captureNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (c *captureNotifier) Send(_ context.Context, m notification.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m)
	return nil
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func txHash(name string) chain.Hash {
	return sha256.Sum256([]byte(name))
}

func deposit(name string, topoheight uint64, user identity.UserIdentity, units uint64) chain.TransactionEntry {
	return chain.TransactionEntry{
		Hash:       txHash(name),
		Topoheight: topoheight,
		Incoming: []chain.Transfer{{
			Asset:     chain.NativeAsset,
			Amount:    units,
			ExtraData: user.Bytes(),
		}},
	}
}

type fixture struct {
	wallet  *chain.Simulated
	ledger  *ledger.Ledger
	pending PendingStore
	engine  *Engine
}

func newFixture(t *testing.T, pending PendingStore) *fixture {
	t.Helper()
	if pending == nil {
		pending = NewMemoryPendingStore()
	}
	w := chain.NewSimulated(chain.Testnet, 10)
	l := ledger.New(ledger.NewMemoryStore())
	e := New(w, l, pending, Options{RetryInterval: 10 * time.Millisecond, Logger: logging.Discard()})
	return &fixture{wallet: w, ledger: l, pending: pending, engine: e}
}

func (f *fixture) balance(t *testing.T, user identity.UserIdentity) uint64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), user)
	require.NoError(t, err)
	return b
}

func startEngine(t *testing.T, f *fixture, n notification.Notifier) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.engine.Start(ctx, n))
	t.Cleanup(func() {
		cancel()
		<-f.engine.Done()
	})
	return cancel
}

func TestDepositCreditedOnceAfterStable(t *testing.T) {
	f := newFixture(t, nil)
	notifier := &captureNotifier{}
	startEngine(t, f, notifier)
	ctx := context.Background()

	f.wallet.Receive(ctx, deposit("d1", 10, alice, 500))

	f.wallet.AdvanceStable(ctx, 9)
	require.Eventually(t, func() bool { return f.engine.LastStable() == 9 }, time.Second, 5*time.Millisecond)
	require.Equal(t, uint64(0), f.balance(t, alice))

	f.wallet.AdvanceStable(ctx, 10)
	require.Eventually(t, func() bool { return f.balance(t, alice) == 500 }, time.Second, 5*time.Millisecond)

	f.wallet.Emit(ctx, chain.Event{Kind: chain.EventNewTransaction, Transaction: deposit("d1", 10, alice, 500)})
	f.wallet.AdvanceStable(ctx, 11)
	require.Eventually(t, func() bool { return f.engine.LastStable() == 11 }, time.Second, 5*time.Millisecond)
	require.Equal(t, uint64(500), f.balance(t, alice))

	require.Eventually(t, func() bool { return notifier.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, notification.KindDeposit, notifier.messages[0].Kind)
	require.Equal(t, alice, notifier.messages[0].Recipient)
}

func TestStartTwice(t *testing.T) {
	f := newFixture(t, nil)
	startEngine(t, f, nil)
	require.ErrorIs(t, f.engine.Start(context.Background(), nil), ErrAlreadyRunning)
	require.Equal(t, StateRunning, f.engine.State())
}

func TestStopReturnsToStopped(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.engine.Start(ctx, nil))
	cancel()
	<-f.engine.Done()
	require.Equal(t, StateStopped, f.engine.State())

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.engine.Start(ctx, nil))
}

func TestRescanLocksUntilSynced(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.engine.state = StateRunning

	require.NoError(t, f.engine.handleEvent(ctx, chain.Event{Kind: chain.EventRescan, Topoheight: 50}))
	require.True(t, f.engine.WithdrawalsLocked())

	require.NoError(t, f.engine.handleEvent(ctx, chain.Event{Kind: chain.EventSynced, Topoheight: 49}))
	require.True(t, f.engine.WithdrawalsLocked())

	require.NoError(t, f.engine.handleEvent(ctx, chain.Event{Kind: chain.EventSynced, Topoheight: 50}))
	require.False(t, f.engine.WithdrawalsLocked())
	require.Equal(t, StateRunning, f.engine.State())
}

func TestRescanThroughRunningEngine(t *testing.T) {
	f := newFixture(t, nil)
	startEngine(t, f, nil)
	ctx := context.Background()

	f.wallet.Receive(ctx, deposit("d1", 3, alice, 70))
	require.Eventually(t, func() bool {
		n, _ := f.engine.Pending(ctx)
		return n == 1
	}, time.Second, 5*time.Millisecond)

	f.wallet.Emit(ctx, chain.Event{Kind: chain.EventRescan, Topoheight: 0})
	require.Eventually(t, f.engine.WithdrawalsLocked, time.Second, 5*time.Millisecond)

	f.wallet.AdvanceStable(ctx, 5)
	require.Eventually(t, func() bool { return f.balance(t, alice) == 70 }, time.Second, 5*time.Millisecond)

	f.wallet.Emit(ctx, chain.Event{Kind: chain.EventSynced, Topoheight: 5})
	require.Eventually(t, func() bool { return !f.engine.WithdrawalsLocked() }, time.Second, 5*time.Millisecond)
}

func TestOutOfOrderTopoheights(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.wallet.SetSynced(20)

	require.NoError(t, f.engine.observe(ctx, deposit("high", 12, alice, 1)))
	require.NoError(t, f.engine.observe(ctx, deposit("low", 11, alice, 2)))

	require.NoError(t, f.engine.handleStable(ctx, 11))
	require.Equal(t, uint64(2), f.balance(t, alice))
	n, _ := f.pending.Len(ctx)
	require.Equal(t, 1, n)

	require.NoError(t, f.engine.handleStable(ctx, 12))
	require.Equal(t, uint64(3), f.balance(t, alice))
	n, _ = f.pending.Len(ctx)
	require.Equal(t, 0, n)

	cp, found, err := f.ledger.Checkpoint(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(12), cp)
}

func TestNewTransactionAtStableHeightAppliesImmediately(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.engine.handleStable(ctx, 40))
	tx := deposit("late", 35, alice, 9)
	require.NoError(t, f.engine.handleEvent(ctx, chain.Event{Kind: chain.EventNewTransaction, Transaction: tx}))
	require.Equal(t, uint64(9), f.balance(t, alice))
}

func TestApplyFiltersTransfers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bob := identity.Telegram(7)
	otherAsset := txHash("token")

	entry := chain.TransactionEntry{
		Hash:       txHash("mixed"),
		Topoheight: 4,
		Incoming: []chain.Transfer{
			{Asset: chain.NativeAsset, Amount: 100, ExtraData: alice.Bytes()},
			{Asset: otherAsset, Amount: 999, ExtraData: alice.Bytes()},
			{Asset: chain.NativeAsset, Amount: 50, ExtraData: []byte("memo")},
			{Asset: chain.NativeAsset, Amount: 25},
			{Asset: chain.NativeAsset, Amount: 30, ExtraData: bob.Bytes()},
		},
	}
	require.NoError(t, f.engine.observe(ctx, entry))
	require.NoError(t, f.engine.handleStable(ctx, 4))

	require.Equal(t, uint64(100), f.balance(t, alice))
	require.Equal(t, uint64(30), f.balance(t, bob))

	who, found, err := f.ledger.ProcessedBy(ctx, entry.Hash)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, alice, who)

	total, err := f.ledger.Total(ctx)
	require.NoError(t, err)
	require.LessOrEqual(t, total, uint64(100+999+50+25+30))
}

func TestOutgoingIgnored(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	entry := deposit("out", 2, alice, 10)
	entry.Outgoing = true

	require.NoError(t, f.engine.observe(ctx, entry))
	n, _ := f.pending.Len(ctx)
	require.Equal(t, 0, n)
}

type failingCredits struct {
	ledger.Store
	fail bool
}

func (s *failingCredits) Update(ctx context.Context, fn func(w ledger.Writer) error) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.Store.Update(ctx, fn)
}

func TestFailedApplyStaysQueued(t *testing.T) {
	store := &failingCredits{Store: ledger.NewMemoryStore(), fail: true}
	l := ledger.New(store)
	pending := NewMemoryPendingStore()
	e := New(chain.NewSimulated(chain.Testnet, 0), l, pending, Options{Logger: logging.Discard()})
	ctx := context.Background()

	require.NoError(t, e.observe(ctx, deposit("d", 5, alice, 80)))
	require.NoError(t, e.handleStable(ctx, 5))
	n, _ := pending.Len(ctx)
	require.Equal(t, 1, n)
	_, found, _ := l.Checkpoint(ctx)
	require.False(t, found)

	store.fail = false
	require.NoError(t, e.handleStable(ctx, 6))
	balance, _ := l.Balance(ctx, alice)
	require.Equal(t, uint64(80), balance)
}

func TestRestartKeepsPendingQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, NewRedisPendingStore(client, ""))
	startEngine(t, f, nil)
	ctx := context.Background()

	f.wallet.Receive(ctx, deposit("r1", 20, alice, 321))
	require.Eventually(t, func() bool {
		n, _ := f.engine.Pending(ctx)
		return n == 1
	}, time.Second, 5*time.Millisecond)

	f.wallet.BreakSubscriptions(errors.New("daemon connection reset"))
	f.wallet.AdvanceStable(ctx, 20)

	require.Eventually(t, func() bool { return f.balance(t, alice) == 321 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, StateRunning, f.engine.State())
}

func TestCatchUpFromCheckpoint(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.ledger.SetCheckpoint(ctx, 10))
	f.wallet.Receive(ctx, deposit("old", 8, alice, 1))
	f.wallet.Receive(ctx, deposit("new", 15, alice, 40))
	f.wallet.SetSynced(20)
	f.wallet.AdvanceStable(ctx, 20)

	startEngine(t, f, nil)
	require.Eventually(t, func() bool { return f.balance(t, alice) == 40 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		cp, _, _ := f.ledger.Checkpoint(ctx)
		return cp == 20
	}, time.Second, 5*time.Millisecond)
}

func TestCheckpointWaitsForWalletScan(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	stop := startEngine(t, f, nil)
	f.wallet.AdvanceStable(ctx, 100)
	require.Eventually(t, func() bool { return f.engine.LastStable() == 100 }, time.Second, 5*time.Millisecond)
	_, found, err := f.ledger.Checkpoint(ctx)
	require.NoError(t, err)
	require.False(t, found, "checkpoint moved past heights the wallet has not scanned")
	stop()
	<-f.engine.Done()

	// The wallet catches up while the service is down.
	f.wallet.Scan(deposit("late", 50, alice, 500))

	restarted := New(f.wallet, f.ledger, NewMemoryPendingStore(), Options{RetryInterval: 10 * time.Millisecond, Logger: logging.Discard()})
	runCtx, cancel := context.WithCancel(ctx)
	require.NoError(t, restarted.Start(runCtx, nil))
	t.Cleanup(func() {
		cancel()
		<-restarted.Done()
	})
	f.wallet.AdvanceStable(ctx, 101)

	require.Eventually(t, func() bool { return f.balance(t, alice) == 500 }, time.Second, 5*time.Millisecond)
	processed, err := f.ledger.HasProcessed(ctx, txHash("late"))
	require.NoError(t, err)
	require.True(t, processed)
}

func TestCheckpointClampedToSyncedHeight(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.wallet.Scan(deposit("a", 30, alice, 5))
	require.NoError(t, f.engine.handleStable(ctx, 80))
	require.Equal(t, uint64(5), f.balance(t, alice))

	cp, found, err := f.ledger.Checkpoint(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(30), cp)

	f.wallet.SetSynced(90)
	require.NoError(t, f.engine.handleStable(ctx, 85))
	cp, _, _ = f.ledger.Checkpoint(ctx)
	require.Equal(t, uint64(85), cp)
}
