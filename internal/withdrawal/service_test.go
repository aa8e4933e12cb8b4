package withdrawal

import (
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/stretchr/testify/require"

	"github.com/congo-pay/tipvault/internal/chain"
	"github.com/congo-pay/tipvault/internal/identity"
	"github.com/congo-pay/tipvault/internal/ledger"
	"github.com/congo-pay/tipvault/internal/logging"
	"github.com/congo-pay/tipvault/internal/notification"
)

var alice = identity.Discord(7)

type staticLock bool

func (l staticLock) WithdrawalsLocked() bool { return bool(l) }

type countingNotifier struct {
	sent []notification.Message
}

func (n *countingNotifier) Send(_ context.Context, m notification.Message) error {
	n.sent = append(n.sent, m)
	return nil
}

type fixture struct {
	wallet   *chain.Simulated
	ledger   *ledger.Ledger
	service  *Service
	notifier *countingNotifier
	dest     chain.Address
}

func fundedWallet() *chain.Simulated {
	w := chain.NewSimulated(chain.Testnet, 10)
	w.Receive(context.Background(), chain.TransactionEntry{
		Hash:       sha256.Sum256([]byte("float")),
		Topoheight: 1,
		Incoming:   []chain.Transfer{{Asset: chain.NativeAsset, Amount: 1_000_000}},
	})
	return w
}

func newFixture(t *testing.T, locked bool) *fixture {
	t.Helper()
	return newFixtureWith(t, ledger.NewMemoryStore(), fundedWallet(), staticLock(locked))
}

func newFixtureWith(t *testing.T, store ledger.Store, engine chain.Engine, lock LockState) *fixture {
	t.Helper()
	l := ledger.New(store)
	n := &countingNotifier{}
	svc := NewService(l, engine, lock, n, logging.Discard(), nil)
	svc.settleBackoff = 0
	f := &fixture{
		ledger:   l,
		service:  svc,
		notifier: n,
		dest:     chain.Address{Network: chain.Testnet, PublicKey: sha256.Sum256([]byte("external"))},
	}
	switch w := engine.(type) {
	case *chain.Simulated:
		f.wallet = w
	case *feeBumpWallet:
		f.wallet = w.Simulated
	}
	return f
}

func (f *fixture) balance(t *testing.T) uint64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), alice)
	require.NoError(t, err)
	return b
}

func TestWithdrawDebitsAmountAndFee(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	ledger.SeedBalance(f.ledger, alice, 700)

	res, err := f.service.Withdraw(ctx, alice, f.dest, 400)
	require.NoError(t, err)
	require.False(t, res.Hash.IsZero())
	require.Equal(t, uint64(10), res.Fee)
	require.Equal(t, uint64(290), res.Balance)
	require.Equal(t, uint64(290), f.balance(t))

	require.Len(t, f.wallet.Submitted(), 1)
	require.Equal(t, []chain.Hash{res.Hash}, f.wallet.Applied())
	require.Len(t, f.notifier.sent, 1)
	require.Equal(t, notification.KindWithdrawal, f.notifier.sent[0].Kind)

	_, err = f.service.Withdraw(ctx, alice, f.dest, 285)
	var forFee *InsufficientFundsForFeeError
	require.ErrorAs(t, err, &forFee)
	require.Equal(t, uint64(10), forFee.Fee)
	require.Equal(t, uint64(290), f.balance(t))

	_, err = f.service.Withdraw(ctx, alice, f.dest, 695)
	var insufficient *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, uint64(695), insufficient.Amount)
	require.Equal(t, uint64(290), f.balance(t))
	require.Len(t, f.wallet.Submitted(), 1)
}

func TestWithdrawLockedRegardlessOfBalance(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	ledger.SeedBalance(f.ledger, alice, 10_000)

	for _, units := range []uint64{1, 500, 10_000, 50_000} {
		_, err := f.service.Withdraw(ctx, alice, f.dest, units)
		require.ErrorIs(t, err, ErrWithdrawalsLocked)
	}
	require.Equal(t, uint64(10_000), f.balance(t))
}

func TestWithdrawValidationOrder(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.service.Withdraw(ctx, alice, f.dest, 0)
	require.ErrorIs(t, err, ledger.ErrZeroAmount)

	f = newFixture(t, false)
	f.wallet.SetOnline(false)
	_, err = f.service.Withdraw(ctx, alice, f.dest, 5)
	require.ErrorIs(t, err, ErrWalletOffline)

	f.wallet.SetOnline(true)
	mainnet := f.dest
	mainnet.Network = chain.Mainnet
	_, err = f.service.Withdraw(ctx, alice, mainnet, 5)
	require.ErrorIs(t, err, ErrWrongNetwork)
}

func TestWithdrawBuildOrSubmitFailureLeavesLedger(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	ledger.SeedBalance(f.ledger, alice, 700)

	f.wallet.FailBuild(errors.New("no spendable outputs"))
	_, err := f.service.Withdraw(ctx, alice, f.dest, 100)
	require.ErrorContains(t, err, "build transaction")
	require.Equal(t, uint64(700), f.balance(t))

	f.wallet.FailBuild(nil)
	f.wallet.FailSubmit(errors.New("daemon rejected"))
	_, err = f.service.Withdraw(ctx, alice, f.dest, 100)
	require.ErrorContains(t, err, "submit transaction")
	require.Equal(t, uint64(700), f.balance(t))
	require.Empty(t, f.wallet.Applied())
	require.Empty(t, f.notifier.sent)
}

func TestWithdrawFeeOverflow(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	ledger.SeedBalance(f.ledger, alice, ^uint64(0))
	f.wallet.SetFee(^uint64(0))

	_, err := f.service.Withdraw(ctx, alice, f.dest, 2)
	require.ErrorIs(t, err, ErrInsufficientFundsForFee)
}

// commitFailingStore runs fn against the real store and then discards its
// writes, the way a failed commit would.
type commitFailingStore struct {
	ledger.Store
	failures atomic.Int32
}

var errCommit = errors.New("commit tx: connection reset")

func (s *commitFailingStore) Update(ctx context.Context, fn func(ledger.Writer) error) error {
	if s.failures.Load() <= 0 {
		return s.Store.Update(ctx, fn)
	}
	s.failures.Add(-1)
	return s.Store.Update(ctx, func(w ledger.Writer) error {
		if err := fn(w); err != nil {
			return err
		}
		return errCommit
	})
}

func TestWithdrawRetriesDebitAfterFailedCommit(t *testing.T) {
	store := &commitFailingStore{Store: ledger.NewMemoryStore()}
	f := newFixtureWith(t, store, fundedWallet(), staticLock(false))
	ctx := context.Background()
	ledger.SeedBalance(f.ledger, alice, 700)
	store.failures.Store(1)

	res, err := f.service.Withdraw(ctx, alice, f.dest, 400)
	require.NoError(t, err)
	require.Equal(t, uint64(290), res.Balance)
	require.Equal(t, uint64(290), f.balance(t))
	require.Len(t, f.wallet.Submitted(), 1)
	require.Equal(t, []chain.Hash{res.Hash}, f.wallet.Applied())
}

func TestWithdrawUnsettledAfterSubmit(t *testing.T) {
	store := &commitFailingStore{Store: ledger.NewMemoryStore()}
	f := newFixtureWith(t, store, fundedWallet(), staticLock(false))
	ctx := context.Background()
	ledger.SeedBalance(f.ledger, alice, 700)
	store.failures.Store(100)

	_, err := f.service.Withdraw(ctx, alice, f.dest, 400)
	var unsettled *UnsettledError
	require.ErrorAs(t, err, &unsettled)
	require.ErrorIs(t, err, ErrUnsettled)
	require.ErrorIs(t, err, errCommit)
	require.Len(t, f.wallet.Submitted(), 1)
	require.Equal(t, f.wallet.Submitted()[0].Hash, unsettled.Hash)
	require.Equal(t, uint64(10), unsettled.Fee)

	app := fiber.New()
	app.Post("/withdrawals", NewHandler(f.service).Withdraw)
	body := `{"user":"discord:7","address":"` + f.dest.String() + `","amount":"0.000004"}`
	req := httptest.NewRequest(http.MethodPost, "/withdrawals", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(raw))
	require.Contains(t, string(raw), `"status":"submitted"`)
	require.Len(t, f.wallet.Submitted(), 2)
}

// lockDuringWait reports unlocked on the first check and locked afterwards.
type lockDuringWait struct {
	calls atomic.Int32
}

func (l *lockDuringWait) WithdrawalsLocked() bool {
	return l.calls.Add(1) > 1
}

func TestWithdrawRechecksLockInsideSection(t *testing.T) {
	f := newFixtureWith(t, ledger.NewMemoryStore(), fundedWallet(), &lockDuringWait{})
	ledger.SeedBalance(f.ledger, alice, 700)

	_, err := f.service.Withdraw(context.Background(), alice, f.dest, 400)
	require.ErrorIs(t, err, ErrWithdrawalsLocked)
	require.Empty(t, f.wallet.Submitted())
	require.Equal(t, uint64(700), f.balance(t))
}

// feeBumpWallet builds transactions paying more than the estimate.
type feeBumpWallet struct {
	*chain.Simulated
	extra uint64
}

func (w *feeBumpWallet) Build(ctx context.Context, spec chain.TransferSpec, fee uint64) (*chain.Transaction, error) {
	return w.Simulated.Build(ctx, spec, fee+w.extra)
}

func TestWithdrawDebitsBuiltFee(t *testing.T) {
	f := newFixtureWith(t, ledger.NewMemoryStore(), &feeBumpWallet{Simulated: fundedWallet(), extra: 5}, staticLock(false))
	ctx := context.Background()
	ledger.SeedBalance(f.ledger, alice, 700)

	res, err := f.service.Withdraw(ctx, alice, f.dest, 400)
	require.NoError(t, err)
	require.Equal(t, uint64(15), res.Fee)
	require.Equal(t, uint64(285), f.balance(t))

	// 271+10 fits the estimate, 271+15 exceeds the remaining 285.
	_, err = f.service.Withdraw(ctx, alice, f.dest, 271)
	var forFee *InsufficientFundsForFeeError
	require.ErrorAs(t, err, &forFee)
	require.Equal(t, uint64(15), forFee.Fee)
	require.Equal(t, uint64(285), f.balance(t))
	require.Len(t, f.wallet.Submitted(), 1)
}
