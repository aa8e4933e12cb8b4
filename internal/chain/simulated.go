package chain

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrInsufficientOnChain is returned by Simulated.Build when the wallet cannot
// cover amount plus fee.
var ErrInsufficientOnChain = errors.New("insufficient on-chain balance")

const simulatedFeedBuffer = 64

// Simulated is an in-process wallet engine. It backs tests and the
// WALLET_MODE=simulated development mode.
type Simulated struct {
	mu sync.Mutex

	network   Network
	publicKey [32]byte
	fee       uint64
	online    bool

	balances map[Hash]uint64
	history  []TransactionEntry
	synced   uint64
	stable   uint64
	nonce    uint64

	submitted []*Transaction
	applied   []Hash

	buildErr  error
	submitErr error

	eventFeeds  []*Feed[Event]
	heightFeeds []*Feed[uint64]
}

// NewSimulated creates an online simulated wallet charging a flat fee.
func NewSimulated(network Network, fee uint64) *Simulated {
	return &Simulated{
		network:   network,
		publicKey: sha256.Sum256([]byte("simulated:" + string(network))),
		fee:       fee,
		online:    true,
		balances:  make(map[Hash]uint64),
	}
}

func (s *Simulated) Network() Network {
	return s.network
}

func (s *Simulated) IsOnline(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetOnline toggles the simulated daemon connection.
func (s *Simulated) SetOnline(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
}

// SetFee changes the flat fee.
func (s *Simulated) SetFee(fee uint64) {
	s.mu.Lock()
	s.fee = fee
	s.mu.Unlock()
}

// FailBuild makes Build return err until reset with nil.
func (s *Simulated) FailBuild(err error) {
	s.mu.Lock()
	s.buildErr = err
	s.mu.Unlock()
}

// FailSubmit makes Submit return err until reset with nil.
func (s *Simulated) FailSubmit(err error) {
	s.mu.Lock()
	s.submitErr = err
	s.mu.Unlock()
}

func (s *Simulated) Balance(_ context.Context, asset Hash) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[asset], nil
}

func (s *Simulated) SyncedTopoheight(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced, nil
}

func (s *Simulated) StableTopoheight(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stable, nil
}

// PublicKey returns the wallet key embedded in derived addresses.
func (s *Simulated) PublicKey() [32]byte {
	return s.publicKey
}

func (s *Simulated) DeriveAddress(payload []byte) (Address, error) {
	return Address{Network: s.network, PublicKey: s.publicKey, Payload: append([]byte(nil), payload...)}, nil
}

func (s *Simulated) SubscribeEvents(ctx context.Context) (Subscription[Event], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return nil, ErrOffline
	}
	feed := NewFeed[Event](simulatedFeedBuffer)
	s.eventFeeds = append(s.eventFeeds, feed)
	go closeOnDone(ctx, feed)
	return feed, nil
}

func (s *Simulated) SubscribeStableTopoheight(ctx context.Context) (Subscription[uint64], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return nil, ErrOffline
	}
	feed := NewFeed[uint64](simulatedFeedBuffer)
	s.heightFeeds = append(s.heightFeeds, feed)
	go closeOnDone(ctx, feed)
	return feed, nil
}

func closeOnDone[T any](ctx context.Context, feed *Feed[T]) {
	select {
	case <-ctx.Done():
		feed.Fail(ctx.Err())
	case <-feed.Done():
	}
}

func (s *Simulated) History(_ context.Context, from uint64) ([]TransactionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TransactionEntry
	for _, entry := range s.history {
		if entry.Topoheight >= from {
			out = append(out, entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Topoheight < out[j].Topoheight })
	return out, nil
}

func (s *Simulated) EstimateFee(context.Context, TransferSpec) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return 0, ErrOffline
	}
	return s.fee, nil
}

func (s *Simulated) Build(_ context.Context, spec TransferSpec, fee uint64) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buildErr != nil {
		return nil, s.buildErr
	}
	if s.balances[spec.Asset] < spec.Amount+fee {
		return nil, fmt.Errorf("%w: need %d", ErrInsufficientOnChain, spec.Amount+fee)
	}
	s.nonce++
	return &Transaction{
		Hash:  s.nextHash("tx"),
		Fee:   fee,
		Data:  spec.Destination.PublicKey[:],
		State: spec,
	}, nil
}

func (s *Simulated) Submit(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return ErrOffline
	}
	if s.submitErr != nil {
		return s.submitErr
	}
	s.submitted = append(s.submitted, tx)
	return nil
}

// ApplySpend deducts the submitted amount and fee from the simulated balance.
func (s *Simulated) ApplySpend(_ context.Context, tx *Transaction) error {
	spec, ok := tx.State.(TransferSpec)
	if !ok {
		return fmt.Errorf("unexpected spend state %T", tx.State)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[spec.Asset] -= spec.Amount + tx.Fee
	s.applied = append(s.applied, tx.Hash)
	return nil
}

// Rescan replays history from the given topoheight as NewTransaction events,
// framed by Rescan and Synced events.
func (s *Simulated) Rescan(ctx context.Context, from uint64) error {
	s.publishEvent(ctx, Event{Kind: EventRescan, Topoheight: from})
	entries, err := s.History(ctx, from)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		s.publishEvent(ctx, Event{Kind: EventNewTransaction, Transaction: entry})
	}
	synced, _ := s.SyncedTopoheight(ctx)
	s.publishEvent(ctx, Event{Kind: EventSynced, Topoheight: synced})
	return nil
}

// Receive records an incoming transaction and publishes it.
func (s *Simulated) Receive(ctx context.Context, entry TransactionEntry) {
	s.mu.Lock()
	for _, t := range entry.Incoming {
		s.balances[t.Asset] += t.Amount
	}
	s.history = append(s.history, entry)
	if entry.Topoheight > s.synced {
		s.synced = entry.Topoheight
	}
	s.mu.Unlock()
	s.publishEvent(ctx, Event{Kind: EventNewTransaction, Transaction: entry})
}

// SetSynced moves the wallet's scan progress without delivering anything.
func (s *Simulated) SetSynced(height uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synced = height
}

// Scan records an entry in the wallet history without publishing an event,
// as a wallet catching up on blocks does.
func (s *Simulated) Scan(entry TransactionEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range entry.Incoming {
		s.balances[t.Asset] += t.Amount
	}
	s.history = append(s.history, entry)
	if entry.Topoheight > s.synced {
		s.synced = entry.Topoheight
	}
}

// AdvanceStable moves the daemon's stable topoheight and publishes the change.
// The wallet's synced height is left alone, so it can lag behind.
func (s *Simulated) AdvanceStable(ctx context.Context, height uint64) {
	s.mu.Lock()
	s.stable = height
	feeds := append([]*Feed[uint64](nil), s.heightFeeds...)
	s.mu.Unlock()
	for _, f := range feeds {
		f.Publish(ctx, height)
	}
}

// Emit publishes an arbitrary event to subscribers.
func (s *Simulated) Emit(ctx context.Context, ev Event) {
	s.publishEvent(ctx, ev)
}

// BreakSubscriptions fails every live subscription with err.
func (s *Simulated) BreakSubscriptions(err error) {
	s.mu.Lock()
	events, heights := s.eventFeeds, s.heightFeeds
	s.eventFeeds, s.heightFeeds = nil, nil
	s.mu.Unlock()
	for _, f := range events {
		f.Fail(err)
	}
	for _, f := range heights {
		f.Fail(err)
	}
}

// Submitted returns the transactions accepted by Submit.
func (s *Simulated) Submitted() []*Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Transaction(nil), s.submitted...)
}

// Applied returns hashes passed to ApplySpend.
func (s *Simulated) Applied() []Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Hash(nil), s.applied...)
}

func (s *Simulated) publishEvent(ctx context.Context, ev Event) {
	s.mu.Lock()
	feeds := append([]*Feed[Event](nil), s.eventFeeds...)
	s.mu.Unlock()
	for _, f := range feeds {
		f.Publish(ctx, ev)
	}
}

// nextHash must be called with s.mu held.
func (s *Simulated) nextHash(kind string) Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], s.nonce)
	return sha256.Sum256(append([]byte(kind+":"+string(s.network)+":"), buf[:]...))
}
