// Package chain defines the contract the ledger needs from the wallet engine:
// address derivation, event subscriptions and transaction building.
package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// HashSize is the byte length of transaction and asset hashes.
const HashSize = 32

// Hash identifies a transaction or an asset.
type Hash [HashSize]byte

// NativeAsset is the chain's base coin.
var NativeAsset Hash

var (
	// ErrInvalidHash is returned by ParseHash for malformed input.
	ErrInvalidHash = errors.New("invalid hash")
	// ErrOffline is returned by engines that cannot reach their daemon.
	ErrOffline = errors.New("wallet is offline")
	// ErrUnknownNetwork is returned by ParseNetwork.
	ErrUnknownNetwork = errors.New("unknown network")
)

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the hash bytes.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash decodes a hex-encoded hash.
func ParseHash(s string) (Hash, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(raw) != HashSize {
		return Hash{}, fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}

// HashFromBytes copies raw into a Hash.
func HashFromBytes(raw []byte) (Hash, error) {
	if len(raw) != HashSize {
		return Hash{}, fmt.Errorf("%w: %d bytes", ErrInvalidHash, len(raw))
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Network selects which chain the wallet operates on.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Devnet  Network = "devnet"
)

// ParseNetwork validates a network name.
func ParseNetwork(s string) (Network, error) {
	switch n := Network(strings.ToLower(strings.TrimSpace(s))); n {
	case Mainnet, Testnet, Devnet:
		return n, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNetwork, s)
	}
}

// Transfer is one output of an incoming transaction.
type Transfer struct {
	Asset     Hash   `json:"asset"`
	Amount    uint64 `json:"amount"`
	ExtraData []byte `json:"extra_data,omitempty"`
}

// TransactionEntry is a wallet history entry. Incoming is empty for
// transactions the wallet sent.
type TransactionEntry struct {
	Hash       Hash       `json:"hash"`
	Topoheight uint64     `json:"topoheight"`
	Outgoing   bool       `json:"outgoing,omitempty"`
	Incoming   []Transfer `json:"incoming,omitempty"`
}

// EventKind enumerates wallet events.
type EventKind int

const (
	// EventNewTransaction reports a transaction affecting the wallet, not yet final.
	EventNewTransaction EventKind = iota + 1
	// EventRescan reports the wallet is about to replay history from Topoheight.
	EventRescan
	// EventSynced reports the wallet finished syncing up to Topoheight.
	EventSynced
)

func (k EventKind) String() string {
	switch k {
	case EventNewTransaction:
		return "new_transaction"
	case EventRescan:
		return "rescan"
	case EventSynced:
		return "synced"
	default:
		return "unknown"
	}
}

// Event is delivered by Engine.SubscribeEvents.
type Event struct {
	Kind        EventKind
	Transaction TransactionEntry
	Topoheight  uint64
}

// TransferSpec describes a single-transfer payout.
type TransferSpec struct {
	Destination Address
	Asset       Hash
	Amount      uint64
	ExtraData   []byte
}

// Transaction is a built and signed transaction. State is engine specific
// spend-tracking data applied with Engine.ApplySpend after submission.
type Transaction struct {
	Hash  Hash
	Fee   uint64
	Data  []byte
	State any
}

// Engine is the wallet engine collaborator.
type Engine interface {
	Network() Network
	IsOnline(ctx context.Context) bool
	Balance(ctx context.Context, asset Hash) (uint64, error)
	SyncedTopoheight(ctx context.Context) (uint64, error)
	StableTopoheight(ctx context.Context) (uint64, error)

	// DeriveAddress returns a deposit address embedding payload.
	DeriveAddress(payload []byte) (Address, error)

	SubscribeEvents(ctx context.Context) (Subscription[Event], error)
	SubscribeStableTopoheight(ctx context.Context) (Subscription[uint64], error)
	// History lists entries with topoheight >= from, in topoheight order.
	History(ctx context.Context, from uint64) ([]TransactionEntry, error)

	EstimateFee(ctx context.Context, spec TransferSpec) (uint64, error)
	Build(ctx context.Context, spec TransferSpec, fee uint64) (*Transaction, error)
	Submit(ctx context.Context, tx *Transaction) error
	ApplySpend(ctx context.Context, tx *Transaction) error
	Rescan(ctx context.Context, from uint64) error
}
