// Package rpc adapts a remote wallet daemon to chain.Engine. Calls use
// JSON-RPC 2.0 over HTTP at <url>/json_rpc; notifications arrive over a
// websocket on the same path.
package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/congo-pay/tipvault/internal/chain"
	"github.com/congo-pay/tipvault/internal/infra"
)

const (
	defaultTimeout = 30 * time.Second
	rpcPath        = "/json_rpc"
)

// ErrNetworkMismatch is returned by Open when the daemon runs another network.
var ErrNetworkMismatch = errors.New("wallet network mismatch")

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Config locates the wallet daemon.
type Config struct {
	URL      string
	User     string
	Password string
	Network  chain.Network
	// DaemonAddress switches the wallet to online mode against this node
	// when it is not online yet.
	DaemonAddress string
	Timeout       time.Duration
}

// Client is a chain.Engine backed by a remote wallet.
type Client struct {
	cfg       Config
	endpoint  string
	headers   map[string]string
	publicKey [32]byte
	nextID    atomic.Uint64

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// New builds a client without contacting the daemon.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	headers := map[string]string{}
	if cfg.User != "" || cfg.Password != "" {
		token := base64.StdEncoding.EncodeToString([]byte(cfg.User + ":" + cfg.Password))
		headers["Authorization"] = "Basic " + token
	}
	return &Client{
		cfg:      cfg,
		endpoint: strings.TrimRight(cfg.URL, "/") + rpcPath,
		headers:  headers,
		subs:     make(map[*subscription]struct{}),
	}
}

// Open connects to the wallet, checks its network, puts it online when a
// daemon address is configured and loads the wallet key used for deposit
// addresses.
func Open(ctx context.Context, cfg Config) (*Client, error) {
	c := New(cfg)

	var network string
	if err := c.call(ctx, "get_network", nil, &network); err != nil {
		return nil, fmt.Errorf("get network: %w", err)
	}
	got, err := chain.ParseNetwork(network)
	if err != nil {
		return nil, err
	}
	if got != cfg.Network {
		return nil, fmt.Errorf("%w: wallet runs %s, configured %s", ErrNetworkMismatch, got, cfg.Network)
	}

	if cfg.DaemonAddress != "" && !c.IsOnline(ctx) {
		params := map[string]string{"daemon_address": cfg.DaemonAddress}
		if err := c.call(ctx, "set_online_mode", params, nil); err != nil {
			return nil, fmt.Errorf("set online mode: %w", err)
		}
	}

	var encoded string
	if err := c.call(ctx, "get_address", nil, &encoded); err != nil {
		return nil, fmt.Errorf("get address: %w", err)
	}
	addr, err := chain.ParseAddress(encoded)
	if err != nil {
		return nil, fmt.Errorf("wallet address: %w", err)
	}
	if addr.Network != cfg.Network {
		return nil, fmt.Errorf("%w: address is for %s", ErrNetworkMismatch, addr.Network)
	}
	c.publicKey = addr.PublicKey
	return c, nil
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := request{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params}
	var resp response
	if err := infra.PostJSON(c.endpoint, c.headers, c.cfg.Timeout, req, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) Network() chain.Network {
	return c.cfg.Network
}

// IsOnline reports false when the wallet cannot be reached either.
func (c *Client) IsOnline(ctx context.Context) bool {
	var online bool
	if err := c.call(ctx, "is_online", nil, &online); err != nil {
		return false
	}
	return online
}

func (c *Client) Balance(ctx context.Context, asset chain.Hash) (uint64, error) {
	var balance uint64
	err := c.call(ctx, "get_balance", map[string]any{"asset": asset}, &balance)
	return balance, err
}

func (c *Client) SyncedTopoheight(ctx context.Context) (uint64, error) {
	var h uint64
	err := c.call(ctx, "get_topoheight", nil, &h)
	return h, err
}

func (c *Client) StableTopoheight(ctx context.Context) (uint64, error) {
	var h uint64
	err := c.call(ctx, "get_stable_topoheight", nil, &h)
	return h, err
}

// DeriveAddress embeds payload in the wallet's own address.
func (c *Client) DeriveAddress(payload []byte) (chain.Address, error) {
	if c.publicKey == ([32]byte{}) {
		return chain.Address{}, errors.New("wallet address not loaded")
	}
	return chain.Address{Network: c.cfg.Network, PublicKey: c.publicKey, Payload: append([]byte(nil), payload...)}, nil
}

func (c *Client) History(ctx context.Context, from uint64) ([]chain.TransactionEntry, error) {
	var entries []chain.TransactionEntry
	params := map[string]any{"min_topoheight": from, "accept_incoming": true, "accept_outgoing": false}
	if err := c.call(ctx, "list_transactions", params, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

type transferParams struct {
	Destination string     `json:"destination"`
	Asset       chain.Hash `json:"asset"`
	Amount      uint64     `json:"amount"`
	ExtraData   []byte     `json:"extra_data,omitempty"`
}

func transfersOf(spec chain.TransferSpec) []transferParams {
	return []transferParams{{
		Destination: spec.Destination.String(),
		Asset:       spec.Asset,
		Amount:      spec.Amount,
		ExtraData:   spec.ExtraData,
	}}
}

func (c *Client) EstimateFee(ctx context.Context, spec chain.TransferSpec) (uint64, error) {
	var fee uint64
	err := c.call(ctx, "estimate_fees", map[string]any{"transfers": transfersOf(spec)}, &fee)
	return fee, err
}

type builtTransaction struct {
	Hash chain.Hash `json:"hash"`
	Fee  uint64     `json:"fee"`
	Data []byte     `json:"data"`
}

// Build asks the wallet to build and sign without broadcasting.
func (c *Client) Build(ctx context.Context, spec chain.TransferSpec, fee uint64) (*chain.Transaction, error) {
	params := map[string]any{
		"transfers": transfersOf(spec),
		"fee":       fee,
		"broadcast": false,
	}
	var built builtTransaction
	if err := c.call(ctx, "build_transaction", params, &built); err != nil {
		return nil, err
	}
	return &chain.Transaction{Hash: built.Hash, Fee: built.Fee, Data: built.Data}, nil
}

func (c *Client) Submit(ctx context.Context, tx *chain.Transaction) error {
	return c.call(ctx, "submit_transaction", map[string]any{"data": tx.Data}, nil)
}

// ApplySpend tells the wallet to mark the inputs of tx as spent.
func (c *Client) ApplySpend(ctx context.Context, tx *chain.Transaction) error {
	return c.call(ctx, "apply_spend", map[string]any{"hash": tx.Hash}, nil)
}

func (c *Client) Rescan(ctx context.Context, from uint64) error {
	return c.call(ctx, "rescan", map[string]any{"until_topoheight": from}, nil)
}

// Close terminates every open subscription.
func (c *Client) Close() error {
	c.mu.Lock()
	subs := make([]*subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()
	for _, s := range subs {
		s.close(chain.ErrSubscriptionClosed)
	}
	return nil
}

var _ chain.Engine = (*Client)(nil)
