package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/tipvault/internal/chain"
)

// PendingDeposit is an incoming transaction waiting for its topoheight to
// become stable.
type PendingDeposit struct {
	Hash       chain.Hash       `json:"hash"`
	Topoheight uint64           `json:"topoheight"`
	Transfers  []chain.Transfer `json:"transfers"`
	ObservedAt time.Time        `json:"observed_at"`
}

// PendingStore holds the deposits observed but not yet applied.
type PendingStore interface {
	// Add queues d and reports false when its hash is already queued.
	Add(ctx context.Context, d PendingDeposit) (bool, error)
	// Due returns every entry with topoheight <= height, lowest first.
	Due(ctx context.Context, height uint64) ([]PendingDeposit, error)
	Remove(ctx context.Context, hash chain.Hash) error
	Len(ctx context.Context) (int, error)
}

// MemoryPendingStore keeps the queue in process memory.
type MemoryPendingStore struct {
	mu      sync.Mutex
	entries map[chain.Hash]PendingDeposit
}

// NewMemoryPendingStore creates an empty in-memory queue.
func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{entries: make(map[chain.Hash]PendingDeposit)}
}

func (s *MemoryPendingStore) Add(_ context.Context, d PendingDeposit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[d.Hash]; ok {
		return false, nil
	}
	s.entries[d.Hash] = d
	return true, nil
}

func (s *MemoryPendingStore) Due(_ context.Context, height uint64) ([]PendingDeposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []PendingDeposit
	for _, d := range s.entries {
		if d.Topoheight <= height {
			due = append(due, d)
		}
	}
	sortByTopoheight(due)
	return due, nil
}

func (s *MemoryPendingStore) Remove(_ context.Context, hash chain.Hash) error {
	s.mu.Lock()
	delete(s.entries, hash)
	s.mu.Unlock()
	return nil
}

func (s *MemoryPendingStore) Len(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

// DefaultPendingKey is the Redis hash used by RedisPendingStore.
const DefaultPendingKey = "tipvault:pending_deposits"

// RedisPendingStore keeps the queue in a Redis hash keyed by transaction
// hash so that it survives process restarts.
type RedisPendingStore struct {
	client *redis.Client
	key    string
}

// NewRedisPendingStore stores entries under key, or DefaultPendingKey when
// key is empty.
func NewRedisPendingStore(client *redis.Client, key string) *RedisPendingStore {
	if key == "" {
		key = DefaultPendingKey
	}
	return &RedisPendingStore{client: client, key: key}
}

func (s *RedisPendingStore) Add(ctx context.Context, d PendingDeposit) (bool, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return false, fmt.Errorf("encode pending deposit: %w", err)
	}
	added, err := s.client.HSetNX(ctx, s.key, d.Hash.String(), payload).Result()
	if err != nil {
		return false, fmt.Errorf("queue pending deposit: %w", err)
	}
	return added, nil
}

func (s *RedisPendingStore) Due(ctx context.Context, height uint64) ([]PendingDeposit, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load pending deposits: %w", err)
	}
	var due []PendingDeposit
	for field, value := range raw {
		var d PendingDeposit
		if err := json.Unmarshal([]byte(value), &d); err != nil {
			return nil, fmt.Errorf("decode pending deposit %s: %w", field, err)
		}
		if d.Topoheight <= height {
			due = append(due, d)
		}
	}
	sortByTopoheight(due)
	return due, nil
}

func (s *RedisPendingStore) Remove(ctx context.Context, hash chain.Hash) error {
	if err := s.client.HDel(ctx, s.key, hash.String()).Err(); err != nil {
		return fmt.Errorf("remove pending deposit: %w", err)
	}
	return nil
}

func (s *RedisPendingStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("count pending deposits: %w", err)
	}
	return int(n), nil
}

func sortByTopoheight(entries []PendingDeposit) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Topoheight != entries[j].Topoheight {
			return entries[i].Topoheight < entries[j].Topoheight
		}
		return entries[i].Hash.String() < entries[j].Hash.String()
	})
}
