package ledger

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemoryStore creates a concurrency-safe in-memory store useful for unit
// tests and development mode.
func NewMemoryStore() Store {
	return &memoryStore{data: make(map[string]map[string][]byte)}
}

func (s *memoryStore) View(_ context.Context, fn func(Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memoryTx{store: s})
}

func (s *memoryStore) Update(_ context.Context, fn func(Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, staged: make(map[string]map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	for ns, kv := range tx.staged {
		bucket, ok := s.data[ns]
		if !ok {
			bucket = make(map[string][]byte)
			s.data[ns] = bucket
		}
		for k, v := range kv {
			bucket[k] = v
		}
	}
	return nil
}

// memoryTx reads through staged writes to the committed data. The owning
// store lock is held for the tx lifetime.
type memoryTx struct {
	store  *memoryStore
	staged map[string]map[string][]byte
}

func (tx *memoryTx) Get(_ context.Context, namespace string, key []byte) ([]byte, error) {
	if v, ok := tx.staged[namespace][string(key)]; ok {
		return clone(v), nil
	}
	if v, ok := tx.store.data[namespace][string(key)]; ok {
		return clone(v), nil
	}
	return nil, ErrNotFound
}

func (tx *memoryTx) Has(ctx context.Context, namespace string, key []byte) (bool, error) {
	_, err := tx.Get(ctx, namespace, key)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (tx *memoryTx) Scan(_ context.Context, namespace string, fn func(key, value []byte) error) error {
	seen := make(map[string]struct{})
	for k, v := range tx.staged[namespace] {
		seen[k] = struct{}{}
		if err := fn([]byte(k), clone(v)); err != nil {
			return err
		}
	}
	for k, v := range tx.store.data[namespace] {
		if _, ok := seen[k]; ok {
			continue
		}
		if err := fn([]byte(k), clone(v)); err != nil {
			return err
		}
	}
	return nil
}

func (tx *memoryTx) Set(_ context.Context, namespace string, key, value []byte) error {
	bucket, ok := tx.staged[namespace]
	if !ok {
		bucket = make(map[string][]byte)
		tx.staged[namespace] = bucket
	}
	bucket[string(key)] = clone(value)
	return nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
