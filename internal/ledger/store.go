package ledger

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Reader.Get for absent keys.
var ErrNotFound = errors.New("key not found")

// Reader reads namespaced keys.
type Reader interface {
	Get(ctx context.Context, namespace string, key []byte) ([]byte, error)
	Has(ctx context.Context, namespace string, key []byte) (bool, error)
	// Scan calls fn for every key of the namespace. Iteration order is unspecified.
	Scan(ctx context.Context, namespace string, fn func(key, value []byte) error) error
}

// Writer extends Reader with writes visible to later reads of the same Writer.
type Writer interface {
	Reader
	Set(ctx context.Context, namespace string, key, value []byte) error
}

// Store is the durable key/value backend of the ledger. Update is atomic:
// either every Set made by fn is persisted or none is.
type Store interface {
	View(ctx context.Context, fn func(Reader) error) error
	Update(ctx context.Context, fn func(Writer) error) error
}
