package chain

import (
	"context"
	"errors"
	"sync"
)

// ErrSubscriptionClosed is the Err of a subscription closed by its consumer.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Subscription yields values on C until the producer fails or Close is
// called. Done is closed at that point and Err reports why.
type Subscription[T any] interface {
	C() <-chan T
	Done() <-chan struct{}
	Err() error
	Close()
}

// Feed is a channel-backed Subscription used by engine implementations.
type Feed[T any] struct {
	ch   chan T
	done chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

// NewFeed creates a feed with the given buffer size.
func NewFeed[T any](buffer int) *Feed[T] {
	return &Feed[T]{ch: make(chan T, buffer), done: make(chan struct{})}
}

// C implements Subscription.
func (f *Feed[T]) C() <-chan T {
	return f.ch
}

// Err implements Subscription.
func (f *Feed[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close implements Subscription.
func (f *Feed[T]) Close() {
	f.Fail(ErrSubscriptionClosed)
}

// Done implements Subscription.
func (f *Feed[T]) Done() <-chan struct{} {
	return f.done
}

// Publish delivers v unless the feed is closed or ctx ends first. It reports
// whether v was delivered.
func (f *Feed[T]) Publish(ctx context.Context, v T) bool {
	select {
	case <-f.done:
		return false
	default:
	}
	select {
	case f.ch <- v:
		return true
	case <-f.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Fail terminates the feed with err. Only the first call has an effect.
func (f *Feed[T]) Fail(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
	})
}
