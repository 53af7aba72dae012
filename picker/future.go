package picker

import (
	"context"
	"sync"
)

// Future is a single-shot result. The first Resolve or Cancel wins and
// later calls are ignored.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	settled   bool
	value     T
	ok        bool
	callbacks []func(T, bool)
}

// NewFuture returns a pending future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve settles the future with v. It reports whether this call settled it.
func (f *Future[T]) Resolve(v T) bool { return f.settle(v, true) }

// Cancel settles the future without a value.
func (f *Future[T]) Cancel() bool {
	var zero T
	return f.settle(zero, false)
}

func (f *Future[T]) settle(v T, ok bool) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.value, f.ok = v, ok
	cbs := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range cbs {
		cb(v, ok)
	}
	return true
}

// OnSettle registers fn. It runs in the settling goroutine, or immediately
// when the future has already settled.
func (f *Future[T]) OnSettle(fn func(T, bool)) {
	f.mu.Lock()
	if !f.settled {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	v, ok := f.value, f.ok
	f.mu.Unlock()
	fn(v, ok)
}

// Done is closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Settled reports whether the future has settled.
func (f *Future[T]) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Result returns the value and whether the future was resolved with one.
// A pending or cancelled future returns the zero value and false.
func (f *Future[T]) Result() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.ok
}

// Wait blocks until the future settles or ctx ends.
func (f *Future[T]) Wait(ctx context.Context) (T, bool, error) {
	select {
	case <-f.done:
		v, ok := f.Result()
		return v, ok, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}
