package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNilRejection replaces a nil error passed to reject.
	ErrNilRejection = errors.New("async: promise rejected with a nil error")
	// ErrPanic wraps a panic recovered from a Go function.
	ErrPanic = errors.New("async: panic in promise function")
)

// Promise is a result that settles exactly once, either resolved with a
// value or rejected with an error. Later settle calls are ignored.
type Promise[T any] struct {
	mu       sync.Mutex
	done     chan struct{}
	settled  bool
	val      T
	err      error
	onSettle []func(T, error)
}

// NewPromise returns a pending promise and the functions that settle it.
func NewPromise[T any]() (p *Promise[T], resolve func(T), reject func(error)) {
	p = &Promise[T]{done: make(chan struct{})}
	return p, func(v T) { p.settle(v, nil) }, func(err error) {
		if err == nil {
			err = ErrNilRejection
		}
		var zero T
		p.settle(zero, err)
	}
}

// Go runs fn on a new goroutine and settles the promise with its result.
// A panic in fn rejects the promise with ErrPanic.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Promise[T] {
	p, resolve, reject := NewPromise[T]()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				reject(fmt.Errorf("%w: %v", ErrPanic, r))
			}
		}()
		v, err := fn(ctx)
		if err != nil {
			reject(err)
			return
		}
		resolve(v)
	}()
	return p
}

func Resolved[T any](v T) *Promise[T] {
	p, resolve, _ := NewPromise[T]()
	resolve(v)
	return p
}

func Rejected[T any](err error) *Promise[T] {
	p, _, reject := NewPromise[T]()
	reject(err)
	return p
}

// Then chains fn onto p. A rejection of p skips fn and rejects the result.
func Then[T, U any](ctx context.Context, p *Promise[T], fn func(ctx context.Context, v T) (U, error)) *Promise[U] {
	return Go(ctx, func(ctx context.Context) (U, error) {
		v, err := p.Await(ctx)
		if err != nil {
			var zero U
			return zero, err
		}
		return fn(ctx, v)
	})
}

// Done is closed once the promise has settled.
func (p *Promise[T]) Done() <-chan struct{} { return p.done }

// Await blocks until the promise settles or ctx is done.
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Settled reports the outcome without blocking; ok is false while pending.
func (p *Promise[T]) Settled() (v T, err error, ok bool) {
	select {
	case <-p.done:
		return p.val, p.err, true
	default:
		var zero T
		return zero, nil, false
	}
}

// whenSettled registers fn to run at settle time, before Done is closed, so
// anyone woken by Done already sees fn's effects. If p has already settled
// fn runs immediately on the caller's goroutine.
func (p *Promise[T]) whenSettled(fn func(T, error)) {
	p.mu.Lock()
	if p.settled {
		v, err := p.val, p.err
		p.mu.Unlock()
		fn(v, err)
		return
	}
	p.onSettle = append(p.onSettle, fn)
	p.mu.Unlock()
}

func (p *Promise[T]) settle(v T, err error) {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return
	}
	p.settled = true
	p.val, p.err = v, err
	cbs := p.onSettle
	p.onSettle = nil
	p.mu.Unlock()

	for _, fn := range cbs {
		fn(v, err)
	}
	close(p.done)
}
