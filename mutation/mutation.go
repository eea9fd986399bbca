// Package mutation wraps a remote write with an optimistic local change,
// a rollback when the write fails, and a settle step (usually cache
// invalidation) that runs whatever the outcome.
//
// Order of events for one call to Mutate:
//
//  1. OnMutate runs synchronously on the caller's goroutine.
//  2. The write is dispatched.
//  3. On failure the Rollback returned by OnMutate runs, then OnError.
//     On success OnSuccess runs.
//  4. OnSettled runs.
//  5. The returned promise (and the mutation's async state) settles.
//
// So by the time a caller observes an error the cache already holds the
// state from before the optimistic step.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/async"
)

var (
	ErrNilMutate = errors.New("mutation: Options.Mutate is required")
	ErrPanic     = errors.New("mutation: panic in mutate function")
)

// Rollback undoes an optimistic change.
type Rollback func(ctx context.Context) error

// Observer is told how every mutation ended. promhooks.Hooks implements it.
type Observer interface {
	MutationSettled(name string, d time.Duration, err error)
}

type Options[In, Out any] struct {
	// Name labels logs and observer calls. Default "mutation".
	Name string

	// Mutate performs the remote write. Required.
	Mutate func(ctx context.Context, in In) (Out, error)

	// OnMutate applies the optimistic change before Mutate is dispatched and
	// returns how to undo it. An error aborts the call without dispatching.
	OnMutate func(ctx context.Context, in In) (Rollback, error)

	OnSuccess func(ctx context.Context, out Out, in In)
	OnError   func(ctx context.Context, err error, in In)

	// OnSettled runs after success or failure. A returned error is logged; it
	// does not change the outcome.
	OnSettled func(ctx context.Context, out Out, err error, in In) error

	Logger   querycache.Logger // nil => NopLogger
	Observer Observer
}

// Mutation is one mutate function together with its own loading/error
// state, like a button that owns its request.
type Mutation[In, Out any] struct {
	opts Options[In, Out]
	op   *async.Operation[Out]
	log  querycache.Logger
	now  func() time.Time
}

func New[In, Out any](opts Options[In, Out]) (*Mutation[In, Out], error) {
	if opts.Mutate == nil {
		return nil, ErrNilMutate
	}
	if opts.Name == "" {
		opts.Name = "mutation"
	}
	m := &Mutation[In, Out]{
		opts: opts,
		op:   async.New[Out](),
		log:  opts.Logger,
		now:  time.Now,
	}
	if m.log == nil {
		m.log = querycache.NopLogger{}
	}
	return m, nil
}

func (m *Mutation[In, Out]) Name() string { return m.opts.Name }

// State is the state of the most recent call.
func (m *Mutation[In, Out]) State() async.State[Out] { return m.op.State() }

func (m *Mutation[In, Out]) Subscribe(fn func(async.State[Out])) (cancel func()) {
	return m.op.Subscribe(fn)
}

// Reset forgets the last outcome. A call still in flight no longer updates
// the state.
func (m *Mutation[In, Out]) Reset() { m.op.Reset() }

// Close detaches the state from any call still in flight. The calls
// themselves run to completion, rollback and settle steps included.
func (m *Mutation[In, Out]) Close() { m.op.Close() }

// Mutate runs one mutation. The returned promise rejects with the write's
// error after the rollback has run.
func (m *Mutation[In, Out]) Mutate(ctx context.Context, in In) *async.Promise[Out] {
	start := m.now()

	var rb Rollback
	if m.opts.OnMutate != nil {
		var err error
		if rb, err = m.opts.OnMutate(ctx, in); err != nil {
			err = fmt.Errorf("%s: optimistic update: %w", m.opts.Name, err)
			m.log.Warn("optimistic update failed", querycache.Fields{"mutation": m.opts.Name, "err": err})
			m.observe(start, err)
			p := async.Rejected[Out](err)
			_, _ = m.op.Run(p)
			return p
		}
	}

	p := async.Go(ctx, func(ctx context.Context) (Out, error) {
		out, err := m.call(ctx, in)
		// rollback and settle steps must run even if the caller gave up
		bg := context.WithoutCancel(ctx)
		if err != nil {
			if rb != nil {
				if rbErr := rb(bg); rbErr != nil {
					m.log.Error("rollback failed", querycache.Fields{"mutation": m.opts.Name, "err": rbErr})
					err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
				}
			}
			if m.opts.OnError != nil {
				m.opts.OnError(bg, err, in)
			}
		} else if m.opts.OnSuccess != nil {
			m.opts.OnSuccess(bg, out, in)
		}
		if m.opts.OnSettled != nil {
			if serr := m.opts.OnSettled(bg, out, err, in); serr != nil {
				m.log.Warn("settle step failed", querycache.Fields{"mutation": m.opts.Name, "err": serr})
			}
		}
		m.observe(start, err)
		return out, err
	})
	_, _ = m.op.Run(p)
	return p
}

// MutateAndWait is Mutate followed by Await.
func (m *Mutation[In, Out]) MutateAndWait(ctx context.Context, in In) (Out, error) {
	return m.Mutate(ctx, in).Await(ctx)
}

func (m *Mutation[In, Out]) call(ctx context.Context, in In) (out Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return m.opts.Mutate(ctx, in)
}

func (m *Mutation[In, Out]) observe(start time.Time, err error) {
	if m.opts.Observer != nil {
		m.opts.Observer.MutationSettled(m.opts.Name, m.now().Sub(start), err)
	}
	if err == nil {
		m.log.Debug("mutation settled", querycache.Fields{"mutation": m.opts.Name})
	}
}
