// Package async tracks a single asynchronous action through
// idle → pending → resolved/rejected for whoever owns it (a screen, a CLI
// command, a mutation).
//
//	op := async.New[*Book]()
//	p, _ := op.Run(async.Go(ctx, fetchBook))
//	book, err := p.Await(ctx)
//	st := op.State() // resolved with book, or rejected with err
//
// Once the owner calls Close, results that arrive later are dropped without
// touching state or calling listeners.
package async

import (
	"errors"
	"sync"
)

// ErrNotAPromise is returned by Run when it is given a nil promise, which
// usually means the function meant to build it returned nothing.
var ErrNotAPromise = errors.New("async: Run needs a non-nil promise; did the function that builds it return nil?")

type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusResolved
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusResolved:
		return "resolved"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// State is a snapshot of an Operation.
type State[T any] struct {
	Status Status
	Data   T
	Err    error
}

func (s State[T]) IsIdle() bool    { return s.Status == StatusIdle }
func (s State[T]) IsLoading() bool { return s.Status == StatusPending }
func (s State[T]) IsSuccess() bool { return s.Status == StatusResolved }
func (s State[T]) IsError() bool   { return s.Status == StatusRejected }

type Option[T any] func(*Operation[T])

// WithInitialState sets the state New starts in and Reset returns to.
func WithInitialState[T any](s State[T]) Option[T] {
	return func(o *Operation[T]) { o.initial = s }
}

// Operation is safe for concurrent use. Listeners run after the internal
// lock is released, on the goroutine that caused the change.
type Operation[T any] struct {
	mu        sync.Mutex
	initial   State[T]
	state     State[T]
	seq       uint64 // bumped by every transition; a run only settles its own seq
	closed    bool
	listeners map[uint64]func(State[T])
	nextID    uint64
}

func New[T any](opts ...Option[T]) *Operation[T] {
	o := &Operation[T]{listeners: make(map[uint64]func(State[T]))}
	for _, opt := range opts {
		opt(o)
	}
	o.state = o.initial
	return o
}

func (o *Operation[T]) State() State[T] {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Run moves to pending (clearing Err, keeping Data) and settles to resolved
// or rejected with p's outcome. The same promise is returned so the caller
// can await it and handle the rejection too.
//
// A later Run, SetData, SetError or Reset supersedes this run: its result
// is then discarded.
func (o *Operation[T]) Run(p *Promise[T]) (*Promise[T], error) {
	if p == nil {
		return nil, ErrNotAPromise
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return p, nil
	}
	o.seq++
	seq := o.seq
	o.state.Status = StatusPending
	o.state.Err = nil
	st, ls := o.state, o.listenersLocked()
	o.mu.Unlock()
	notify(ls, st)

	p.whenSettled(func(v T, err error) {
		o.mu.Lock()
		if o.closed || seq != o.seq {
			o.mu.Unlock()
			return
		}
		if err != nil {
			o.state.Status = StatusRejected
			o.state.Err = err
		} else {
			o.state = State[T]{Status: StatusResolved, Data: v}
		}
		st, ls := o.state, o.listenersLocked()
		o.mu.Unlock()
		notify(ls, st)
	})
	return p, nil
}

// SetData forces resolved with v.
func (o *Operation[T]) SetData(v T) {
	o.transition(func(s *State[T]) {
		*s = State[T]{Status: StatusResolved, Data: v}
	})
}

// SetError forces rejected with err; Data is left as it was.
func (o *Operation[T]) SetError(err error) {
	o.transition(func(s *State[T]) {
		s.Status = StatusRejected
		s.Err = err
	})
}

// Reset returns to the initial state.
func (o *Operation[T]) Reset() {
	o.transition(func(s *State[T]) { *s = o.initial })
}

// Subscribe calls fn with every new state until cancel is called or the
// operation is closed.
func (o *Operation[T]) Subscribe(fn func(State[T])) (cancel func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return func() {}
	}
	o.nextID++
	id := o.nextID
	o.listeners[id] = fn
	return func() {
		o.mu.Lock()
		delete(o.listeners, id)
		o.mu.Unlock()
	}
}

// Close tears the operation down. Nothing changes its state afterwards and
// listeners are dropped. Close is idempotent.
func (o *Operation[T]) Close() {
	o.mu.Lock()
	o.closed = true
	o.listeners = nil
	o.mu.Unlock()
}

func (o *Operation[T]) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Operation[T]) transition(apply func(*State[T])) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.seq++
	apply(&o.state)
	st, ls := o.state, o.listenersLocked()
	o.mu.Unlock()
	notify(ls, st)
}

func (o *Operation[T]) listenersLocked() []func(State[T]) {
	if len(o.listeners) == 0 {
		return nil
	}
	ls := make([]func(State[T]), 0, len(o.listeners))
	for _, fn := range o.listeners {
		ls = append(ls, fn)
	}
	return ls
}

func notify[T any](ls []func(State[T]), st State[T]) {
	for _, fn := range ls {
		fn(st)
	}
}
