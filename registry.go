package querycache

import (
	"context"
	"errors"
	"sync"
)

// Clearer is anything that can drop all of its cached state.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Registry tracks every cache of a session so that logging out, or a 401
// from the API, clears all of them in one call.
type Registry struct {
	mu      sync.Mutex
	next    int
	members map[int]Clearer
}

func NewRegistry() *Registry {
	return &Registry{members: make(map[int]Clearer)}
}

// Register adds c and returns a func that removes it again.
func (r *Registry) Register(c Clearer) (unregister func()) {
	r.mu.Lock()
	if r.members == nil {
		r.members = make(map[int]Clearer)
	}
	r.next++
	id := r.next
	r.members[id] = c
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.members, id)
		r.mu.Unlock()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Clear clears every registered cache. All members are attempted; their
// errors are joined.
func (r *Registry) Clear(ctx context.Context) error {
	r.mu.Lock()
	members := make([]Clearer, 0, len(r.members))
	for _, c := range r.members {
		members = append(members, c)
	}
	r.mu.Unlock()

	var errs []error
	for _, c := range members {
		if err := c.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
