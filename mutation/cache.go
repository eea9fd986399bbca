package mutation

import (
	"context"
	"errors"

	"github.com/unkn0wn-root/querycache"
)

// Optimistic returns an OnMutate step that patches the cached value at key.
// Capturing the prior bytes and writing the patch happen as one cache
// update, and the returned Rollback restores exactly those bytes.
//
// patch receives ok=false when nothing usable is cached; returning
// write=false leaves the entry alone (the rollback is then a no-op).
func Optimistic[In, V any](
	cache *querycache.Cache[V],
	key querycache.Key,
	patch func(in In, prev V, ok bool) (next V, write bool),
) func(ctx context.Context, in In) (Rollback, error) {
	return func(ctx context.Context, in In) (Rollback, error) {
		wrote := false
		snap, err := cache.Update(ctx, key, func(prev V, ok bool) (V, bool) {
			next, write := patch(in, prev, ok)
			wrote = write
			return next, write
		})
		if err != nil {
			return nil, err
		}
		if !wrote {
			return func(context.Context) error { return nil }, nil
		}
		return func(ctx context.Context) error { return cache.Restore(ctx, snap) }, nil
	}
}

// InvalidateOnSettle returns an OnSettled step that invalidates every key
// so the next read refetches. Keys are all attempted; failures are joined.
func InvalidateOnSettle[In, Out, V any](cache *querycache.Cache[V], keys ...querycache.Key) func(ctx context.Context, out Out, err error, in In) error {
	return func(ctx context.Context, _ Out, _ error, _ In) error {
		var errs []error
		for _, k := range keys {
			if err := cache.Invalidate(ctx, k); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// Settled chains several OnSettled steps; each one runs even if an earlier
// one failed.
func Settled[In, Out any](steps ...func(ctx context.Context, out Out, err error, in In) error) func(ctx context.Context, out Out, err error, in In) error {
	return func(ctx context.Context, out Out, err error, in In) error {
		var errs []error
		for _, s := range steps {
			if serr := s(ctx, out, err, in); serr != nil {
				errs = append(errs, serr)
			}
		}
		return errors.Join(errs...)
	}
}
