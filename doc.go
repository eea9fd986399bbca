// Package querycache is the client-side query cache behind the bookshelf data
// layer. It stores API results under query keys, lets mutations patch them
// optimistically and roll them back, and marks them invalidated so the next
// read refetches.
//
// Freshness is tracked with per-key generations. Every write records the
// generation it was made under; Invalidate bumps the generation, so
// everything written before the bump is stale and every fetch that started
// before the bump is refused when it tries to store its (now outdated)
// result.
//
// Components:
//   - Provider: byte store with TTL (memory, Ristretto, BigCache, Redis, bolt).
//   - Codec[V]: (de)serializes V <-> []byte.
//   - GenStore: generation counter per key. Local (in-process) by default,
//     Redis when several processes share a provider.
//
// Keys:
//
//	single:<ns>:<name>[#<params-hash>]  - one query result
//	bulk:<ns>:<hash>                    - a seeded set of results (hash over sorted keys)
//
// Read-through:
//
//	items, err := cache.Fetch(ctx, querycache.NewKey("list-items"), func(ctx context.Context) ([]ListItem, error) {
//	    return api.ListItems(ctx)
//	})
//
// Optimistic write with exact rollback:
//
//	snap, _ := cache.Update(ctx, key, func(prev []ListItem, ok bool) ([]ListItem, bool) { ... })
//	if err := remoteWrite(); err != nil {
//	    _ = cache.Restore(ctx, snap)
//	}
//	_ = cache.Invalidate(ctx, key)
package querycache
