package querycache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	c "github.com/unkn0wn-root/querycache/codec"
	gen "github.com/unkn0wn-root/querycache/genstore"
	"github.com/unkn0wn-root/querycache/internal/wire"
	pr "github.com/unkn0wn-root/querycache/provider"
)

// Entry is a cached value as seen by Peek. Stale entries were invalidated
// (or written under an older generation): Get ignores them and Fetch
// refetches, but they stay readable until replaced.
type Entry[V any] struct {
	Value     V
	Gen       uint64
	Stale     bool
	UpdatedAt time.Time
}

// Snapshot is the exact stored state of a key captured by Update. Restore
// puts those bytes back, or deletes the key if it was absent.
type Snapshot struct {
	ns         string
	key        Key
	storageKey string
	raw        []byte
	present    bool
}

func (s Snapshot) Key() Key       { return s.key }
func (s Snapshot) Present() bool  { return s.present }
func (s Snapshot) IsZero() bool   { return s.storageKey == "" }
func (s Snapshot) Bytes() []byte  { return s.raw }
func (s Snapshot) String() string { return s.storageKey }

// FetchFunc loads the authoritative value for a key.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Cache is a namespaced query cache over a byte Provider.
// All methods are safe for concurrent use.
type Cache[V any] struct {
	ns             string
	provider       pr.Provider
	codec          c.Codec[V]
	log            Logger
	hooks          Hooks
	enabled        bool
	bulkEnabled    bool
	defaultTTL     time.Duration
	bulkTTL        time.Duration
	computeSetCost SetCostFunc
	gen            gen.GenStore
	ownsGen        bool
	now            func() time.Time

	sf singleflight.Group

	// mu serializes every read-modify-write on stored bytes so a captured
	// snapshot and the patch applied on top of it are never interleaved
	// with another writer.
	mu sync.Mutex

	idxMu sync.Mutex
	index map[string]struct{} // storage keys written by this instance

	subs subscribers
}

func New[V any](opts Options[V]) (*Cache[V], error) {
	if opts.Provider == nil {
		return nil, ErrNilProvider
	}
	if opts.Codec == nil {
		return nil, ErrNilCodec
	}
	if opts.Namespace == "" {
		return nil, ErrNamespace
	}

	cc := &Cache[V]{
		ns:          opts.Namespace,
		provider:    opts.Provider,
		codec:       opts.Codec,
		enabled:     !opts.Disabled,
		bulkEnabled: !opts.DisableBulk,
		index:       make(map[string]struct{}),
		now:         time.Now,
	}

	cc.log = coalesce[Logger](opts.Logger, NopLogger{})
	cc.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	cc.defaultTTL = coalesce(opts.DefaultTTL, defaultTTL)
	cc.bulkTTL = coalesce(opts.BulkTTL, cc.defaultTTL)

	if opts.ComputeSetCost != nil {
		cc.computeSetCost = opts.ComputeSetCost
	} else {
		cc.computeSetCost = func(_ string, _ []byte, _ bool, _ int) int64 { return 1 }
	}

	if opts.GenStore != nil {
		cc.gen = opts.GenStore
	} else {
		// a pruned generation reads as 0 again; keep gens around for longer
		// than any entry written under them can live
		retention := coalesce(opts.GenRetention, defaultGenRetention)
		if floor := 2 * max(cc.defaultTTL, cc.bulkTTL); retention < floor {
			retention = floor
		}
		cc.gen = gen.NewLocalGenStore(coalesce(opts.CleanupInterval, defaultSweep), retention)
		cc.ownsGen = true

		if opts.SharedProvider && cc.bulkEnabled {
			cc.hooks.LocalGenWithBulk()
			cc.log.Warn("bulk enabled with local genstore over a shared provider", Fields{"ns": cc.ns})
		}
	}

	if opts.Registry != nil {
		opts.Registry.Register(cc)
	}
	return cc, nil
}

func (cc *Cache[V]) Enabled() bool     { return cc.enabled }
func (cc *Cache[V]) Namespace() string { return cc.ns }

func (cc *Cache[V]) Close(ctx context.Context) error {
	var errs []error
	if cc.ownsGen {
		errs = append(errs, cc.gen.Close(ctx))
	}
	errs = append(errs, cc.provider.Close(ctx))
	return errors.Join(errs...)
}

// Get returns the fresh value for key. Stale (invalidated) entries miss.
func (cc *Cache[V]) Get(ctx context.Context, key Key) (V, bool, error) {
	var zero V
	e, ok, err := cc.Peek(ctx, key)
	if err != nil || !ok || e.Stale {
		return zero, false, err
	}
	return e.Value, true, nil
}

// Peek returns whatever is stored for key, stale or not.
func (cc *Cache[V]) Peek(ctx context.Context, key Key) (Entry[V], bool, error) {
	if !cc.enabled {
		return Entry[V]{}, false, nil
	}
	sk := cc.singleKey(key)
	raw, ok, err := cc.provider.Get(ctx, sk)
	if err != nil || !ok {
		return Entry[V]{}, false, err
	}
	rec, err := wire.DecodeRecord(raw)
	if err != nil {
		cc.selfHeal(ctx, sk, "corrupt")
		return Entry[V]{}, false, nil
	}
	v, err := cc.codec.Decode(rec.Payload)
	if err != nil {
		cc.selfHeal(ctx, sk, "value_decode")
		return Entry[V]{}, false, nil
	}

	stale := rec.Stale
	if !stale {
		cur, err := cc.snapshotGen(ctx, sk)
		// without a generation we cannot prove freshness
		stale = err != nil || cur != rec.Gen
	}
	return Entry[V]{
		Value:     v,
		Gen:       rec.Gen,
		Stale:     stale,
		UpdatedAt: time.UnixMilli(rec.UpdatedAt),
	}, true, nil
}

// Set stores value under the key's current generation, so it is fresh until
// the next invalidation.
func (cc *Cache[V]) Set(ctx context.Context, key Key, value V) error {
	if !cc.enabled {
		return nil
	}
	sk := cc.singleKey(key)

	cc.mu.Lock()
	g, err := cc.snapshotGen(ctx, sk)
	if err != nil {
		cc.mu.Unlock()
		return err
	}
	ok, err := cc.write(ctx, sk, value, g, cc.defaultTTL)
	cc.mu.Unlock()

	if ok {
		cc.subs.emit(Event{Key: key, Kind: EventUpdated}, sk)
	}
	return err
}

// SetWithGen stores value only if the key's generation still equals
// observedGen. A fetch that raced an invalidation is dropped silently.
func (cc *Cache[V]) SetWithGen(ctx context.Context, key Key, value V, observedGen uint64, ttl time.Duration) error {
	if !cc.enabled {
		return nil
	}
	if ttl == 0 {
		ttl = cc.defaultTTL
	}
	sk := cc.singleKey(key)

	cc.mu.Lock()
	cur, err := cc.snapshotGen(ctx, sk)
	if err != nil || cur != observedGen {
		cc.mu.Unlock()
		cc.log.Debug("SetWithGen skipped (gen mismatch)", Fields{"key": sk, "obs": observedGen, "cur": cur})
		return nil
	}
	ok, err := cc.write(ctx, sk, value, observedGen, ttl)
	cc.mu.Unlock()

	if ok {
		cc.subs.emit(Event{Key: key, Kind: EventUpdated}, sk)
	}
	return err
}

// Update applies fn to the stored value (stale or not; ok=false when absent
// or unreadable) and stores the result under a new generation, so fetches
// that started before the update cannot overwrite it. When fn returns
// write=false nothing is stored. The returned Snapshot holds the exact bytes
// that were there before, for Restore; restored bytes read as stale.
//
// Capture and write happen under the cache's write lock.
func (cc *Cache[V]) Update(ctx context.Context, key Key, fn func(prev V, ok bool) (next V, write bool)) (Snapshot, error) {
	sk := cc.singleKey(key)
	snap := Snapshot{ns: cc.ns, key: key, storageKey: sk}
	if !cc.enabled {
		return snap, nil
	}

	cc.mu.Lock()
	raw, present, err := cc.provider.Get(ctx, sk)
	if err != nil {
		cc.mu.Unlock()
		return Snapshot{}, err
	}
	if present {
		snap.raw = append([]byte(nil), raw...)
		snap.present = true
	}

	var (
		prev V
		had  bool
	)
	if present {
		if rec, err := wire.DecodeRecord(raw); err == nil {
			if v, err := cc.codec.Decode(rec.Payload); err == nil {
				prev, had = v, true
			}
		}
	}

	next, write := fn(prev, had)
	if !write {
		cc.mu.Unlock()
		return snap, nil
	}
	g, err := cc.gen.Bump(ctx, sk)
	if err != nil {
		cc.mu.Unlock()
		cc.hooks.GenBumpError(sk, err)
		return snap, err
	}
	ok, err := cc.write(ctx, sk, next, g, cc.defaultTTL)
	cc.mu.Unlock()

	if ok {
		cc.subs.emit(Event{Key: key, Kind: EventUpdated}, sk)
	}
	return snap, err
}

// Restore puts back the bytes captured in snap. It is not a recomputation:
// whatever was written since the snapshot is discarded.
func (cc *Cache[V]) Restore(ctx context.Context, snap Snapshot) error {
	if snap.IsZero() || snap.ns != cc.ns {
		return ErrBadSnapshot
	}
	if !cc.enabled {
		return nil
	}
	sk := snap.storageKey
	kind := EventUpdated

	cc.mu.Lock()
	var err error
	if snap.present {
		var ok bool
		ok, err = cc.provider.Set(ctx, sk, snap.raw, cc.computeSetCost(sk, snap.raw, false, 1), cc.defaultTTL)
		if err == nil && !ok {
			// could not put the old bytes back; make sure the patch goes too
			cc.hooks.ProviderSetRejected(sk, false)
			err = cc.provider.Del(ctx, sk)
			kind = EventRemoved
		}
	} else {
		err = cc.provider.Del(ctx, sk)
		kind = EventRemoved
	}
	cc.mu.Unlock()

	if err != nil {
		return err
	}
	cc.hooks.RolledBack(sk)
	cc.log.Debug("restored snapshot", Fields{"key": sk, "present": snap.present})
	cc.subs.emit(Event{Key: snap.key, Kind: kind}, sk)
	return nil
}

// Fetch returns the fresh cached value or loads it with fn. Concurrent
// fetches of the same key share one call to fn, which runs detached from any
// single caller's cancellation; each caller stops waiting when its own ctx
// is done. The result is stored only if no invalidation happened while fn
// ran.
func (cc *Cache[V]) Fetch(ctx context.Context, key Key, fn FetchFunc[V]) (V, error) {
	var zero V
	if !cc.enabled {
		return fn(ctx)
	}
	v, ok, err := cc.Get(ctx, key)
	if err != nil {
		cc.log.Warn("cache read failed; fetching", Fields{"key": key.String(), "err": err})
	} else if ok {
		return v, nil
	}

	sk := cc.singleKey(key)
	shared := context.WithoutCancel(ctx)
	ch := cc.sf.DoChan(sk, func() (any, error) {
		obs, gerr := cc.snapshotGen(shared, sk)
		v, err := fn(shared)
		if err != nil {
			return nil, err
		}
		if gerr == nil {
			if err := cc.SetWithGen(shared, key, v, obs, 0); err != nil {
				cc.log.Warn("storing fetched value failed", Fields{"key": sk, "err": err})
			}
		}
		return fetched[V]{v: v}, nil
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(fetched[V]).v, nil
	}
}

type fetched[V any] struct{ v V }

// Invalidate marks key stale: its generation is bumped (so in-flight fetches
// will not store) and the stored record is flagged. The value stays
// readable through Peek until the next successful fetch replaces it.
func (cc *Cache[V]) Invalidate(ctx context.Context, key Key) error {
	if !cc.enabled {
		return nil
	}
	sk := cc.singleKey(key)

	cc.mu.Lock()
	_, bumpErr := cc.gen.Bump(ctx, sk)
	markErr := cc.markStale(ctx, sk)
	cc.mu.Unlock()

	if err := cc.invalidateResult(key.String(), sk, bumpErr, markErr); err != nil {
		return err
	}
	cc.hooks.Invalidated(cc.ns, 1)
	cc.log.Debug("invalidated key", Fields{"key": sk})
	cc.subs.emit(Event{Key: key, Kind: EventInvalidated}, sk)
	return nil
}

// InvalidatePrefix invalidates every key named name, whatever its params.
func (cc *Cache[V]) InvalidatePrefix(ctx context.Context, name string) error {
	if !cc.enabled {
		return nil
	}
	sks, err := cc.keysByName(ctx, name)
	if err != nil {
		return err
	}
	if len(sks) == 0 {
		return nil
	}

	cc.mu.Lock()
	_, bumpErr := cc.gen.BumpMany(ctx, sks)
	var markErrs []error
	for _, sk := range sks {
		if err := cc.markStale(ctx, sk); err != nil {
			markErrs = append(markErrs, err)
		}
	}
	cc.mu.Unlock()

	if err := cc.invalidateResult(name, cc.singlePrefix()+name, bumpErr, errors.Join(markErrs...)); err != nil {
		return err
	}
	cc.hooks.Invalidated(cc.ns, len(sks))
	cc.log.Debug("invalidated prefix", Fields{"name": name, "keys": len(sks)})
	cc.subs.emitMany(EventInvalidated, sks)
	return nil
}

// Remove deletes key outright. Its generation is bumped as well so a fetch
// that is still running cannot bring the old value back.
func (cc *Cache[V]) Remove(ctx context.Context, key Key) error {
	if !cc.enabled {
		return nil
	}
	sk := cc.singleKey(key)

	cc.mu.Lock()
	_, bumpErr := cc.gen.Bump(ctx, sk)
	delErr := cc.provider.Del(ctx, sk)
	cc.mu.Unlock()
	cc.untrack(sk)

	if err := cc.invalidateResult(key.String(), sk, bumpErr, delErr); err != nil {
		return err
	}
	cc.subs.emit(Event{Key: key, Kind: EventRemoved}, sk)
	return nil
}

// RemovePrefix deletes every key named name.
func (cc *Cache[V]) RemovePrefix(ctx context.Context, name string) error {
	if !cc.enabled {
		return nil
	}
	sks, err := cc.keysByName(ctx, name)
	if err != nil {
		return err
	}
	if len(sks) == 0 {
		return nil
	}
	bumpErr, delErr := cc.dropAll(ctx, sks)
	if err := cc.invalidateResult(name, cc.singlePrefix()+name, bumpErr, delErr); err != nil {
		return err
	}
	cc.subs.emitMany(EventRemoved, sks)
	return nil
}

// Clear drops every entry of the namespace, singles and bulks. Used on
// logout and on 401 so nothing fetched with the old credentials survives.
func (cc *Cache[V]) Clear(ctx context.Context) error {
	if !cc.enabled {
		return nil
	}
	singles, err := cc.keysWithPrefix(ctx, cc.singlePrefix())
	if err != nil {
		return err
	}
	bulks, err := cc.keysWithPrefix(ctx, cc.bulkPrefix())
	if err != nil {
		return err
	}

	bumpErr, delErr := cc.dropAll(ctx, singles)
	var bulkErrs []error
	for _, bk := range bulks {
		if err := cc.provider.Del(ctx, bk); err != nil {
			bulkErrs = append(bulkErrs, err)
		}
		cc.untrack(bk)
	}
	delErr = errors.Join(delErr, errors.Join(bulkErrs...))

	cc.log.Info("cache cleared", Fields{"ns": cc.ns, "singles": len(singles), "bulks": len(bulks)})
	cc.subs.emitAll(Event{Kind: EventCleared})
	if bumpErr != nil && delErr != nil {
		return cc.invalidateResult(cc.ns, cc.singlePrefix(), bumpErr, delErr)
	}
	return delErr
}

func (cc *Cache[V]) dropAll(ctx context.Context, sks []string) (bumpErr, delErr error) {
	cc.mu.Lock()
	_, bumpErr = cc.gen.BumpMany(ctx, sks)
	var delErrs []error
	for _, sk := range sks {
		if err := cc.provider.Del(ctx, sk); err != nil {
			delErrs = append(delErrs, err)
		}
	}
	cc.mu.Unlock()
	for _, sk := range sks {
		cc.untrack(sk)
	}
	return bumpErr, errors.Join(delErrs...)
}

// SnapshotGen returns the current generation of key for a later SetWithGen.
// A generation store error reads as 0; the CAS write will then be skipped.
func (cc *Cache[V]) SnapshotGen(key Key) uint64 {
	g, _ := cc.snapshotGen(context.Background(), cc.singleKey(key))
	return g
}

func (cc *Cache[V]) SnapshotGens(keys []Key) map[Key]uint64 {
	storage := make([]string, len(keys))
	for i, k := range keys {
		storage[i] = cc.singleKey(k)
	}
	out := make(map[Key]uint64, len(keys))
	m, err := cc.gen.SnapshotMany(context.Background(), storage)
	if err != nil {
		cc.hooks.GenSnapshotError(len(keys), err)
		for _, k := range keys {
			out[k] = cc.SnapshotGen(k)
		}
		return out
	}
	for i, k := range keys {
		out[k] = m[storage[i]]
	}
	return out
}

// Subscribe registers fn for events on key. Clear events reach every
// subscriber. fn runs on the goroutine that made the change, after the
// cache has released its locks.
func (cc *Cache[V]) Subscribe(key Key, fn func(Event)) (cancel func()) {
	return cc.subs.add(cc.singleKey(key), key, fn)
}

// write encodes and stores value. Callers hold cc.mu.
func (cc *Cache[V]) write(ctx context.Context, sk string, value V, g uint64, ttl time.Duration) (bool, error) {
	payload, err := cc.codec.Encode(value)
	if err != nil {
		return false, err
	}
	b := wire.EncodeRecord(wire.Record{Gen: g, UpdatedAt: cc.now().UnixMilli(), Payload: payload})
	ok, err := cc.provider.Set(ctx, sk, b, cc.computeSetCost(sk, b, false, 1), ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		cc.hooks.ProviderSetRejected(sk, false)
		cc.log.Debug("Set rejected by provider (pressure)", Fields{"key": sk})
		return false, nil
	}
	cc.track(sk)
	return true, nil
}

// markStale flags the stored record as invalidated. Records that cannot be
// rewritten are deleted instead. Callers hold cc.mu.
func (cc *Cache[V]) markStale(ctx context.Context, sk string) error {
	raw, ok, err := cc.provider.Get(ctx, sk)
	if err != nil {
		return cc.provider.Del(ctx, sk)
	}
	if !ok {
		return nil
	}
	rec, err := wire.DecodeRecord(raw)
	if err != nil {
		return cc.provider.Del(ctx, sk)
	}
	if rec.Stale {
		return nil
	}
	rec.Stale = true
	b := wire.EncodeRecord(rec)
	ok, err = cc.provider.Set(ctx, sk, b, cc.computeSetCost(sk, b, false, 1), cc.defaultTTL)
	if err != nil || !ok {
		return cc.provider.Del(ctx, sk)
	}
	return nil
}

func (cc *Cache[V]) invalidateResult(key, sk string, bumpErr, delErr error) error {
	if bumpErr != nil {
		cc.hooks.GenBumpError(sk, bumpErr)
		cc.log.Error("gen bump error", Fields{"key": sk, "err": bumpErr})
	}
	if bumpErr != nil && delErr != nil {
		cc.hooks.InvalidateOutage(key, bumpErr, delErr)
		return &InvalidateError{Key: key, BumpErr: bumpErr, DelErr: delErr}
	}
	if delErr != nil {
		// the bump alone already makes the entry stale
		cc.log.Warn("clearing stored bytes failed", Fields{"key": sk, "err": delErr})
	}
	return nil
}

func (cc *Cache[V]) selfHeal(ctx context.Context, sk, reason string) {
	_ = cc.provider.Del(ctx, sk)
	cc.untrack(sk)
	cc.hooks.SelfHealSingle(sk, reason)
	cc.log.Debug("self-healed entry", Fields{"key": sk, "reason": reason})
}

func (cc *Cache[V]) snapshotGen(ctx context.Context, sk string) (uint64, error) {
	g, err := cc.gen.Snapshot(ctx, sk)
	if err != nil {
		cc.hooks.GenSnapshotError(1, err)
		cc.log.Warn("gen snapshot error", Fields{"key": sk, "err": err})
		return 0, err
	}
	return g, nil
}

// keysByName returns the single storage keys for name: the bare key and
// every parameterised variant.
func (cc *Cache[V]) keysByName(ctx context.Context, name string) ([]string, error) {
	base := cc.singlePrefix() + name
	all, err := cc.keysWithPrefix(ctx, base)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, sk := range all {
		if sk == base || strings.HasPrefix(sk, base+"#") {
			out = append(out, sk)
		}
	}
	return out, nil
}

// keysWithPrefix merges the keys this instance wrote with those the provider
// can enumerate.
func (cc *Cache[V]) keysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]struct{})
	cc.idxMu.Lock()
	for sk := range cc.index {
		if strings.HasPrefix(sk, prefix) {
			seen[sk] = struct{}{}
		}
	}
	cc.idxMu.Unlock()

	if sc, ok := cc.provider.(pr.Scanner); ok {
		ks, err := sc.Keys(ctx, prefix)
		if err != nil {
			return nil, err
		}
		for _, sk := range ks {
			seen[sk] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for sk := range seen {
		out = append(out, sk)
	}
	sort.Strings(out)
	return out, nil
}

func (cc *Cache[V]) track(sk string) {
	cc.idxMu.Lock()
	cc.index[sk] = struct{}{}
	cc.idxMu.Unlock()
}

func (cc *Cache[V]) untrack(sk string) {
	cc.idxMu.Lock()
	delete(cc.index, sk)
	cc.idxMu.Unlock()
}

func (cc *Cache[V]) singlePrefix() string { return "single:" + cc.ns + ":" }
func (cc *Cache[V]) bulkPrefix() string   { return "bulk:" + cc.ns + ":" }

func (cc *Cache[V]) singleKey(k Key) string {
	return cc.singlePrefix() + k.String()
}
