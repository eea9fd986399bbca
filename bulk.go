package querycache

import (
	"context"
	"sort"
	"time"

	"github.com/unkn0wn-root/querycache/internal/util"
	"github.com/unkn0wn-root/querycache/internal/wire"
)

// GetBulk reads many keys at once. A seeded bulk entry is used only when
// every member is still at the generation it was seeded with; otherwise the
// bulk is dropped and the keys are read one by one. Order of the result is
// not significant; missing lists the keys that need fetching.
func (cc *Cache[V]) GetBulk(ctx context.Context, keys []Key) (map[Key]V, []Key, error) {
	out := make(map[Key]V, len(keys))
	if !cc.enabled {
		return out, append([]Key(nil), keys...), nil
	}
	if len(keys) == 0 {
		return out, nil, nil
	}

	if cc.bulkEnabled {
		if hit, ok := cc.readBulk(ctx, keys); ok {
			var missing []Key
			for _, k := range keys {
				if v, ok := hit[k]; ok {
					out[k] = v
				} else {
					missing = append(missing, k)
				}
			}
			return out, missing, nil
		}
	}

	var missing []Key
	for _, k := range keys {
		v, ok, err := cc.Get(ctx, k)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			out[k] = v
		} else {
			missing = append(missing, k)
		}
	}
	return out, missing, nil
}

func (cc *Cache[V]) readBulk(ctx context.Context, keys []Key) (map[Key]V, bool) {
	byName := make(map[string]Key, len(keys))
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		s := k.String()
		if _, dup := byName[s]; !dup {
			names = append(names, s)
		}
		byName[s] = k
	}
	sort.Strings(names)

	bk := cc.bulkKeySorted(names)
	raw, ok, err := cc.provider.Get(ctx, bk)
	if err != nil || !ok {
		return nil, false
	}
	items, err := wire.DecodeSeed(raw)
	if err != nil {
		cc.hooks.BulkRejected(cc.ns, len(keys), "decode_error")
		_ = cc.provider.Del(ctx, bk)
		return nil, false
	}

	sks := make([]string, len(items))
	for i, it := range items {
		sks[i] = cc.singlePrefix() + it.Key
	}
	gens, err := cc.gen.SnapshotMany(ctx, sks)
	if err != nil {
		cc.hooks.GenSnapshotError(len(sks), err)
		cc.hooks.BulkRejected(cc.ns, len(keys), "snapshot_error")
		return nil, false
	}

	out := make(map[Key]V, len(items))
	genByKey := make(map[Key]uint64, len(items))
	for i, it := range items {
		k, known := byName[it.Key]
		if !known || gens[sks[i]] != it.Gen {
			cc.hooks.BulkRejected(cc.ns, len(keys), "invalid_or_stale")
			_ = cc.provider.Del(ctx, bk)
			cc.untrack(bk)
			return nil, false
		}
		v, err := cc.codec.Decode(it.Payload)
		if err != nil {
			cc.hooks.BulkRejected(cc.ns, len(keys), "decode_error")
			_ = cc.provider.Del(ctx, bk)
			cc.untrack(bk)
			return nil, false
		}
		out[k] = v
		genByKey[k] = it.Gen
	}

	// warm singles so later single-key reads agree with the bulk
	for k, v := range out {
		_ = cc.SetWithGen(ctx, k, v, genByKey[k], cc.defaultTTL)
	}
	return out, true
}

// SetBulkWithGens seeds many keys at once. Each value is stored only if its
// key is still at observedGens[key]; if any member moved, only the singles
// that are still current are written and the bulk entry is skipped.
func (cc *Cache[V]) SetBulkWithGens(ctx context.Context, items map[Key]V, observedGens map[Key]uint64, ttl time.Duration) error {
	if !cc.enabled || len(items) == 0 {
		return nil
	}
	if ttl == 0 {
		ttl = cc.bulkTTL
	}

	seedSingles := func() error {
		for k, v := range items {
			obs, ok := observedGens[k]
			if !ok {
				continue
			}
			if err := cc.SetWithGen(ctx, k, v, obs, cc.defaultTTL); err != nil {
				return err
			}
		}
		return nil
	}
	if !cc.bulkEnabled {
		return seedSingles()
	}

	keys := make([]Key, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	cur := cc.SnapshotGens(keys)
	for _, k := range keys {
		obs, ok := observedGens[k]
		if !ok || cur[k] != obs {
			cc.log.Debug("SetBulkWithGens: bulk skipped (gen mismatch)", Fields{"key": k.String()})
			return seedSingles()
		}
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	names := make([]string, len(keys))
	seed := make([]wire.SeedItem, 0, len(keys))
	for i, k := range keys {
		payload, err := cc.codec.Encode(items[k])
		if err != nil {
			return err
		}
		names[i] = k.String()
		seed = append(seed, wire.SeedItem{Key: names[i], Gen: observedGens[k], Payload: payload})
	}
	b, err := wire.EncodeSeed(seed)
	if err != nil {
		return err
	}

	bk := cc.bulkKeySorted(names)
	ok, err := cc.provider.Set(ctx, bk, b, cc.computeSetCost(bk, b, true, len(items)), ttl)
	if err != nil {
		return err
	}
	if ok {
		cc.track(bk)
	} else {
		cc.hooks.ProviderSetRejected(bk, true)
		cc.log.Debug("bulk Set rejected; seeding singles", Fields{"bulkKey": bk})
	}
	return seedSingles()
}

func (cc *Cache[V]) bulkKeySorted(sortedNames []string) string {
	return util.BulkKeySorted("bulk:"+cc.ns, sortedNames)
}
