package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/querycache"
	"github.com/unkn0wn-root/querycache/codec"
	"github.com/unkn0wn-root/querycache/genstore"
	"github.com/unkn0wn-root/querycache/provider"
	"github.com/unkn0wn-root/querycache/provider/bigcache"
	"github.com/unkn0wn-root/querycache/provider/bolt"
	"github.com/unkn0wn-root/querycache/provider/memory"
	"github.com/unkn0wn-root/querycache/provider/redis"
	"github.com/unkn0wn-root/querycache/provider/ristretto"
)

// Provider names accepted in cache.provider.
const (
	ProviderMemory    = "memory"
	ProviderRistretto = "ristretto"
	ProviderBigCache  = "bigcache"
	ProviderRedis     = "redis"
	ProviderBolt      = "bolt"
)

// Backend hands out the byte store for each cache namespace. In-process
// stores are created per namespace; a bolt file or a Redis connection is
// opened once and shared, and Backend.Close releases it.
type Backend struct {
	cfg    CacheConfig
	rdb    goredis.UniversalClient
	shared provider.Provider
}

func OpenBackend(cfg CacheConfig) (*Backend, error) {
	b := &Backend{cfg: cfg}
	switch cfg.Provider {
	case "", ProviderMemory, ProviderRistretto, ProviderBigCache:
	case ProviderRedis:
		b.rdb = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		p, err := redis.New(redis.Config{Client: b.rdb})
		if err != nil {
			_ = b.rdb.Close()
			return nil, err
		}
		b.shared = p
	case ProviderBolt:
		p, err := bolt.New(bolt.Config{Path: cfg.Bolt.Path})
		if err != nil {
			return nil, err
		}
		b.shared = p
	default:
		return nil, fmt.Errorf("config: unknown cache provider %q", cfg.Provider)
	}
	return b, nil
}

// Provider returns the store for one cache. shared reports whether other
// namespaces (or other processes) see the same store.
func (b *Backend) Provider(ctx context.Context) (p provider.Provider, shared bool, err error) {
	if b.shared != nil {
		return sharedProvider{Provider: b.shared, Scanner: b.shared.(provider.Scanner)}, true, nil
	}
	switch b.cfg.Provider {
	case ProviderRistretto:
		p, err = ristretto.New(ristretto.Config{
			NumCounters: b.cfg.Ristretto.NumCounters,
			MaxCost:     b.cfg.Ristretto.MaxCost,
			BufferItems: b.cfg.Ristretto.BufferItems,
		})
	case ProviderBigCache:
		p, err = bigcache.New(ctx, bigcache.Config{
			LifeWindow:         coalesce(b.cfg.TTL, 10*time.Minute),
			MaxEntrySize:       b.cfg.BigCache.MaxEntrySize,
			HardMaxCacheSizeMB: b.cfg.BigCache.HardMaxCacheSizeMB,
		})
	default:
		p = memory.New()
	}
	return p, false, err
}

// GenStore returns a Redis generation store when the cache lives in Redis,
// nil otherwise (each cache then keeps its own local generations).
func (b *Backend) GenStore(namespace string) genstore.GenStore {
	if b.rdb == nil {
		return nil
	}
	// gens must outlive every entry written under them
	return genstore.NewRedisGenStore(b.rdb, namespace, 2*coalesce(b.cfg.TTL, time.Hour))
}

func (b *Backend) Close(ctx context.Context) error {
	var errs []error
	if b.shared != nil {
		errs = append(errs, b.shared.Close(ctx))
	}
	if b.rdb != nil {
		errs = append(errs, b.rdb.Close())
	}
	return errors.Join(errs...)
}

// CacheOptions builds querycache options for namespace from cfg and the
// backend. Logger, Hooks and Registry are left to the caller.
func CacheOptions[V any](ctx context.Context, b *Backend, namespace string) (querycache.Options[V], error) {
	cd, err := codec.ByName[V](b.cfg.Codec)
	if err != nil {
		return querycache.Options[V]{}, err
	}
	if b.cfg.MaxDecode > 0 {
		cd = codec.Limit[V]{Inner: cd, MaxDecode: b.cfg.MaxDecode}
	}
	p, shared, err := b.Provider(ctx)
	if err != nil {
		return querycache.Options[V]{}, fmt.Errorf("open %s store for %s: %w", b.cfg.Provider, namespace, err)
	}
	return querycache.Options[V]{
		Namespace:      namespace,
		Provider:       p,
		Codec:          cd,
		DefaultTTL:     b.cfg.TTL,
		BulkTTL:        b.cfg.BulkTTL,
		Disabled:       b.cfg.Disabled,
		DisableBulk:    b.cfg.DisableBulk,
		SharedProvider: shared,
		GenStore:       b.GenStore(namespace),
	}, nil
}

// sharedProvider leaves closing the underlying store to the Backend.
type sharedProvider struct {
	provider.Provider
	provider.Scanner
}

func (sharedProvider) Close(context.Context) error { return nil }

func coalesce(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
