package querycache

import (
	"time"

	c "github.com/unkn0wn-root/querycache/codec"
	gen "github.com/unkn0wn-root/querycache/genstore"
	pr "github.com/unkn0wn-root/querycache/provider"
)

type SetCostFunc func(key string, raw []byte, isBulk bool, bulkCount int) int64

// Options tune a Cache. Only Namespace, Provider and Codec are required.
type Options[V any] struct {
	// Required
	Namespace string // logical namespace to avoid collisions. e.g. "list-items", "books"
	Provider  pr.Provider
	Codec     c.Codec[V]

	Logger          Logger        // if nil, NopLogger is used
	Hooks           Hooks         // if nil, NopHooks is used
	DefaultTTL      time.Duration // singles; 0 => 10m
	BulkTTL         time.Duration // bulks; 0 => DefaultTTL
	CleanupInterval time.Duration // local gen sweep; 0 => 1h
	GenRetention    time.Duration // 0 => 30d, never below twice the longest TTL
	Disabled        bool          // every read misses and every write is dropped
	ComputeSetCost  SetCostFunc   // default 1
	GenStore        gen.GenStore  // nil => LocalGenStore (in-process), closed by Close
	DisableBulk     bool          // default false => bulk enabled

	// SharedProvider declares that other processes write to Provider too.
	// Combined with a local GenStore it triggers Hooks.LocalGenWithBulk.
	SharedProvider bool

	// Registry, when set, gets the cache registered so a logout can clear it.
	Registry *Registry
}
