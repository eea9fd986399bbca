package querycache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// A single entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "value_decode"}
	SelfHealSingle(storageKey, reason string)

	// A bulk read path was rejected and fell back to singles.
	// reason ∈ {"decode_error", "invalid_or_stale", "snapshot_error"}
	BulkRejected(namespace string, requested int, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string, isBulk bool)

	// GenStore errors (snapshot or bump).
	// count is number of keys involved (1 for Snapshot/Bump, N for SnapshotMany).
	GenSnapshotError(count int, err error)
	GenBumpError(storageKey string, err error)

	// Both gen bump and delete failed during Invalidate (likely backend outage).
	InvalidateOutage(key string, bumpErr, delErr error)

	// Bulk is enabled with a local GenStore over a shared provider
	// (stale bulks possible across processes).
	LocalGenWithBulk()

	// keys entries were marked stale by Invalidate or InvalidatePrefix.
	Invalidated(namespace string, keys int)

	// An optimistic write was undone by Restore.
	RolledBack(storageKey string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHealSingle(string, string)         {}
func (NopHooks) BulkRejected(string, int, string)      {}
func (NopHooks) ProviderSetRejected(string, bool)      {}
func (NopHooks) GenSnapshotError(int, error)           {}
func (NopHooks) GenBumpError(string, error)            {}
func (NopHooks) InvalidateOutage(string, error, error) {}
func (NopHooks) LocalGenWithBulk()                     {}
func (NopHooks) Invalidated(string, int)               {}
func (NopHooks) RolledBack(string)                     {}

// MultiHooks fans every event out to each of hs in order.
type MultiHooks []Hooks

func (m MultiHooks) SelfHealSingle(k, reason string) {
	for _, h := range m {
		h.SelfHealSingle(k, reason)
	}
}

func (m MultiHooks) BulkRejected(ns string, n int, reason string) {
	for _, h := range m {
		h.BulkRejected(ns, n, reason)
	}
}

func (m MultiHooks) ProviderSetRejected(k string, isBulk bool) {
	for _, h := range m {
		h.ProviderSetRejected(k, isBulk)
	}
}

func (m MultiHooks) GenSnapshotError(n int, err error) {
	for _, h := range m {
		h.GenSnapshotError(n, err)
	}
}

func (m MultiHooks) GenBumpError(k string, err error) {
	for _, h := range m {
		h.GenBumpError(k, err)
	}
}

func (m MultiHooks) InvalidateOutage(k string, bumpErr, delErr error) {
	for _, h := range m {
		h.InvalidateOutage(k, bumpErr, delErr)
	}
}

func (m MultiHooks) LocalGenWithBulk() {
	for _, h := range m {
		h.LocalGenWithBulk()
	}
}

func (m MultiHooks) Invalidated(ns string, n int) {
	for _, h := range m {
		h.Invalidated(ns, n)
	}
}

func (m MultiHooks) RolledBack(k string) {
	for _, h := range m {
		h.RolledBack(k)
	}
}
