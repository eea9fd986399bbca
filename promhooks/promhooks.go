// Package promhooks exports cache and mutation events as Prometheus metrics.
package promhooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/unkn0wn-root/querycache"
)

type Config struct {
	// Namespace is the metrics namespace (default: "querycache").
	Namespace   string
	ConstLabels prometheus.Labels
	// Buckets for mutation durations. Default: prometheus.DefBuckets
	Buckets []float64
	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(ns string) Option {
	return func(c *Config) { c.Namespace = ns }
}

func WithRegistry(r prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = r }
}

func WithConstLabels(l prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = l }
}

// Hooks implements querycache.Hooks and the mutation observer.
type Hooks struct {
	selfHeals        *prometheus.CounterVec
	bulkRejected     *prometheus.CounterVec
	setRejected      *prometheus.CounterVec
	genErrors        *prometheus.CounterVec
	outages          prometheus.Counter
	localGenWithBulk prometheus.Counter
	invalidated      *prometheus.CounterVec
	rollbacks        prometheus.Counter
	mutations        *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec
}

var _ querycache.Hooks = (*Hooks)(nil)

func New(opts ...Option) *Hooks {
	cfg := Config{
		Namespace: "querycache",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, o := range opts {
		o(&cfg)
	}
	factory := promauto.With(cfg.Registry)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		}, labels)
	}

	return &Hooks{
		selfHeals:    counter("self_heals_total", "Entries deleted on read because they could not be decoded", "reason"),
		bulkRejected: counter("bulk_rejected_total", "Bulk reads that fell back to single keys", "namespace", "reason"),
		setRejected:  counter("provider_set_rejected_total", "Writes the provider refused under pressure", "bulk"),
		genErrors:    counter("gen_errors_total", "Generation store failures", "op"),
		outages: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "invalidate_outages_total",
			Help:        "Invalidations where both the gen bump and the delete failed",
			ConstLabels: cfg.ConstLabels,
		}),
		localGenWithBulk: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "local_gen_with_bulk_total",
			Help:        "Caches built with local generations over a shared provider",
			ConstLabels: cfg.ConstLabels,
		}),
		invalidated: counter("invalidated_keys_total", "Keys marked stale", "namespace"),
		rollbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        "rollbacks_total",
			Help:        "Optimistic writes undone after a failed mutation",
			ConstLabels: cfg.ConstLabels,
		}),
		mutations: counter("mutations_total", "Settled mutations", "mutation", "outcome"),
		mutationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "mutation_duration_seconds",
			Help:        "Time from dispatch to settle",
			Buckets:     cfg.Buckets,
			ConstLabels: cfg.ConstLabels,
		}, []string{"mutation"}),
	}
}

func (h *Hooks) SelfHealSingle(_, reason string) { h.selfHeals.WithLabelValues(reason).Inc() }

func (h *Hooks) BulkRejected(ns string, _ int, reason string) {
	h.bulkRejected.WithLabelValues(ns, reason).Inc()
}

func (h *Hooks) ProviderSetRejected(_ string, isBulk bool) {
	if isBulk {
		h.setRejected.WithLabelValues("true").Inc()
		return
	}
	h.setRejected.WithLabelValues("false").Inc()
}

func (h *Hooks) GenSnapshotError(int, error)           { h.genErrors.WithLabelValues("snapshot").Inc() }
func (h *Hooks) GenBumpError(string, error)            { h.genErrors.WithLabelValues("bump").Inc() }
func (h *Hooks) InvalidateOutage(string, error, error) { h.outages.Inc() }
func (h *Hooks) LocalGenWithBulk()                     { h.localGenWithBulk.Inc() }
func (h *Hooks) RolledBack(string)                     { h.rollbacks.Inc() }

func (h *Hooks) Invalidated(ns string, keys int) {
	h.invalidated.WithLabelValues(ns).Add(float64(keys))
}

// MutationSettled records one settled mutation; err == nil counts as success.
func (h *Hooks) MutationSettled(name string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	h.mutations.WithLabelValues(name, outcome).Inc()
	h.mutationDuration.WithLabelValues(name).Observe(d.Seconds())
}
