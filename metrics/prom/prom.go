// Package prom exports tiercache statistics to Prometheus.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/tiercache/cache"
)

// Adapter implements cache.Metrics and exports Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits       *prometheus.CounterVec
	misses     prometheus.Counter
	evicts     *prometheus.CounterVec
	promotions prometheus.Counter
	bytes      *prometheus.GaugeVec
	items      *prometheus.GaugeVec
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "hits_total",
				Help:        "Cache hits by serving tier",
				ConstLabels: constLabels,
			},
			[]string{"tier"},
		),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Cache misses",
			ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "evictions_total",
				Help:        "Memory-tier evictions by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "promotions_total",
			Help:        "Disk hits promoted into memory",
			ConstLabels: constLabels,
		}),
		bytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "usage_bytes",
				Help:        "Bytes held per tier (estimated in memory, stored on disk)",
				ConstLabels: constLabels,
			},
			[]string{"tier"},
		),
		items: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "items",
				Help:        "Entries held per tier",
				ConstLabels: constLabels,
			},
			[]string{"tier"},
		),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.promotions, a.bytes, a.items)
	return a
}

// Hit increments the hit counter for the serving tier.
func (a *Adapter) Hit(t cache.Tier) { a.hits.WithLabelValues(t.String()).Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(r.String()).Inc()
}

// Promote increments the promotion counter.
func (a *Adapter) Promote() { a.promotions.Inc() }

// Usage updates the per-tier gauges.
func (a *Adapter) Usage(memBytes, diskBytes int64, memItems, diskItems int) {
	a.bytes.WithLabelValues(cache.TierMemory.String()).Set(float64(memBytes))
	a.bytes.WithLabelValues(cache.TierDisk.String()).Set(float64(diskBytes))
	a.items.WithLabelValues(cache.TierMemory.String()).Set(float64(memItems))
	a.items.WithLabelValues(cache.TierDisk.String()).Set(float64(diskItems))
}

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)
