// Package metrics exposes Prometheus instrumentation for a HopperKV
// instance: request counts by operation/outcome, resource-consumption
// counters mirroring pkg/stats, per-tenant cache allocation, and the
// allocator's most recent bottleneck improvement ratio.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the Prometheus instrumentation surface for one instance.
type Metrics struct {
	Requests *prometheus.CounterVec

	DBRCUConsumed prometheus.Counter
	DBWCUConsumed prometheus.Counter
	NetBWConsumed prometheus.Counter

	CacheSize         prometheus.Gauge
	AllocImproveRatio prometheus.Gauge
	TenantCacheSize   *prometheus.GaugeVec
}

// New builds an unregistered Metrics instance, with every metric name
// prefixed by namespace (e.g. "hopperkv").
func New(namespace string) *Metrics {
	return &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of served requests, by operation and outcome.",
		}, []string{"op", "result"}),

		DBRCUConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_rcu_consumed_total",
			Help:      "Total backing-store read capacity units consumed.",
		}),
		DBWCUConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_wcu_consumed_total",
			Help:      "Total backing-store write capacity units consumed.",
		}),
		NetBWConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "net_bw_consumed_bytes_total",
			Help:      "Total network bandwidth consumed, in bytes.",
		}),

		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_size_bytes",
			Help:      "Current aggregate cache size across all tenants, in bytes.",
		}),
		AllocImproveRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alloc_improve_ratio",
			Help:      "Bottleneck resource improvement ratio from the most recent allocator pass.",
		}),
		TenantCacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tenant_cache_size_bytes",
			Help:      "Current per-tenant cache allocation, in bytes.",
		}, []string{"tenant"}),
	}
}

// Register registers every metric with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.Requests, m.DBRCUConsumed, m.DBWCUConsumed, m.NetBWConsumed,
		m.CacheSize, m.AllocImproveRatio, m.TenantCacheSize,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveGet records a completed GET's hit/miss outcome.
func (m *Metrics) ObserveGet(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.Requests.WithLabelValues("get", result).Inc()
}

// ObserveSet records a completed SET's success/failure outcome.
func (m *Metrics) ObserveSet(ok bool) {
	result := "err"
	if ok {
		result = "ok"
	}
	m.Requests.WithLabelValues("set", result).Inc()
}

// AddDBRCU increments the consumed-RCU counter.
func (m *Metrics) AddDBRCU(n uint64) { m.DBRCUConsumed.Add(float64(n)) }

// AddDBWCU increments the consumed-WCU counter.
func (m *Metrics) AddDBWCU(n uint64) { m.DBWCUConsumed.Add(float64(n)) }

// AddNetBW increments the consumed-bandwidth counter.
func (m *Metrics) AddNetBW(n uint64) { m.NetBWConsumed.Add(float64(n)) }

// SetCacheSize reports the current aggregate cache size.
func (m *Metrics) SetCacheSize(n uint64) { m.CacheSize.Set(float64(n)) }

// SetAllocImproveRatio reports the bottleneck improvement ratio from the
// allocator's most recent pass (alloc.Allocator.DoAlloc's return value).
func (m *Metrics) SetAllocImproveRatio(r float64) { m.AllocImproveRatio.Set(r) }

// SetTenantCacheSize reports one tenant's current cache allocation.
func (m *Metrics) SetTenantCacheSize(tenant string, n uint64) {
	m.TenantCacheSize.WithLabelValues(tenant).Set(float64(n))
}
