// Package metrics exposes Prometheus collectors for the variable engine.
//
// All methods are safe to call on a nil *Metrics, so components take an
// optional collector set without branching at every call site.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "varkeep"

// Metrics holds every collector, registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	operations  *prometheus.CounterVec
	opDuration  *prometheus.HistogramVec
	resolutions *prometheus.CounterVec

	flushes        *prometheus.CounterVec
	flushedRecords prometheus.Counter
	flushRetries   prometheus.Counter
	flushDuration  prometheus.Histogram
	dirtyEntries   prometheus.Gauge
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Cache hits by tier.",
		}, []string{"tier"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Cache misses by tier.",
		}, []string{"tier"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "operations_total",
			Help: "Public operations by name and result code.",
		}, []string{"op", "code"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "operation_duration_seconds",
			Help:    "Public operation latency.",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05, .1, 1, 5},
		}, []string{"op"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "resolutions_total",
			Help: "Expression resolutions by outcome.",
		}, []string{"outcome"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "persist", Name: "flushes_total",
			Help: "Flush jobs by result.",
		}, []string{"result"}),
		flushedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "persist", Name: "records_written_total",
			Help: "Records written to the backing store.",
		}),
		flushRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "persist", Name: "batch_retries_total",
			Help: "Batch write retries.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "persist", Name: "flush_duration_seconds",
			Help:    "Flush job duration.",
			Buckets: prometheus.DefBuckets,
		}),
		dirtyEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "memstore", Name: "dirty_entries",
			Help: "Entries waiting to be persisted, as of the last flush.",
		}),
	}

	m.registry.MustRegister(
		m.cacheHits, m.cacheMisses,
		m.operations, m.opDuration, m.resolutions,
		m.flushes, m.flushedRecords, m.flushRetries, m.flushDuration, m.dirtyEntries,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// CacheHit counts a hit in tier.
func (m *Metrics) CacheHit(tier string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(tier).Inc()
}

// CacheMiss counts a miss in tier.
func (m *Metrics) CacheMiss(tier string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(tier).Inc()
}

// Operation records one public operation. code is "OK" on success.
func (m *Metrics) Operation(op, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, code).Inc()
	m.opDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Resolution counts one expression resolution.
func (m *Metrics) Resolution(outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

// Flush records a completed flush job.
func (m *Metrics) Flush(written, failed int, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if failed > 0 {
		result = "failed"
	}
	m.flushes.WithLabelValues(result).Inc()
	m.flushedRecords.Add(float64(written))
	m.flushDuration.Observe(d.Seconds())
}

// FlushRetry counts one batch retry.
func (m *Metrics) FlushRetry() {
	if m == nil {
		return
	}
	m.flushRetries.Inc()
}

// SetDirty sets the dirty-entry gauge.
func (m *Metrics) SetDirty(n int) {
	if m == nil {
		return
	}
	m.dirtyEntries.Set(float64(n))
}
