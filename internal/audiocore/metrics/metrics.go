// Package metrics exposes the routing engine's internal counters
// (pool allocation stats, bus delivery/drop/coalesce counts) as
// Prometheus collectors built from hand-rolled prometheus.Desc values
// and a Collect method, rather than pre-registered global counters, so
// a process running more than one pool/bus pair can register one
// Collector per pair.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/audiocore/internal/audiocore/bus"
	"github.com/tphakala/audiocore/internal/audiocore/pool"
)

// Collector polls a pool and a bus on demand and reports their counters
// through the standard prometheus.Collector interface, so callers wire it
// into any registry with a single MustRegister call.
type Collector struct {
	pool *pool.MemoryPool
	bus  *bus.Bus

	poolAllocated      *prometheus.Desc
	poolAllocatedBytes *prometheus.Desc
	poolAccumulated    *prometheus.Desc
	poolImported       *prometheus.Desc
	poolExported       *prometheus.Desc
	poolFull           *prometheus.Desc
	poolTooLarge       *prometheus.Desc
	busPublished       *prometheus.Desc
	busDelivered       *prometheus.Desc
	busDropped         *prometheus.Desc
	busCoalesced       *prometheus.Desc
}

// New builds a Collector over p and b. Either may be nil; a nil collaborator
// simply reports no samples for its metrics.
func New(p *pool.MemoryPool, b *bus.Bus) *Collector {
	return &Collector{
		pool: p,
		bus:  b,
		poolAllocated: prometheus.NewDesc(
			"audiocore_pool_blocks_allocated", "Memory blocks currently allocated.", nil, nil),
		poolAllocatedBytes: prometheus.NewDesc(
			"audiocore_pool_bytes_allocated", "Bytes currently allocated across all blocks.", nil, nil),
		poolAccumulated: prometheus.NewDesc(
			"audiocore_pool_blocks_accumulated_total", "Memory blocks ever allocated.", nil, nil),
		poolImported: prometheus.NewDesc(
			"audiocore_pool_blocks_imported_total", "Blocks imported from a remote pool.", nil, nil),
		poolExported: prometheus.NewDesc(
			"audiocore_pool_blocks_exported_total", "Blocks exported to a remote pool.", nil, nil),
		poolFull: prometheus.NewDesc(
			"audiocore_pool_full_total", "Allocations that found the pool full.", nil, nil),
		poolTooLarge: prometheus.NewDesc(
			"audiocore_pool_too_large_total", "Allocations that exceeded the pool's slot size.", nil, nil),
		busPublished: prometheus.NewDesc(
			"audiocore_bus_events_published_total", "Events published to the subscription bus.", nil, nil),
		busDelivered: prometheus.NewDesc(
			"audiocore_bus_events_delivered_total", "Events delivered to subscribers.", nil, nil),
		busDropped: prometheus.NewDesc(
			"audiocore_bus_events_dropped_total", "Events dropped because the bus's event buffer was full.", nil, nil),
		busCoalesced: prometheus.NewDesc(
			"audiocore_bus_events_coalesced_total", "Events merged into an already-pending event for the same entity.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.poolAllocated
	ch <- c.poolAllocatedBytes
	ch <- c.poolAccumulated
	ch <- c.poolImported
	ch <- c.poolExported
	ch <- c.poolFull
	ch <- c.poolTooLarge
	ch <- c.busPublished
	ch <- c.busDelivered
	ch <- c.busDropped
	ch <- c.busCoalesced
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.pool != nil {
		s := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.poolAllocated, prometheus.GaugeValue, float64(s.Allocated))
		ch <- prometheus.MustNewConstMetric(c.poolAllocatedBytes, prometheus.GaugeValue, float64(s.AllocatedBytes))
		ch <- prometheus.MustNewConstMetric(c.poolAccumulated, prometheus.CounterValue, float64(s.Accumulated))
		ch <- prometheus.MustNewConstMetric(c.poolImported, prometheus.CounterValue, float64(s.Imported))
		ch <- prometheus.MustNewConstMetric(c.poolExported, prometheus.CounterValue, float64(s.Exported))
		ch <- prometheus.MustNewConstMetric(c.poolFull, prometheus.CounterValue, float64(s.PoolFull))
		ch <- prometheus.MustNewConstMetric(c.poolTooLarge, prometheus.CounterValue, float64(s.TooLargeForPool))
	}
	if c.bus != nil {
		s := c.bus.Stats()
		ch <- prometheus.MustNewConstMetric(c.busPublished, prometheus.CounterValue, float64(s.Published))
		ch <- prometheus.MustNewConstMetric(c.busDelivered, prometheus.CounterValue, float64(s.Delivered))
		ch <- prometheus.MustNewConstMetric(c.busDropped, prometheus.CounterValue, float64(s.Dropped))
		ch <- prometheus.MustNewConstMetric(c.busCoalesced, prometheus.CounterValue, float64(s.Coalesced))
	}
}
