// Package stats holds the interception server's monotonically increasing
// global counters and exposes them both to the periodic maintenance logger
// and to Prometheus.
package stats

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters tracks the three counters spec'd by the core: all classified
// response packets, the subset that were intercepted (dropped), and the
// cumulative number of routing-table registrations. They only ever
// increase, and are reset by process restart only.
type Counters struct {
	totRespPacks     uint64
	totCopyRespPacks uint64
	totRouterItems   uint64
}

// New returns a zeroed Counters.
func New() *Counters {
	return &Counters{}
}

// AddRespPack increments the count of all classified response packets.
func (c *Counters) AddRespPack() {
	atomic.AddUint64(&c.totRespPacks, 1)
}

// AddCopyRespPack increments the count of intercepted (dropped) packets.
func (c *Counters) AddCopyRespPack() {
	atomic.AddUint64(&c.totCopyRespPacks, 1)
}

// AddRouterItem increments the cumulative routing-table registration count.
func (c *Counters) AddRouterItem() {
	atomic.AddUint64(&c.totRouterItems, 1)
}

// Snapshot is a point-in-time read of all three counters.
type Snapshot struct {
	TotRespPacks     uint64
	TotCopyRespPacks uint64
	TotRouterItems   uint64
}

// Snapshot reads all three counters.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		TotRespPacks:     atomic.LoadUint64(&c.totRespPacks),
		TotCopyRespPacks: atomic.LoadUint64(&c.totCopyRespPacks),
		TotRouterItems:   atomic.LoadUint64(&c.totRouterItems),
	}
}

var (
	respPacksDesc = prometheus.NewDesc(
		"tcpintercept_resp_packets_total",
		"Total response packets classified by the interception server.",
		nil, nil,
	)
	copyRespPacksDesc = prometheus.NewDesc(
		"tcpintercept_intercepted_packets_total",
		"Total response packets suppressed (dropped) and forwarded upstream.",
		nil, nil,
	)
	routerItemsDesc = prometheus.NewDesc(
		"tcpintercept_router_registrations_total",
		"Cumulative number of CLIENT_ADD registrations handled.",
		nil, nil,
	)
)

// Describe implements prometheus.Collector.
func (c *Counters) Describe(ch chan<- *prometheus.Desc) {
	ch <- respPacksDesc
	ch <- copyRespPacksDesc
	ch <- routerItemsDesc
}

// Collect implements prometheus.Collector.
func (c *Counters) Collect(ch chan<- prometheus.Metric) {
	snap := c.Snapshot()
	ch <- prometheus.MustNewConstMetric(respPacksDesc, prometheus.CounterValue, float64(snap.TotRespPacks))
	ch <- prometheus.MustNewConstMetric(copyRespPacksDesc, prometheus.CounterValue, float64(snap.TotCopyRespPacks))
	ch <- prometheus.MustNewConstMetric(routerItemsDesc, prometheus.CounterValue, float64(snap.TotRouterItems))
}
