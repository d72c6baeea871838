//go:build linux

package sockdiag

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/runZeroInc/tcpintercept/pkg/router"
)

var (
	rttDesc = prometheus.NewDesc(
		"tcpintercept_upstream_rtt_microseconds",
		"Smoothed round-trip time of a routed upstream connection.",
		[]string{"client"}, nil,
	)
	cwndDesc = prometheus.NewDesc(
		"tcpintercept_upstream_snd_cwnd_segments",
		"Congestion window of a routed upstream connection, in segments.",
		[]string{"client"}, nil,
	)
	retransDesc = prometheus.NewDesc(
		"tcpintercept_upstream_retransmits_total",
		"Segments containing retransmitted data observed on a routed upstream connection.",
		[]string{"client"}, nil,
	)
	bytesAckedDesc = prometheus.NewDesc(
		"tcpintercept_upstream_bytes_acked_total",
		"Data bytes for which cumulative acknowledgments have been received on a routed upstream connection.",
		[]string{"client"}, nil,
	)
)

// Collector is a prometheus.Collector that reads struct tcp_info off every
// connection currently registered in a router.Table, replacing the original
// exporter's manually managed connection set with a live read of routing
// state: a connection shows up here exactly as long as it is routable.
type Collector struct {
	rt     *router.Table
	logger func(error)
}

// NewCollector returns a Collector sourcing connections from rt. logger may
// be nil, in which case getsockopt failures are silently skipped.
func NewCollector(rt *router.Table, logger func(error)) *Collector {
	return &Collector{rt: rt, logger: logger}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- rttDesc
	descs <- cwndDesc
	descs <- retransDesc
	descs <- bytesAckedDesc
}

// Collect implements prometheus.Collector. A connection whose fd was never
// captured (e.g. the raw-fd path in router.upstreamConn failed at Add time)
// is silently skipped rather than reported as an error.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	for _, diag := range c.rt.Snapshot() {
		if diag.FD <= 0 {
			continue
		}

		info, err := GetTCPInfo(diag.FD)
		if err != nil {
			if c.logger != nil {
				c.logger(fmt.Errorf("sockdiag: getsockopt(TCP_INFO) fd=%d: %w", diag.FD, err))
			}
			continue
		}

		label := diag.Key.String()
		if diag.Key.ClientPort == 0 && !diag.Key.ClientIP.IsValid() {
			label = "default"
		}

		metrics <- prometheus.MustNewConstMetric(rttDesc, prometheus.GaugeValue, float64(info.RTT), label)
		metrics <- prometheus.MustNewConstMetric(cwndDesc, prometheus.GaugeValue, float64(info.SndCWnd), label)
		metrics <- prometheus.MustNewConstMetric(retransDesc, prometheus.CounterValue, float64(info.TotalRetrans), label)
		if info.BytesAckedOK {
			metrics <- prometheus.MustNewConstMetric(bytesAckedDesc, prometheus.CounterValue, float64(info.BytesAcked), label)
		}
	}
}
