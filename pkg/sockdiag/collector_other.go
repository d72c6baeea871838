//go:build !linux

package sockdiag

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/runZeroInc/tcpintercept/pkg/router"
)

// Collector is a no-op prometheus.Collector on platforms without tcp_info
// support: Describe/Collect never emit anything.
type Collector struct{}

// NewCollector returns a no-op Collector; rt and logger are accepted only
// to keep the call site platform-independent.
func NewCollector(rt *router.Table, logger func(error)) *Collector {
	return &Collector{}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {}
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {}
