package server

import (
	"net/netip"
	"time"
)

// Config is everything internal/server needs to bring up one interception
// server instance. It replaces the original C core's file-scope globals
// (srv_settings): every handler in this package takes its state from a
// Context built from a Config, rather than reading package-level state.
type Config struct {
	// ListenAddr is the control-plane TCP listener address.
	ListenAddr netip.AddrPort

	// Backend selects the kernel queue implementation: "ipq" or
	// "nfqueue".
	Backend string

	// QueueNum is the NFQUEUE queue number (nfqueue backend only).
	QueueNum uint16

	// Whitelist is the set of destination addresses that bypass
	// interception.
	Whitelist []netip.Addr

	// Single, when true, runs in single-host mode: one upstream replay
	// client, no hash table, no obsolescence sweep.
	Single bool

	// HashSize is the routing table's bucket count (distributed mode
	// only).
	HashSize int

	// RouteTimeout is how long a routing entry may go unused before
	// DeleteObsolete reclaims it (distributed mode only).
	RouteTimeout time.Duration

	// Threaded, when true, interposes the staging pool between the
	// classifier and the kernel queue / routing table, isolating their
	// blocking syscalls from the packet-processing goroutine.
	Threaded bool

	// PoolSize is the staging pool ring capacity (threaded mode only);
	// must be a power of two. Zero selects stagingpool.DefaultSize.
	PoolSize int

	// Combined, when true, buffers suppressed-packet headers and
	// flushes them on CheckInterval instead of forwarding immediately.
	// Mutually exclusive with Threaded in the original design, but this
	// port does not enforce that: Combined simply takes priority if
	// both are set.
	Combined bool

	// OutputInterval is how often maintenance logs the global counters
	// and sweeps obsolete routes.
	OutputInterval time.Duration

	// CheckInterval is how often combined mode flushes its buffer.
	CheckInterval time.Duration

	// MetricsAddr, if non-empty, serves GET /metrics in Prometheus
	// exposition format on this address.
	MetricsAddr string
}
