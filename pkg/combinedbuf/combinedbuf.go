// Package combinedbuf is a reference in-memory batching engine for combined
// mode, matching the shape of the original send_buffered_packets/
// interception_push pairing: packets accumulate under their destination's
// key until the next periodic flush, rather than being forwarded one at a
// time. The upstream replay engine's real batching format is explicitly out
// of scope (spec.md §1); this is only good enough to exercise
// maintenance.RunCombinedFlush's hook in tests and as a runnable example.
package combinedbuf

import (
	"net/netip"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/runZeroInc/tcpintercept/pkg/router"
)

// Buffer accumulates suppressed-packet headers keyed by destination
// address between flushes.
type Buffer struct {
	mu      sync.Mutex
	entries map[netip.Addr][][]byte
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{entries: make(map[netip.Addr][][]byte)}
}

// Add buffers header for daddr. header is copied; the caller's backing
// array is not retained.
func (b *Buffer) Add(daddr netip.Addr, header []byte) {
	cp := make([]byte, len(header))
	copy(cp, header)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[daddr] = append(b.entries[daddr], cp)
}

// Flush drains the buffer, calling rt.Update once per buffered header.
// Headers for one destination are flushed in arrival order; the order
// across different destinations is not defined. Wire it to maintenance.RunCombinedFlush via a closure:
// RunCombinedFlush(ctx, interval, func(now time.Time) { buf.Flush(rt) }).
func (b *Buffer) Flush(rt *router.Table) {
	b.mu.Lock()
	entries := b.entries
	b.entries = make(map[netip.Addr][][]byte)
	b.mu.Unlock()

	var flushed int
	for daddr, headers := range entries {
		for _, header := range headers {
			rt.Update(daddr, header)
			flushed++
		}
	}

	if flushed > 0 {
		logrus.WithField("count", flushed).Debug("combinedbuf: flushed buffered packets")
	}
}

// Len returns the number of buffered-but-unflushed headers, for tests and
// diagnostics.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, headers := range b.entries {
		n += len(headers)
	}
	return n
}
