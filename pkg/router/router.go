// Package router maintains the mapping from a replayed flow's client
// identity to the upstream replay-client connection that should receive a
// notification whenever that flow's response traffic is suppressed.
package router

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/higebu/netfd"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Key identifies a replayed flow by its original client's IP and port.
type Key struct {
	ClientIP   netip.Addr
	ClientPort uint16
}

// hash picks a key's bucket from its client IP alone, so every port of one
// client IP shares a bucket: Update looks entries up by daddr only.
func (k Key) hash() uint64 {
	d := k.ClientIP.As16()
	return xxhash.Sum64(d[:])
}

type upstreamConn struct {
	conn net.Conn
	fd   int
}

func newUpstreamConn(conn net.Conn) upstreamConn {
	fd := -1
	if f := netfd.GetFdFromConn(conn); f > 0 {
		fd = f
	}
	return upstreamConn{conn: conn, fd: fd}
}

type entry struct {
	key        Key
	upstream   upstreamConn
	lastAccess int64
	next       *entry
}

// Table is the (client_ip, client_port) -> upstream routing table. It is
// safe for concurrent use: Update is called from the classifier's
// goroutine while Add/Del are called from control-connection goroutines.
type Table struct {
	mu      sync.RWMutex
	buckets []*entry
	timeout time.Duration

	// single, when true, bypasses hashing entirely: one default upstream
	// is used for every flow and a second registration merely overwrites
	// it with a warning (spec: TCPCOPY_SINGLE mode).
	single          bool
	defaultUpstream *upstreamConn
}

// New creates a distributed-mode routing table with hashSize buckets,
// obsoleting entries that have not been touched for timeout.
func New(hashSize int, timeout time.Duration) *Table {
	if hashSize < 1 {
		hashSize = 1
	}
	return &Table{
		buckets: make([]*entry, hashSize),
		timeout: timeout,
	}
}

// NewSingle creates a single-host-mode routing table, which bypasses the
// hash table and supports exactly one upstream replay client.
func NewSingle() *Table {
	return &Table{single: true}
}

// Add registers (or replaces) the routing entry for key, pointed at conn.
// In single mode, a second concurrent client is not rejected — only logged
// — matching the documented upstream quirk.
func (t *Table) Add(key Key, conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	uc := newUpstreamConn(conn)

	if t.single {
		if t.defaultUpstream != nil {
			logrus.Warn("router: single mode does not support a second replay client; overwriting")
		}
		t.defaultUpstream = &uc
		return
	}

	idx := int(key.hash() % uint64(len(t.buckets)))
	now := time.Now().Unix()

	for e := t.buckets[idx]; e != nil; e = e.next {
		if e.key == key {
			e.upstream = uc
			e.lastAccess = now
			return
		}
	}

	t.buckets[idx] = &entry{
		key:        key,
		upstream:   uc,
		lastAccess: now,
		next:       t.buckets[idx],
	}
}

// Del removes the routing entry for key, if present. A missing key is not
// an error.
func (t *Table) Del(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.single {
		t.defaultUpstream = nil
		return
	}

	idx := int(key.hash() % uint64(len(t.buckets)))
	var prev *entry
	for e := t.buckets[idx]; e != nil; e = e.next {
		if e.key == key {
			if prev == nil {
				t.buckets[idx] = e.next
			} else {
				prev.next = e.next
			}
			return
		}
		prev = e
	}
}

// Update looks up the routing entry matching daddr, refreshes its
// last-access timestamp, and writes header upstream. A missing entry is a
// silent no-op (expected during concurrent teardown races); a write error
// against a stale fd is logged and otherwise ignored, never returned.
func (t *Table) Update(daddr netip.Addr, header []byte) {
	if t.single {
		t.mu.RLock()
		up := t.defaultUpstream
		t.mu.RUnlock()
		if up == nil {
			return
		}
		writeUpstream(*up, header)
		return
	}

	key := Key{ClientIP: daddr}
	idx := int(key.hash() % uint64(len(t.buckets)))

	t.mu.Lock()
	var found *entry
	for e := t.buckets[idx]; e != nil; e = e.next {
		if e.key.ClientIP == daddr {
			e.lastAccess = time.Now().Unix()
			found = e
			break
		}
	}
	var up upstreamConn
	if found != nil {
		up = found.upstream
	}
	t.mu.Unlock()

	if found == nil {
		return
	}
	writeUpstream(up, header)
}

// writeUpstream sends header to the upstream connection. It prefers a raw
// syscall write on the cached fd (matching the core's direct socket write),
// falling back to the net.Conn if the fd was never captured, and treats any
// failure as a stale, now-invalid destination rather than an error: a
// routing entry can race a control-connection teardown and momentarily
// point at a closed socket.
func writeUpstream(up upstreamConn, header []byte) {
	if up.fd > 0 {
		if _, err := unix.Write(up.fd, header); err != nil {
			logrus.WithError(err).Warn("router: upstream write failed, dropping notification")
		}
		return
	}
	if up.conn != nil {
		if _, err := up.conn.Write(header); err != nil {
			logrus.WithError(err).Warn("router: upstream write failed, dropping notification")
		}
	}
}

// DeleteObsolete removes every entry whose last access predates now by more
// than the table's timeout. It is invoked on the periodic maintenance
// timer and is a no-op in single mode (there is nothing to sweep).
func (t *Table) DeleteObsolete(now time.Time) {
	if t.single {
		return
	}

	cutoff := now.Unix()

	t.mu.Lock()
	defer t.mu.Unlock()

	for i, head := range t.buckets {
		var prev *entry
		for e := head; e != nil; {
			next := e.next
			if cutoff-e.lastAccess > int64(t.timeout/time.Second) {
				if prev == nil {
					t.buckets[i] = next
				} else {
					prev.next = next
				}
			} else {
				prev = e
			}
			e = next
		}
	}
}

// ConnDiag is a point-in-time view of one routed upstream connection, used
// by pkg/sockdiag to collect per-flow TCP_INFO metrics. A single-mode
// table's one entry carries a zero Key.
type ConnDiag struct {
	Key  Key
	FD   int
	Conn net.Conn
}

// Snapshot returns every routed upstream connection at the time of the
// call. The caller must not retain Conn beyond a single use: the
// connection may be closed or replaced by a concurrent Add/Del.
func (t *Table) Snapshot() []ConnDiag {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.single {
		if t.defaultUpstream == nil {
			return nil
		}
		return []ConnDiag{{FD: t.defaultUpstream.fd, Conn: t.defaultUpstream.conn}}
	}

	var out []ConnDiag
	for _, head := range t.buckets {
		for e := head; e != nil; e = e.next {
			out = append(out, ConnDiag{Key: e.key, FD: e.upstream.fd, Conn: e.upstream.conn})
		}
	}
	return out
}

// Close releases the table. Routing entries do not own their upstream
// connections (the control server does); Close only drops the table's own
// references.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.buckets {
		t.buckets[i] = nil
	}
	t.defaultUpstream = nil
}

// String implements fmt.Stringer for debug logging.
func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.ClientIP, k.ClientPort)
}
