// Package whitelist holds the small, bounded set of IPv4 destination
// addresses whose packets must transit the host normally instead of being
// suppressed by the interception classifier.
package whitelist

import "net/netip"

// Set is an immutable, unordered collection of passed-through IPv4
// addresses. It is expected to hold at most a few dozen entries, so
// membership is a linear scan rather than a map.
type Set struct {
	addrs []netip.Addr
}

// New builds a Set from the given addresses. The slice is copied; the
// returned Set is safe for concurrent reads from multiple goroutines.
func New(addrs []netip.Addr) Set {
	cp := make([]netip.Addr, len(addrs))
	copy(cp, addrs)
	return Set{addrs: cp}
}

// Contains reports whether addr is in the whitelist.
func (s Set) Contains(addr netip.Addr) bool {
	for _, a := range s.addrs {
		if a == addr {
			return true
		}
	}
	return false
}

// Len returns the number of addresses in the whitelist.
func (s Set) Len() int {
	return len(s.addrs)
}
