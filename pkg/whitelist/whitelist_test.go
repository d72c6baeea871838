package whitelist

import (
	"net/netip"
	"testing"
)

func TestContains(t *testing.T) {
	wl := New([]netip.Addr{
		netip.MustParseAddr("10.0.0.5"),
		netip.MustParseAddr("10.0.0.6"),
	})

	tests := []struct {
		name string
		addr netip.Addr
		want bool
	}{
		{"in set", netip.MustParseAddr("10.0.0.5"), true},
		{"also in set", netip.MustParseAddr("10.0.0.6"), true},
		{"not in set", netip.MustParseAddr("192.168.1.10"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := wl.Contains(tt.addr); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestEmptyWhitelistDropsEverything(t *testing.T) {
	wl := New(nil)
	if wl.Contains(netip.MustParseAddr("10.0.0.5")) {
		t.Fatal("empty whitelist must not contain any address")
	}
	if wl.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", wl.Len())
	}
}
