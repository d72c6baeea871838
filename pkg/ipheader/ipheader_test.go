package ipheader

import (
	"net/netip"
	"testing"
)

// ipv4Payload builds a minimal (header-only, zero-payload) IPv4 packet with
// the given destination address, padded to at least 40 bytes.
func ipv4Payload(t *testing.T, dst netip.Addr) []byte {
	t.Helper()

	buf := make([]byte, 40)
	buf[0] = 0x45 // version 4, IHL 5 (20-byte header)
	buf[8] = 64   // TTL
	buf[9] = 6    // protocol: TCP

	d4 := dst.As4()
	copy(buf[16:20], d4[:])

	return buf
}

func TestParseValid(t *testing.T) {
	want := netip.MustParseAddr("192.168.1.10")
	payload := ipv4Payload(t, want)

	v, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !v.Valid {
		t.Fatal("expected Valid=true for a well-formed IPv4 header")
	}
	if v.DstAddr != want {
		t.Fatalf("DstAddr = %v, want %v", v.DstAddr, want)
	}
}

func TestParseBoundary(t *testing.T) {
	full := ipv4Payload(t, netip.MustParseAddr("10.0.0.1"))

	if _, err := Parse(full[:39]); err != ErrShortPacket {
		t.Fatalf("39-byte payload: err = %v, want ErrShortPacket", err)
	}

	if _, err := Parse(full[:40]); err != nil {
		t.Fatalf("40-byte payload: unexpected error %v", err)
	}
}

func TestParseNonIPv4(t *testing.T) {
	payload := ipv4Payload(t, netip.MustParseAddr("10.0.0.1"))
	payload[0] = 0x65 // version 6 in the high nibble

	v, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if v.Valid {
		t.Fatal("expected Valid=false for a non-IPv4 version nibble")
	}
}
