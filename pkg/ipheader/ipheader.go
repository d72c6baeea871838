// Package ipheader provides a non-owning read of an IPv4 header out of a
// raw packet payload, as delivered by a kernel firewall queue. Only the
// destination address is interpreted; the classifier never looks past it.
package ipheader

import (
	"errors"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// MinPayloadLen is the minimum payload length the classifier will accept:
// enough for a 20-byte IPv4 header plus margin for the transport header the
// core never inspects.
const MinPayloadLen = 40

// ErrShortPacket is returned by Parse when the payload is too short to hold
// a usable IPv4 header.
var ErrShortPacket = errors.New("ipheader: payload shorter than 40 bytes")

// View is a non-owning view over the first 20 bytes of a packet payload,
// interpreted as an IPv4 header. Its lifetime is scoped to the payload
// buffer it was built from.
type View struct {
	// DstAddr is the packet's destination address (daddr) — the only
	// field the classifier reads.
	DstAddr netip.Addr

	// Valid is false when the payload's IP version field is not 4, or
	// the header could not be decoded. A non-IPv4 packet is treated the
	// same as a short payload by the classifier: logged and skipped,
	// never misread as IPv4.
	Valid bool

	// Raw holds the first 20 bytes of the original payload, used
	// verbatim when the packet is forwarded upstream.
	Raw [20]byte
}

// Parse reads payload as an IPv4 header view. It rejects anything shorter
// than MinPayloadLen outright (spec boundary: 39 bytes rejected, 40 bytes
// accepted for classification), before any attempt to decode.
func Parse(payload []byte) (View, error) {
	if len(payload) < MinPayloadLen {
		return View{}, ErrShortPacket
	}

	var v View
	copy(v.Raw[:], payload[:20])

	packet := gopacket.NewPacket(payload, layers.LayerTypeIPv4, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return v, nil
	}

	ipv4, ok := ipLayer.(*layers.IPv4)
	if !ok || ipv4.Version != 4 {
		return v, nil
	}

	addr, ok := netip.AddrFromSlice(ipv4.DstIP.To4())
	if !ok {
		return v, nil
	}

	v.DstAddr = addr
	v.Valid = true

	return v, nil
}
