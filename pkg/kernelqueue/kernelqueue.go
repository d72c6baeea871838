// Package kernelqueue defines the interception server's abstraction over
// the kernel firewall queue: a source of inbound packets and a sink for
// the corresponding ACCEPT/DROP verdicts. Two concrete backends implement
// it (subpackages ipq and nfqueue); the choice is made once at startup.
package kernelqueue

import "context"

// Verdict is the decision returned to the kernel for a queued packet.
type Verdict int

const (
	// Accept lets the packet transit the host normally.
	Accept Verdict = iota
	// Drop suppresses the packet.
	Drop
)

// Packet is one inbound packet descriptor handed to the classifier. It is
// ephemeral: its Payload is only valid until the verdict for it has been
// sent.
type Packet struct {
	// ID is the per-queue packet identifier the kernel uses to match a
	// verdict back to this packet. Zero if the backend could not supply
	// one.
	ID uint32

	// QueueHandle identifies which verdict sink a verdict for this
	// packet must be addressed to.
	QueueHandle uint32

	// Payload is the raw packet bytes as delivered by the kernel.
	Payload []byte
}

// Source is the kernel ingress/verdict-sink abstraction. Implementations
// must uphold the protocol's strict per-packet ordering requirement: for
// every packet returned by Read, exactly one SendVerdict call must follow
// before the next Read is serviced, or the kernel queue stalls.
type Source interface {
	// Read blocks until the next packet is available, or ctx is
	// cancelled.
	Read(ctx context.Context) (Packet, error)

	// SendVerdict issues the verdict for a previously read packet.
	SendVerdict(queueHandle uint32, packetID uint32, v Verdict) error

	// Close releases the underlying kernel queue resources.
	Close() error
}
