// Package classifier implements the packet verdict pipeline: for each
// packet read from the kernel queue, decide ACCEPT or DROP against a
// whitelist, forward suppressed packets' headers upstream, and emit the
// verdict in kernel-delivery order.
package classifier

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/runZeroInc/tcpintercept/pkg/ipheader"
	"github.com/runZeroInc/tcpintercept/pkg/kernelqueue"
	"github.com/runZeroInc/tcpintercept/pkg/router"
	"github.com/runZeroInc/tcpintercept/pkg/stats"
	"github.com/runZeroInc/tcpintercept/pkg/whitelist"
)

// VerdictSink emits a verdict for a previously classified packet. In
// single-threaded mode this is the kernel queue Source itself; in threaded
// mode it is the staging pool's verdict ring.
type VerdictSink interface {
	SendVerdict(queueHandle uint32, packetID uint32, v kernelqueue.Verdict) error
}

// Forwarder delivers a suppressed packet's IP header upstream. In
// single-threaded mode this is the routing table directly; in threaded
// mode it is the staging pool's header ring.
type Forwarder interface {
	Forward(daddr ipheader.View)
}

// routerForwarder adapts *router.Table to the Forwarder interface for
// single-threaded (non-pooled) operation.
type routerForwarder struct {
	rt *router.Table
}

func (f routerForwarder) Forward(v ipheader.View) {
	f.rt.Update(v.DstAddr, v.Raw[:])
}

// NewDirectForwarder returns a Forwarder that writes straight through to
// the routing table, bypassing any staging pool.
func NewDirectForwarder(rt *router.Table) Forwarder {
	return routerForwarder{rt: rt}
}

// Classifier runs the per-packet verdict algorithm.
type Classifier struct {
	whitelist whitelist.Set
	sink      VerdictSink
	forward   Forwarder
	counters  *stats.Counters
}

// New builds a Classifier. sink and forward are injected so the same
// algorithm drives both the single-threaded and the staging-pool-backed
// threaded builds.
func New(wl whitelist.Set, sink VerdictSink, forward Forwarder, counters *stats.Counters) *Classifier {
	return &Classifier{whitelist: wl, sink: sink, forward: forward, counters: counters}
}

// Process runs one packet through the classifier: parse its IP header,
// test daddr against the whitelist, forward-then-verdict on the drop path,
// verdict-only on the accept path. A short or non-IPv4 payload is logged
// and skipped — no verdict is emitted, and the kernel will time the packet
// out on its own.
func (c *Classifier) Process(_ context.Context, pkt kernelqueue.Packet) error {
	view, err := ipheader.Parse(pkt.Payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"packet_id": pkt.ID,
			"len":       len(pkt.Payload),
		}).Warn("classifier: payload too short, skipping")
		return err
	}
	if !view.Valid {
		logrus.WithField("packet_id", pkt.ID).Warn("classifier: non-IPv4 payload, skipping")
		return nil
	}

	c.counters.AddRespPack()

	if c.whitelist.Contains(view.DstAddr) {
		return c.sink.SendVerdict(pkt.QueueHandle, pkt.ID, kernelqueue.Accept)
	}

	c.counters.AddCopyRespPack()
	c.forward.Forward(view)

	return c.sink.SendVerdict(pkt.QueueHandle, pkt.ID, kernelqueue.Drop)
}
