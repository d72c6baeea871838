package stagingpool

import (
	"context"
	"net/netip"

	"github.com/sirupsen/logrus"

	"github.com/runZeroInc/tcpintercept/pkg/ipheader"
	"github.com/runZeroInc/tcpintercept/pkg/kernelqueue"
)

// VerdictSlot is one pending verdict, produced by the classifier goroutine
// and consumed by the verdict-dispatcher worker.
type VerdictSlot struct {
	QueueHandle uint32
	PacketID    uint32
	Verdict     kernelqueue.Verdict
}

// HeaderSlot is one pending upstream notification, produced by the
// classifier goroutine and consumed by the forward worker.
type HeaderSlot struct {
	View ipheader.View
}

// Pool owns the two staging rings and the worker goroutines that drain
// them. It implements classifier.VerdictSink and classifier.Forwarder, so
// a Classifier can be pointed at a Pool exactly as it would be pointed at
// a kernelqueue.Source/router.Table directly in the single-threaded build.
type Pool struct {
	verdicts *Ring[VerdictSlot]
	headers  *Ring[HeaderSlot]

	sink    verdictSender
	forward headerSender
}

// verdictSender is the subset of kernelqueue.Source the verdict worker
// needs.
type verdictSender interface {
	SendVerdict(queueHandle uint32, packetID uint32, v kernelqueue.Verdict) error
}

// headerSender is the subset of router.Table the forward worker needs.
type headerSender interface {
	Update(daddr netip.Addr, header []byte)
}

// New builds a Pool with rings of the given capacity (a power of two, see
// DefaultSize) and starts its two worker goroutines. Each worker checks ctx
// after dispatching a slot and returns once it is cancelled; a worker
// waiting on an empty ring stays blocked in Get.
func New(ctx context.Context, capacity int, sink verdictSender, forward headerSender) *Pool {
	p := &Pool{
		verdicts: NewRing[VerdictSlot]("verdict", capacity),
		headers:  NewRing[HeaderSlot]("header", capacity),
		sink:     sink,
		forward:  forward,
	}

	go p.verdictWorker(ctx)
	go p.forwardWorker(ctx)

	return p
}

// SendVerdict implements classifier.VerdictSink by enqueueing onto the
// verdict ring instead of calling the kernel queue directly; this isolates
// the blocking sendto/ioctl from the classifier goroutine.
func (p *Pool) SendVerdict(queueHandle uint32, packetID uint32, v kernelqueue.Verdict) error {
	p.verdicts.Put(VerdictSlot{QueueHandle: queueHandle, PacketID: packetID, Verdict: v})
	return nil
}

// Forward implements classifier.Forwarder by enqueueing onto the header
// ring instead of writing to the upstream socket directly. The verdict
// ring and the header ring are not ordered against each other: a
// forwarded header may be observed before or after its packet's verdict.
func (p *Pool) Forward(v ipheader.View) {
	p.headers.Put(HeaderSlot{View: v})
}

func (p *Pool) verdictWorker(ctx context.Context) {
	for {
		slot := p.verdicts.Get()
		if err := p.sink.SendVerdict(slot.QueueHandle, slot.PacketID, slot.Verdict); err != nil {
			logrus.WithError(err).Warn("stagingpool: verdict dispatch failed")
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (p *Pool) forwardWorker(ctx context.Context) {
	for {
		slot := p.headers.Get()
		p.forward.Update(slot.View.DstAddr, slot.View.Raw[:])
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
