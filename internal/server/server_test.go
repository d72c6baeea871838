package server

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/runZeroInc/tcpintercept/pkg/classifier"
	"github.com/runZeroInc/tcpintercept/pkg/combinedbuf"
	"github.com/runZeroInc/tcpintercept/pkg/ipheader"
	"github.com/runZeroInc/tcpintercept/pkg/kernelqueue"
	"github.com/runZeroInc/tcpintercept/pkg/router"
	"github.com/runZeroInc/tcpintercept/pkg/stats"
	"github.com/runZeroInc/tcpintercept/pkg/whitelist"
)

type fakeQueue struct {
	mu       sync.Mutex
	packets  []kernelqueue.Packet
	idx      int
	verdicts []kernelqueue.Verdict
}

func (f *fakeQueue) Read(ctx context.Context) (kernelqueue.Packet, error) {
	for {
		f.mu.Lock()
		if f.idx < len(f.packets) {
			p := f.packets[f.idx]
			f.idx++
			f.mu.Unlock()
			return p, nil
		}
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return kernelqueue.Packet{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (f *fakeQueue) SendVerdict(_ uint32, _ uint32, v kernelqueue.Verdict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verdicts = append(f.verdicts, v)
	return nil
}

func (f *fakeQueue) Close() error { return nil }

func ipv4Payload(dst netip.Addr) []byte {
	buf := make([]byte, 40)
	buf[0] = 0x45
	d4 := dst.As4()
	copy(buf[16:20], d4[:])
	return buf
}

func TestPacketLoopProcessesUntilCancelled(t *testing.T) {
	rt := router.New(4, time.Minute)
	wl := whitelist.New(nil)
	counters := stats.New()

	q := &fakeQueue{packets: []kernelqueue.Packet{
		{ID: 1, Payload: ipv4Payload(netip.MustParseAddr("10.0.0.1"))},
		{ID: 2, Payload: ipv4Payload(netip.MustParseAddr("10.0.0.2"))},
	}}

	c := classifier.New(wl, q, classifier.NewDirectForwarder(rt), counters)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		packetLoop(ctx, q, c)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for counters.Snapshot().TotRespPacks < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := counters.Snapshot().TotRespPacks; got != 2 {
		t.Fatalf("TotRespPacks = %d, want 2", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("packetLoop did not return after context cancellation")
	}
}

func TestPacketLoopRetriesReadErrorsUntilContextDone(t *testing.T) {
	rt := router.New(4, time.Minute)
	wl := whitelist.New(nil)
	counters := stats.New()
	c := classifier.New(wl, &fakeQueue{}, classifier.NewDirectForwarder(rt), counters)

	q := &erroringQueue{err: errors.New("boom")}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		packetLoop(ctx, q, c)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("packetLoop did not return after context deadline")
	}
	if q.reads == 0 {
		t.Fatal("expected at least one Read attempt")
	}
}

type erroringQueue struct {
	err   error
	reads int
}

func (e *erroringQueue) Read(ctx context.Context) (kernelqueue.Packet, error) {
	e.reads++
	select {
	case <-ctx.Done():
		return kernelqueue.Packet{}, ctx.Err()
	default:
		return kernelqueue.Packet{}, e.err
	}
}
func (e *erroringQueue) SendVerdict(uint32, uint32, kernelqueue.Verdict) error { return nil }
func (e *erroringQueue) Close() error                                         { return nil }

func TestCombinedForwarderBuffersIntoFlush(t *testing.T) {
	buf := combinedbuf.New()
	f := combinedForwarder{buf: buf}

	view, err := ipheader.Parse(ipv4Payload(netip.MustParseAddr("10.0.0.5")))
	if err != nil {
		t.Fatalf("ipheader.Parse() error = %v", err)
	}

	f.Forward(view)
	if buf.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", buf.Len())
	}
}
