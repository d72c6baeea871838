//go:build linux

// Package nfqueue implements kernelqueue.Source over libnetfilter_queue
// (NFQUEUE), the kernel queue mechanism that superseded the legacy IPQ
// module this interception server originally targeted. The cgo binding
// below is adapted from the pack's TerraTech-go-netfilter-queue: the same
// open/bind/run/callback shape, repointed at this package's Source,
// Packet and Verdict types instead of that library's own NFQueue/NFPacket.
package nfqueue

/*
#cgo pkg-config: libnetfilter_queue
#cgo CFLAGS: -Wall -Wno-unused-variable -O2

#include <libnetfilter_queue/libnetfilter_queue.h>
#include <arpa/inet.h>
#include <stdlib.h>

extern int goQueueCallback(uint32_t packetId, unsigned char *data, int dataLen, uint64_t idx);

static int dispatchCallback(struct nfq_q_handle *qh, struct nfgenmsg *nfmsg,
                             struct nfq_data *nfa, void *cbData) {
	struct nfqnl_msg_packet_hdr *ph = nfq_get_msg_packet_hdr(nfa);
	uint32_t id = 0;
	if (ph != NULL) {
		id = ntohl(ph->packet_id);
	}

	unsigned char *payload = NULL;
	int payloadLen = nfq_get_payload(nfa, &payload);

	uint64_t idx = *(uint64_t *) cbData;
	return goQueueCallback(id, payload, payloadLen, idx);
}

static struct nfq_q_handle *bindQueue(struct nfq_handle *h, uint16_t queueNum, uint64_t *idxStorage) {
	return nfq_create_queue(h, queueNum, dispatchCallback, (void *) idxStorage);
}
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/runZeroInc/tcpintercept/pkg/kernelqueue"
)

func readFd(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

const (
	afInet  = 2
	afInet6 = 10

	nfAccept = 1
	nfDrop   = 0

	copyModePacket = 2
	fullPacketSize = 0xffff
)

// registry maps the opaque idx passed through the cgo callback back to the
// Go channel it should deliver onto; mirrors TerraTech-go-netfilter-queue's
// theTable/theTableLock, needed because cgo cannot close over a Go struct
// pointer directly in the C callback's void* argument.
var (
	registryMu sync.RWMutex
	registry   = make(map[uint64]chan nfPacket)
)

type nfPacket struct {
	id      uint32
	payload []byte
}

// Source is a kernelqueue.Source backed by libnetfilter_queue.
type Source struct {
	h  *C.struct_nfq_handle
	qh *C.struct_nfq_q_handle
	fd C.int

	idx     uint64
	idxC    *C.uint64_t
	packets chan nfPacket
}

var _ kernelqueue.Source = (*Source)(nil)

var nextIdx uint64
var nextIdxMu sync.Mutex

// Open creates an NFQUEUE handle bound to queueNum, unbinds any existing
// handler for IPv4 and binds this one in its place, and starts the
// background C read loop. IPv6 handlers are not touched.
func Open(queueNum uint16) (*Source, error) {
	h, err := C.nfq_open()
	if h == nil {
		return nil, fmt.Errorf("nfqueue: nfq_open: %v", err)
	}

	if ret, _ := C.nfq_unbind_pf(h, afInet); ret < 0 {
		C.nfq_close(h)
		return nil, fmt.Errorf("nfqueue: nfq_unbind_pf(AF_INET) failed")
	}
	if ret, _ := C.nfq_bind_pf(h, afInet); ret < 0 {
		C.nfq_close(h)
		return nil, fmt.Errorf("nfqueue: nfq_bind_pf(AF_INET) failed")
	}

	nextIdxMu.Lock()
	nextIdx++
	idx := nextIdx
	nextIdxMu.Unlock()

	idxC := (*C.uint64_t)(C.malloc(C.sizeof_uint64_t))
	*idxC = C.uint64_t(idx)

	s := &Source{h: h, idx: idx, idxC: idxC, packets: make(chan nfPacket, 64)}

	registryMu.Lock()
	registry[idx] = s.packets
	registryMu.Unlock()

	qh := C.bindQueue(h, C.uint16_t(queueNum), idxC)
	if qh == nil {
		s.Close()
		return nil, fmt.Errorf("nfqueue: nfq_create_queue failed for queue %d", queueNum)
	}
	s.qh = qh

	if ret, _ := C.nfq_set_queue_maxlen(qh, fullPacketSize); ret < 0 {
		s.Close()
		return nil, fmt.Errorf("nfqueue: nfq_set_queue_maxlen failed")
	}
	if C.nfq_set_mode(qh, copyModePacket, fullPacketSize) < 0 {
		s.Close()
		return nil, fmt.Errorf("nfqueue: nfq_set_mode failed")
	}

	s.fd = C.nfq_fd(h)

	go s.run()

	return s, nil
}

func (s *Source) run() {
	buf := make([]byte, 65535)
	for {
		n, err := readFd(int(s.fd), buf)
		if err != nil || n <= 0 {
			return
		}
		C.nfq_handle_packet(s.h, (*C.char)(unsafe.Pointer(&buf[0])), C.int(n))
	}
}

// Read blocks until the next queued packet is delivered, or ctx is
// cancelled.
func (s *Source) Read(ctx context.Context) (kernelqueue.Packet, error) {
	select {
	case p := <-s.packets:
		return kernelqueue.Packet{ID: p.id, QueueHandle: 0, Payload: p.payload}, nil
	case <-ctx.Done():
		return kernelqueue.Packet{}, ctx.Err()
	}
}

// SendVerdict implements kernelqueue.Source.
func (s *Source) SendVerdict(_ uint32, packetID uint32, v kernelqueue.Verdict) error {
	val := C.uint(nfDrop)
	if v == kernelqueue.Accept {
		val = C.uint(nfAccept)
	}
	ret := C.nfq_set_verdict(s.qh, C.uint32_t(packetID), val, 0, nil)
	if ret < 0 {
		return fmt.Errorf("nfqueue: nfq_set_verdict failed for packet %d", packetID)
	}
	return nil
}

// Close releases the queue, socket and registry entry.
func (s *Source) Close() error {
	registryMu.Lock()
	delete(registry, s.idx)
	registryMu.Unlock()

	if s.qh != nil {
		C.nfq_destroy_queue(s.qh)
	}
	if s.h != nil {
		C.nfq_close(s.h)
	}
	if s.idxC != nil {
		C.free(unsafe.Pointer(s.idxC))
	}
	close(s.packets)
	return nil
}

//export goQueueCallback
func goQueueCallback(packetID C.uint32_t, data *C.uchar, dataLen C.int, idx C.uint64_t) C.int {
	if dataLen < 0 {
		return 0
	}
	payload := C.GoBytes(unsafe.Pointer(data), dataLen)

	registryMu.RLock()
	ch, ok := registry[uint64(idx)]
	registryMu.RUnlock()
	if !ok {
		return 0
	}

	// Blocking send: the kernel queue, not this channel, is the place
	// packets should back up under load.
	ch <- nfPacket{id: uint32(packetID), payload: payload}
	return 0
}
