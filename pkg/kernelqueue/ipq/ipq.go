//go:build linux

// Package ipq implements kernelqueue.Source over the legacy Linux IPQ
// (ip_queue / NETLINK_FIREWALL) protocol, the kernel queue mechanism the
// interception server's original C core targeted before NFQUEUE existed.
// The wire format is a raw netlink message: a fixed nlmsghdr, followed by
// one of a handful of fixed-size ipq_* payloads, overlaid the way
// pkg/sockdiag/tcpinfo.go overlays RawTCPInfo onto the kernel's tcp_info.
package ipq

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/runZeroInc/tcpintercept/pkg/kernelqueue"
)

// NETLINK_FIREWALL is not exposed by golang.org/x/sys/unix (it predates
// NFNETLINK and was retired from upstream kernel headers); the protocol
// number has been stable since its introduction.
const netlinkFirewall = 3

// Message types from linux/netfilter_ipv4/ip_queue.h.
const (
	ipqmBase    = 0x8
	ipqmMode    = ipqmBase + 1 // set copy mode
	ipqmVerdict = ipqmBase + 2 // set verdict
	ipqmPacket  = ipqmBase + 3 // kernel -> userspace packet delivery
)

// Copy modes for IPQM_MODE.
const (
	ipqCopyMeta   = 1
	ipqCopyPacket = 2
)

// fullPacketRange is the copy range passed with IPQM_MODE/IPQ_COPY_PACKET:
// large enough that the kernel never truncates the IP header the
// classifier needs.
const fullPacketRange = 0xffff

const (
	nlmsghdrLen    = 16
	ipqModeMsgLen  = 8
	ipqPacketFixed = 80 // ipq_packet_msg_t up to and including data_len, before the variable payload
)

type nlmsghdr struct {
	Len   uint32
	Type  uint16
	Flags uint16
	Seq   uint32
	Pid   uint32
}

// Source is a kernelqueue.Source backed by an AF_NETLINK/NETLINK_FIREWALL
// socket.
type Source struct {
	fd  int
	seq uint32
}

var _ kernelqueue.Source = (*Source)(nil)

// Open creates and binds the netlink socket, then negotiates
// IPQ_COPY_PACKET mode (the server needs the full IP header, not just
// metadata).
func Open() (*Source, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, netlinkFirewall)
	if err != nil {
		return nil, fmt.Errorf("ipq: socket: %w", err)
	}

	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pid: uint32(os.Getpid())}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ipq: bind: %w", err)
	}

	s := &Source{fd: fd}
	if err := s.setMode(ipqCopyPacket, fullPacketRange); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return s, nil
}

func (s *Source) setMode(mode uint8, rangeLen uint32) error {
	payload := make([]byte, ipqModeMsgLen)
	payload[0] = mode
	binary.BigEndian.PutUint32(payload[4:8], rangeLen)

	return s.send(ipqmMode, payload)
}

func (s *Source) nextSeq() uint32 {
	s.seq++
	return s.seq
}

func (s *Source) send(msgType uint16, payload []byte) error {
	hdr := nlmsghdr{
		Len:   uint32(nlmsghdrLen + len(payload)),
		Type:  msgType,
		Flags: 0,
		Seq:   s.nextSeq(),
		Pid:   uint32(os.Getpid()),
	}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("ipq: encode nlmsghdr: %w", err)
	}
	buf.Write(payload)

	dst := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pid: 0, Groups: 0}
	return unix.Sendto(s.fd, buf.Bytes(), 0, dst)
}

// Read blocks until the kernel delivers the next queued packet. ctx
// cancellation is honored on a best-effort basis: the read is not
// interrupted mid-syscall, but a cancelled context is checked before
// issuing it.
func (s *Source) Read(ctx context.Context) (kernelqueue.Packet, error) {
	select {
	case <-ctx.Done():
		return kernelqueue.Packet{}, ctx.Err()
	default:
	}

	buf := make([]byte, 65536)
	for {
		n, _, err := unix.Recvfrom(s.fd, buf, 0)
		if err != nil {
			return kernelqueue.Packet{}, fmt.Errorf("ipq: recvfrom: %w", err)
		}
		if n < nlmsghdrLen {
			continue
		}

		var hdr nlmsghdr
		if err := binary.Read(bytes.NewReader(buf[:nlmsghdrLen]), binary.LittleEndian, &hdr); err != nil {
			return kernelqueue.Packet{}, fmt.Errorf("ipq: decode nlmsghdr: %w", err)
		}
		if hdr.Type != ipqmPacket {
			continue // mode ACKs and other control traffic, not a packet delivery
		}

		pkt, ok := parsePacketMsg(buf[nlmsghdrLen:n])
		if !ok {
			continue
		}
		return pkt, nil
	}
}

// parsePacketMsg decodes the fixed-size ipq_packet_msg_t prefix of an
// IPQM_PACKET body (packet_id at offset 0, data_len at offset 76, variable
// payload after). ok is false for a truncated body, which the caller skips
// rather than treating as fatal.
func parsePacketMsg(body []byte) (kernelqueue.Packet, bool) {
	if len(body) < ipqPacketFixed {
		return kernelqueue.Packet{}, false
	}

	packetID := binary.LittleEndian.Uint64(body[0:8])
	dataLen := binary.LittleEndian.Uint32(body[76:80])
	payloadStart := ipqPacketFixed
	payloadEnd := payloadStart + int(dataLen)
	if payloadEnd > len(body) {
		payloadEnd = len(body)
	}

	payload := make([]byte, payloadEnd-payloadStart)
	copy(payload, body[payloadStart:payloadEnd])

	return kernelqueue.Packet{
		ID:          uint32(packetID),
		QueueHandle: 0, // IPQ has exactly one queue per socket
		Payload:     payload,
	}, true
}

// SendVerdict implements kernelqueue.Source.
func (s *Source) SendVerdict(_ uint32, packetID uint32, v kernelqueue.Verdict) error {
	payload := make([]byte, 12)
	binary.LittleEndian.PutUint32(payload[0:4], verdictValue(v))
	binary.LittleEndian.PutUint64(payload[4:12], uint64(packetID))

	return s.send(ipqmVerdict, payload)
}

func verdictValue(v kernelqueue.Verdict) uint32 {
	if v == kernelqueue.Accept {
		return 1 // NF_ACCEPT
	}
	return 0 // NF_DROP
}

// Close releases the netlink socket.
func (s *Source) Close() error {
	return unix.Close(s.fd)
}
