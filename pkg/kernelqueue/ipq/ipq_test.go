//go:build linux

package ipq

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/runZeroInc/tcpintercept/pkg/kernelqueue"
)

func packetMsgBody(id uint64, payload []byte) []byte {
	body := make([]byte, ipqPacketFixed+len(payload))
	binary.LittleEndian.PutUint64(body[0:8], id)
	binary.LittleEndian.PutUint32(body[76:80], uint32(len(payload)))
	copy(body[ipqPacketFixed:], payload)
	return body
}

func TestParsePacketMsg(t *testing.T) {
	payload := []byte{0x45, 0x00, 0x00, 0x28}
	body := packetMsgBody(42, payload)

	pkt, ok := parsePacketMsg(body)
	if !ok {
		t.Fatal("parsePacketMsg() ok = false, want true")
	}
	if pkt.ID != 42 {
		t.Fatalf("ID = %d, want 42", pkt.ID)
	}
	if !bytes.Equal(pkt.Payload, payload) {
		t.Fatalf("Payload = %x, want %x", pkt.Payload, payload)
	}
}

func TestParsePacketMsgTruncatedFixedHeader(t *testing.T) {
	_, ok := parsePacketMsg(make([]byte, ipqPacketFixed-1))
	if ok {
		t.Fatal("parsePacketMsg() ok = true for a truncated fixed header, want false")
	}
}

func TestParsePacketMsgClampsOversizedDataLen(t *testing.T) {
	body := packetMsgBody(1, []byte{0xaa, 0xbb})
	// Lie about data_len to exercise the len(body) clamp.
	binary.LittleEndian.PutUint32(body[76:80], 1000)

	pkt, ok := parsePacketMsg(body)
	if !ok {
		t.Fatal("parsePacketMsg() ok = false, want true")
	}
	if len(pkt.Payload) != 2 {
		t.Fatalf("len(Payload) = %d, want 2 (clamped to body length)", len(pkt.Payload))
	}
}

func TestVerdictValue(t *testing.T) {
	if got := verdictValue(kernelqueue.Accept); got != 1 {
		t.Fatalf("verdictValue(Accept) = %d, want 1", got)
	}
	if got := verdictValue(kernelqueue.Drop); got != 0 {
		t.Fatalf("verdictValue(Drop) = %d, want 0", got)
	}
}
