// Package wire implements the control-plane message codec of the
// replay-client registration protocol: a fixed-size, network-byte-order
// frame carrying a client's flow identity and an add/delete directive.
package wire

import (
	"encoding/binary"
	"errors"
	"net/netip"
)

// MsgType is the opaque wire tag distinguishing add/delete directives. The
// values are not ours to choose: they must match the upstream replay
// engine's wire constants.
type MsgType uint16

const (
	// ClientAdd registers (or replaces) a routing entry.
	ClientAdd MsgType = 1
	// ClientDel removes a routing entry.
	ClientDel MsgType = 2
)

// MsgClientSize is the exact size in bytes of a control message. Reads and
// writes on the control socket operate in units of this size only; a short
// read is always an error, never a partial message to be completed later.
const MsgClientSize = 32

// ErrBadLength is returned by Decode when given a buffer that isn't exactly
// MsgClientSize bytes.
var ErrBadLength = errors.New("wire: control message must be exactly MsgClientSize bytes")

// ClientMsg is a decoded control-plane message.
type ClientMsg struct {
	ClientIP   netip.Addr
	ClientPort uint16
	Type       MsgType
}

// Decode parses a MsgClientSize-byte buffer into a ClientMsg. The opaque
// tail beyond the 8-byte header is read but discarded.
func Decode(buf []byte) (ClientMsg, error) {
	if len(buf) != MsgClientSize {
		return ClientMsg{}, ErrBadLength
	}

	var msg ClientMsg
	ipBits := binary.BigEndian.Uint32(buf[0:4])
	msg.ClientIP = netip.AddrFrom4([4]byte{
		byte(ipBits >> 24), byte(ipBits >> 16), byte(ipBits >> 8), byte(ipBits),
	})
	msg.ClientPort = binary.BigEndian.Uint16(buf[4:6])
	msg.Type = MsgType(binary.BigEndian.Uint16(buf[6:8]))

	return msg, nil
}

// Encode renders msg as a MsgClientSize-byte wire frame with a zeroed
// opaque tail, suitable for use by a replay-client test harness speaking
// this protocol.
func Encode(msg ClientMsg) []byte {
	buf := make([]byte, MsgClientSize)

	d4 := msg.ClientIP.As4()
	ipBits := uint32(d4[0])<<24 | uint32(d4[1])<<16 | uint32(d4[2])<<8 | uint32(d4[3])
	binary.BigEndian.PutUint32(buf[0:4], ipBits)
	binary.BigEndian.PutUint16(buf[4:6], msg.ClientPort)
	binary.BigEndian.PutUint16(buf[6:8], uint16(msg.Type))

	return buf
}
