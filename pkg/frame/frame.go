// Package frame implements the wire codec for the reliable-UDP transport:
// a fixed 15-byte header followed by an opaque payload, protected end to
// end by a whole-packet CRC-32.
package frame

import (
	"encoding/binary"
	"hash/crc32"
	"math/rand"

	"github.com/pkg/errors"
)

// Flag bits, normalized to a single byte in this fixed order.
const (
	FlagSYN  uint8 = 0x01
	FlagACK  uint8 = 0x02
	FlagFIN  uint8 = 0x04
	FlagDATA uint8 = 0x08
)

const (
	// HeaderLen is the fixed size, in bytes, of everything but the payload:
	// seq_num(4) + ack_num(4) + flags(1) + payload_len(2) + checksum(4).
	HeaderLen = 15

	// reference MTU for this transport; PayloadMax leaves room for HeaderLen.
	mtu = 1024

	// PayloadMax is the largest payload a single Frame may carry.
	PayloadMax = mtu - HeaderLen
)

// ErrCorrupted is returned by Decode when the recomputed checksum disagrees
// with the one carried on the wire. Callers must drop the frame silently
// and never surface this past the receive loop.
var ErrCorrupted = errors.New("frame: checksum mismatch")

// ErrTooShort is returned by Decode when the input is shorter than HeaderLen
// or shorter than the header's declared payload length.
var ErrTooShort = errors.New("frame: buffer shorter than declared frame")

// Frame is a single protocol unit exchanged between two endpoints.
type Frame struct {
	SeqNum     uint32
	AckNum     uint32
	Flags      uint8
	PayloadLen uint16
	Checksum   uint32
	Payload    []byte
}

// New builds a Frame with flags set from the given bits (OR them together,
// e.g. FlagDATA|FlagFIN) and the checksum already computed.
func New(seq, ack uint32, flags uint8, payload []byte) Frame {
	f := Frame{
		SeqNum:     seq,
		AckNum:     ack,
		Flags:      flags & 0x0F,
		PayloadLen: uint16(len(payload)),
		Payload:    payload,
	}
	f.Checksum = f.computeChecksum()
	return f
}

// HasFlag reports whether all bits in want are set on the frame.
func (f Frame) HasFlag(want uint8) bool {
	return f.Flags&want == want
}

func (f Frame) computeChecksum() uint32 {
	buf := make([]byte, HeaderLen-4+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], f.SeqNum)
	binary.BigEndian.PutUint32(buf[4:8], f.AckNum)
	buf[8] = f.Flags & 0x0F
	binary.BigEndian.PutUint16(buf[9:11], f.PayloadLen)
	copy(buf[11:], f.Payload)
	return crc32.ChecksumIEEE(buf)
}

// Encode serializes f into network byte order. When corrupt is true, a
// uniformly random checksum is substituted so the peer's Decode rejects the
// frame; this hook exists solely for tests that simulate corruption.
func Encode(f Frame, corrupt bool) []byte {
	out := make([]byte, HeaderLen+len(f.Payload))
	binary.BigEndian.PutUint32(out[0:4], f.SeqNum)
	binary.BigEndian.PutUint32(out[4:8], f.AckNum)
	out[8] = f.Flags & 0x0F
	binary.BigEndian.PutUint16(out[9:11], f.PayloadLen)

	checksum := f.Checksum
	if corrupt {
		checksum = rand.Uint32()
	}
	binary.BigEndian.PutUint32(out[11:15], checksum)
	copy(out[HeaderLen:], f.Payload)
	return out
}

// Decode parses octets into a Frame and verifies its checksum. Trailing
// bytes beyond the declared payload length are discarded. A zero-length
// payload with DATA unset is a legal control frame.
func Decode(octets []byte) (Frame, error) {
	if len(octets) < HeaderLen {
		return Frame{}, errors.Wrapf(ErrTooShort, "got %d bytes, want at least %d", len(octets), HeaderLen)
	}

	f := Frame{
		SeqNum:     binary.BigEndian.Uint32(octets[0:4]),
		AckNum:     binary.BigEndian.Uint32(octets[4:8]),
		Flags:      octets[8] & 0x0F,
		PayloadLen: binary.BigEndian.Uint16(octets[9:11]),
		Checksum:   binary.BigEndian.Uint32(octets[11:15]),
	}

	end := HeaderLen + int(f.PayloadLen)
	if len(octets) < end {
		return Frame{}, errors.Wrapf(ErrTooShort, "declared payload_len=%d but only %d bytes follow the header", f.PayloadLen, len(octets)-HeaderLen)
	}
	f.Payload = append([]byte(nil), octets[HeaderLen:end]...)

	if f.computeChecksum() != f.Checksum {
		return Frame{}, errors.Wrapf(ErrCorrupted, "seq=%d ack=%d flags=%#x", f.SeqNum, f.AckNum, f.Flags)
	}
	return f, nil
}
