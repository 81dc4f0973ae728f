// Package wire implements the packet wire unit: header layout,
// checksum validation, and (de)serialization to/from a flat byte
// buffer, independent of the transport it travels over (framed TCP or
// identifier-addressed UDP).
package wire

import (
	"hash/crc32"

	"github.com/pkg/errors"
)

// PacketSizeLimit is the largest total encoded size (header+payload)
// this protocol allows on the wire.
const PacketSizeLimit = 65535

// MaxPayloadSize is the largest payload a Packet can carry.
const MaxPayloadSize = PacketSizeLimit - HeaderSize

var (
	// ErrPacketTooLarge is returned by Encode when the payload would
	// overflow PacketSizeLimit.
	ErrPacketTooLarge = errors.New("wire: packet exceeds size limit")
	// ErrChecksumMismatch is returned by Decode when the embedded CRC32
	// doesn't match the decoded payload.
	ErrChecksumMismatch = errors.New("wire: checksum mismatch")
	// ErrShortBuffer is returned by Decode when buf is smaller than
	// HeaderSize or its payload length differs from the length the
	// header claims.
	ErrShortBuffer = errors.New("wire: buffer shorter than header claims")
)

// Packet is the self-describing message exchanged between the
// dispatch core and handlers. Payload is never mutated in place by
// this package; callers own its backing storage.
type Packet struct {
	ID        uint16
	Opcode    uint16
	Type      uint8
	Flags     Flags
	Priority  Priority
	Timestamp uint64 // microseconds since Epoch
	Payload   []byte
}

// Encode writes p's header and payload into dst, which must have
// capacity >= HeaderSize+len(p.Payload). It returns the slice actually
// used (dst[:HeaderSize+len(payload)]).
func (p *Packet) Encode(dst []byte) ([]byte, error) {
	if len(p.Payload) > MaxPayloadSize {
		return nil, errors.Wrapf(ErrPacketTooLarge, "payload %d bytes > max %d", len(p.Payload), MaxPayloadSize)
	}
	total := HeaderSize + len(p.Payload)
	if cap(dst) < total {
		return nil, errors.New("wire: dst too small for Encode")
	}
	dst = dst[:total]
	putHeader(dst, header{
		length:    uint16(len(p.Payload)),
		id:        p.ID,
		opcode:    p.Opcode,
		typ:       p.Type,
		flags:     p.Flags,
		priority:  p.Priority.clampedOrSelf(),
		timestamp: p.Timestamp,
		checksum:  crc32.ChecksumIEEE(p.Payload),
	})
	copy(dst[HeaderSize:], p.Payload)
	return dst, nil
}

// clampedOrSelf is a defensive clamp so a caller-constructed Packet
// with an out-of-range Priority can't corrupt the dispatch classifier.
func (p Priority) clampedOrSelf() Priority {
	return ClampPriority(byte(p))
}

// Decode parses a Packet out of raw, which must be exactly
// HeaderSize+payload_len bytes (the framed channel already stripped
// the 2-byte frame length prefix). The returned Packet's Payload
// aliases raw; callers that need to retain it beyond raw's lifetime
// must copy.
func Decode(raw []byte) (Packet, error) {
	if len(raw) < HeaderSize {
		return Packet{}, ErrShortBuffer
	}
	h := getHeader(raw)
	payload := raw[HeaderSize:]
	if int(h.length) != len(payload) {
		return Packet{}, errors.Wrapf(ErrShortBuffer, "header claims length %d, got %d", h.length, len(payload))
	}
	if crc32.ChecksumIEEE(payload) != h.checksum {
		return Packet{}, ErrChecksumMismatch
	}
	return Packet{
		ID:        h.id,
		Opcode:    h.opcode,
		Type:      h.typ,
		Flags:     h.flags,
		Priority:  h.priority,
		Timestamp: h.timestamp,
		Payload:   payload,
	}, nil
}
