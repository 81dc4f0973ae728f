package wire

import "encoding/binary"

// Packet header layout, all integers little-endian:
//
//	offset  size  field
//	0       2     length    (payload length, bytes)
//	2       2     id        (caller-assigned request id)
//	4       2     opcode    (handler selector)
//	6       1     type      (encoding kind)
//	7       1     flags     (compression / encryption bits)
//	8       1     priority  (dispatch priority, clamped unknown -> NONE)
//	9       8     timestamp (microseconds since Epoch)
//	17      4     checksum  (CRC32 of payload)
//
// HeaderSize is the fixed size of this header, distinct from the
// 2-byte length prefix the framed TCP channel (transport package)
// wraps around header+payload on the wire.
const HeaderSize = 21

// PriorityOffset is the fixed offset of the priority byte, so the
// ready-set dispatcher can classify a lease's priority by reading one
// byte without decoding the rest of the header.
const PriorityOffset = 8

const (
	offLength    = 0
	offID        = 2
	offOpcode    = 4
	offType      = 6
	offFlags     = 7
	offPriority  = PriorityOffset
	offTimestamp = 9
	offChecksum  = 17
)

// Flag bits within the flags byte.
const (
	FlagCompressed Flags = 1 << iota
	FlagEncrypted
)

// Flags is the bitset of encoding/compression/encryption markers.
type Flags uint8

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// ClassifyPriority reads the priority byte out of a raw header buffer
// without parsing any other field, clamping unknown values to NONE.
// buf must be at least PriorityOffset+1 bytes.
func ClassifyPriority(buf []byte) Priority {
	return ClampPriority(buf[offPriority])
}

// putHeader encodes h into dst[:HeaderSize]. dst must have length >=
// HeaderSize.
func putHeader(dst []byte, h header) {
	binary.LittleEndian.PutUint16(dst[offLength:], h.length)
	binary.LittleEndian.PutUint16(dst[offID:], h.id)
	binary.LittleEndian.PutUint16(dst[offOpcode:], h.opcode)
	dst[offType] = h.typ
	dst[offFlags] = byte(h.flags)
	dst[offPriority] = byte(h.priority)
	binary.LittleEndian.PutUint64(dst[offTimestamp:], h.timestamp)
	binary.LittleEndian.PutUint32(dst[offChecksum:], h.checksum)
}

func getHeader(src []byte) header {
	return header{
		length:    binary.LittleEndian.Uint16(src[offLength:]),
		id:        binary.LittleEndian.Uint16(src[offID:]),
		opcode:    binary.LittleEndian.Uint16(src[offOpcode:]),
		typ:       src[offType],
		flags:     Flags(src[offFlags]),
		priority:  ClampPriority(src[offPriority]),
		timestamp: binary.LittleEndian.Uint64(src[offTimestamp:]),
		checksum:  binary.LittleEndian.Uint32(src[offChecksum:]),
	}
}

type header struct {
	length    uint16
	id        uint16
	opcode    uint16
	typ       uint8
	flags     Flags
	priority  Priority
	timestamp uint64
	checksum  uint32
}
