// Package codec implements the optional payload compression transform
// that a packet's FlagCompressed bit (wire.Flags) marks. The functions
// take a bare payload and do not read the flag; nothing in this module
// applies them automatically. It is a payload-level convenience
// layered above the wire framing, not part of the frame/header
// contract itself.
package codec

import "github.com/klauspost/compress/s2"

// Compress returns the S2-compressed form of payload.
func Compress(payload []byte) []byte {
	return s2.Encode(nil, payload)
}

// Decompress reverses Compress.
func Decompress(compressed []byte) ([]byte, error) {
	return s2.Decode(nil, compressed)
}
