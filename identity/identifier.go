// Package identity defines the fixed-size connection identifier used
// to address connections globally: as a map key inside the dispatch
// router, as the shard-hash input, and as the trailing bytes embedded
// in every UDP datagram.
package identity

import "github.com/google/uuid"

// Size is the fixed byte width of an Identifier, matching the
// compile-time constant the spec's UDP framing depends on.
const Size = 16

// Identifier globally addresses one connection.
type Identifier [Size]byte

// New mints a fresh random identifier.
func New() Identifier {
	return Identifier(uuid.New())
}

// String renders the canonical UUID text form.
func (id Identifier) String() string {
	return uuid.UUID(id).String()
}

// ParseBytes reads an Identifier out of the trailing Size bytes of b.
// b must be at least Size bytes long.
func ParseBytes(b []byte) Identifier {
	var id Identifier
	copy(id[:], b[len(b)-Size:])
	return id
}

// AppendTo appends id's raw bytes to b, as done when embedding an
// Identifier in a UDP datagram trailer.
func (id Identifier) AppendTo(b []byte) []byte {
	return append(b, id[:]...)
}
