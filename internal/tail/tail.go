// Package tail implements the variable-length residual bit-string encoding
// packed into a cuckoo slot's fixed-width tail field. A tail value of 0
// means the slot is empty; any other value encodes a bit-string whose
// length is recoverable from the position of a trailing sentinel 1 bit.
package tail

import "math/bits"

// Size is kTailSize, the number of payload bits a tail field can hold
// before its sentinel bit. The field itself is Size+1 bits wide.
const Size = 5

// Empty is the encoding of the zero-length string: the sentinel bit alone,
// occupying position Size.
const Empty = uint16(1) << Size

// Length returns the number of encoded bits in a non-zero tail value.
func Length(t uint16) int {
	return Size - bits.TrailingZeros16(t)
}

// Bits returns the encoded string's bits (MSB-first, right-aligned).
func Bits(t uint16) uint16 {
	return t >> (uint(bits.TrailingZeros16(t)) + 1)
}

// IsPrefixOf reports whether x's encoded bit-string is a prefix of y's.
// Both x and y must be non-zero (non-empty slots).
func IsPrefixOf(x, y uint16) bool {
	a := x ^ y
	c := bits.TrailingZeros16(x)
	h := bits.TrailingZeros16(y)
	// Widen to 32 bits for the leading-zero count, matching the spec's
	// nbits=32 convention (the original widens uint16_t into an int for
	// __builtin_clz).
	var i int
	if a == 0 {
		i = 32
	} else {
		i = bits.LeadingZeros32(uint32(a))
	}
	return c >= h && i >= 31-c
}

// Encode packs a raw value's low Size bits into tail-field form: the
// sentinel bit set just above the payload.
func Encode(raw uint16) uint16 {
	return (raw&(Empty-1))*2 + 1
}
