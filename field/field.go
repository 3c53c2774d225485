// Package field provides the prime-field element type every cell of the
// constraint system is valued over. It wraps
// gnark-crypto's BN254 scalar field (github.com/consensys/gnark-crypto,
// ecc/bn254/fr), the idiomatic choice for prime-field arithmetic in the
// Go ZK ecosystem. The scalar field comfortably encodes a 64-bit integer
// plus tagging bits, which is all a cell value ever needs to carry.
package field

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// ErrValueTooLarge is returned when a caller attempts to construct a field
// element whose semantic range (e.g. u8/u16) cannot hold the supplied value.
var ErrValueTooLarge = errors.New("field: value exceeds declared range")

// Modulus returns the BN254 scalar field modulus, the field every Element
// in this package reduces into.
func Modulus() *big.Int {
	return fr.Modulus()
}

// Element is one value in the prime field F. The zero value is the field
// element 0.
type Element struct {
	v fr.Element
}

// Zero returns the additive identity.
func Zero() Element { return Element{} }

// One returns the multiplicative identity.
func One() Element {
	var e Element
	e.v.SetOne()
	return e
}

// FromUint64 builds a field element from a small unsigned integer. Every
// trace-level quantity (eid, sp, opcode immediates, ...) fits in a uint64
// before it is lifted into the field.
func FromUint64(v uint64) Element {
	var e Element
	e.v.SetUint64(v)
	return e
}

// FromInt64 builds a field element from a signed integer, reducing
// negative values into F via field subtraction (so -1 becomes p-1).
func FromInt64(v int64) Element {
	var e Element
	bi := big.NewInt(v)
	e.v.SetBigInt(bi)
	return e
}

// FromBigInt reduces an arbitrary big.Int into F.
func FromBigInt(v *big.Int) Element {
	var e Element
	e.v.SetBigInt(v)
	return e
}

// Add returns a+b.
func Add(a, b Element) Element {
	var r Element
	r.v.Add(&a.v, &b.v)
	return r
}

// Sub returns a-b.
func Sub(a, b Element) Element {
	var r Element
	r.v.Sub(&a.v, &b.v)
	return r
}

// Mul returns a*b.
func Mul(a, b Element) Element {
	var r Element
	r.v.Mul(&a.v, &b.v)
	return r
}

// Neg returns -a.
func Neg(a Element) Element {
	var r Element
	r.v.Neg(&a.v)
	return r
}

// Inverse returns a^-1. Returns the zero element if a is zero (matching
// gnark-crypto's convention; callers that divide must check for a zero
// divisor themselves, as the `rel`/`bin` configurations do via their
// `diff_inv` / remainder-complement cells).
func Inverse(a Element) Element {
	var r Element
	r.v.Inverse(&a.v)
	return r
}

// Equal reports whether a and b are the same field element.
func Equal(a, b Element) bool {
	return a.v.Equal(&b.v)
}

// IsZero reports whether a is the additive identity.
func (e Element) IsZero() bool { return e.v.IsZero() }

// Bytes returns the canonical big-endian byte representation (32 bytes for
// BN254's scalar field).
func (e Element) Bytes() [32]byte {
	return e.v.Bytes()
}

// BigInt returns the value as a *big.Int in [0, Modulus()).
func (e Element) BigInt() *big.Int {
	var bi big.Int
	e.v.BigInt(&bi)
	return &bi
}

// String renders the element in decimal, for debugging and error messages.
func (e Element) String() string {
	return e.BigInt().String()
}

// Uint64 returns the value truncated to uint64. Callers must only use this
// on cells whose range constraint (u8/u16/u32/u64/common-range) already
// guarantees the value fits; it is a programmer error otherwise and the
// returned value is simply the low 64 bits of the field element.
func (e Element) Uint64() uint64 {
	bi := e.BigInt()
	return bi.Uint64()
}

// FitsInBits reports whether e, interpreted as the unique representative in
// [0, Modulus()), fits in the given number of bits. Used by the cell
// allocator's typed range checks (u8 -> 8, u16 -> 16, ...) at witness-
// assignment time, ahead of the real range-table lookup argument.
func (e Element) FitsInBits(bits uint) bool {
	return e.BigInt().BitLen() <= int(bits)
}

// RequireBits returns an error wrapping ErrValueTooLarge if e does not fit
// in the given bit width.
func (e Element) RequireBits(bits uint) error {
	if !e.FitsInBits(bits) {
		return fmt.Errorf("%w: %s does not fit in %d bits", ErrValueTooLarge, e.String(), bits)
	}
	return nil
}
