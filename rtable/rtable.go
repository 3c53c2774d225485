// Package rtable builds the range and bit-op auxiliary tables: fixed,
// pre-populated lookup tables that every typed cell in the allocator
// range-checks against, exposed as plain Go sets a lookup argument can be
// checked against directly.
package rtable

import "github.com/eth2030/zkwasm/field"

// CommonRangeBound is the bound R of the common-range table [0, R); R
// must be small enough that R * (rows per event) stays far from the field
// modulus. BN254's scalar field is far larger than needed here,
// so R is pinned to 2^20, comfortably covering every common-range cell
// this core declares (sp deltas, memory indices, row-sort diffs) while
// keeping the table itself small.
const CommonRangeBound = 1 << 20

// U8Bound and U16Bound are the fixed byte/short ranges.
const (
	U8Bound  = 1 << 8
	U16Bound = 1 << 16
)

// PowTableLimit bounds the powers-of-two table, which enumerates (2^i, i)
// for i in [0, 128).
const PowTableLimit = 128

// Tables holds the materialized auxiliary lookup tables. Each table is a
// set of valid field-element tuples; Contains* methods test set membership,
// standing in for the lookup argument the outer polynomial-IOP evaluates.
type Tables struct {
	common map[uint64]struct{}
	u8     map[uint64]struct{}
	u16    map[uint64]struct{}

	// bitOp is the set of valid encode(op, left, right, result) rows for
	// the byte-chunk bitwise family (and/or/xor) plus the per-byte
	// popcount rows the unary family consumes. The result is part of the
	// key: a lookup that omitted it would accept any claimed result.
	bitOp map[uint64]struct{}

	pow map[uint64]uint64

	// offsetLenBits is the set of valid encode(offset, len) rows, covering
	// every (offset in [0,8), len in {1,2,4,8}) pair; pairs whose access
	// crosses an 8-byte block boundary carry the cross flag in the encode.
	offsetLenBits map[uint64]struct{}
}

// New materializes all auxiliary tables once; they are immutable for the
// lifetime of a constraint system.
func New() *Tables {
	t := &Tables{
		common:        make(map[uint64]struct{}, CommonRangeBound),
		u8:            make(map[uint64]struct{}, U8Bound),
		u16:           make(map[uint64]struct{}, U16Bound),
		bitOp:         make(map[uint64]struct{}, 256*256*3+256),
		pow:           make(map[uint64]uint64, PowTableLimit),
		offsetLenBits: make(map[uint64]struct{}, 8*4),
	}

	for i := uint64(0); i < CommonRangeBound; i++ {
		t.common[i] = struct{}{}
	}
	for i := uint64(0); i < U8Bound; i++ {
		t.u8[i] = struct{}{}
	}
	for i := uint64(0); i < U16Bound; i++ {
		t.u16[i] = struct{}{}
	}
	for i := uint64(0); i < PowTableLimit; i++ {
		t.pow[i] = uint64(1) << i
	}
	for _, op := range []BitOp{BitOpAnd, BitOpOr, BitOpXor} {
		for l := uint64(0); l < 256; l++ {
			for r := uint64(0); r < 256; r++ {
				t.bitOp[EncodeBitOp(l, r, op, op.apply(l, r))] = struct{}{}
			}
		}
	}
	for l := uint64(0); l < 256; l++ {
		t.bitOp[EncodeBitOp(l, 0, BitOpPopcnt, popcount8(l))] = struct{}{}
	}
	for _, offset := range []uint64{0, 1, 2, 3, 4, 5, 6, 7} {
		for _, length := range []uint64{1, 2, 4, 8} {
			t.offsetLenBits[EncodeOffsetLenBits(offset, length)] = struct{}{}
		}
	}
	return t
}

// BitOp identifies a byte-chunk bitwise operator.
type BitOp uint64

const (
	BitOpAnd BitOp = iota
	BitOpOr
	BitOpXor
	BitOpPopcnt
)

func (op BitOp) apply(l, r uint64) uint64 {
	switch op {
	case BitOpAnd:
		return l & r
	case BitOpOr:
		return l | r
	case BitOpXor:
		return l ^ r
	case BitOpPopcnt:
		return popcount8(l)
	default:
		return 0
	}
}

func popcount8(l uint64) uint64 {
	n := uint64(0)
	for i := uint(0); i < 8; i++ {
		n += l >> i & 1
	}
	return n
}

// EncodeBitOp packs one bit-table row (op, left, right, result) into its
// lookup key: the result sits in the low byte so a consuming gate can
// bind its own result cell linearly.
func EncodeBitOp(left, right uint64, op BitOp, result uint64) uint64 {
	return uint64(op)<<24 | (left&0xff)<<16 | (right&0xff)<<8 | (result & 0xff)
}

// bitsOfOffsetLen returns the contiguous `len`-bit mask starting at bit
// `offset`: ((1<<len)-1) << offset. The mask is kept at bit rather than
// byte granularity so every (offset, len) pair, including block-crossing
// ones, fits below the len field at bit 16.
func bitsOfOffsetLen(offset, length uint64) uint64 {
	bits := (uint64(1) << length) - 1
	return bits << offset
}

// OffsetLenCrosses reports whether an access of length bytes starting at
// inner offset crosses the 8-byte block boundary.
func OffsetLenCrosses(offset, length uint64) bool {
	return offset+length > 8
}

// EncodeOffsetLenBits packs one offset-len-bits row into its lookup key:
// a cross flag at bit 24, the inner offset at bit 20, the length at bit
// 16, and the mask in the low 16 bits.
func EncodeOffsetLenBits(offset, length uint64) uint64 {
	cross := uint64(0)
	if OffsetLenCrosses(offset, length) {
		cross = 1
	}
	return cross<<24 | offset<<20 | length<<16 | bitsOfOffsetLen(offset, length)
}

func (t *Tables) InCommonRange(v uint64) bool { _, ok := t.common[v]; return ok }
func (t *Tables) InU8Range(v uint64) bool     { _, ok := t.u8[v]; return ok }
func (t *Tables) InU16Range(v uint64) bool    { _, ok := t.u16[v]; return ok }

// ContainsBitOp reports whether (left, right, op, result) is a valid
// bit-table row.
func (t *Tables) ContainsBitOp(left, right uint64, op BitOp, result uint64) bool {
	_, ok := t.bitOp[EncodeBitOp(left, right, op, result)]
	return ok
}

// ContainsBitOpRow reports whether the packed encode is a valid bit-table
// row, for callers holding the row key rather than its components.
func (t *Tables) ContainsBitOpRow(encode uint64) bool {
	_, ok := t.bitOp[encode]
	return ok
}

// PowOf returns 2^power if power is within the table's range.
func (t *Tables) PowOf(power uint64) (uint64, bool) {
	v, ok := t.pow[power]
	return v, ok
}

// ContainsOffsetLen reports whether (offset, len) is a valid
// offset-len-bits row.
func (t *Tables) ContainsOffsetLen(offset, length uint64) bool {
	_, ok := t.offsetLenBits[EncodeOffsetLenBits(offset, length)]
	return ok
}

// EncodePow packs (power, modulus=2^power) the way a pow-table lookup
// cell expects: modulus << 16 | power. The modulus can reach 2^127, so
// the encode is a field element, not a uint64.
func EncodePow(power uint64) field.Element {
	modulus := PowElement(power)
	return field.Add(field.Mul(modulus, field.FromUint64(1<<16)), field.FromUint64(power))
}

// PowElement returns 2^power as a field element, for powers beyond uint64
// range.
func PowElement(power uint64) field.Element {
	acc := field.One()
	two := field.FromUint64(2)
	for i := uint64(0); i < power; i++ {
		acc = field.Mul(acc, two)
	}
	return acc
}

// Common, U8, and U16 expose the table contents as field elements, for
// callers materializing the witness matrix's fixed-table columns.
func (t *Tables) Common() []field.Element { return elementsUpTo(CommonRangeBound) }
func (t *Tables) U8() []field.Element     { return elementsUpTo(U8Bound) }
func (t *Tables) U16() []field.Element    { return elementsUpTo(U16Bound) }

// Pow enumerates every pow-table row encode.
func (t *Tables) Pow() []field.Element {
	out := make([]field.Element, 0, PowTableLimit)
	for i := uint64(0); i < PowTableLimit; i++ {
		out = append(out, EncodePow(i))
	}
	return out
}

// BitOpRows enumerates every bit-table row encode.
func (t *Tables) BitOpRows() []field.Element {
	out := make([]field.Element, 0, len(t.bitOp))
	for k := range t.bitOp {
		out = append(out, field.FromUint64(k))
	}
	return out
}

// OffsetLenBits enumerates every offset-len-bits row encode.
func (t *Tables) OffsetLenBits() []field.Element {
	out := make([]field.Element, 0, len(t.offsetLenBits))
	for k := range t.offsetLenBits {
		out = append(out, field.FromUint64(k))
	}
	return out
}

func elementsUpTo(n uint64) []field.Element {
	out := make([]field.Element, n)
	for i := uint64(0); i < n; i++ {
		out[i] = field.FromUint64(i)
	}
	return out
}
