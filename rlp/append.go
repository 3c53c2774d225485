package rlp

// Append-style encoding for hand-written codecs. The trace types build
// their wire form incrementally (a fixed field list per Event, a
// variable-length entry list, a nilable frame), so they assemble payloads
// with these append helpers and wrap the result once, instead of going
// through the reflection encoder value by value.

// AppendUint64 appends the canonical RLP encoding of v to dst.
func AppendUint64(dst []byte, v uint64) []byte {
	if v == 0 {
		return append(dst, 0x80)
	}
	if v < 128 {
		return append(dst, byte(v))
	}
	b := putUintBigEndian(v)
	dst = append(dst, 0x80+byte(len(b)))
	return append(dst, b...)
}

// AppendBool appends the canonical RLP encoding of v to dst: 0x01 for
// true, the empty string for false.
func AppendBool(dst []byte, v bool) []byte {
	if v {
		return append(dst, 0x01)
	}
	return append(dst, 0x80)
}
