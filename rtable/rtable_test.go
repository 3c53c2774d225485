package rtable

import "testing"

func TestRangeMembership(t *testing.T) {
	tbl := New()

	if !tbl.InU8Range(0) || !tbl.InU8Range(U8Bound-1) {
		t.Fatal("u8 bounds must be members")
	}
	if tbl.InU8Range(U8Bound) {
		t.Fatal("u8 range must exclude its bound")
	}
	if !tbl.InU16Range(U16Bound - 1) {
		t.Fatal("u16 upper bound must be a member")
	}
	if tbl.InU16Range(U16Bound) {
		t.Fatal("u16 range must exclude its bound")
	}
	if !tbl.InCommonRange(CommonRangeBound - 1) {
		t.Fatal("common range upper bound must be a member")
	}
	if tbl.InCommonRange(CommonRangeBound) {
		t.Fatal("common range must exclude its bound")
	}
}

func TestBitOpTableBindsResult(t *testing.T) {
	tbl := New()

	cases := []struct {
		l, r uint64
		op   BitOp
		want uint64
	}{
		{0b10101100, 0b01100110, BitOpAnd, 0b00100100},
		{0b10101100, 0b01100110, BitOpOr, 0b11101110},
		{0b10101100, 0b01100110, BitOpXor, 0b11001010},
		{0b10101100, 0, BitOpPopcnt, 4},
	}
	for _, c := range cases {
		if !tbl.ContainsBitOp(c.l, c.r, c.op, c.want) {
			t.Fatalf("missing bit-op row for (%b,%b,%v)=%b", c.l, c.r, c.op, c.want)
		}
		// The result participates in the key: a wrong result must not be
		// a row, else the lookup would accept any claimed value.
		if tbl.ContainsBitOp(c.l, c.r, c.op, c.want^1) {
			t.Fatalf("row (%b,%b,%v) with wrong result must be absent", c.l, c.r, c.op)
		}
	}
}

func TestPowTable(t *testing.T) {
	tbl := New()

	got, ok := tbl.PowOf(10)
	if !ok || got != 1024 {
		t.Fatalf("PowOf(10) = (%d, %v), want (1024, true)", got, ok)
	}
	if _, ok := tbl.PowOf(PowTableLimit); ok {
		t.Fatal("pow table must not contain an entry at its limit")
	}
}

func TestOffsetLenTableCoversCrossingPairs(t *testing.T) {
	tbl := New()

	if !tbl.ContainsOffsetLen(2, 4) {
		t.Fatal("offset=2,len=4 must be a valid row")
	}
	// A block-crossing pair is a valid access (it reads two blocks); its
	// row carries the cross flag.
	if !tbl.ContainsOffsetLen(6, 4) {
		t.Fatal("offset=6,len=4 crosses the block boundary but is still a valid row")
	}
	if !OffsetLenCrosses(6, 4) || OffsetLenCrosses(4, 4) {
		t.Fatal("cross predicate disagrees with offset+len > 8")
	}
}

func TestEncodeOffsetLenBitsLayout(t *testing.T) {
	// cross<<24 | (offset << 20) | (len << 16) | bits_of_offset_len(...)
	got := EncodeOffsetLenBits(3, 2)
	want := uint64(3)<<20 | uint64(2)<<16 | (uint64(0b11) << 3)
	if got != want {
		t.Fatalf("EncodeOffsetLenBits(3,2) = %#x, want %#x", got, want)
	}
	crossed := EncodeOffsetLenBits(7, 4)
	if crossed>>24&1 != 1 {
		t.Fatal("crossing pair must carry the cross flag")
	}
}
