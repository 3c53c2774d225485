package field

import "testing"

func TestAddSubMul(t *testing.T) {
	a := FromUint64(7)
	b := FromUint64(5)

	if got, want := Add(a, b), FromUint64(12); !Equal(got, want) {
		t.Fatalf("Add(7,5) = %s, want %s", got, want)
	}
	if got, want := Sub(a, b), FromUint64(2); !Equal(got, want) {
		t.Fatalf("Sub(7,5) = %s, want %s", got, want)
	}
	if got, want := Mul(a, b), FromUint64(35); !Equal(got, want) {
		t.Fatalf("Mul(7,5) = %s, want %s", got, want)
	}
}

func TestNegWraps(t *testing.T) {
	a := FromUint64(1)
	n := Neg(a)
	if Equal(n, Zero()) {
		t.Fatal("Neg(1) should not be zero")
	}
	if got := Add(n, a); !Equal(got, Zero()) {
		t.Fatalf("Neg(1)+1 = %s, want 0", got)
	}
}

func TestFromInt64Negative(t *testing.T) {
	neg1 := FromInt64(-1)
	if got := Add(neg1, One()); !Equal(got, Zero()) {
		t.Fatalf("FromInt64(-1)+1 = %s, want 0", got)
	}
}

func TestInverse(t *testing.T) {
	a := FromUint64(12345)
	inv := Inverse(a)
	if got := Mul(a, inv); !Equal(got, One()) {
		t.Fatalf("a * a^-1 = %s, want 1", got)
	}
}

func TestFitsInBits(t *testing.T) {
	tests := []struct {
		v    uint64
		bits uint
		want bool
	}{
		{0xff, 8, true},
		{0x100, 8, false},
		{0xffff, 16, true},
		{0x10000, 16, false},
	}
	for _, tt := range tests {
		e := FromUint64(tt.v)
		if got := e.FitsInBits(tt.bits); got != tt.want {
			t.Errorf("FromUint64(%#x).FitsInBits(%d) = %v, want %v", tt.v, tt.bits, got, tt.want)
		}
	}
}

func TestRequireBitsError(t *testing.T) {
	e := FromUint64(0x100)
	if err := e.RequireBits(8); err == nil {
		t.Fatal("expected error for 0x100 not fitting in 8 bits")
	}
}

func TestRoundTripBigInt(t *testing.T) {
	e := FromUint64(123456789)
	bi := e.BigInt()
	e2 := FromBigInt(bi)
	if !Equal(e, e2) {
		t.Fatalf("round trip mismatch: %s vs %s", e, e2)
	}
}

func TestIsZero(t *testing.T) {
	if !Zero().IsZero() {
		t.Fatal("Zero() should report IsZero")
	}
	if One().IsZero() {
		t.Fatal("One() should not report IsZero")
	}
}
