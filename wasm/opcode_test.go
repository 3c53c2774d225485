package wasm

import "testing"

func TestOpcodeEncodeRoundTripsClassAndArgs(t *testing.T) {
	op := Opcode{Class: ClassBin, Arg0: uint64(BinDivS), Arg1: 1, Arg2: 0xffff}
	enc := op.Encode()

	gotClass := Class(enc >> ClassShift)
	if gotClass != ClassBin {
		t.Fatalf("class = %v, want %v", gotClass, ClassBin)
	}
	gotArg0 := (enc >> Arg0Shift) & mask(Arg0Bits)
	if gotArg0 != uint64(BinDivS) {
		t.Fatalf("arg0 = %d, want %d", gotArg0, uint64(BinDivS))
	}
	gotArg1 := (enc >> Arg1Shift) & mask(Arg1Bits)
	if gotArg1 != 1 {
		t.Fatalf("arg1 = %d, want 1", gotArg1)
	}
	gotArg2 := enc & mask(Arg2Bits)
	if gotArg2 != 0xffff {
		t.Fatalf("arg2 = %d, want 0xffff", gotArg2)
	}
}

func TestOpcodeEncodeDistinguishesClasses(t *testing.T) {
	a := Opcode{Class: ClassConst}.Encode()
	b := Opcode{Class: ClassDrop}.Encode()
	if a == b {
		t.Fatal("distinct classes with zero args must not collide")
	}
}

func TestOpcodeEncodeTruncatesOversizedArgs(t *testing.T) {
	// Arg1 only has Arg1Bits of room; anything above that is masked off.
	op := Opcode{Class: ClassBr, Arg1: 1 << Arg1Bits}
	if (op.Encode()>>Arg1Shift)&mask(Arg1Bits) != 0 {
		t.Fatal("overflowing arg1 bit must not leak into arg0's field")
	}
}

func TestClassStringKnownAndUnknown(t *testing.T) {
	if ClassCall.String() != "call" {
		t.Fatalf("ClassCall.String() = %q, want \"call\"", ClassCall.String())
	}
	if got := classCount.String(); got == "" {
		t.Fatal("out-of-range Class must still format, not panic")
	}
}

func TestValueTypeBits(t *testing.T) {
	if I32.Bits() != 32 {
		t.Fatalf("I32.Bits() = %d, want 32", I32.Bits())
	}
	if I64.Bits() != 64 {
		t.Fatalf("I64.Bits() = %d, want 64", I64.Bits())
	}
}
