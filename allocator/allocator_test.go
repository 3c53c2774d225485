package allocator

import (
	"errors"
	"testing"

	"github.com/eth2030/zkwasm/constraint"
)

func TestAllocWrapsColumnAtK(t *testing.T) {
	a := New(4)
	var last Cell
	for i := 0; i < 4; i++ {
		c, err := a.Alloc(Bit)
		if err != nil {
			t.Fatalf("Alloc %d: %v", i, err)
		}
		last = c
	}
	if last.Column != 0 || last.Row != 3 {
		t.Fatalf("expected (0,3), got (%d,%d)", last.Column, last.Row)
	}
	wrapped, err := a.Alloc(Bit)
	if err != nil {
		t.Fatalf("Alloc after wrap: %v", err)
	}
	if wrapped.Column != 1 || wrapped.Row != 0 {
		t.Fatalf("expected wrap to (1,0), got (%d,%d)", wrapped.Column, wrapped.Row)
	}
}

func TestAllocOutOfCells(t *testing.T) {
	a := New(1)
	for i := 0; i < columnsPerType; i++ {
		if _, err := a.Alloc(U8); err != nil {
			t.Fatalf("unexpected error at %d: %v", i, err)
		}
	}
	_, err := a.Alloc(U8)
	if !errors.Is(err, ErrOutOfCells) {
		t.Fatalf("expected ErrOutOfCells, got %v", err)
	}
}

func TestAllocU32Decomposition(t *testing.T) {
	a := New(8)
	c, err := a.AllocU32()
	if err != nil {
		t.Fatalf("AllocU32: %v", err)
	}
	if c.Lo.Type != U32 || c.Hi.Type != U32 {
		t.Fatalf("limbs must live in the U32 column family, got %v %v", c.Lo.Type, c.Hi.Type)
	}
	if c.Lo.Row == c.Hi.Row {
		t.Fatal("lo/hi limbs must occupy distinct rows")
	}
}

func TestAllocU64SpansOneColumnSlot(t *testing.T) {
	a := New(16)
	u, err := a.AllocU64()
	if err != nil {
		t.Fatalf("AllocU64: %v", err)
	}
	seen := map[constraint.VarID]bool{}
	for _, limb := range u.Limbs {
		if limb.Type != U64 {
			t.Fatalf("limb in family %v, want U64", limb.Type)
		}
		if seen[limb.VarID()] {
			t.Fatal("limbs must not collide")
		}
		seen[limb.VarID()] = true
	}
	if u.Aggregate.Row != u.Limbs[3].Row+1 {
		t.Fatal("aggregate must directly follow the limbs")
	}
}

func TestAllocU64WithFlagVariants(t *testing.T) {
	a := New(16)
	for _, typ := range []CellType{U64WithFlagBit, U64WithDyn, U64WithDynSign} {
		u, err := a.AllocU64WithFlag(typ)
		if err != nil {
			t.Fatalf("AllocU64WithFlag(%v): %v", typ, err)
		}
		if u.Flag.Row != u.Aggregate.Row+1 {
			t.Fatalf("%v: flag must follow the aggregate", typ)
		}
	}
	if _, err := a.AllocU64WithFlag(U64); err == nil {
		t.Fatal("plain U64 is not a flagged variant")
	}
}

func TestRangedAndBitTracking(t *testing.T) {
	a := New(8)
	if _, err := a.Alloc(Bit); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if _, err := a.Alloc(CommonRange); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if len(a.Bits()) != 1 {
		t.Fatalf("want 1 tracked bit, got %d", len(a.Bits()))
	}
	if len(a.Ranged(CommonRange)) != 1 {
		t.Fatalf("want 1 tracked common-range cell, got %d", len(a.Ranged(CommonRange)))
	}
}

func TestAllocMTableLookupWriteOmitsStartDiff(t *testing.T) {
	a := New(16)
	m, err := a.AllocMTableLookup(true)
	if err != nil {
		t.Fatalf("AllocMTableLookup: %v", err)
	}
	if m.StartEidDiff != (Cell{}) {
		t.Fatalf("write cell should not allocate StartEidDiff, got %+v", m.StartEidDiff)
	}

	read, err := a.AllocMTableLookup(false)
	if err != nil {
		t.Fatalf("AllocMTableLookup(read): %v", err)
	}
	if read.StartEidDiff == (Cell{}) {
		t.Fatal("read cell must allocate StartEidDiff")
	}
}

func TestVerifyFullyUsed(t *testing.T) {
	a := New(4)
	if err := a.VerifyFullyUsed(Bit); err == nil {
		t.Fatal("expected error for never-allocated type")
	}
	if _, err := a.Alloc(Bit); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := a.VerifyFullyUsed(Bit); err != nil {
		t.Fatalf("expected success after allocation, got %v", err)
	}
}

func TestCellVarIDDistinctness(t *testing.T) {
	a := New(4)
	c1, _ := a.Alloc(Bit)
	c2, _ := a.Alloc(U8)
	if c1.VarID() == c2.VarID() {
		t.Fatal("cells of different types at same (column,row) must have distinct VarIDs")
	}
}
