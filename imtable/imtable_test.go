package imtable

import (
	"testing"

	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/wasm"
)

func TestBuildAndLookup(t *testing.T) {
	m := &wasm.CompiledModule{
		InitMemory: []wasm.InitMemoryEntry{
			{LocationType: wasm.LocationHeap, Offset: 0, IsMutable: false, Value: 0xAB},
			{LocationType: wasm.LocationGlobal, Offset: 3, IsMutable: true, Value: 42},
		},
	}
	tbl := Build(m)

	e, ok := tbl.Lookup(wasm.LocationHeap, 0)
	if !ok {
		t.Fatal("expected heap offset 0 to be found")
	}
	if e.Value != 0xAB {
		t.Fatalf("Value = %d, want 0xAB", e.Value)
	}

	if _, ok := tbl.Lookup(wasm.LocationHeap, 1); ok {
		t.Fatal("expected heap offset 1 to be absent")
	}
}

func TestEncodeDistinctForDifferentEntries(t *testing.T) {
	a := Encode(Entry{LocationType: wasm.LocationHeap, Offset: 0, Value: 1})
	b := Encode(Entry{LocationType: wasm.LocationHeap, Offset: 0, Value: 2})
	if field.Equal(a, b) {
		t.Fatal("different values must encode differently")
	}
	c := Encode(Entry{LocationType: wasm.LocationGlobal, Offset: 0, Value: 1})
	if field.Equal(a, c) {
		t.Fatal("different location types must encode differently")
	}
}
