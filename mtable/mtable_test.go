package mtable

import (
	"testing"

	"github.com/eth2030/zkwasm/imtable"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

func TestBuildStackWriteThenRead(t *testing.T) {
	init := imtable.Build(&wasm.CompiledModule{})
	entries := []trace.MemoryRWEntry{
		{Eid: 1, StartEid: 1, EndEid: 2, Offset: 0, LocationType: wasm.LocationStack, Value: 42, AccessType: trace.AccessWrite},
		{Eid: 2, StartEid: 1, EndEid: trace.EndEidSentinel, Offset: 0, LocationType: wasm.LocationStack, Value: 42, AccessType: trace.AccessRead},
	}
	tbl, err := Build(entries, init, 2)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	rows := tbl.Rows()
	if len(rows) != 2 {
		t.Fatalf("want 2 rows, got %d", len(rows))
	}
	if rows[0].SameOffset {
		t.Fatal("first row must not be flagged SameOffset")
	}
	if !rows[1].SameOffset {
		t.Fatal("second row should be flagged SameOffset")
	}
	if rows[1].RestMopsAfter != 0 {
		t.Fatalf("rest_mops should reach 0, got %d", rows[1].RestMopsAfter)
	}
}

func TestBuildRejectsStaleRead(t *testing.T) {
	init := imtable.Build(&wasm.CompiledModule{})
	entries := []trace.MemoryRWEntry{
		{Eid: 1, StartEid: 1, EndEid: 2, Offset: 0, LocationType: wasm.LocationStack, Value: 42, AccessType: trace.AccessWrite},
		{Eid: 2, StartEid: 1, EndEid: trace.EndEidSentinel, Offset: 0, LocationType: wasm.LocationStack, Value: 99, AccessType: trace.AccessRead},
	}
	if _, err := Build(entries, init, 2); err == nil {
		t.Fatal("expected ErrStaleRead")
	}
}

func TestBuildRequiresInitForHeap(t *testing.T) {
	init := imtable.Build(&wasm.CompiledModule{})
	entries := []trace.MemoryRWEntry{
		{Eid: 1, StartEid: 1, EndEid: trace.EndEidSentinel, Offset: 0, LocationType: wasm.LocationHeap, Value: 1, AccessType: trace.AccessWrite},
	}
	if _, err := Build(entries, init, 1); err == nil {
		t.Fatal("expected ErrMissingInit")
	}
}

func TestBuildRejectsWriteToImmutableGlobal(t *testing.T) {
	init := imtable.Build(&wasm.CompiledModule{
		InitMemory: []wasm.InitMemoryEntry{{LocationType: wasm.LocationGlobal, Offset: 0, IsMutable: false, Value: 7}},
	})
	entries := []trace.MemoryRWEntry{
		{Eid: 1, StartEid: 0, EndEid: 2, Offset: 0, LocationType: wasm.LocationGlobal, Value: 7, AccessType: trace.AccessInit},
		{Eid: 2, StartEid: 2, EndEid: trace.EndEidSentinel, Offset: 0, LocationType: wasm.LocationGlobal, Value: 9, AccessType: trace.AccessWrite},
	}
	if _, err := Build(entries, init, 1); err == nil {
		t.Fatal("expected ErrImmutableWrite")
	}
}

func TestEncodeRowRoundTripsDistinctValues(t *testing.T) {
	a := EncodeRow(wasm.LocationHeap, 3, true, 100)
	b := EncodeRow(wasm.LocationHeap, 3, true, 101)
	if a == b {
		t.Fatal("distinct values must not encode identically")
	}
}
