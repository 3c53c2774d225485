package trace

import (
	"bytes"
	"testing"

	"github.com/eth2030/zkwasm/wasm"
)

func TestEventValidateRejectsZeroEid(t *testing.T) {
	e := Event{Eid: 0}
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for eid 0")
	}
}

func TestEventValidateRejectsTooManyMemoryEntries(t *testing.T) {
	e := Event{Eid: 1, MemoryRWEntries: make([]MemoryRWEntry, 7)}
	if err := e.Validate(); err == nil {
		t.Fatal("expected error for 7 memory entries")
	}
}

func TestSliceTotalMemoryOpsExcludesInit(t *testing.T) {
	s := Slice{Events: []Event{
		{Eid: 1, MemoryRWEntries: []MemoryRWEntry{{AccessType: AccessInit}, {AccessType: AccessWrite}}},
		{Eid: 2, MemoryRWEntries: []MemoryRWEntry{{AccessType: AccessRead}}},
	}}
	if got := s.TotalMemoryOps(); got != 2 {
		t.Fatalf("TotalMemoryOps() = %d, want 2", got)
	}
}

func TestSliceTotalCallCount(t *testing.T) {
	s := Slice{Events: []Event{
		{Eid: 1, Opcode: wasm.Opcode{Class: wasm.ClassCall}, Frame: &FrameEntry{Eid: 1}},
		{Eid: 2, Opcode: wasm.Opcode{Class: wasm.ClassReturn}, Frame: &FrameEntry{Eid: 1}},
	}}
	if got := s.TotalCallCount(); got != 1 {
		t.Fatalf("TotalCallCount() = %d, want 1", got)
	}
}

func TestEncodeEventRoundTripsDeterministically(t *testing.T) {
	e := Event{
		Eid: 5, Fid: 1, Iid: 2, Sp: 100,
		Opcode: wasm.Opcode{Class: wasm.ClassBin, Arg0: uint64(wasm.BinAdd)},
	}
	a, err := EncodeEvent(e)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	b, err := EncodeEvent(e)
	if err != nil {
		t.Fatalf("EncodeEvent (2nd): %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("encoding the same event twice produced different bytes")
	}
}

func TestEncodeSliceNonEmpty(t *testing.T) {
	s := Slice{Events: []Event{{Eid: 1}}}
	b, err := EncodeSlice(s)
	if err != nil {
		t.Fatalf("EncodeSlice: %v", err)
	}
	if len(b) == 0 {
		t.Fatal("expected non-empty encoding")
	}
}
