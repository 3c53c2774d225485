package circuit

import (
	"testing"

	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

// TestCircuitConstAddIsAssignedAndVerified drives a minimal three-event
// trace (const 5, const 3, bin add) through the full wiring: Circuit.New
// configures every opcode family over a tiny module, Assign materializes
// the witness plus the memory and jump tables, and Verify's row-level
// self-check confirms every registered gate and lookup holds.
func TestCircuitConstAddIsAssignedAndVerified(t *testing.T) {
	module := &wasm.CompiledModule{
		Functions: []wasm.Function{
			{
				Fid: 0,
				Instructions: []wasm.Instruction{
					{Iid: 0, Opcode: wasm.Opcode{Class: wasm.ClassConst}},
					{Iid: 1, Opcode: wasm.Opcode{Class: wasm.ClassConst}},
					{Iid: 2, Opcode: wasm.Opcode{Class: wasm.ClassBin, Arg0: uint64(wasm.BinAdd)}},
				},
			},
		},
	}

	c, err := New(module)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	slice := trace.Slice{Events: []trace.Event{
		{
			Eid: 1, Fid: 0, Iid: 0, Sp: 10,
			MemoryRWEntries: []trace.MemoryRWEntry{
				{StartEid: 1, EndEid: 3, Offset: 0, LocationType: trace.LocationStack, IsI32: true, Value: 5, AccessType: trace.AccessWrite},
			},
			Opcode: wasm.Opcode{Class: wasm.ClassConst},
		},
		{
			Eid: 2, Fid: 0, Iid: 1, Sp: 9,
			MemoryRWEntries: []trace.MemoryRWEntry{
				{StartEid: 2, EndEid: 3, Offset: 1, LocationType: trace.LocationStack, IsI32: true, Value: 3, AccessType: trace.AccessWrite},
			},
			Opcode: wasm.Opcode{Class: wasm.ClassConst},
		},
		{
			Eid: 3, Fid: 0, Iid: 2, Sp: 8,
			MemoryRWEntries: []trace.MemoryRWEntry{
				{StartEid: 2, EndEid: trace.EndEidSentinel, Offset: 1, LocationType: trace.LocationStack, IsI32: true, Value: 3, AccessType: trace.AccessRead},
				{StartEid: 1, EndEid: trace.EndEidSentinel, Offset: 0, LocationType: trace.LocationStack, IsI32: true, Value: 5, AccessType: trace.AccessRead},
				{StartEid: 3, EndEid: trace.EndEidSentinel, Offset: 2, LocationType: trace.LocationStack, IsI32: true, Value: 8, AccessType: trace.AccessWrite},
			},
			Opcode: wasm.Opcode{Class: wasm.ClassBin, Arg0: uint64(wasm.BinAdd)},
		},
	}}

	res, err := c.Assign(slice)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if res.Assigned.Witness.Blocks() != 3 {
		t.Fatalf("want 3 row blocks, got %d", res.Assigned.Witness.Blocks())
	}
	if len(res.Memory.Rows()) != 5 {
		t.Fatalf("want 5 memory rows, got %d", len(res.Memory.Rows()))
	}

	if err := c.AuditCellUsage(); err != nil {
		t.Fatalf("AuditCellUsage: %v", err)
	}
	if err := c.Verify(res); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

// TestCircuitRejectsBadBinResult feeds a bin event whose written result
// disagrees with lhs+rhs; Assign must surface opconf's ErrMalformedEvent
// rather than silently accepting an inconsistent trace.
func TestCircuitRejectsBadBinResult(t *testing.T) {
	module := &wasm.CompiledModule{
		Functions: []wasm.Function{
			{
				Fid: 0,
				Instructions: []wasm.Instruction{
					{Iid: 0, Opcode: wasm.Opcode{Class: wasm.ClassBin, Arg0: uint64(wasm.BinAdd)}},
				},
			},
		},
	}
	c, err := New(module)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	slice := trace.Slice{Events: []trace.Event{
		{
			Eid: 1, Fid: 0, Iid: 0,
			MemoryRWEntries: []trace.MemoryRWEntry{
				{StartEid: 1, EndEid: trace.EndEidSentinel, Offset: 1, LocationType: trace.LocationStack, IsI32: true, Value: 3, AccessType: trace.AccessWrite},
				{StartEid: 1, EndEid: trace.EndEidSentinel, Offset: 0, LocationType: trace.LocationStack, IsI32: true, Value: 5, AccessType: trace.AccessWrite},
				{StartEid: 1, EndEid: trace.EndEidSentinel, Offset: 2, LocationType: trace.LocationStack, IsI32: true, Value: 99, AccessType: trace.AccessWrite},
			},
			Opcode: wasm.Opcode{Class: wasm.ClassBin, Arg0: uint64(wasm.BinAdd)},
		},
	}}

	if _, err := c.Assign(slice); err == nil {
		t.Fatal("expected an error from a malformed bin result")
	}
}

// TestCircuitCallReturnKeepsValue drives a one-call program: fid 0 calls
// fid 1, the callee pushes 42 and returns keeping it, the caller drops
// it. The jump table must close with exactly one frame row and the kept
// value must survive the frame transition.
func TestCircuitCallReturnKeepsValue(t *testing.T) {
	module := &wasm.CompiledModule{
		Functions: []wasm.Function{
			{
				Fid: 0,
				Instructions: []wasm.Instruction{
					{Iid: 0, Opcode: wasm.Opcode{Class: wasm.ClassCall, Arg0: 1}},
					{Iid: 1, Opcode: wasm.Opcode{Class: wasm.ClassDrop}},
				},
			},
			{
				Fid: 1,
				Instructions: []wasm.Instruction{
					{Iid: 0, Opcode: wasm.Opcode{Class: wasm.ClassConst}},
					{Iid: 1, Opcode: wasm.Opcode{Class: wasm.ClassReturn, Arg0: 0, Arg1: 1}},
				},
			},
		},
	}
	c, err := New(module)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	frame := trace.FrameEntry{Eid: 1, LastJumpEid: 0, TargetFid: 1, TargetIid: 0, CallerFid: 0, CallerIid: 1}
	slice := trace.Slice{Events: []trace.Event{
		{
			Eid: 1, Fid: 0, Iid: 0, Sp: 10,
			Opcode: wasm.Opcode{Class: wasm.ClassCall, Arg0: 1},
			Frame:  &frame,
		},
		{
			Eid: 2, Fid: 1, Iid: 0, Sp: 10, LastJumpEid: 1,
			MemoryRWEntries: []trace.MemoryRWEntry{
				{StartEid: 2, EndEid: 3, Offset: 5, LocationType: trace.LocationStack, IsI32: true, Value: 42, AccessType: trace.AccessWrite},
			},
			Opcode: wasm.Opcode{Class: wasm.ClassConst},
		},
		{
			Eid: 3, Fid: 1, Iid: 1, Sp: 9, LastJumpEid: 1,
			MemoryRWEntries: []trace.MemoryRWEntry{
				{StartEid: 2, EndEid: 3, Offset: 5, LocationType: trace.LocationStack, IsI32: true, Value: 42, AccessType: trace.AccessRead},
				{StartEid: 3, EndEid: trace.EndEidSentinel, Offset: 5, LocationType: trace.LocationStack, IsI32: true, Value: 42, AccessType: trace.AccessWrite},
			},
			Opcode: wasm.Opcode{Class: wasm.ClassReturn, Arg0: 0, Arg1: 1},
			Frame:  &frame,
		},
		{
			Eid: 4, Fid: 0, Iid: 1, Sp: 9,
			Opcode: wasm.Opcode{Class: wasm.ClassDrop},
		},
	}}

	res, err := c.Assign(slice)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(res.Jump.Rows()) != 1 {
		t.Fatalf("want 1 jump-table row, got %d", len(res.Jump.Rows()))
	}
	if res.Jump.Rows()[0].RestAfter != 0 {
		t.Fatal("rest_jops must close at 0")
	}
	if err := c.Verify(res); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

// TestCircuitI64LoadReadsInitializedHeap drives an aligned i64.load of an
// initialized heap block: the block's Init row is drawn from the
// initial-memory table and the load's framing identity reconstructs the
// full block as the pushed result.
func TestCircuitI64LoadReadsInitializedHeap(t *testing.T) {
	const block0 = uint64(0x000000FE000000FF)
	module := &wasm.CompiledModule{
		Functions: []wasm.Function{
			{
				Fid: 0,
				Instructions: []wasm.Instruction{
					{Iid: 0, Opcode: wasm.Opcode{Class: wasm.ClassConst}},
					{Iid: 1, Opcode: wasm.Opcode{Class: wasm.ClassLoad, Arg0: 8, Arg1: 0, Arg2: 2}},
				},
			},
		},
		InitMemory: []wasm.InitMemoryEntry{
			{LocationType: wasm.LocationHeap, Offset: 0, IsMutable: true, Value: block0},
		},
		MaximalMemoryPages:    2,
		InitialAllocatedPages: 1,
	}
	c, err := New(module)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	slice := trace.Slice{Events: []trace.Event{
		{
			Eid: 1, Fid: 0, Iid: 0, Sp: 10, AllocatedPages: 1,
			MemoryRWEntries: []trace.MemoryRWEntry{
				{StartEid: 1, EndEid: 2, Offset: 0, LocationType: trace.LocationStack, IsI32: true, Value: 0, AccessType: trace.AccessWrite},
			},
			Opcode: wasm.Opcode{Class: wasm.ClassConst},
		},
		{
			Eid: 2, Fid: 0, Iid: 1, Sp: 9, AllocatedPages: 1,
			MemoryRWEntries: []trace.MemoryRWEntry{
				{StartEid: 1, EndEid: 2, Offset: 0, LocationType: trace.LocationStack, IsI32: true, Value: 0, AccessType: trace.AccessRead},
				{StartEid: 0, EndEid: trace.EndEidSentinel, Offset: 0, LocationType: trace.LocationHeap, IsI32: false, Value: block0, AccessType: trace.AccessRead},
				{StartEid: 2, EndEid: trace.EndEidSentinel, Offset: 0, LocationType: trace.LocationStack, IsI32: false, Value: block0, AccessType: trace.AccessWrite},
			},
			Opcode: wasm.Opcode{Class: wasm.ClassLoad, Arg0: 8, Arg1: 0, Arg2: 2},
		},
	}}

	res, err := c.Assign(slice)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	heapRows := 0
	for _, r := range res.Memory.Rows() {
		if r.LocationType == wasm.LocationHeap {
			heapRows++
		}
	}
	if heapRows != 2 {
		t.Fatalf("want Init+Read heap rows, got %d", heapRows)
	}
	if err := c.Verify(res); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

// TestCircuitMemoryGrowFailure drives memory.grow past the module's
// maximal page bound: the row records success=0, pushes u32::MAX, and
// leaves allocated_pages unchanged.
func TestCircuitMemoryGrowFailure(t *testing.T) {
	module := &wasm.CompiledModule{
		Functions: []wasm.Function{
			{
				Fid: 0,
				Instructions: []wasm.Instruction{
					{Iid: 0, Opcode: wasm.Opcode{Class: wasm.ClassConst}},
					{Iid: 1, Opcode: wasm.Opcode{Class: wasm.ClassMemoryGrow}},
				},
			},
		},
		MaximalMemoryPages:    2,
		InitialAllocatedPages: 1,
	}
	c, err := New(module)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	slice := trace.Slice{Events: []trace.Event{
		{
			Eid: 1, Fid: 0, Iid: 0, Sp: 10, AllocatedPages: 1,
			MemoryRWEntries: []trace.MemoryRWEntry{
				{StartEid: 1, EndEid: 2, Offset: 0, LocationType: trace.LocationStack, IsI32: true, Value: 2, AccessType: trace.AccessWrite},
			},
			Opcode: wasm.Opcode{Class: wasm.ClassConst},
		},
		{
			Eid: 2, Fid: 0, Iid: 1, Sp: 9, AllocatedPages: 1,
			MemoryRWEntries: []trace.MemoryRWEntry{
				{StartEid: 1, EndEid: 2, Offset: 0, LocationType: trace.LocationStack, IsI32: true, Value: 2, AccessType: trace.AccessRead},
				{StartEid: 2, EndEid: trace.EndEidSentinel, Offset: 0, LocationType: trace.LocationStack, IsI32: true, Value: 0xFFFFFFFF, AccessType: trace.AccessWrite},
			},
			Opcode: wasm.Opcode{Class: wasm.ClassMemoryGrow},
		},
	}}

	res, err := c.Assign(slice)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := c.Verify(res); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

// TestCircuitSignedCompare drives i32.lt_s over (-1, 1): unsigned order
// puts the operands the other way around, so only the sign-aware
// recombination makes the row satisfiable with result 1.
func TestCircuitSignedCompare(t *testing.T) {
	module := &wasm.CompiledModule{
		Functions: []wasm.Function{
			{
				Fid: 0,
				Instructions: []wasm.Instruction{
					{Iid: 0, Opcode: wasm.Opcode{Class: wasm.ClassConst}},
					{Iid: 1, Opcode: wasm.Opcode{Class: wasm.ClassConst}},
					{Iid: 2, Opcode: wasm.Opcode{Class: wasm.ClassRel, Arg0: uint64(wasm.RelLtS)}},
				},
			},
		},
	}
	c, err := New(module)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	slice := trace.Slice{Events: []trace.Event{
		{
			Eid: 1, Fid: 0, Iid: 0, Sp: 10,
			MemoryRWEntries: []trace.MemoryRWEntry{
				{StartEid: 1, EndEid: 3, Offset: 0, LocationType: trace.LocationStack, IsI32: true, Value: 0xFFFFFFFF, AccessType: trace.AccessWrite},
			},
			Opcode: wasm.Opcode{Class: wasm.ClassConst},
		},
		{
			Eid: 2, Fid: 0, Iid: 1, Sp: 9,
			MemoryRWEntries: []trace.MemoryRWEntry{
				{StartEid: 2, EndEid: 3, Offset: 1, LocationType: trace.LocationStack, IsI32: true, Value: 1, AccessType: trace.AccessWrite},
			},
			Opcode: wasm.Opcode{Class: wasm.ClassConst},
		},
		{
			Eid: 3, Fid: 0, Iid: 2, Sp: 8,
			MemoryRWEntries: []trace.MemoryRWEntry{
				{StartEid: 2, EndEid: trace.EndEidSentinel, Offset: 1, LocationType: trace.LocationStack, IsI32: true, Value: 1, AccessType: trace.AccessRead},
				{StartEid: 1, EndEid: 3, Offset: 0, LocationType: trace.LocationStack, IsI32: true, Value: 0xFFFFFFFF, AccessType: trace.AccessRead},
				{StartEid: 3, EndEid: trace.EndEidSentinel, Offset: 0, LocationType: trace.LocationStack, IsI32: true, Value: 1, AccessType: trace.AccessWrite},
			},
			Opcode: wasm.Opcode{Class: wasm.ClassRel, Arg0: uint64(wasm.RelLtS)},
		},
	}}

	res, err := c.Assign(slice)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := c.Verify(res); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}
