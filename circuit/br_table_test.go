package circuit

import (
	"testing"

	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

// TestCircuitBrTableOutOfBoundClampsToDefault drives the br_table
// default scenario: targets [3,2,1,0], an out-of-range popped
// index (99) clamps to the last entry in the target list rather than
// trapping, and next_iid follows that clamped target. Verify's row-level
// self-check also exercises the br-target membership lookup this brings
// into circuit.checkMembership's TableBrTarget case.
func TestCircuitBrTableOutOfBoundClampsToDefault(t *testing.T) {
	targets := []uint32{3, 2, 1, 0}
	module := &wasm.CompiledModule{
		Functions: []wasm.Function{
			{
				Fid: 0,
				Instructions: []wasm.Instruction{
					{Iid: 0, Opcode: wasm.Opcode{Class: wasm.ClassConst}},
					{
						Iid:     1,
						Opcode:  wasm.Opcode{Class: wasm.ClassBrTable, Arg0: uint64(len(targets))},
						Targets: targets,
					},
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
				{StartEid: 1, EndEid: 2, Offset: 0, LocationType: trace.LocationStack, IsI32: true, Value: 99, AccessType: trace.AccessWrite},
			},
			Opcode: wasm.Opcode{Class: wasm.ClassConst},
		},
		{
			Eid: 2, Fid: 0, Iid: 1, Sp: 9,
			MemoryRWEntries: []trace.MemoryRWEntry{
				{StartEid: 1, EndEid: trace.EndEidSentinel, Offset: 0, LocationType: trace.LocationStack, IsI32: true, Value: 99, AccessType: trace.AccessRead},
			},
			Opcode:         wasm.Opcode{Class: wasm.ClassBrTable, Arg0: uint64(len(targets))},
			BrTableTargets: targets,
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

// TestCircuitBrTableRejectsSpuriousTarget feeds a br_table event whose
// claimed target list disagrees with the module's static br_table
// instruction; the br-target lookup argument must reject it rather than
// silently accepting an interpreter that made up a jump target.
func TestCircuitBrTableRejectsSpuriousTarget(t *testing.T) {
	realTargets := []uint32{3, 2, 1, 0}
	module := &wasm.CompiledModule{
		Functions: []wasm.Function{
			{
				Fid: 0,
				Instructions: []wasm.Instruction{
					{Iid: 0, Opcode: wasm.Opcode{Class: wasm.ClassConst}},
					{
						Iid:     1,
						Opcode:  wasm.Opcode{Class: wasm.ClassBrTable, Arg0: uint64(len(realTargets))},
						Targets: realTargets,
					},
				},
			},
		},
	}

	c, err := New(module)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	spuriousTargets := []uint32{9, 9, 9, 9}
	slice := trace.Slice{Events: []trace.Event{
		{
			Eid: 1, Fid: 0, Iid: 0, Sp: 10,
			MemoryRWEntries: []trace.MemoryRWEntry{
				{StartEid: 1, EndEid: 2, Offset: 0, LocationType: trace.LocationStack, IsI32: true, Value: 0, AccessType: trace.AccessWrite},
			},
			Opcode: wasm.Opcode{Class: wasm.ClassConst},
		},
		{
			Eid: 2, Fid: 0, Iid: 1, Sp: 9,
			MemoryRWEntries: []trace.MemoryRWEntry{
				{StartEid: 1, EndEid: trace.EndEidSentinel, Offset: 0, LocationType: trace.LocationStack, IsI32: true, Value: 0, AccessType: trace.AccessRead},
			},
			Opcode:         wasm.Opcode{Class: wasm.ClassBrTable, Arg0: uint64(len(spuriousTargets))},
			BrTableTargets: spuriousTargets,
		},
	}}

	res, err := c.Assign(slice)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := c.Verify(res); err == nil {
		t.Fatal("Verify must reject a br_table event whose targets don't match the module's static br-target table")
	}
}
