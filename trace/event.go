// Package trace defines the execution-trace data model: the Event,
// memory rw-entry, and frame-entry shapes an external interpreter emits,
// plus the canonical RLP serialization used to hash or persist a trace
// slice.
package trace

import (
	"fmt"

	"github.com/eth2030/zkwasm/wasm"
)

// LocationType re-exports wasm.LocationType so callers constructing a
// trace don't need to import both packages for one enum.
type LocationType = wasm.LocationType

const (
	LocationStack  = wasm.LocationStack
	LocationHeap   = wasm.LocationHeap
	LocationGlobal = wasm.LocationGlobal
)

// AccessType distinguishes how a memory rw-entry came to exist: the
// first entry for an offset is either Init (heap/global/element table) or
// Write (stack/locals); every subsequent entry is Write or Read.
type AccessType uint8

const (
	AccessInit AccessType = iota
	AccessWrite
	AccessRead
)

// MemoryRWEntry is one memory access.
//
// Eid is the eid of the event performing *this* access, not to be confused
// with StartEid: for a Write (or Init) access Eid == StartEid (the access
// establishes the interval), but for a Read access Eid is the reading
// event's own eid while StartEid still points back at the write that
// produced the value being read.
type MemoryRWEntry struct {
	Eid          uint64
	StartEid     uint64
	EndEid       uint64 // sentinel (math.MaxUint64) if still live at slice end
	Offset       uint64
	LocationType LocationType
	IsI32        bool
	Value        uint64
	AccessType   AccessType
}

// EndEidSentinel marks a memory entry still live at the end of the traced
// slice.
const EndEidSentinel = ^uint64(0)

// FrameEntry is one call/return pairing.
type FrameEntry struct {
	Eid         uint64
	LastJumpEid uint64
	TargetFid   uint32
	TargetIid   uint32
	CallerFid   uint32
	CallerIid   uint32 // already +1 past the call site
}

// Event is one executed instruction.
type Event struct {
	Eid             uint64
	Fid             uint32
	Iid             uint32
	Sp              uint32
	AllocatedPages  uint32
	LastJumpEid     uint64
	Opcode          wasm.Opcode
	MemoryRWEntries []MemoryRWEntry // up to six
	Frame           *FrameEntry     // zero-or-one

	// BrTableTargets carries the static jump-target list of the br_table
	// instruction at (Fid, Iid) -- copied in from wasm.Instruction.Targets
	// by whoever builds the trace, so the br_table configuration can clamp
	// and resolve its destination without reaching back into the compiled
	// module. Empty for every other opcode class.
	BrTableTargets []uint32
}

// Validate checks the structural invariants a TraceOutOfOrder error
// reports: monotonic eid is checked across a Slice, not a single
// Event, but per-event invariants (end_eid >= eid on every memory entry,
// memory-entry count bounded) are checked here.
func (e Event) Validate() error {
	if e.Eid == 0 {
		return fmt.Errorf("trace: event has eid 0, eid must be >= 1")
	}
	if len(e.MemoryRWEntries) > 6 {
		return fmt.Errorf("trace: event %d has %d memory rw-entries, max is 6", e.Eid, len(e.MemoryRWEntries))
	}
	for i, m := range e.MemoryRWEntries {
		if m.EndEid < e.Eid && m.EndEid != 0 {
			return fmt.Errorf("trace: event %d memory entry %d has end_eid %d < eid", e.Eid, i, m.EndEid)
		}
	}
	return nil
}

// Slice is an ordered execution trace: the unit the event-table driver
// consumes.
type Slice struct {
	Events []Event
}

// TotalMemoryOps returns the count of non-Init memory rw-entries across
// the whole slice -- the value `rest_mops` must start at.
func (s Slice) TotalMemoryOps() int {
	n := 0
	for _, e := range s.Events {
		for _, m := range e.MemoryRWEntries {
			if m.AccessType != AccessInit {
				n++
			}
		}
	}
	return n
}

// TotalCallCount returns the number of call-opening frame entries, so
// `rest_jops` can be initialized to 2*TotalCallCount.
func (s Slice) TotalCallCount() int {
	n := 0
	for _, e := range s.Events {
		if e.Frame != nil && e.Opcode.Class != wasm.ClassReturn {
			n++
		}
	}
	return n
}

// TotalReturnCount returns the number of frame-consuming return events,
// the starting value of `rest_return_ops`.
func (s Slice) TotalReturnCount() int {
	n := 0
	for _, e := range s.Events {
		if e.Frame != nil && e.Opcode.Class == wasm.ClassReturn {
			n++
		}
	}
	return n
}
