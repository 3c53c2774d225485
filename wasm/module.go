package wasm

import "math/big"

// LocationType distinguishes the three addressable memory regions a
// memory rw-entry can touch.
type LocationType uint8

const (
	LocationStack LocationType = iota
	LocationHeap
	LocationGlobal
)

// Instruction is one static instruction within a function body: its
// position (Iid) and its encoded Opcode. Targets is populated only for
// ClassBrTable instructions: the static jump-target list a br_table's
// popped index selects into, too wide to fit in
// Opcode's three argument fields so it travels alongside the instruction
// instead.
type Instruction struct {
	Iid     uint32
	Opcode  Opcode
	Targets []uint32
}

// Function is an ordered list of instructions, addressed by Fid via the
// owning CompiledModule.
type Function struct {
	Fid          uint32
	Instructions []Instruction
	NumLocals    uint32
}

// InitMemoryEntry is one row of the immutable initial-memory table: heap
// bytes, globals, and the element table are all expressed as
// (location_type, offset, is_mutable, value) tuples that the M-table's
// first-for-offset row draws from when its access type is Init. IsI32
// records a global's declared width; heap blocks are always 64-bit.
type InitMemoryEntry struct {
	LocationType LocationType
	Offset       uint64
	IsMutable    bool
	IsI32        bool
	Value        uint64
}

// ElementEntry is one row of the element table: a (table_index, type_index,
// slot_offset) -> target_func_index mapping consulted by call_indirect.
type ElementEntry struct {
	TableIndex    uint32
	TypeIndex     uint32
	SlotOffset    uint32
	TargetFuncIdx uint32
}

// CompiledModule is the external collaborator's output: the static facts the instruction table,
// initial-memory table, and opcode configurations are built from. Parsing
// and lowering a real .wasm binary into this shape is explicitly out of
// scope; callers construct it directly or adapt it from their
// own front end.
type CompiledModule struct {
	Functions    []Function
	InitMemory   []InitMemoryEntry
	ElementTable []ElementEntry

	EntryFid uint32
	EntryIid uint32

	// MaximalMemoryPages bounds memory.grow.
	MaximalMemoryPages uint32
	// InitialAllocatedPages is the heap size the trace starts with.
	InitialAllocatedPages uint32
}

// Func returns the function with the given id, or ok=false if absent.
func (m *CompiledModule) Func(fid uint32) (Function, bool) {
	for _, f := range m.Functions {
		if f.Fid == fid {
			return f, true
		}
	}
	return Function{}, false
}

// Encode packs the element entry as a fixed mixed-radix pack of four
// small integers, 32 bits per field, so the packed value stays well
// inside the field element's headroom.
func (e ElementEntry) Encode() *big.Int {
	acc := new(big.Int).SetUint64(uint64(e.TableIndex))
	acc.Lsh(acc, 32)
	acc.Or(acc, new(big.Int).SetUint64(uint64(e.TypeIndex)))
	acc.Lsh(acc, 32)
	acc.Or(acc, new(big.Int).SetUint64(uint64(e.SlotOffset)))
	acc.Lsh(acc, 32)
	acc.Or(acc, new(big.Int).SetUint64(uint64(e.TargetFuncIdx)))
	return acc
}

// Element looks up an element-table entry by (table_index, type_index,
// slot_offset), as call_indirect requires.
func (m *CompiledModule) Element(tableIndex, typeIndex, offset uint32) (ElementEntry, bool) {
	for _, e := range m.ElementTable {
		if e.TableIndex == tableIndex && e.TypeIndex == typeIndex && e.SlotOffset == offset {
			return e, true
		}
	}
	return ElementEntry{}, false
}
