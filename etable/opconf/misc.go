package opconf

// Misc covers the zero-cell opcode families every real trace needs:
// `unreachable`, `nop`, and `drop`. None of the three declares cells;
// drop contributes only an sp adjustment and the other two only a
// next-iid projection.

import (
	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

// Unreachable is `unreachable`: it declares no cells. A real interpreter
// traps on this instruction, so a well-formed trace's last event may be
// one of these with no successor; the next-state projection is only
// meaningful if the trace does continue (e.g. inside a never-taken branch
// of test tooling).
type Unreachable struct{}

func (Unreachable) Class() wasm.Class { return wasm.ClassUnreachable }

func (Unreachable) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	return gateOpcodeEncoding(cs, "unreachable", sel, common, wasm.ClassUnreachable, zero(), zero(), zero())
}

func (Unreachable) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 0); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	return sameFidNextIid(ev), nil, nil, nil
}

// Nop is `nop`: declares no cells, no stack effect.
type Nop struct{}

func (Nop) Class() wasm.Class { return wasm.ClassNop }

func (Nop) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	return gateOpcodeEncoding(cs, "nop", sel, common, wasm.ClassNop, zero(), zero(), zero())
}

func (Nop) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 0); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	return sameFidNextIid(ev), nil, nil, nil
}

// Drop is `drop`: pops one operand without reading its value into any
// constrained cell (the value is discarded and never observed again), so
// it declares no cells either; only `sp_diff` changes.
type Drop struct{}

func (Drop) Class() wasm.Class { return wasm.ClassDrop }

func (Drop) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	return gateOpcodeEncoding(cs, "drop", sel, common, wasm.ClassDrop, zero(), zero(), zero())
}

func (Drop) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 0); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	next := sameFidNextIid(ev)
	next.SpDiff = 1
	return next, nil, nil, nil
}
