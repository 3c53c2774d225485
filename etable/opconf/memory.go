package opconf

// MemorySize and MemoryGrow implement `memory.size` and `memory.grow`.
// Grow reads the requested page count, and either extends the allocation
// (result is the old page count, and the new count stays within the
// module's maximal page bound via a range-checked slack cell) or fails
// (result is u32::MAX and the page count is unchanged).

import (
	"fmt"

	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

const u32Max = (uint64(1) << 32) - 1

// MemorySize implements `memory.size`: pushes the current page count.
type MemorySize struct {
	push mlookup
}

func (*MemorySize) Class() wasm.Class { return wasm.ClassMemorySize }

func (c *MemorySize) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	if c.push, err = declareMLookup(alloc, cs, common, sel, "memory_size.push", true, wasm.LocationStack); err != nil {
		return err
	}
	if err := gateOpcodeEncoding(cs, "memory_size", sel, common, wasm.ClassMemorySize, zero(), zero(), zero()); err != nil {
		return err
	}
	if err := cs.AddGate("memory_size.push_width", sel.VarID(), eqExpr(c.push.is32(), constraint.Const(field.One()))); err != nil {
		return err
	}
	return cs.AddGate("memory_size.pushes_page_count", sel.VarID(), eqExpr(c.push.val(), v(common.AllocatedPages)))
}

func (c *MemorySize) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 1); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	push := ev.MemoryRWEntries[0]
	if push.Value != uint64(ev.AllocatedPages) {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: memory.size pushes %d, allocated_pages is %d", ErrMalformedEvent, push.Value, ev.AllocatedPages)
	}
	if err := assignMLookup(w, block, c.push, push); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	return etable.NextState{
		NextFid:     ev.Fid,
		NextIid:     ev.Iid + 1,
		NextFrameId: ev.LastJumpEid,
		SpDiff:      -1,
		Mops:        1,
	}, ev.MemoryRWEntries, nil, nil
}

// MemoryGrow implements `memory.grow`. maximalPages is the module's static
// bound on allocated heap pages.
type MemoryGrow struct {
	maximalPages uint32

	success            allocator.Cell
	currentMaximalDiff allocator.Cell
	pop                mlookup
	push               mlookup
}

func NewMemoryGrow(maximalPages uint32) *MemoryGrow {
	return &MemoryGrow{maximalPages: maximalPages}
}

func (*MemoryGrow) Class() wasm.Class { return wasm.ClassMemoryGrow }

func (c *MemoryGrow) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	if c.success, err = alloc.Alloc(allocator.Bit); err != nil {
		return err
	}
	if c.currentMaximalDiff, err = alloc.Alloc(allocator.CommonRange); err != nil {
		return err
	}
	if c.pop, err = declareMLookup(alloc, cs, common, sel, "memory_grow.pop", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.push, err = declareMLookup(alloc, cs, common, sel, "memory_grow.push", true, wasm.LocationStack); err != nil {
		return err
	}
	if err := gateOpcodeEncoding(cs, "memory_grow", sel, common, wasm.ClassMemoryGrow, zero(), zero(), zero()); err != nil {
		return err
	}

	growSize, result := c.pop.val(), c.push.val()
	one := constraint.Const(field.One())
	if err := cs.AddGate("memory_grow.pop_width", sel.VarID(), eqExpr(c.pop.is32(), one)); err != nil {
		return err
	}
	if err := cs.AddGate("memory_grow.push_width", sel.VarID(), eqExpr(c.push.is32(), one)); err != nil {
		return err
	}

	// success == 1: result is the old page count and pages + grow_size +
	// diff == maximal, the diff's own range proving the bound holds.
	maximal := constraint.Const(field.FromUint64(uint64(c.maximalPages)))
	withinBound := eqExpr(addExprs(v(common.AllocatedPages), growSize, v(c.currentMaximalDiff)), maximal)
	if err := cs.AddGate("memory_grow.within_bound_on_success", c.success.VarID(), withinBound); err != nil {
		return err
	}
	if err := cs.AddGate("memory_grow.result_on_success", c.success.VarID(), eqExpr(result, v(common.AllocatedPages))); err != nil {
		return err
	}
	// success == 0: result is u32::MAX.
	notSuccess := constraint.Sub(one, v(c.success))
	return cs.AddGate("memory_grow.result_on_failure", sel.VarID(), constraint.Mul(
		notSuccess, eqExpr(result, constraint.Const(field.FromUint64(u32Max))),
	))
}

func (c *MemoryGrow) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 2); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	pop, push := ev.MemoryRWEntries[0], ev.MemoryRWEntries[1]
	growSize := pop.Value
	currentPages := uint64(ev.AllocatedPages)

	success := currentPages+growSize <= uint64(c.maximalPages)
	var wantResult uint64
	var diff uint64
	var pagesDiff int32
	if success {
		wantResult = currentPages
		diff = uint64(c.maximalPages) - currentPages - growSize
		pagesDiff = int32(growSize)
	} else {
		wantResult = u32Max
	}
	if push.Value != wantResult {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: memory.grow computed result %d, trace pushes %d", ErrMalformedEvent, wantResult, push.Value)
	}

	if err := setAll(w, block,
		cellPair(c.success, boolField(success)),
		cellPair(c.currentMaximalDiff, field.FromUint64(diff)),
	); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.pop, pop); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.push, push); err != nil {
		return etable.NextState{}, nil, nil, err
	}

	return etable.NextState{
		NextFid:            ev.Fid,
		NextIid:            ev.Iid + 1,
		NextFrameId:        ev.LastJumpEid,
		AllocatedPagesDiff: pagesDiff,
		Mops:               2,
	}, ev.MemoryRWEntries, nil, nil
}
