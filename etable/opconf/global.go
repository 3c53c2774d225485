package opconf

// GlobalGet/GlobalSet implement `global.get` and `global.set`: globals
// live in the Global location_type region; the M-table's mutability
// invariant rejects any Write to an immutable global at table-build time,
// so these configurations only need to shape the access, not re-check
// mutability themselves.

import (
	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

type GlobalGet struct {
	globalIndex allocator.Cell
	read        mlookup
	push        mlookup
}

func (*GlobalGet) Class() wasm.Class { return wasm.ClassGlobalGet }

func (c *GlobalGet) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	if c.globalIndex, err = alloc.Alloc(allocator.CommonRange); err != nil {
		return err
	}
	if c.read, err = declareMLookup(alloc, cs, common, sel, "global.get.read", false, wasm.LocationGlobal); err != nil {
		return err
	}
	if c.push, err = declareMLookup(alloc, cs, common, sel, "global.get.push", true, wasm.LocationStack); err != nil {
		return err
	}
	if err := gateOpcodeEncoding(cs, "global.get", sel, common, wasm.ClassGlobalGet, v(c.globalIndex), zero(), zero()); err != nil {
		return err
	}
	if err := cs.AddGate("global.get.read_offset", sel.VarID(), eqExpr(c.read.off(), v(c.globalIndex))); err != nil {
		return err
	}
	if err := cs.AddGate("global.get.value_copied", sel.VarID(), eqExpr(c.push.val(), c.read.val())); err != nil {
		return err
	}
	return cs.AddGate("global.get.width_copied", sel.VarID(), eqExpr(c.push.is32(), c.read.is32()))
}

func (c *GlobalGet) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 2); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	read, push := ev.MemoryRWEntries[0], ev.MemoryRWEntries[1]
	if push.Value != read.Value {
		return etable.NextState{}, nil, nil, ErrMalformedEvent
	}
	if err := w.Set(block, c.globalIndex, field.FromUint64(read.Offset)); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.read, read); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.push, push); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	next := sameFidNextIid(ev)
	next.SpDiff = -1
	next.Mops = 2
	return next, ev.MemoryRWEntries, nil, nil
}

type GlobalSet struct {
	globalIndex allocator.Cell
	pop         mlookup
	write       mlookup
}

func (*GlobalSet) Class() wasm.Class { return wasm.ClassGlobalSet }

func (c *GlobalSet) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	if c.globalIndex, err = alloc.Alloc(allocator.CommonRange); err != nil {
		return err
	}
	if c.pop, err = declareMLookup(alloc, cs, common, sel, "global.set.pop", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.write, err = declareMLookup(alloc, cs, common, sel, "global.set.write", true, wasm.LocationGlobal); err != nil {
		return err
	}
	if err := gateOpcodeEncoding(cs, "global.set", sel, common, wasm.ClassGlobalSet, v(c.globalIndex), zero(), zero()); err != nil {
		return err
	}
	if err := cs.AddGate("global.set.write_offset", sel.VarID(), eqExpr(c.write.off(), v(c.globalIndex))); err != nil {
		return err
	}
	if err := cs.AddGate("global.set.value_copied", sel.VarID(), eqExpr(c.write.val(), c.pop.val())); err != nil {
		return err
	}
	return cs.AddGate("global.set.width_copied", sel.VarID(), eqExpr(c.write.is32(), c.pop.is32()))
}

func (c *GlobalSet) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 2); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	pop, write := ev.MemoryRWEntries[0], ev.MemoryRWEntries[1]
	if write.Value != pop.Value {
		return etable.NextState{}, nil, nil, ErrMalformedEvent
	}
	if err := w.Set(block, c.globalIndex, field.FromUint64(write.Offset)); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.pop, pop); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.write, write); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	next := sameFidNextIid(ev)
	next.SpDiff = 1
	next.Mops = 2
	return next, ev.MemoryRWEntries, nil, nil
}
