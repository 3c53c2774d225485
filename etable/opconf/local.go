package opconf

// LocalGet/LocalSet/LocalTee implement `local.get`, `local.set`, and
// `local.tee`: locals live in the Stack location_type region (addressed
// below the current sp), so every local access is one more stack-shaped
// M-table lookup alongside the operand-stack push/pop it pairs with. The
// value moving between the read entry and the write(s) is pinned by a
// gate over the lookups' bound value cells.

import (
	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

type LocalGet struct {
	localIndex allocator.Cell
	read       mlookup
	push       mlookup
}

func (*LocalGet) Class() wasm.Class { return wasm.ClassLocalGet }

func (c *LocalGet) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	if c.localIndex, err = alloc.Alloc(allocator.CommonRange); err != nil {
		return err
	}
	if c.read, err = declareMLookup(alloc, cs, common, sel, "local.get.read", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.push, err = declareMLookup(alloc, cs, common, sel, "local.get.push", true, wasm.LocationStack); err != nil {
		return err
	}
	if err := gateOpcodeEncoding(cs, "local.get", sel, common, wasm.ClassLocalGet, v(c.localIndex), zero(), zero()); err != nil {
		return err
	}
	if err := cs.AddGate("local.get.read_offset", sel.VarID(), eqExpr(c.read.off(), v(c.localIndex))); err != nil {
		return err
	}
	if err := cs.AddGate("local.get.value_copied", sel.VarID(), eqExpr(c.push.val(), c.read.val())); err != nil {
		return err
	}
	return cs.AddGate("local.get.width_copied", sel.VarID(), eqExpr(c.push.is32(), c.read.is32()))
}

func (c *LocalGet) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 2); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	read, push := ev.MemoryRWEntries[0], ev.MemoryRWEntries[1]
	if push.Value != read.Value {
		return etable.NextState{}, nil, nil, ErrMalformedEvent
	}
	if err := w.Set(block, c.localIndex, field.FromUint64(read.Offset)); err != nil {
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

type LocalSet struct {
	localIndex allocator.Cell
	pop        mlookup
	write      mlookup
}

func (*LocalSet) Class() wasm.Class { return wasm.ClassLocalSet }

func (c *LocalSet) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	if c.localIndex, err = alloc.Alloc(allocator.CommonRange); err != nil {
		return err
	}
	if c.pop, err = declareMLookup(alloc, cs, common, sel, "local.set.pop", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.write, err = declareMLookup(alloc, cs, common, sel, "local.set.write", true, wasm.LocationStack); err != nil {
		return err
	}
	if err := gateOpcodeEncoding(cs, "local.set", sel, common, wasm.ClassLocalSet, v(c.localIndex), zero(), zero()); err != nil {
		return err
	}
	if err := cs.AddGate("local.set.write_offset", sel.VarID(), eqExpr(c.write.off(), v(c.localIndex))); err != nil {
		return err
	}
	if err := cs.AddGate("local.set.value_copied", sel.VarID(), eqExpr(c.write.val(), c.pop.val())); err != nil {
		return err
	}
	return cs.AddGate("local.set.width_copied", sel.VarID(), eqExpr(c.write.is32(), c.pop.is32()))
}

func (c *LocalSet) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 2); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	pop, write := ev.MemoryRWEntries[0], ev.MemoryRWEntries[1]
	if write.Value != pop.Value {
		return etable.NextState{}, nil, nil, ErrMalformedEvent
	}
	if err := w.Set(block, c.localIndex, field.FromUint64(write.Offset)); err != nil {
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

// LocalTee reads the top of the stack without popping it: one read, one
// write back to the same slot, and one write into the local.
type LocalTee struct {
	localIndex allocator.Cell
	read       mlookup
	writeLocal mlookup
	writeTop   mlookup
}

func (*LocalTee) Class() wasm.Class { return wasm.ClassLocalTee }

func (c *LocalTee) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	if c.localIndex, err = alloc.Alloc(allocator.CommonRange); err != nil {
		return err
	}
	if c.read, err = declareMLookup(alloc, cs, common, sel, "local.tee.read", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.writeLocal, err = declareMLookup(alloc, cs, common, sel, "local.tee.write_local", true, wasm.LocationStack); err != nil {
		return err
	}
	if c.writeTop, err = declareMLookup(alloc, cs, common, sel, "local.tee.write_top", true, wasm.LocationStack); err != nil {
		return err
	}
	if err := gateOpcodeEncoding(cs, "local.tee", sel, common, wasm.ClassLocalTee, v(c.localIndex), zero(), zero()); err != nil {
		return err
	}
	if err := cs.AddGate("local.tee.local_offset", sel.VarID(), eqExpr(c.writeLocal.off(), v(c.localIndex))); err != nil {
		return err
	}
	if err := cs.AddGate("local.tee.top_offset", sel.VarID(), eqExpr(c.writeTop.off(), c.read.off())); err != nil {
		return err
	}
	for _, g := range []struct {
		name string
		m    mlookup
	}{{"local.tee.local_value", c.writeLocal}, {"local.tee.top_value", c.writeTop}} {
		if err := cs.AddGate(g.name, sel.VarID(), eqExpr(g.m.val(), c.read.val())); err != nil {
			return err
		}
		if err := cs.AddGate(g.name+"_width", sel.VarID(), eqExpr(g.m.is32(), c.read.is32())); err != nil {
			return err
		}
	}
	return nil
}

func (c *LocalTee) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 3); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	read, writeLocal, writeTop := ev.MemoryRWEntries[0], ev.MemoryRWEntries[1], ev.MemoryRWEntries[2]
	if writeLocal.Value != read.Value || writeTop.Value != read.Value {
		return etable.NextState{}, nil, nil, ErrMalformedEvent
	}
	if err := w.Set(block, c.localIndex, field.FromUint64(writeLocal.Offset)); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.read, read); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.writeLocal, writeLocal); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.writeTop, writeTop); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	next := sameFidNextIid(ev)
	next.Mops = 3
	return next, ev.MemoryRWEntries, nil, nil
}
