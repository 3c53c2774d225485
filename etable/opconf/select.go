package opconf

// Select implements `select`: pops cond, val2, val1 (in that stack order,
// cond on top) and pushes val1 if cond != 0 else val2. cond_inv is cond's
// multiplicative inverse when cond != 0, else free (the standard is-zero
// gadget), and the selection itself is two gates over the bound operand
// values: condIsZero*(res-val2) == 0 and (1-condIsZero)*(res-val1) == 0.

import (
	"fmt"

	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

type Select struct {
	condInv    allocator.Cell
	condIsZero allocator.Cell
	isI32      allocator.Cell

	readCond mlookup
	readVal2 mlookup
	readVal1 mlookup
	writeRes mlookup
}

func (*Select) Class() wasm.Class { return wasm.ClassSelect }

func (c *Select) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	if c.condInv, err = alloc.Alloc(allocator.Unlimited); err != nil {
		return err
	}
	for _, p := range []*allocator.Cell{&c.isI32, &c.condIsZero} {
		if *p, err = alloc.Alloc(allocator.Bit); err != nil {
			return err
		}
	}
	if c.readCond, err = declareMLookup(alloc, cs, common, sel, "select.read_cond", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.readVal2, err = declareMLookup(alloc, cs, common, sel, "select.read_val2", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.readVal1, err = declareMLookup(alloc, cs, common, sel, "select.read_val1", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.writeRes, err = declareMLookup(alloc, cs, common, sel, "select.write_res", true, wasm.LocationStack); err != nil {
		return err
	}
	if err := gateOpcodeEncoding(cs, "select", sel, common, wasm.ClassSelect, zero(), zero(), zero()); err != nil {
		return err
	}

	cond, val1, val2, res := c.readCond.val(), c.readVal1.val(), c.readVal2.val(), c.writeRes.val()
	one := constraint.Const(field.One())

	// The condition is an i32; the two alternatives and the result share
	// the row's dynamic width.
	if err := cs.AddGate("select.cond_width", sel.VarID(), eqExpr(c.readCond.is32(), one)); err != nil {
		return err
	}
	for _, g := range []struct {
		name string
		m    mlookup
	}{{"select.val1_width", c.readVal1}, {"select.val2_width", c.readVal2}, {"select.res_width", c.writeRes}} {
		if err := cs.AddGate(g.name, sel.VarID(), eqExpr(g.m.is32(), v(c.isI32))); err != nil {
			return err
		}
	}

	// Standard is-zero gadget over cond: forces condIsZero to 1 when
	// cond == 0 and to 0 otherwise (the second gate rules out condInv == 0
	// being used to falsely claim condIsZero == 1 on a nonzero cond).
	condInvOrZero := eqExpr(addExprs(constraint.Mul(cond, v(c.condInv)), v(c.condIsZero)), one)
	if err := cs.AddGate("select.cond_inv_or_zero", sel.VarID(), condInvOrZero); err != nil {
		return err
	}
	if err := cs.AddGate("select.cond_zero_forces_cond_zero", sel.VarID(), constraint.Mul(v(c.condIsZero), cond)); err != nil {
		return err
	}
	// cond == 0: res == val2. cond != 0: res == val1.
	if err := cs.AddGate("select.res_is_val2_when_cond_zero", c.condIsZero.VarID(), eqExpr(res, val2)); err != nil {
		return err
	}
	notCondIsZero := eqExpr(one, v(c.condIsZero))
	return cs.AddGate("select.res_is_val1_when_cond_nonzero", sel.VarID(), constraint.Mul(notCondIsZero, eqExpr(res, val1)))
}

func (c *Select) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 4); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	condEntry, val2Entry, val1Entry, resEntry := ev.MemoryRWEntries[0], ev.MemoryRWEntries[1], ev.MemoryRWEntries[2], ev.MemoryRWEntries[3]
	isI32 := val1Entry.IsI32

	taken := condEntry.Value != 0
	want := val2Entry.Value
	if taken {
		want = val1Entry.Value
	}
	if want != resEntry.Value {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: select computed %d, trace writes %d", ErrMalformedEvent, want, resEntry.Value)
	}

	condInvElem := field.Zero()
	if taken {
		condInvElem = field.Inverse(field.FromUint64(condEntry.Value))
	}

	if err := setAll(w, block,
		cellPair(c.condInv, condInvElem),
		cellPair(c.condIsZero, boolField(!taken)),
		cellPair(c.isI32, boolField(isI32)),
	); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	for _, l := range []struct {
		m mlookup
		e trace.MemoryRWEntry
	}{{c.readCond, condEntry}, {c.readVal2, val2Entry}, {c.readVal1, val1Entry}, {c.writeRes, resEntry}} {
		if err := assignMLookup(w, block, l.m, l.e); err != nil {
			return etable.NextState{}, nil, nil, err
		}
	}

	return etable.NextState{
		NextFid:     ev.Fid,
		NextIid:     ev.Iid + 1,
		NextFrameId: ev.LastJumpEid,
		SpDiff:      2,
		Mops:        4,
	}, ev.MemoryRWEntries, nil, nil
}
