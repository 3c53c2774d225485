package opconf

// BrIfEqz implements `br_if_eqz`, its own opcode configuration distinct
// from `br_if`: branches when the popped i32 condition is zero. It shares
// br_if's condition gadget with the taken sense inverted.

import (
	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

type BrIfEqz struct {
	drop   allocator.Cell
	keep   allocator.Cell
	dstIid allocator.Cell

	condInv    allocator.Cell
	condIsZero allocator.Cell
	keepLive   allocator.Cell

	readCond  mlookup
	keepRead  mlookup
	keepWrite mlookup
}

func (*BrIfEqz) Class() wasm.Class { return wasm.ClassBrIfEqz }

func (c *BrIfEqz) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	if c.drop, err = alloc.Alloc(allocator.CommonRange); err != nil {
		return err
	}
	if c.dstIid, err = alloc.Alloc(allocator.CommonRange); err != nil {
		return err
	}
	for _, p := range []*allocator.Cell{&c.keep, &c.condIsZero, &c.keepLive} {
		if *p, err = alloc.Alloc(allocator.Bit); err != nil {
			return err
		}
	}
	if c.condInv, err = alloc.Alloc(allocator.Unlimited); err != nil {
		return err
	}
	if c.readCond, err = declareMLookup(alloc, cs, common, sel, "br_if_eqz.read_cond", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.keepRead, c.keepWrite, err = declareKeepPair(alloc, cs, common, c.keepLive, "br_if_eqz"); err != nil {
		return err
	}
	if err := gateOpcodeEncoding(cs, "br_if_eqz", sel, common, wasm.ClassBrIfEqz, v(c.drop), v(c.keep), v(c.dstIid)); err != nil {
		return err
	}

	cond := c.readCond.val()
	one := constraint.Const(field.One())
	if err := cs.AddGate("br_if_eqz.cond_width", sel.VarID(), eqExpr(c.readCond.is32(), one)); err != nil {
		return err
	}
	if err := cs.AddGate("br_if_eqz.cond_inv_or_zero", sel.VarID(), eqExpr(
		addExprs(constraint.Mul(cond, v(c.condInv)), v(c.condIsZero)), one,
	)); err != nil {
		return err
	}
	if err := cs.AddGate("br_if_eqz.zero_forces_cond_zero", sel.VarID(), constraint.Mul(v(c.condIsZero), cond)); err != nil {
		return err
	}
	// The branch is taken exactly when the condition is zero.
	return cs.AddGate("br_if_eqz.keep_live", sel.VarID(), eqExpr(v(c.keepLive), constraint.Mul(v(c.condIsZero), v(c.keep))))
}

func (c *BrIfEqz) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if len(ev.MemoryRWEntries) == 0 {
		return etable.NextState{}, nil, nil, ErrMalformedEvent
	}
	cond := ev.MemoryRWEntries[0]
	taken := cond.Value == 0
	drop, keep, dst := ev.Opcode.Arg0, ev.Opcode.Arg1, ev.Opcode.Arg2

	nextIid := ev.Iid + 1
	spDiff := int32(1)
	keepLive := taken && keep != 0
	if taken {
		d, err := keepEffect(ev, drop, keep)
		if err != nil {
			return etable.NextState{}, nil, nil, err
		}
		nextIid = uint32(dst)
		spDiff += d
	}

	condInv := field.Zero()
	if !taken {
		condInv = field.Inverse(field.FromUint64(cond.Value))
	}
	if err := setAll(w, block,
		cellPair(c.drop, field.FromUint64(drop)),
		cellPair(c.keep, field.FromUint64(keep)),
		cellPair(c.dstIid, field.FromUint64(dst)),
		cellPair(c.condIsZero, boolField(taken)),
		cellPair(c.condInv, condInv),
		cellPair(c.keepLive, boolField(keepLive)),
	); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.readCond, cond); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if keepLive {
		if err := assignKeepPair(w, block, c.keepRead, c.keepWrite, ev.MemoryRWEntries[1:]); err != nil {
			return etable.NextState{}, nil, nil, err
		}
	} else if len(ev.MemoryRWEntries) != 1 {
		return etable.NextState{}, nil, nil, ErrMalformedEvent
	}

	return etable.NextState{
		NextFid:     ev.Fid,
		NextIid:     nextIid,
		NextFrameId: ev.LastJumpEid,
		SpDiff:      spDiff,
		Mops:        uint32(len(ev.MemoryRWEntries)),
	}, ev.MemoryRWEntries, nil, nil
}
