package opconf

// Br/BrIf implement `br` and `br_if`: a branch carries (drop, keep,
// dst-iid); `br_if` additionally depends on a popped i32 condition. The
// kept operand travels through an enable-gated read/write lookup pair --
// always live for `br`, live only on taken rows for `br_if`.

import (
	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

// keepEffect computes the common (keep, drop) stack-effect bookkeeping a
// branch family shares: when keep=1, the event carries a read+write pair
// preserving the top operand across the dropped region; when keep=0, it
// carries none.
func keepEffect(ev trace.Event, drop, keep uint64) (int32, error) {
	switch {
	case keep != 0 && len(ev.MemoryRWEntries) >= 1:
		return int32(drop), nil
	case keep == 0:
		return int32(drop), nil
	default:
		return 0, ErrMalformedEvent
	}
}

// declareKeepPair reserves the enable-gated read/write lookup pair every
// keep-capable branch shares, with the copy gates tying the pair's value
// and width together.
func declareKeepPair(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, enable allocator.Cell, name string) (read, write mlookup, err error) {
	if read, err = declareMLookup(alloc, cs, common, enable, name+".keep_read", false, wasm.LocationStack); err != nil {
		return mlookup{}, mlookup{}, err
	}
	if write, err = declareMLookup(alloc, cs, common, enable, name+".keep_write", true, wasm.LocationStack); err != nil {
		return mlookup{}, mlookup{}, err
	}
	if err = cs.AddGate(name+".keep_value_copied", enable.VarID(), eqExpr(write.val(), read.val())); err != nil {
		return mlookup{}, mlookup{}, err
	}
	if err = cs.AddGate(name+".keep_width_copied", enable.VarID(), eqExpr(write.is32(), read.is32())); err != nil {
		return mlookup{}, mlookup{}, err
	}
	return read, write, nil
}

func assignKeepPair(w *etable.Witness, block int, read, write mlookup, entries []trace.MemoryRWEntry) error {
	if len(entries) != 2 || entries[0].Value != entries[1].Value {
		return ErrMalformedEvent
	}
	if err := assignMLookup(w, block, read, entries[0]); err != nil {
		return err
	}
	return assignMLookup(w, block, write, entries[1])
}

type Br struct {
	drop   allocator.Cell
	keep   allocator.Cell
	dstIid allocator.Cell

	keepRead  mlookup
	keepWrite mlookup
}

func (*Br) Class() wasm.Class { return wasm.ClassBr }

func (c *Br) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	if c.drop, err = alloc.Alloc(allocator.CommonRange); err != nil {
		return err
	}
	if c.keep, err = alloc.Alloc(allocator.Bit); err != nil {
		return err
	}
	if c.dstIid, err = alloc.Alloc(allocator.CommonRange); err != nil {
		return err
	}
	if c.keepRead, c.keepWrite, err = declareKeepPair(alloc, cs, common, c.keep, "br"); err != nil {
		return err
	}
	return gateOpcodeEncoding(cs, "br", sel, common, wasm.ClassBr, v(c.drop), v(c.keep), v(c.dstIid))
}

func (c *Br) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	drop, keep, dst := ev.Opcode.Arg0, ev.Opcode.Arg1, ev.Opcode.Arg2
	spDiff, err := keepEffect(ev, drop, keep)
	if err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if keep != 0 {
		if err := assignKeepPair(w, block, c.keepRead, c.keepWrite, ev.MemoryRWEntries); err != nil {
			return etable.NextState{}, nil, nil, err
		}
	} else if len(ev.MemoryRWEntries) != 0 {
		return etable.NextState{}, nil, nil, ErrMalformedEvent
	}
	if err := setAll(w, block,
		cellPair(c.drop, field.FromUint64(drop)),
		cellPair(c.keep, field.FromUint64(keep)),
		cellPair(c.dstIid, field.FromUint64(dst)),
	); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	return etable.NextState{
		NextFid:     ev.Fid,
		NextIid:     uint32(dst),
		NextFrameId: ev.LastJumpEid,
		SpDiff:      spDiff,
		Mops:        uint32(len(ev.MemoryRWEntries)),
	}, ev.MemoryRWEntries, nil, nil
}

// BrIf branches to dst when the popped i32 condition is nonzero, otherwise
// falls through to iid+1.
type BrIf struct {
	drop   allocator.Cell
	keep   allocator.Cell
	dstIid allocator.Cell

	taken      allocator.Cell
	condInv    allocator.Cell
	condIsZero allocator.Cell
	keepLive   allocator.Cell

	readCond  mlookup
	keepRead  mlookup
	keepWrite mlookup
}

func (*BrIf) Class() wasm.Class { return wasm.ClassBrIf }

func (c *BrIf) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	if c.drop, err = alloc.Alloc(allocator.CommonRange); err != nil {
		return err
	}
	if c.dstIid, err = alloc.Alloc(allocator.CommonRange); err != nil {
		return err
	}
	for _, p := range []*allocator.Cell{&c.keep, &c.taken, &c.condIsZero, &c.keepLive} {
		if *p, err = alloc.Alloc(allocator.Bit); err != nil {
			return err
		}
	}
	if c.condInv, err = alloc.Alloc(allocator.Unlimited); err != nil {
		return err
	}
	if c.readCond, err = declareMLookup(alloc, cs, common, sel, "br_if.read_cond", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.keepRead, c.keepWrite, err = declareKeepPair(alloc, cs, common, c.keepLive, "br_if"); err != nil {
		return err
	}
	if err := gateOpcodeEncoding(cs, "br_if", sel, common, wasm.ClassBrIf, v(c.drop), v(c.keep), v(c.dstIid)); err != nil {
		return err
	}

	cond := c.readCond.val()
	one := constraint.Const(field.One())
	if err := cs.AddGate("br_if.cond_width", sel.VarID(), eqExpr(c.readCond.is32(), one)); err != nil {
		return err
	}
	if err := cs.AddGate("br_if.cond_inv_or_zero", sel.VarID(), eqExpr(
		addExprs(constraint.Mul(cond, v(c.condInv)), v(c.condIsZero)), one,
	)); err != nil {
		return err
	}
	if err := cs.AddGate("br_if.zero_forces_cond_zero", sel.VarID(), constraint.Mul(v(c.condIsZero), cond)); err != nil {
		return err
	}
	if err := cs.AddGate("br_if.taken_is_cond_nonzero", sel.VarID(), eqExpr(
		v(c.taken), constraint.Sub(one, v(c.condIsZero)),
	)); err != nil {
		return err
	}
	return cs.AddGate("br_if.keep_live", sel.VarID(), eqExpr(v(c.keepLive), constraint.Mul(v(c.taken), v(c.keep))))
}

func (c *BrIf) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if len(ev.MemoryRWEntries) == 0 {
		return etable.NextState{}, nil, nil, ErrMalformedEvent
	}
	cond := ev.MemoryRWEntries[0]
	taken := cond.Value != 0
	drop, keep, dst := ev.Opcode.Arg0, ev.Opcode.Arg1, ev.Opcode.Arg2

	nextIid := ev.Iid + 1
	spDiff := int32(1) // the condition itself is always popped
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
	if taken {
		condInv = field.Inverse(field.FromUint64(cond.Value))
	}
	if err := setAll(w, block,
		cellPair(c.drop, field.FromUint64(drop)),
		cellPair(c.keep, field.FromUint64(keep)),
		cellPair(c.dstIid, field.FromUint64(dst)),
		cellPair(c.taken, boolField(taken)),
		cellPair(c.condIsZero, boolField(!taken)),
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
