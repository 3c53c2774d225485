package opconf

// BrTable implements `br_table`: selects one target out of a fixed list
// by a popped i32 index, clamped to the list's last entry (the default)
// when the index is out of bounds. outOfBound, effectiveIndex and diff
// are real degree-2 gates (effectiveIndex is a linear blend of
// expectIndex and targetsLen-1 gated by outOfBound); diff's own
// CommonRange allocation is what actually proves it's nonnegative, the
// same role remComplement plays in bin's division bound. The resolved
// (fid, iid, effective_index, drop, keep, dst_iid) tuple is bound by a
// gate and must be a row of the static br-target table.

import (
	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/brtable"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

type BrTable struct {
	keep           allocator.Cell
	drop           allocator.Cell
	dstIid         allocator.Cell
	expectIndex    allocator.Cell
	effectiveIndex allocator.Cell
	targetsLen     allocator.Cell
	outOfBound     allocator.Cell
	diff           allocator.Cell
	brTableLookup  allocator.Cell

	readIndex mlookup
	keepRead  mlookup
	keepWrite mlookup
}

func (*BrTable) Class() wasm.Class { return wasm.ClassBrTable }

func (c *BrTable) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	for _, p := range []*allocator.Cell{&c.keep, &c.outOfBound} {
		if *p, err = alloc.Alloc(allocator.Bit); err != nil {
			return err
		}
	}
	for _, p := range []*allocator.Cell{&c.drop, &c.dstIid, &c.expectIndex, &c.effectiveIndex, &c.targetsLen, &c.diff} {
		if *p, err = alloc.Alloc(allocator.CommonRange); err != nil {
			return err
		}
	}
	if c.brTableLookup, err = alloc.Alloc(allocator.Unlimited); err != nil {
		return err
	}
	if c.readIndex, err = declareMLookup(alloc, cs, common, sel, "br_table.read_index", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.keepRead, c.keepWrite, err = declareKeepPair(alloc, cs, common, c.keep, "br_table"); err != nil {
		return err
	}
	if err := gateOpcodeEncoding(cs, "br_table", sel, common, wasm.ClassBrTable, v(c.targetsLen), v(c.drop), v(c.keep)); err != nil {
		return err
	}

	one := constraint.Const(field.One())
	if err := cs.AddGate("br_table.index_width", sel.VarID(), eqExpr(c.readIndex.is32(), one)); err != nil {
		return err
	}
	if err := cs.AddGate("br_table.index_read", sel.VarID(), eqExpr(v(c.expectIndex), c.readIndex.val())); err != nil {
		return err
	}

	// effectiveIndex == expectIndex + outOfBound*(targetsLen-expectIndex-1):
	// outOfBound=0 leaves effectiveIndex==expectIndex; outOfBound=1 moves it
	// to targetsLen-1, the clamped default entry.
	targetsLenLessExpectLess1 := constraint.Sub(constraint.Sub(v(c.targetsLen), v(c.expectIndex)), one)
	effectiveIndexIdentity := eqExpr(
		v(c.effectiveIndex),
		addExprs(v(c.expectIndex), constraint.Mul(v(c.outOfBound), targetsLenLessExpectLess1)),
	)
	if err := cs.AddGate("br_table.effective_index_identity", sel.VarID(), effectiveIndexIdentity); err != nil {
		return err
	}

	// diff == (targetsLen-expectIndex-1) + outOfBound*(2*expectIndex -
	// 2*targetsLen + 1): outOfBound=0 gives targetsLen-expectIndex-1 (so
	// expectIndex < targetsLen, proven nonnegative by diff's own
	// CommonRange bound); outOfBound=1 gives expectIndex-targetsLen (so
	// expectIndex >= targetsLen, same proof in the other direction).
	two := field.FromUint64(2)
	diffBlend := constraint.Add(
		constraint.Scale(two, v(c.expectIndex)),
		constraint.Sub(one, constraint.Scale(two, v(c.targetsLen))),
	)
	diffIdentity := eqExpr(
		v(c.diff),
		addExprs(targetsLenLessExpectLess1, constraint.Mul(v(c.outOfBound), diffBlend)),
	)
	if err := cs.AddGate("br_table.diff_identity", sel.VarID(), diffIdentity); err != nil {
		return err
	}

	// The resolved target row: fid<<160 | iid<<128 | effective_index<<96 |
	// drop<<64 | keep<<32 | dst_iid.
	rowWant := addExprs(
		constraint.Scale(fieldPow2(160), v(common.Fid)),
		constraint.Scale(fieldPow2(128), v(common.Iid)),
		constraint.Scale(fieldPow2(96), v(c.effectiveIndex)),
		constraint.Scale(fieldPow2(64), v(c.drop)),
		constraint.Scale(fieldPow2(32), v(c.keep)),
		v(c.dstIid),
	)
	if err := cs.AddGate("br_table.target_encode_binding", sel.VarID(), eqExpr(v(c.brTableLookup), rowWant)); err != nil {
		return err
	}
	return cs.AddLookup("br_table.target_in_table", sel.VarID(), v(c.brTableLookup), constraint.TableBrTarget)
}

func (c *BrTable) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if len(ev.MemoryRWEntries) == 0 {
		return etable.NextState{}, nil, nil, ErrMalformedEvent
	}
	index := ev.MemoryRWEntries[0]
	targetsLen := ev.Opcode.Arg0
	drop := ev.Opcode.Arg1
	keep := ev.Opcode.Arg2 != 0
	expectIndex := index.Value

	outOfBound := expectIndex >= targetsLen
	effectiveIndex := expectIndex
	diff := uint64(0)
	if outOfBound {
		effectiveIndex = targetsLen - 1
		diff = expectIndex - targetsLen
	} else {
		diff = targetsLen - expectIndex - 1
	}

	spDiff, err := keepEffect(ev, drop, ev.Opcode.Arg2)
	if err != nil {
		return etable.NextState{}, nil, nil, err
	}
	spDiff++ // the selector index itself is always popped

	if uint64(len(ev.BrTableTargets)) != targetsLen {
		return etable.NextState{}, nil, nil, ErrMalformedEvent
	}
	dst := ev.BrTableTargets[effectiveIndex]

	row := brtable.Row{
		Fid:            ev.Fid,
		Iid:            ev.Iid,
		EffectiveIndex: uint32(effectiveIndex),
		Drop:           drop,
		Keep:           keep,
		DstIid:         dst,
	}

	if err := setAll(w, block,
		cellPair(c.keep, boolField(keep)),
		cellPair(c.drop, field.FromUint64(drop)),
		cellPair(c.dstIid, field.FromUint64(uint64(dst))),
		cellPair(c.expectIndex, field.FromUint64(expectIndex)),
		cellPair(c.effectiveIndex, field.FromUint64(effectiveIndex)),
		cellPair(c.targetsLen, field.FromUint64(targetsLen)),
		cellPair(c.outOfBound, boolField(outOfBound)),
		cellPair(c.diff, field.FromUint64(diff)),
		cellPair(c.brTableLookup, brtable.Encode(row)),
	); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.readIndex, index); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if keep {
		if err := assignKeepPair(w, block, c.keepRead, c.keepWrite, ev.MemoryRWEntries[1:]); err != nil {
			return etable.NextState{}, nil, nil, err
		}
	} else if len(ev.MemoryRWEntries) != 1 {
		return etable.NextState{}, nil, nil, ErrMalformedEvent
	}

	return etable.NextState{
		NextFid:     ev.Fid,
		NextIid:     dst,
		NextFrameId: ev.LastJumpEid,
		SpDiff:      spDiff,
		Mops:        uint32(len(ev.MemoryRWEntries)),
	}, ev.MemoryRWEntries, nil, nil
}
