package opconf

// Call implements `call`: opens a new frame, recorded as one J-table
// entry `{ eid, frame_id, index, fid, iid+1 }`, and transfers control to
// the callee's entry point. Every component of the frame encode is a
// current-row cell, so the jtable_lookup cell is fully bound by a gate.

import (
	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

type Call struct {
	index        allocator.Cell
	jtableLookup allocator.Cell
}

func (*Call) Class() wasm.Class { return wasm.ClassCall }

// frameEncodeExpr mirrors the jump table's mixed-radix frame pack over
// row-cell expressions: eid at weight 2^176, last_jump_eid at 2^128, then
// target fid/iid and caller fid/iid at descending 32-bit radixes.
func frameEncodeExpr(eid, lastJump, targetFid, targetIid, callerFid, callerIid constraint.Expr) constraint.Expr {
	return addExprs(
		constraint.Scale(fieldPow2(176), eid),
		constraint.Scale(fieldPow2(128), lastJump),
		constraint.Scale(fieldPow2(96), targetFid),
		constraint.Scale(fieldPow2(64), targetIid),
		constraint.Scale(fieldPow2(32), callerFid),
		callerIid,
	)
}

func (c *Call) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	if c.index, err = alloc.Alloc(allocator.CommonRange); err != nil {
		return err
	}
	if c.jtableLookup, err = alloc.Alloc(allocator.JTableLookup); err != nil {
		return err
	}
	if err := gateOpcodeEncoding(cs, "call", sel, common, wasm.ClassCall, v(c.index), zero(), zero()); err != nil {
		return err
	}
	want := frameEncodeExpr(
		v(common.Eid), v(common.FrameId), v(c.index), zero(),
		v(common.Fid), constraint.Add(v(common.Iid), constraint.Const(field.One())),
	)
	if err := cs.AddGate("call.frame_encode_binding", sel.VarID(), eqExpr(v(c.jtableLookup), want)); err != nil {
		return err
	}
	return cs.AddLookup("call.frame_in_jtable", sel.VarID(), v(c.jtableLookup), constraint.TableJump)
}

func (c *Call) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 0); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	target := ev.Opcode.Arg0
	frame := &trace.FrameEntry{
		Eid:         ev.Eid,
		LastJumpEid: ev.LastJumpEid,
		TargetFid:   uint32(target),
		TargetIid:   0,
		CallerFid:   ev.Fid,
		CallerIid:   ev.Iid + 1,
	}
	if err := w.Set(block, c.index, field.FromUint64(target)); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := w.Set(block, c.jtableLookup, jtableRowEncode(frame)); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	return etable.NextState{
		NextFid:     uint32(target),
		NextIid:     0,
		NextFrameId: ev.Eid,
		CallOps:     1,
		Jops:        1,
	}, nil, frame, nil
}
