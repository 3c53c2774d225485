package opconf

// CallIndirect implements `call_indirect`: resolves a target function
// through the element table (single table, table_index pinned to 0) and
// the popped call operand, then opens a frame exactly like `call`. Both
// the element-table row and the frame row are fully bound by gates over
// the row's own cells.

import (
	"fmt"

	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

type CallIndirect struct {
	typeIndex    allocator.Cell
	tableIndex   allocator.Cell
	funcIndex    allocator.Cell
	operand      mlookup
	elementLkup  allocator.Cell
	jtableLookup allocator.Cell
}

func (*CallIndirect) Class() wasm.Class { return wasm.ClassCallIndirect }

func (c *CallIndirect) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	for _, p := range []*allocator.Cell{&c.typeIndex, &c.tableIndex, &c.funcIndex} {
		if *p, err = alloc.Alloc(allocator.CommonRange); err != nil {
			return err
		}
	}
	if c.operand, err = declareMLookup(alloc, cs, common, sel, "call_indirect.operand", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.elementLkup, err = alloc.Alloc(allocator.Unlimited); err != nil {
		return err
	}
	if c.jtableLookup, err = alloc.Alloc(allocator.JTableLookup); err != nil {
		return err
	}
	// Only the static type index appears in the instruction encoding; the
	// resolved function index is witness data pinned by the element-table
	// row instead.
	if err := gateOpcodeEncoding(cs, "call_indirect", sel, common, wasm.ClassCallIndirect, v(c.typeIndex), zero(), zero()); err != nil {
		return err
	}
	if err := cs.AddGate("call_indirect.table_index_is_zero", sel.VarID(), v(c.tableIndex)); err != nil {
		return err
	}
	if err := cs.AddGate("call_indirect.operand_width", sel.VarID(), eqExpr(c.operand.is32(), constraint.Const(field.One()))); err != nil {
		return err
	}

	// (table_index << 96 | type_index << 64 | slot_offset << 32 |
	// target_func), the element table's row pack; the slot offset is the
	// popped operand.
	elemWant := addExprs(
		constraint.Scale(fieldPow2(96), v(c.tableIndex)),
		constraint.Scale(fieldPow2(64), v(c.typeIndex)),
		constraint.Scale(fieldPow2(32), c.operand.val()),
		v(c.funcIndex),
	)
	if err := cs.AddGate("call_indirect.element_encode_binding", sel.VarID(), eqExpr(v(c.elementLkup), elemWant)); err != nil {
		return err
	}
	if err := cs.AddLookup("call_indirect.target_in_element_table", sel.VarID(), v(c.elementLkup), constraint.TableElement); err != nil {
		return err
	}

	frameWant := frameEncodeExpr(
		v(common.Eid), v(common.FrameId), v(c.funcIndex), zero(),
		v(common.Fid), constraint.Add(v(common.Iid), constraint.Const(field.One())),
	)
	if err := cs.AddGate("call_indirect.frame_encode_binding", sel.VarID(), eqExpr(v(c.jtableLookup), frameWant)); err != nil {
		return err
	}
	return cs.AddLookup("call_indirect.frame_in_jtable", sel.VarID(), v(c.jtableLookup), constraint.TableJump)
}

func (c *CallIndirect) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 1); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if ev.Frame == nil {
		return etable.NextState{}, nil, nil, ErrMissingFrame
	}
	operand := ev.MemoryRWEntries[0]
	typeIndex, tableIndex, offset := ev.Opcode.Arg0, uint64(0), operand.Value
	// The interpreter's resolved target travels on the frame entry.
	frame := ev.Frame
	funcIndex := uint64(frame.TargetFid)
	if frame.Eid != ev.Eid || frame.LastJumpEid != ev.LastJumpEid ||
		frame.CallerFid != ev.Fid || frame.CallerIid != ev.Iid+1 || frame.TargetIid != 0 {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: call_indirect frame disagrees with the event", ErrMalformedEvent)
	}

	elem := wasm.ElementEntry{TableIndex: uint32(tableIndex), TypeIndex: uint32(typeIndex), SlotOffset: uint32(offset), TargetFuncIdx: uint32(funcIndex)}

	if err := setAll(w, block,
		cellPair(c.typeIndex, field.FromUint64(typeIndex)),
		cellPair(c.tableIndex, field.FromUint64(tableIndex)),
		cellPair(c.funcIndex, field.FromUint64(funcIndex)),
		cellPair(c.elementLkup, field.FromBigInt(elem.Encode())),
		cellPair(c.jtableLookup, jtableRowEncode(frame)),
	); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.operand, operand); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if tableIndex != 0 {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: single-table model requires table_index 0", ErrMalformedEvent)
	}

	return etable.NextState{
		NextFid:     uint32(funcIndex),
		NextIid:     0,
		NextFrameId: ev.Eid,
		SpDiff:      1,
		CallOps:     1,
		Jops:        1,
		Mops:        1,
	}, ev.MemoryRWEntries, frame, nil
}
