package opconf

// Return implements `return`: consumes the frame entry opened by the
// matching call (carried on the event as ev.Frame), optionally keeps one
// value across the popped region, and forces `is_returned`. The kept
// value travels through an enable-gated read/write lookup pair; the
// consumed frame's encode is not reconstructible from current-row cells
// alone (it references the caller's position), so the jtable_lookup cell
// is bound by the lookup argument only.

import (
	"errors"

	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

// ErrMissingFrame is returned when a `return` event has no consumed frame
// entry attached.
var ErrMissingFrame = errors.New("opconf: return event has no frame entry")

type Return struct {
	keep         allocator.Cell
	drop         allocator.Cell
	isI32        allocator.Cell
	jtableLookup allocator.Cell

	keepRead  mlookup
	keepWrite mlookup
}

func (*Return) Class() wasm.Class { return wasm.ClassReturn }

func (c *Return) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	if c.keep, err = alloc.Alloc(allocator.Bit); err != nil {
		return err
	}
	if c.drop, err = alloc.Alloc(allocator.CommonRange); err != nil {
		return err
	}
	if c.isI32, err = alloc.Alloc(allocator.Bit); err != nil {
		return err
	}
	if c.jtableLookup, err = alloc.Alloc(allocator.JTableLookup); err != nil {
		return err
	}
	if c.keepRead, err = declareMLookup(alloc, cs, common, c.keep, "return.keep_read", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.keepWrite, err = declareMLookup(alloc, cs, common, c.keep, "return.keep_write", true, wasm.LocationStack); err != nil {
		return err
	}
	if err := gateOpcodeEncoding(cs, "return", sel, common, wasm.ClassReturn, v(c.drop), v(c.keep), zero()); err != nil {
		return err
	}
	if err := cs.AddGate("return.is_returned_forced", sel.VarID(), eqExpr(v(common.IsReturned), constraint.Const(field.One()))); err != nil {
		return err
	}
	if err := cs.AddGate("return.keep_value_copied", c.keep.VarID(), eqExpr(c.keepWrite.val(), c.keepRead.val())); err != nil {
		return err
	}
	if err := cs.AddGate("return.keep_width_copied", c.keep.VarID(), eqExpr(c.keepWrite.is32(), c.keepRead.is32())); err != nil {
		return err
	}
	if err := cs.AddGate("return.keep_width", c.keep.VarID(), eqExpr(v(c.isI32), c.keepRead.is32())); err != nil {
		return err
	}
	return cs.AddLookup("return.frame_in_jtable", sel.VarID(), v(c.jtableLookup), constraint.TableJump)
}

func (c *Return) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if ev.Frame == nil {
		return etable.NextState{}, nil, nil, ErrMissingFrame
	}
	frame := ev.Frame
	drop := ev.Opcode.Arg0
	keep := ev.Opcode.Arg1 != 0

	var isI32 uint64
	switch {
	case keep && len(ev.MemoryRWEntries) == 2:
		read, write := ev.MemoryRWEntries[0], ev.MemoryRWEntries[1]
		if read.Value != write.Value {
			return etable.NextState{}, nil, nil, ErrMalformedEvent
		}
		isI32 = b2u(read.IsI32)
		if err := assignMLookup(w, block, c.keepRead, read); err != nil {
			return etable.NextState{}, nil, nil, err
		}
		if err := assignMLookup(w, block, c.keepWrite, write); err != nil {
			return etable.NextState{}, nil, nil, err
		}
	case !keep && len(ev.MemoryRWEntries) == 0:
	default:
		return etable.NextState{}, nil, nil, ErrMalformedEvent
	}

	if err := setAll(w, block,
		cellPair(c.keep, boolField(keep)),
		cellPair(c.drop, field.FromUint64(drop)),
		cellPair(c.isI32, field.FromUint64(isI32)),
		cellPair(c.jtableLookup, jtableRowEncode(frame)),
	); err != nil {
		return etable.NextState{}, nil, nil, err
	}

	return etable.NextState{
		NextFid:     frame.CallerFid,
		NextIid:     frame.CallerIid,
		NextFrameId: frame.LastJumpEid,
		SpDiff:      int32(drop),
		ReturnOps:   1,
		Jops:        1,
		Mops:        uint32(len(ev.MemoryRWEntries)),
		IsReturned:  true,
	}, ev.MemoryRWEntries, frame, nil
}
