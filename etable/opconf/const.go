package opconf

// Const implements `i32.const`/`i64.const`: push one immediate value,
// with no operand read. The immediate itself lives out-of-band in the
// trace rather than in the opcode's packed argument fields, so the
// instruction-encoding bind covers only the class tag.

import (
	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

type Const struct {
	isI32 allocator.Cell
	push  mlookup
}

func (*Const) Class() wasm.Class { return wasm.ClassConst }

func (c *Const) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	if c.isI32, err = alloc.Alloc(allocator.Bit); err != nil {
		return err
	}
	if c.push, err = declareMLookup(alloc, cs, common, sel, "const.push", true, wasm.LocationStack); err != nil {
		return err
	}
	if err := gateOpcodeEncoding(cs, "const", sel, common, wasm.ClassConst, zero(), zero(), zero()); err != nil {
		return err
	}
	if err := cs.AddGate("const.push_width", sel.VarID(), eqExpr(c.push.is32(), v(c.isI32))); err != nil {
		return err
	}
	return gateNarrowWhenI32(cs, "const.push", sel, c.isI32, c.push.value)
}

func (c *Const) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 1); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	push := ev.MemoryRWEntries[0]
	if err := w.Set(block, c.isI32, boolField(push.IsI32)); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.push, push); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	next := sameFidNextIid(ev)
	next.SpDiff = -1
	next.Mops = 1
	return next, ev.MemoryRWEntries, nil, nil
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
