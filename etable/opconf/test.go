package opconf

// Test implements the `eqz` family: one popped operand, one pushed
// boolean result, pinned by the is-zero gadget over the bound operand
// value.

import (
	"fmt"

	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

type Test struct {
	opInv allocator.Cell
	isI32 allocator.Cell

	readOperand mlookup
	writeRes    mlookup
}

func (*Test) Class() wasm.Class { return wasm.ClassTest }

func (c *Test) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	if c.opInv, err = alloc.Alloc(allocator.Unlimited); err != nil {
		return err
	}
	if c.isI32, err = alloc.Alloc(allocator.Bit); err != nil {
		return err
	}
	if c.readOperand, err = declareMLookup(alloc, cs, common, sel, "test.read_operand", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.writeRes, err = declareMLookup(alloc, cs, common, sel, "test.write_res", true, wasm.LocationStack); err != nil {
		return err
	}
	if err := gateOpcodeEncoding(cs, "test", sel, common, wasm.ClassTest, zero(), zero(), zero()); err != nil {
		return err
	}

	operand, res := c.readOperand.val(), c.writeRes.val()
	one := constraint.Const(field.One())
	if err := cs.AddGate("test.operand_width", sel.VarID(), eqExpr(c.readOperand.is32(), v(c.isI32))); err != nil {
		return err
	}
	// eqz pushes an i32 boolean regardless of the operand width.
	if err := cs.AddGate("test.res_width", sel.VarID(), eqExpr(c.writeRes.is32(), one)); err != nil {
		return err
	}
	// The written result IS the is-zero bit of the operand.
	if err := cs.AddGate("test.inv_or_zero", sel.VarID(), eqExpr(
		addExprs(constraint.Mul(operand, v(c.opInv)), res), one,
	)); err != nil {
		return err
	}
	return cs.AddGate("test.res_forces_operand_zero", sel.VarID(), constraint.Mul(res, operand))
}

func (c *Test) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 2); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	operand, resEntry := ev.MemoryRWEntries[0], ev.MemoryRWEntries[1]
	op := wasm.TestOp(ev.Opcode.Arg0)
	if op != wasm.TestEqz {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: unknown test op %d", ErrMalformedEvent, op)
	}

	res := b2u(operand.Value == 0)
	if res != resEntry.Value {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: test op %d computed %d, trace writes %d", ErrMalformedEvent, op, res, resEntry.Value)
	}

	opInv := field.Zero()
	if operand.Value != 0 {
		opInv = field.Inverse(field.FromUint64(operand.Value))
	}
	if err := setAll(w, block,
		cellPair(c.opInv, opInv),
		cellPair(c.isI32, boolField(operand.IsI32)),
	); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.readOperand, operand); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.writeRes, resEntry); err != nil {
		return etable.NextState{}, nil, nil, err
	}

	return etable.NextState{
		NextFid:     ev.Fid,
		NextIid:     ev.Iid + 1,
		NextFrameId: ev.LastJumpEid,
		Mops:        2,
	}, ev.MemoryRWEntries, nil, nil
}
