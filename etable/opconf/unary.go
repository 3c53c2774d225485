package opconf

// Unary implements the clz/ctz/popcnt family. clz is the bracketing
// identity 2^(width-1-res) <= operand < 2^(width-res), ctz factors the
// operand as odd * 2^res, and popcnt sums per-byte population counts
// drawn from the bit-table's popcount rows. The zero operand short-cuts
// clz/ctz to the full width through the shared is-zero gadget.

import (
	"fmt"
	"math/bits"

	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/rtable"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

const unaryChunks = 8

type Unary struct {
	isI32 allocator.Cell

	isClz    allocator.Cell
	isCtz    allocator.Cell
	isPopcnt allocator.Cell

	opInv    allocator.Cell
	opIsZero allocator.Cell

	clzEnable allocator.Cell
	clzPow    allocator.Cell
	clzLkup   allocator.Cell
	clzRest   allocator.U64Cell
	clzRestC  allocator.U64Cell

	ctzEnable allocator.Cell
	ctzPow    allocator.Cell
	ctzLkup   allocator.Cell
	ctzOdd    allocator.U64Cell
	ctzHalf   allocator.U64Cell

	popBytes  [unaryChunks]allocator.Cell
	popCounts [unaryChunks]allocator.Cell
	popChunks [unaryChunks]allocator.Cell

	readOperand mlookup
	writeRes    mlookup
}

func (*Unary) Class() wasm.Class { return wasm.ClassUnary }

func (c *Unary) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	for _, p := range []*allocator.Cell{&c.isI32, &c.isClz, &c.isCtz, &c.isPopcnt, &c.opIsZero, &c.clzEnable, &c.ctzEnable} {
		if *p, err = alloc.Alloc(allocator.Bit); err != nil {
			return err
		}
	}
	for _, p := range []*allocator.Cell{&c.opInv, &c.clzPow, &c.ctzPow} {
		if *p, err = alloc.Alloc(allocator.Unlimited); err != nil {
			return err
		}
	}
	for _, p := range []struct {
		cell *allocator.U64Cell
		name string
	}{
		{&c.clzRest, "unary.clz_rest"}, {&c.clzRestC, "unary.clz_rest_c"},
		{&c.ctzOdd, "unary.ctz_odd"}, {&c.ctzHalf, "unary.ctz_half"},
	} {
		if *p.cell, err = allocU64Checked(alloc, cs, p.name, sel); err != nil {
			return err
		}
	}
	for i := 0; i < unaryChunks; i++ {
		if c.popBytes[i], err = alloc.Alloc(allocator.U8); err != nil {
			return err
		}
		if c.popCounts[i], err = alloc.Alloc(allocator.U8); err != nil {
			return err
		}
		if c.popChunks[i], err = alloc.Alloc(allocator.BitTableLookup); err != nil {
			return err
		}
	}
	if c.readOperand, err = declareMLookup(alloc, cs, common, sel, "unary.read_operand", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.writeRes, err = declareMLookup(alloc, cs, common, sel, "unary.write_res", true, wasm.LocationStack); err != nil {
		return err
	}

	operand, res := c.readOperand.val(), c.writeRes.val()
	one := constraint.Const(field.One())
	width := constraint.Sub(constraint.Const(field.FromUint64(64)), constraint.Scale(field.FromUint64(32), v(c.isI32)))

	if err := cs.AddGate("unary.sub_op_one_hot", sel.VarID(), eqExpr(
		addExprs(v(c.isClz), v(c.isCtz), v(c.isPopcnt)), one,
	)); err != nil {
		return err
	}
	opWeighted := addExprs(
		constraint.Scale(field.FromUint64(uint64(wasm.UnaryCtz)), v(c.isCtz)),
		constraint.Scale(field.FromUint64(uint64(wasm.UnaryPopcnt)), v(c.isPopcnt)),
	)
	if err := gateOpcodeEncoding(cs, "unary", sel, common, wasm.ClassUnary, opWeighted, zero(), zero()); err != nil {
		return err
	}
	if err := cs.AddGate("unary.operand_width", sel.VarID(), eqExpr(c.readOperand.is32(), v(c.isI32))); err != nil {
		return err
	}
	if err := cs.AddGate("unary.result_width", sel.VarID(), eqExpr(c.writeRes.is32(), v(c.isI32))); err != nil {
		return err
	}
	if err := gateNarrowWhenI32(cs, "unary.operand", sel, c.isI32, c.readOperand.value); err != nil {
		return err
	}

	// Is-zero gadget over the operand, shared by the clz/ctz zero cases.
	if err := cs.AddGate("unary.operand_inv_or_zero", sel.VarID(), eqExpr(
		addExprs(constraint.Mul(operand, v(c.opInv)), v(c.opIsZero)), one,
	)); err != nil {
		return err
	}
	if err := cs.AddGate("unary.zero_forces_operand_zero", sel.VarID(), constraint.Mul(v(c.opIsZero), operand)); err != nil {
		return err
	}
	if err := cs.AddGate("unary.clz_of_zero", c.isClz.VarID(), constraint.Mul(v(c.opIsZero), constraint.Sub(res, width))); err != nil {
		return err
	}
	if err := cs.AddGate("unary.ctz_of_zero", c.isCtz.VarID(), constraint.Mul(v(c.opIsZero), constraint.Sub(res, width))); err != nil {
		return err
	}

	// clz over a nonzero operand: 2^(width-1-res) <= operand <
	// 2^(width-res).
	if err := cs.AddGate("unary.clz_enable", sel.VarID(), eqExpr(
		v(c.clzEnable), constraint.Mul(v(c.isClz), constraint.Sub(one, v(c.opIsZero))),
	)); err != nil {
		return err
	}
	clzExp := constraint.Sub(constraint.Sub(width, one), res)
	if c.clzLkup, err = declarePowBinding(alloc, cs, "unary.clz_pow", c.clzEnable, v(c.clzPow), clzExp); err != nil {
		return err
	}
	if err := cs.AddGate("unary.clz_bracket", c.clzEnable.VarID(), eqExpr(
		operand, constraint.Add(v(c.clzPow), u64v(c.clzRest)),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("unary.clz_rest_bound", c.clzEnable.VarID(), eqExpr(
		constraint.Add(u64v(c.clzRest), u64v(c.clzRestC)), constraint.Sub(v(c.clzPow), one),
	)); err != nil {
		return err
	}

	// ctz over a nonzero operand: operand == odd * 2^res with odd odd.
	if err := cs.AddGate("unary.ctz_enable", sel.VarID(), eqExpr(
		v(c.ctzEnable), constraint.Mul(v(c.isCtz), constraint.Sub(one, v(c.opIsZero))),
	)); err != nil {
		return err
	}
	if c.ctzLkup, err = declarePowBinding(alloc, cs, "unary.ctz_pow", c.ctzEnable, v(c.ctzPow), res); err != nil {
		return err
	}
	if err := cs.AddGate("unary.ctz_factor", c.ctzEnable.VarID(), eqExpr(
		operand, constraint.Mul(u64v(c.ctzOdd), v(c.ctzPow)),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("unary.ctz_odd_is_odd", c.ctzEnable.VarID(), eqExpr(
		u64v(c.ctzOdd), addExprs(constraint.Scale(field.FromUint64(2), u64v(c.ctzHalf)), one),
	)); err != nil {
		return err
	}

	// popcnt: per-byte counts from the bit-table's popcount rows.
	byteSum, countSum := zero(), zero()
	for i := 0; i < unaryChunks; i++ {
		byteSum = constraint.Add(byteSum, constraint.Scale(field.FromUint64(1<<(8*uint(i))), v(c.popBytes[i])))
		countSum = constraint.Add(countSum, v(c.popCounts[i]))
		row := addExprs(
			constraint.Const(field.FromUint64(uint64(rtable.BitOpPopcnt)<<24)),
			constraint.Scale(field.FromUint64(1<<16), v(c.popBytes[i])),
			v(c.popCounts[i]),
		)
		if err := cs.AddGate(fmt.Sprintf("unary.popcnt_chunk_%d_binding", i), c.isPopcnt.VarID(), eqExpr(v(c.popChunks[i]), row)); err != nil {
			return err
		}
		if err := cs.AddLookup(fmt.Sprintf("unary.popcnt_chunk_%d_in_table", i), c.isPopcnt.VarID(), v(c.popChunks[i]), constraint.TableBitOp); err != nil {
			return err
		}
	}
	if err := cs.AddGate("unary.popcnt_decomposition", c.isPopcnt.VarID(), eqExpr(operand, byteSum)); err != nil {
		return err
	}
	return cs.AddGate("unary.popcnt_res", c.isPopcnt.VarID(), eqExpr(res, countSum))
}

func (c *Unary) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 2); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	operand, resEntry := ev.MemoryRWEntries[0], ev.MemoryRWEntries[1]
	isI32 := operand.IsI32
	width := uint64(64)
	if isI32 {
		width = 32
	}
	op := wasm.UnaryOp(ev.Opcode.Arg0)
	val := operand.Value

	var res uint64
	switch op {
	case wasm.UnaryClz:
		if isI32 {
			res = uint64(bits.LeadingZeros32(uint32(val)))
		} else {
			res = uint64(bits.LeadingZeros64(val))
		}
	case wasm.UnaryCtz:
		if val == 0 {
			res = width
		} else {
			res = uint64(bits.TrailingZeros64(val))
		}
	case wasm.UnaryPopcnt:
		res = uint64(bits.OnesCount64(val))
	default:
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: unknown unary op %d", ErrMalformedEvent, op)
	}
	if res != resEntry.Value {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: unary op %d computed %d, trace writes %d", ErrMalformedEvent, op, res, resEntry.Value)
	}

	opInv := field.Zero()
	if val != 0 {
		opInv = field.Inverse(field.FromUint64(val))
	}
	if err := setAll(w, block,
		cellPair(c.isI32, boolField(isI32)),
		cellPair(c.isClz, boolField(op == wasm.UnaryClz)),
		cellPair(c.isCtz, boolField(op == wasm.UnaryCtz)),
		cellPair(c.isPopcnt, boolField(op == wasm.UnaryPopcnt)),
		cellPair(c.opIsZero, boolField(val == 0)),
		cellPair(c.opInv, opInv),
		cellPair(c.clzEnable, boolField(op == wasm.UnaryClz && val != 0)),
		cellPair(c.ctzEnable, boolField(op == wasm.UnaryCtz && val != 0)),
	); err != nil {
		return etable.NextState{}, nil, nil, err
	}

	switch {
	case op == wasm.UnaryClz && val != 0:
		exp := width - 1 - res
		pow := uint64(1) << exp
		if err := w.Set(block, c.clzPow, field.FromUint64(pow)); err != nil {
			return etable.NextState{}, nil, nil, err
		}
		if err := assignPow(w, block, c.clzLkup, exp); err != nil {
			return etable.NextState{}, nil, nil, err
		}
		if err := assignU64(w, block, c.clzRest, val-pow); err != nil {
			return etable.NextState{}, nil, nil, err
		}
		if err := assignU64(w, block, c.clzRestC, pow-1-(val-pow)); err != nil {
			return etable.NextState{}, nil, nil, err
		}
	case op == wasm.UnaryCtz && val != 0:
		pow := uint64(1) << res
		odd := val >> res
		if err := w.Set(block, c.ctzPow, field.FromUint64(pow)); err != nil {
			return etable.NextState{}, nil, nil, err
		}
		if err := assignPow(w, block, c.ctzLkup, res); err != nil {
			return etable.NextState{}, nil, nil, err
		}
		if err := assignU64(w, block, c.ctzOdd, odd); err != nil {
			return etable.NextState{}, nil, nil, err
		}
		if err := assignU64(w, block, c.ctzHalf, odd>>1); err != nil {
			return etable.NextState{}, nil, nil, err
		}
	case op == wasm.UnaryPopcnt:
		for i := 0; i < unaryChunks; i++ {
			b := val >> (8 * uint(i)) & 0xff
			n := uint64(bits.OnesCount8(uint8(b)))
			if err := setAll(w, block,
				cellPair(c.popBytes[i], field.FromUint64(b)),
				cellPair(c.popCounts[i], field.FromUint64(n)),
				cellPair(c.popChunks[i], field.FromUint64(rtable.EncodeBitOp(b, 0, rtable.BitOpPopcnt, n))),
			); err != nil {
				return etable.NextState{}, nil, nil, err
			}
		}
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
