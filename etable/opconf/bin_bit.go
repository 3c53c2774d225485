package opconf

// BinBit implements the bitwise family (and, or, xor) via the byte-chunk
// bit-table: both operands and the result are decomposed into u8 chunks,
// and each (op, lhs_byte, rhs_byte, res_byte) quad is one bit-table row.
// The row encode carries the result byte, so the lookup itself proves the
// chunk's arithmetic; the decomposition gates tie the chunks back to the
// operand values.

import (
	"fmt"

	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/rtable"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

const binBitChunks = 8

type BinBit struct {
	isI32 allocator.Cell

	isAnd allocator.Cell
	isOr  allocator.Cell
	isXor allocator.Cell

	lhsBytes [binBitChunks]allocator.Cell
	rhsBytes [binBitChunks]allocator.Cell
	resBytes [binBitChunks]allocator.Cell
	chunks   [binBitChunks]allocator.Cell

	readLhs  mlookup
	readRhs  mlookup
	writeRes mlookup
}

func (*BinBit) Class() wasm.Class { return wasm.ClassBinBit }

func (c *BinBit) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	for _, p := range []*allocator.Cell{&c.isI32, &c.isAnd, &c.isOr, &c.isXor} {
		if *p, err = alloc.Alloc(allocator.Bit); err != nil {
			return err
		}
	}
	for i := 0; i < binBitChunks; i++ {
		for _, p := range []*allocator.Cell{&c.lhsBytes[i], &c.rhsBytes[i], &c.resBytes[i]} {
			if *p, err = alloc.Alloc(allocator.U8); err != nil {
				return err
			}
		}
		if c.chunks[i], err = alloc.Alloc(allocator.BitTableLookup); err != nil {
			return err
		}
	}
	if c.readRhs, err = declareMLookup(alloc, cs, common, sel, "bin_bit.read_rhs", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.readLhs, err = declareMLookup(alloc, cs, common, sel, "bin_bit.read_lhs", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.writeRes, err = declareMLookup(alloc, cs, common, sel, "bin_bit.write_res", true, wasm.LocationStack); err != nil {
		return err
	}

	one := constraint.Const(field.One())
	if err := cs.AddGate("bin_bit.sub_op_one_hot", sel.VarID(), eqExpr(
		addExprs(v(c.isAnd), v(c.isOr), v(c.isXor)), one,
	)); err != nil {
		return err
	}
	opExpr := addExprs(
		constraint.Scale(field.FromUint64(uint64(wasm.BitOr)), v(c.isOr)),
		constraint.Scale(field.FromUint64(uint64(wasm.BitXor)), v(c.isXor)),
	)
	if err := gateOpcodeEncoding(cs, "bin_bit", sel, common, wasm.ClassBinBit, opExpr, zero(), zero()); err != nil {
		return err
	}

	for _, g := range []struct {
		name string
		m    mlookup
	}{{"bin_bit.lhs_width", c.readLhs}, {"bin_bit.rhs_width", c.readRhs}, {"bin_bit.res_width", c.writeRes}} {
		if err := cs.AddGate(g.name, sel.VarID(), eqExpr(g.m.is32(), v(c.isI32))); err != nil {
			return err
		}
	}

	// Chunk rows and the byte decompositions of all three values.
	lhsSum, rhsSum, resSum := zero(), zero(), zero()
	for i := 0; i < binBitChunks; i++ {
		shift := field.FromUint64(1 << (8 * uint(i)))
		lhsSum = constraint.Add(lhsSum, constraint.Scale(shift, v(c.lhsBytes[i])))
		rhsSum = constraint.Add(rhsSum, constraint.Scale(shift, v(c.rhsBytes[i])))
		resSum = constraint.Add(resSum, constraint.Scale(shift, v(c.resBytes[i])))

		row := addExprs(
			constraint.Scale(field.FromUint64(1<<24), opExpr),
			constraint.Scale(field.FromUint64(1<<16), v(c.lhsBytes[i])),
			constraint.Scale(field.FromUint64(1<<8), v(c.rhsBytes[i])),
			v(c.resBytes[i]),
		)
		if err := cs.AddGate(fmt.Sprintf("bin_bit.chunk_%d_binding", i), sel.VarID(), eqExpr(v(c.chunks[i]), row)); err != nil {
			return err
		}
		if err := cs.AddLookup(fmt.Sprintf("bin_bit.chunk_%d_in_table", i), sel.VarID(), v(c.chunks[i]), constraint.TableBitOp); err != nil {
			return err
		}
	}
	if err := cs.AddGate("bin_bit.lhs_decomposition", sel.VarID(), eqExpr(c.readLhs.val(), lhsSum)); err != nil {
		return err
	}
	if err := cs.AddGate("bin_bit.rhs_decomposition", sel.VarID(), eqExpr(c.readRhs.val(), rhsSum)); err != nil {
		return err
	}
	return cs.AddGate("bin_bit.res_decomposition", sel.VarID(), eqExpr(c.writeRes.val(), resSum))
}

func bitOpOf(op wasm.BitOp) rtable.BitOp {
	switch op {
	case wasm.BitAnd:
		return rtable.BitOpAnd
	case wasm.BitOr:
		return rtable.BitOpOr
	default:
		return rtable.BitOpXor
	}
}

func (c *BinBit) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 3); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	rhsEntry, lhsEntry, resEntry := ev.MemoryRWEntries[0], ev.MemoryRWEntries[1], ev.MemoryRWEntries[2]
	isI32 := lhsEntry.IsI32
	wop := wasm.BitOp(ev.Opcode.Arg0)
	op := bitOpOf(wop)

	var res uint64
	switch op {
	case rtable.BitOpAnd:
		res = lhsEntry.Value & rhsEntry.Value
	case rtable.BitOpOr:
		res = lhsEntry.Value | rhsEntry.Value
	default:
		res = lhsEntry.Value ^ rhsEntry.Value
	}
	if res != resEntry.Value {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: bin_bit op computed %d, trace writes %d", ErrMalformedEvent, res, resEntry.Value)
	}

	if err := setAll(w, block,
		cellPair(c.isI32, boolField(isI32)),
		cellPair(c.isAnd, boolField(wop == wasm.BitAnd)),
		cellPair(c.isOr, boolField(wop == wasm.BitOr)),
		cellPair(c.isXor, boolField(wop == wasm.BitXor)),
	); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	for i := 0; i < binBitChunks; i++ {
		l := lhsEntry.Value >> (8 * uint(i)) & 0xff
		r := rhsEntry.Value >> (8 * uint(i)) & 0xff
		rb := res >> (8 * uint(i)) & 0xff
		if err := setAll(w, block,
			cellPair(c.lhsBytes[i], field.FromUint64(l)),
			cellPair(c.rhsBytes[i], field.FromUint64(r)),
			cellPair(c.resBytes[i], field.FromUint64(rb)),
			cellPair(c.chunks[i], field.FromUint64(rtable.EncodeBitOp(l, r, op, rb))),
		); err != nil {
			return etable.NextState{}, nil, nil, err
		}
	}
	if err := assignMLookup(w, block, c.readRhs, rhsEntry); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.readLhs, lhsEntry); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.writeRes, resEntry); err != nil {
		return etable.NextState{}, nil, nil, err
	}

	return etable.NextState{
		NextFid:     ev.Fid,
		NextIid:     ev.Iid + 1,
		NextFrameId: ev.LastJumpEid,
		SpDiff:      1,
		Mops:        3,
	}, ev.MemoryRWEntries, nil, nil
}
