package opconf

// BinShift implements the shift family (shl, shr_u, shr_s, rotl, rotr).
// The shift amount is reduced mod the operand width; 2^shamt and
// 2^(width-shamt) are drawn from the pow-table and tied together through
// the size modulus. One Euclidean split of lhs at the shift position
// serves the right-moving ops (shr_u, shr_s, rotr), and one product
// split of lhs*2^shamt at the size modulus serves the left-moving ones
// (shl, rotl).

import (
	"fmt"
	"math/big"

	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/rtable"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

type BinShift struct {
	isI32 allocator.Cell

	shamt  allocator.Cell // rhs reduced mod width
	shamtC allocator.Cell // width-1-shamt
	shamtQ allocator.U64Cell

	powShamt allocator.Cell // 2^shamt
	powComp  allocator.Cell // 2^(width-shamt)
	powLkup  allocator.Cell
	compLkup allocator.Cell

	// lhs == quot*2^shamt + rem, rem < 2^shamt, quot < 2^(width-shamt).
	quot  allocator.U64Cell
	quotC allocator.U64Cell
	rem   allocator.U64Cell
	remC  allocator.U64Cell

	// lhs*2^shamt == prodHigh*size_modulus + prodLow, prodLow < modulus,
	// prodHigh < 2^shamt.
	prodHigh  allocator.U64Cell
	prodHighC allocator.U64Cell
	prodLow   allocator.U64Cell
	prodLowC  allocator.U64Cell

	// Sign split for shr_s.
	lhsFlag  allocator.Cell
	lhsRest  allocator.U64Cell
	lhsRestC allocator.U64Cell

	opBits [5]allocator.Cell // indexed by wasm.ShiftOp

	readLhs  mlookup
	readRhs  mlookup
	writeRes mlookup
}

func (*BinShift) Class() wasm.Class { return wasm.ClassBinShift }

func (c *BinShift) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	for _, p := range []*allocator.Cell{&c.isI32, &c.lhsFlag} {
		if *p, err = alloc.Alloc(allocator.Bit); err != nil {
			return err
		}
	}
	for i := range c.opBits {
		if c.opBits[i], err = alloc.Alloc(allocator.Bit); err != nil {
			return err
		}
	}
	for _, p := range []*allocator.Cell{&c.shamt, &c.shamtC} {
		if *p, err = alloc.Alloc(allocator.CommonRange); err != nil {
			return err
		}
	}
	for _, p := range []*allocator.Cell{&c.powShamt, &c.powComp} {
		if *p, err = alloc.Alloc(allocator.Unlimited); err != nil {
			return err
		}
	}
	for _, p := range []struct {
		cell *allocator.U64Cell
		name string
	}{
		{&c.shamtQ, "bin_shift.shamt_q"},
		{&c.quot, "bin_shift.quot"}, {&c.quotC, "bin_shift.quot_c"},
		{&c.rem, "bin_shift.rem"}, {&c.remC, "bin_shift.rem_c"},
		{&c.prodHigh, "bin_shift.prod_high"}, {&c.prodHighC, "bin_shift.prod_high_c"},
		{&c.prodLow, "bin_shift.prod_low"}, {&c.prodLowC, "bin_shift.prod_low_c"},
		{&c.lhsRest, "bin_shift.lhs_rest"}, {&c.lhsRestC, "bin_shift.lhs_rest_c"},
	} {
		if *p.cell, err = allocU64Checked(alloc, cs, p.name, sel); err != nil {
			return err
		}
	}
	if c.readRhs, err = declareMLookup(alloc, cs, common, sel, "bin_shift.read_rhs", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.readLhs, err = declareMLookup(alloc, cs, common, sel, "bin_shift.read_lhs", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.writeRes, err = declareMLookup(alloc, cs, common, sel, "bin_shift.write_res", true, wasm.LocationStack); err != nil {
		return err
	}

	lhs, rhs, res := c.readLhs.val(), c.readRhs.val(), c.writeRes.val()
	one := constraint.Const(field.One())
	width := constraint.Sub(constraint.Const(field.FromUint64(64)), constraint.Scale(field.FromUint64(32), v(c.isI32)))
	sizeMod := binSizeModulusExpr(c.isI32)
	half := constraint.Sub(
		constraint.Const(field.FromUint64(1<<63)),
		constraint.Scale(field.FromUint64(1<<63-1<<31), v(c.isI32)),
	)

	opSum, opWeighted := zero(), zero()
	for i, bit := range c.opBits {
		opSum = constraint.Add(opSum, v(bit))
		opWeighted = constraint.Add(opWeighted, constraint.Scale(field.FromUint64(uint64(i)), v(bit)))
	}
	if err := cs.AddGate("bin_shift.sub_op_one_hot", sel.VarID(), eqExpr(opSum, one)); err != nil {
		return err
	}
	if err := gateOpcodeEncoding(cs, "bin_shift", sel, common, wasm.ClassBinShift, opWeighted, zero(), zero()); err != nil {
		return err
	}

	for _, g := range []struct {
		name string
		m    mlookup
	}{{"bin_shift.lhs_width", c.readLhs}, {"bin_shift.rhs_width", c.readRhs}, {"bin_shift.res_width", c.writeRes}} {
		if err := cs.AddGate(g.name, sel.VarID(), eqExpr(g.m.is32(), v(c.isI32))); err != nil {
			return err
		}
	}
	if err := gateNarrowWhenI32(cs, "bin_shift.lhs", sel, c.isI32, c.readLhs.value); err != nil {
		return err
	}
	if err := gateNarrowWhenI32(cs, "bin_shift.res", sel, c.isI32, c.writeRes.value); err != nil {
		return err
	}

	// shamt == rhs mod width.
	if err := cs.AddGate("bin_shift.shamt_split", sel.VarID(), eqExpr(
		rhs, addExprs(constraint.Mul(u64v(c.shamtQ), width), v(c.shamt)),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("bin_shift.shamt_bound", sel.VarID(), eqExpr(
		constraint.Add(v(c.shamt), v(c.shamtC)), constraint.Sub(width, one),
	)); err != nil {
		return err
	}

	// powShamt == 2^shamt and powComp == 2^(width-shamt), consistent with
	// the size modulus.
	if c.powLkup, err = declarePowBinding(alloc, cs, "bin_shift.pow_shamt", sel, v(c.powShamt), v(c.shamt)); err != nil {
		return err
	}
	if c.compLkup, err = declarePowBinding(alloc, cs, "bin_shift.pow_comp", sel, v(c.powComp), constraint.Sub(width, v(c.shamt))); err != nil {
		return err
	}
	if err := cs.AddGate("bin_shift.pow_pair", sel.VarID(), eqExpr(
		constraint.Mul(v(c.powShamt), v(c.powComp)), sizeMod,
	)); err != nil {
		return err
	}

	// Right split: lhs == quot*2^shamt + rem.
	if err := cs.AddGate("bin_shift.right_split", sel.VarID(), eqExpr(
		lhs, addExprs(constraint.Mul(u64v(c.quot), v(c.powShamt)), u64v(c.rem)),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("bin_shift.rem_bound", sel.VarID(), eqExpr(
		constraint.Add(u64v(c.rem), u64v(c.remC)), constraint.Sub(v(c.powShamt), one),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("bin_shift.quot_bound", sel.VarID(), eqExpr(
		constraint.Add(u64v(c.quot), u64v(c.quotC)), constraint.Sub(v(c.powComp), one),
	)); err != nil {
		return err
	}

	// Left split: lhs*2^shamt == prodHigh*modulus + prodLow.
	if err := cs.AddGate("bin_shift.left_split", sel.VarID(), eqExpr(
		constraint.Mul(lhs, v(c.powShamt)),
		addExprs(constraint.Mul(u64v(c.prodHigh), sizeMod), u64v(c.prodLow)),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("bin_shift.prod_low_bound", sel.VarID(), eqExpr(
		constraint.Add(u64v(c.prodLow), u64v(c.prodLowC)), constraint.Sub(sizeMod, one),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("bin_shift.prod_high_bound", sel.VarID(), eqExpr(
		constraint.Add(u64v(c.prodHigh), u64v(c.prodHighC)), constraint.Sub(v(c.powShamt), one),
	)); err != nil {
		return err
	}

	// Sign split of lhs for the arithmetic right shift.
	if err := cs.AddGate("bin_shift.lhs_sign_split", sel.VarID(), eqExpr(
		lhs, addExprs(constraint.Mul(v(c.lhsFlag), half), u64v(c.lhsRest)),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("bin_shift.lhs_rest_bound", sel.VarID(), eqExpr(
		constraint.Add(u64v(c.lhsRest), u64v(c.lhsRestC)), constraint.Sub(half, one),
	)); err != nil {
		return err
	}

	// Per-sub-op results.
	if err := cs.AddGate("bin_shift.shl_res", c.opBits[wasm.ShiftShl].VarID(), eqExpr(res, u64v(c.prodLow))); err != nil {
		return err
	}
	if err := cs.AddGate("bin_shift.shr_u_res", c.opBits[wasm.ShiftShrU].VarID(), eqExpr(res, u64v(c.quot))); err != nil {
		return err
	}
	// shr_s fills the vacated top bits with the sign: quot + flag*(modulus
	// - 2^(width-shamt)).
	fill := constraint.Mul(v(c.lhsFlag), constraint.Sub(sizeMod, v(c.powComp)))
	if err := cs.AddGate("bin_shift.shr_s_res", c.opBits[wasm.ShiftShrS].VarID(), eqExpr(
		res, constraint.Add(u64v(c.quot), fill),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("bin_shift.rotl_res", c.opBits[wasm.ShiftRotl].VarID(), eqExpr(
		res, constraint.Add(u64v(c.prodLow), u64v(c.prodHigh)),
	)); err != nil {
		return err
	}
	return cs.AddGate("bin_shift.rotr_res", c.opBits[wasm.ShiftRotr].VarID(), eqExpr(
		res, addExprs(u64v(c.quot), constraint.Mul(u64v(c.rem), v(c.powComp))),
	))
}

func (c *BinShift) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 3); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	rhsEntry, lhsEntry, resEntry := ev.MemoryRWEntries[0], ev.MemoryRWEntries[1], ev.MemoryRWEntries[2]
	isI32 := lhsEntry.IsI32
	width := uint64(64)
	if isI32 {
		width = 32
	}
	op := wasm.ShiftOp(ev.Opcode.Arg0)
	if int(op) >= len(c.opBits) {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: unknown shift op %d", ErrMalformedEvent, op)
	}
	shamt := rhsEntry.Value % width
	lhs := lhsEntry.Value

	modulus := sizeModulus(isI32)
	modulusLess1 := new(big.Int).Sub(modulus, big.NewInt(1)).Uint64()
	powShamt := uint64(1) << shamt
	powCompLess1 := modulusLess1 >> shamt // 2^(width-shamt) - 1

	quot := lhs >> shamt
	rem := lhs - quot<<shamt
	prod := new(big.Int).Lsh(new(big.Int).SetUint64(lhs), uint(shamt))
	prodHigh := new(big.Int).Rsh(prod, uint(width)).Uint64()
	prodLow := new(big.Int).Mod(prod, modulus).Uint64()

	half := uint64(1) << (width - 1)
	lhsFlag := b2u(lhs >= half)
	lhsRest := lhs - lhsFlag*half

	var res uint64
	switch op {
	case wasm.ShiftShl:
		res = prodLow
	case wasm.ShiftShrU:
		res = quot
	case wasm.ShiftShrS:
		res = quot + lhsFlag*(modulusLess1-powCompLess1)
	case wasm.ShiftRotl:
		res = prodLow + prodHigh
	case wasm.ShiftRotr:
		res = quot
		if shamt > 0 {
			res += rem * (powCompLess1 + 1)
		}
	}
	if res != resEntry.Value {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: bin_shift op %d computed %d, trace writes %d", ErrMalformedEvent, op, res, resEntry.Value)
	}

	if err := setAll(w, block,
		cellPair(c.isI32, boolField(isI32)),
		cellPair(c.shamt, field.FromUint64(shamt)),
		cellPair(c.shamtC, field.FromUint64(width-1-shamt)),
		cellPair(c.powShamt, field.FromUint64(powShamt)),
		cellPair(c.powComp, rtable.PowElement(width-shamt)),
		cellPair(c.lhsFlag, field.FromUint64(lhsFlag)),
	); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	for i := range c.opBits {
		if err := w.Set(block, c.opBits[i], boolField(i == int(op))); err != nil {
			return etable.NextState{}, nil, nil, err
		}
	}
	if err := assignPow(w, block, c.powLkup, shamt); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignPow(w, block, c.compLkup, width-shamt); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	for _, a := range []struct {
		cell allocator.U64Cell
		val  uint64
	}{
		{c.shamtQ, rhsEntry.Value / width},
		{c.quot, quot}, {c.quotC, powCompLess1 - quot},
		{c.rem, rem}, {c.remC, powShamt - 1 - rem},
		{c.prodHigh, prodHigh}, {c.prodHighC, powShamt - 1 - prodHigh},
		{c.prodLow, prodLow}, {c.prodLowC, modulusLess1 - prodLow},
		{c.lhsRest, lhsRest}, {c.lhsRestC, half - 1 - lhsRest},
	} {
		if err := assignU64(w, block, a.cell, a.val); err != nil {
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
