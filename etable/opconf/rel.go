package opconf

// Rel implements the comparison family (eq, ne, lt_u/s, gt_u/s, le_u/s,
// ge_u/s). Equality runs through a diff/diff_inv is-zero pair; the eight
// ordering sub-ops share one three-way trichotomy witness (resIsEq,
// resIsLt, resIsGt) proven by a range-checked unsigned difference, and
// the signed variants recombine it with sign bits extracted at the
// dynamic 32-vs-64-bit flag position.

import (
	"fmt"

	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

type Rel struct {
	isI32 allocator.Cell
	res   allocator.Cell

	// Trichotomy witness: exactly one of eq/lt/gt holds for (lhs, rhs)
	// compared as unsigned field-lifted integers.
	resIsEq allocator.Cell
	resIsLt allocator.Cell
	resIsGt allocator.Cell
	diffInv allocator.Cell
	diffU   allocator.U64Cell

	// Sign extraction for the signed sub-ops: value == flag*half + rest,
	// rest < half, where half is 2^31 or 2^63 by the dynamic width.
	lhsFlag  allocator.Cell
	rhsFlag  allocator.Cell
	lhsRest  allocator.U64Cell
	lhsRestC allocator.U64Cell
	rhsRest  allocator.U64Cell
	rhsRestC allocator.U64Cell
	flagProd allocator.Cell

	opBits [10]allocator.Cell // indexed by wasm.RelOp

	readLhs  mlookup
	readRhs  mlookup
	writeRes mlookup
}

func (*Rel) Class() wasm.Class { return wasm.ClassRel }

func (c *Rel) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	for _, p := range []*allocator.Cell{
		&c.isI32, &c.res, &c.resIsEq, &c.resIsLt, &c.resIsGt,
		&c.lhsFlag, &c.rhsFlag, &c.flagProd,
	} {
		if *p, err = alloc.Alloc(allocator.Bit); err != nil {
			return err
		}
	}
	for i := range c.opBits {
		if c.opBits[i], err = alloc.Alloc(allocator.Bit); err != nil {
			return err
		}
	}
	if c.diffInv, err = alloc.Alloc(allocator.Unlimited); err != nil {
		return err
	}
	for _, p := range []struct {
		cell *allocator.U64Cell
		name string
	}{
		{&c.diffU, "rel.diff_u"},
		{&c.lhsRest, "rel.lhs_rest"}, {&c.lhsRestC, "rel.lhs_rest_c"},
		{&c.rhsRest, "rel.rhs_rest"}, {&c.rhsRestC, "rel.rhs_rest_c"},
	} {
		if *p.cell, err = allocU64Checked(alloc, cs, p.name, sel); err != nil {
			return err
		}
	}
	if c.readRhs, err = declareMLookup(alloc, cs, common, sel, "rel.read_rhs", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.readLhs, err = declareMLookup(alloc, cs, common, sel, "rel.read_lhs", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.writeRes, err = declareMLookup(alloc, cs, common, sel, "rel.write_res", true, wasm.LocationStack); err != nil {
		return err
	}

	lhs, rhs := c.readLhs.val(), c.readRhs.val()

	// Operand widths agree with the row's dynamic flag; the pushed result
	// is always an i32 boolean.
	if err := cs.AddGate("rel.lhs_width", sel.VarID(), eqExpr(c.readLhs.is32(), v(c.isI32))); err != nil {
		return err
	}
	if err := cs.AddGate("rel.rhs_width", sel.VarID(), eqExpr(c.readRhs.is32(), v(c.isI32))); err != nil {
		return err
	}
	if err := cs.AddGate("rel.res_width", sel.VarID(), eqExpr(c.writeRes.is32(), constraint.Const(field.One()))); err != nil {
		return err
	}
	if err := gateNarrowWhenI32(cs, "rel.lhs", sel, c.isI32, c.readLhs.value); err != nil {
		return err
	}
	if err := gateNarrowWhenI32(cs, "rel.rhs", sel, c.isI32, c.readRhs.value); err != nil {
		return err
	}

	// One sub-op bit per row, and the instruction encoding carries that
	// sub-op as Arg0.
	opSum := zero()
	opWeighted := zero()
	for i, bit := range c.opBits {
		opSum = constraint.Add(opSum, v(bit))
		opWeighted = constraint.Add(opWeighted, constraint.Scale(field.FromUint64(uint64(i)), v(bit)))
	}
	if err := cs.AddGate("rel.sub_op_one_hot", sel.VarID(), eqExpr(opSum, constraint.Const(field.One()))); err != nil {
		return err
	}
	if err := gateOpcodeEncoding(cs, "rel", sel, common, wasm.ClassRel, opWeighted, zero(), zero()); err != nil {
		return err
	}

	// Trichotomy: resIsEq comes from the is-zero gadget over lhs-rhs;
	// resIsLt/resIsGt are proven by the range-checked difference. The
	// wrong inequality claim forces diffU to a field-sized negative value
	// its u16 limbs cannot represent.
	diff := constraint.Sub(lhs, rhs)
	if err := cs.AddGate("rel.trichotomy_one_hot", sel.VarID(), eqExpr(
		addExprs(v(c.resIsEq), v(c.resIsLt), v(c.resIsGt)), constraint.Const(field.One()),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("rel.diff_inv_or_zero", sel.VarID(), eqExpr(
		addExprs(constraint.Mul(diff, v(c.diffInv)), v(c.resIsEq)), constraint.Const(field.One()),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("rel.eq_forces_diff_zero", sel.VarID(), constraint.Mul(v(c.resIsEq), diff)); err != nil {
		return err
	}
	if err := cs.AddGate("rel.lt_diff", c.resIsLt.VarID(), eqExpr(constraint.Add(lhs, u64v(c.diffU)), rhs)); err != nil {
		return err
	}
	if err := cs.AddGate("rel.gt_diff", c.resIsGt.VarID(), eqExpr(constraint.Add(rhs, u64v(c.diffU)), lhs)); err != nil {
		return err
	}

	// Sign split at the dynamic width: value == flag*half + rest with
	// rest < half, so flag is exactly the operand's top bit.
	half := constraint.Sub(
		constraint.Const(field.FromUint64(1<<63)),
		constraint.Scale(field.FromUint64(1<<63-1<<31), v(c.isI32)),
	)
	halfLess1 := constraint.Sub(half, constraint.Const(field.One()))
	if err := cs.AddGate("rel.lhs_sign_split", sel.VarID(), eqExpr(
		lhs, addExprs(constraint.Mul(v(c.lhsFlag), half), u64v(c.lhsRest)),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("rel.lhs_rest_bound", sel.VarID(), eqExpr(
		constraint.Add(u64v(c.lhsRest), u64v(c.lhsRestC)), halfLess1,
	)); err != nil {
		return err
	}
	if err := cs.AddGate("rel.rhs_sign_split", sel.VarID(), eqExpr(
		rhs, addExprs(constraint.Mul(v(c.rhsFlag), half), u64v(c.rhsRest)),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("rel.rhs_rest_bound", sel.VarID(), eqExpr(
		constraint.Add(u64v(c.rhsRest), u64v(c.rhsRestC)), halfLess1,
	)); err != nil {
		return err
	}
	if err := cs.AddGate("rel.flag_product", sel.VarID(), eqExpr(
		v(c.flagProd), constraint.Mul(v(c.lhsFlag), v(c.rhsFlag)),
	)); err != nil {
		return err
	}

	// Per-sub-op result selection. For same-sign operands the unsigned
	// trichotomy already orders two's-complement values correctly; for
	// mixed signs the negative side is smaller.
	sameSign := addExprs(
		constraint.Const(field.One()),
		constraint.Scale(field.Neg(field.One()), v(c.lhsFlag)),
		constraint.Scale(field.Neg(field.One()), v(c.rhsFlag)),
		constraint.Scale(field.FromUint64(2), v(c.flagProd)),
	)
	ltS := addExprs(constraint.Sub(v(c.lhsFlag), v(c.flagProd)), constraint.Mul(v(c.resIsLt), sameSign))
	gtS := addExprs(constraint.Sub(v(c.rhsFlag), v(c.flagProd)), constraint.Mul(v(c.resIsGt), sameSign))

	resExprs := [10]constraint.Expr{
		wasm.RelEq:  v(c.resIsEq),
		wasm.RelNe:  constraint.Sub(constraint.Const(field.One()), v(c.resIsEq)),
		wasm.RelLtU: v(c.resIsLt),
		wasm.RelLtS: ltS,
		wasm.RelGtU: v(c.resIsGt),
		wasm.RelGtS: gtS,
		wasm.RelLeU: constraint.Add(v(c.resIsLt), v(c.resIsEq)),
		wasm.RelLeS: constraint.Add(ltS, v(c.resIsEq)),
		wasm.RelGeU: constraint.Add(v(c.resIsGt), v(c.resIsEq)),
		wasm.RelGeS: constraint.Add(gtS, v(c.resIsEq)),
	}
	names := [10]string{"eq", "ne", "lt_u", "lt_s", "gt_u", "gt_s", "le_u", "le_s", "ge_u", "ge_s"}
	for i, e := range resExprs {
		if err := cs.AddGate("rel."+names[i]+"_res", c.opBits[i].VarID(), eqExpr(v(c.res), e)); err != nil {
			return err
		}
	}
	return cs.AddGate("rel.res_written", sel.VarID(), eqExpr(v(c.res), c.writeRes.val()))
}

func (c *Rel) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 3); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	rhsEntry, lhsEntry, resEntry := ev.MemoryRWEntries[0], ev.MemoryRWEntries[1], ev.MemoryRWEntries[2]
	isI32 := lhsEntry.IsI32
	op := wasm.RelOp(ev.Opcode.Arg0)
	if int(op) >= len(c.opBits) {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: unknown rel op %d", ErrMalformedEvent, op)
	}
	lhs, rhs := lhsEntry.Value, rhsEntry.Value

	var res uint64
	switch op {
	case wasm.RelEq:
		res = b2u(lhs == rhs)
	case wasm.RelNe:
		res = b2u(lhs != rhs)
	case wasm.RelLtU:
		res = b2u(lhs < rhs)
	case wasm.RelGtU:
		res = b2u(lhs > rhs)
	case wasm.RelLeU:
		res = b2u(lhs <= rhs)
	case wasm.RelGeU:
		res = b2u(lhs >= rhs)
	case wasm.RelLtS:
		res = b2u(toSigned(lhs, isI32).Cmp(toSigned(rhs, isI32)) < 0)
	case wasm.RelGtS:
		res = b2u(toSigned(lhs, isI32).Cmp(toSigned(rhs, isI32)) > 0)
	case wasm.RelLeS:
		res = b2u(toSigned(lhs, isI32).Cmp(toSigned(rhs, isI32)) <= 0)
	case wasm.RelGeS:
		res = b2u(toSigned(lhs, isI32).Cmp(toSigned(rhs, isI32)) >= 0)
	}
	if res != resEntry.Value {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: rel op %d computed %d, trace writes %d", ErrMalformedEvent, op, res, resEntry.Value)
	}

	// Trichotomy witness over the unsigned values.
	var diffU uint64
	resIsEq, resIsLt, resIsGt := lhs == rhs, lhs < rhs, lhs > rhs
	if resIsLt {
		diffU = rhs - lhs
	} else {
		diffU = lhs - rhs
	}
	diffInv := field.Zero()
	if !resIsEq {
		diffInv = field.Inverse(field.Sub(field.FromUint64(lhs), field.FromUint64(rhs)))
	}

	half := uint64(1) << 63
	if isI32 {
		half = 1 << 31
	}
	lhsFlag, rhsFlag := b2u(lhs >= half), b2u(rhs >= half)
	lhsRest, rhsRest := lhs-lhsFlag*half, rhs-rhsFlag*half

	if err := setAll(w, block,
		cellPair(c.isI32, boolField(isI32)),
		cellPair(c.res, field.FromUint64(res)),
		cellPair(c.resIsEq, boolField(resIsEq)),
		cellPair(c.resIsLt, boolField(resIsLt)),
		cellPair(c.resIsGt, boolField(resIsGt)),
		cellPair(c.diffInv, diffInv),
		cellPair(c.lhsFlag, field.FromUint64(lhsFlag)),
		cellPair(c.rhsFlag, field.FromUint64(rhsFlag)),
		cellPair(c.flagProd, field.FromUint64(lhsFlag*rhsFlag)),
	); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	for i := range c.opBits {
		if err := w.Set(block, c.opBits[i], boolField(i == int(op))); err != nil {
			return etable.NextState{}, nil, nil, err
		}
	}
	for _, a := range []struct {
		cell allocator.U64Cell
		val  uint64
	}{
		{c.diffU, diffU},
		{c.lhsRest, lhsRest}, {c.lhsRestC, half - 1 - lhsRest},
		{c.rhsRest, rhsRest}, {c.rhsRestC, half - 1 - rhsRest},
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
