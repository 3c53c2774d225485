package opconf

// Conversion implements wrap, extend_u/s, and extend8_s/16_s/32_s. All
// eight sub-ops share one split of the operand at the source width k:
// operand == upper*2^k + sign*2^(k-1) + low, with low < 2^(k-1). The
// result is the picked low k bits, plus sign * (target_modulus - 2^k)
// for the sign-extending variants.

import (
	"fmt"

	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

// conversionShape is the static shape of one sub-op: source width k in
// bits, whether the result is 64-bit, whether the source is read as i32,
// and whether the high bit extends.
type conversionShape struct {
	k         uint
	targetI64 bool
	srcIsI32  bool
	signed    bool
}

var conversionShapes = [8]conversionShape{
	wasm.ConvI32WrapI64:    {k: 32, targetI64: false, srcIsI32: false, signed: false},
	wasm.ConvI64ExtendI32U: {k: 32, targetI64: true, srcIsI32: true, signed: false},
	wasm.ConvI64ExtendI32S: {k: 32, targetI64: true, srcIsI32: true, signed: true},
	wasm.ConvI32Extend8S:   {k: 8, targetI64: false, srcIsI32: true, signed: true},
	wasm.ConvI32Extend16S:  {k: 16, targetI64: false, srcIsI32: true, signed: true},
	wasm.ConvI64Extend8S:   {k: 8, targetI64: true, srcIsI32: false, signed: true},
	wasm.ConvI64Extend16S:  {k: 16, targetI64: true, srcIsI32: false, signed: true},
	wasm.ConvI64Extend32S:  {k: 32, targetI64: true, srcIsI32: false, signed: true},
}

type Conversion struct {
	upper   allocator.U64Cell
	low     allocator.U64Cell
	lowC    allocator.U64Cell
	sign    allocator.Cell
	effSign allocator.Cell

	opBits [8]allocator.Cell // indexed by wasm.ConversionOp

	readOperand mlookup
	writeRes    mlookup
}

func (*Conversion) Class() wasm.Class { return wasm.ClassConversion }

// blend sums shape-dependent weights over the sub-op one-hot.
func (c *Conversion) blend(weight func(conversionShape) field.Element) constraint.Expr {
	acc := zero()
	for i, bit := range c.opBits {
		acc = constraint.Add(acc, constraint.Scale(weight(conversionShapes[i]), v(bit)))
	}
	return acc
}

func (c *Conversion) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	for _, p := range []*allocator.Cell{&c.sign, &c.effSign} {
		if *p, err = alloc.Alloc(allocator.Bit); err != nil {
			return err
		}
	}
	for i := range c.opBits {
		if c.opBits[i], err = alloc.Alloc(allocator.Bit); err != nil {
			return err
		}
	}
	for _, p := range []struct {
		cell *allocator.U64Cell
		name string
	}{
		{&c.upper, "conversion.upper"},
		{&c.low, "conversion.low"}, {&c.lowC, "conversion.low_c"},
	} {
		if *p.cell, err = allocU64Checked(alloc, cs, p.name, sel); err != nil {
			return err
		}
	}
	if c.readOperand, err = declareMLookup(alloc, cs, common, sel, "conversion.read_operand", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.writeRes, err = declareMLookup(alloc, cs, common, sel, "conversion.write_res", true, wasm.LocationStack); err != nil {
		return err
	}

	operand, res := c.readOperand.val(), c.writeRes.val()
	one := constraint.Const(field.One())

	opSum, opWeighted := zero(), zero()
	for i, bit := range c.opBits {
		opSum = constraint.Add(opSum, v(bit))
		opWeighted = constraint.Add(opWeighted, constraint.Scale(field.FromUint64(uint64(i)), v(bit)))
	}
	if err := cs.AddGate("conversion.sub_op_one_hot", sel.VarID(), eqExpr(opSum, one)); err != nil {
		return err
	}
	if err := gateOpcodeEncoding(cs, "conversion", sel, common, wasm.ClassConversion, opWeighted, zero(), zero()); err != nil {
		return err
	}

	srcIs32 := c.blend(func(s conversionShape) field.Element {
		if s.srcIsI32 {
			return field.One()
		}
		return field.Zero()
	})
	resIs32 := c.blend(func(s conversionShape) field.Element {
		if s.targetI64 {
			return field.Zero()
		}
		return field.One()
	})
	kModulus := c.blend(func(s conversionShape) field.Element { return field.FromUint64(1 << s.k) })
	halfK := c.blend(func(s conversionShape) field.Element { return field.FromUint64(1 << (s.k - 1)) })
	targetModulus := c.blend(func(s conversionShape) field.Element {
		if s.targetI64 {
			return twoPow64()
		}
		return field.FromUint64(1 << 32)
	})
	signedBlend := c.blend(func(s conversionShape) field.Element {
		if s.signed {
			return field.One()
		}
		return field.Zero()
	})

	if err := cs.AddGate("conversion.operand_width", sel.VarID(), eqExpr(c.readOperand.is32(), srcIs32)); err != nil {
		return err
	}
	if err := cs.AddGate("conversion.result_width", sel.VarID(), eqExpr(c.writeRes.is32(), resIs32)); err != nil {
		return err
	}

	// operand == upper*2^k + sign*2^(k-1) + low, low < 2^(k-1).
	if err := cs.AddGate("conversion.source_split", sel.VarID(), eqExpr(operand, addExprs(
		constraint.Mul(u64v(c.upper), kModulus),
		constraint.Mul(v(c.sign), halfK),
		u64v(c.low),
	))); err != nil {
		return err
	}
	if err := cs.AddGate("conversion.low_bound", sel.VarID(), eqExpr(
		constraint.Add(u64v(c.low), u64v(c.lowC)), constraint.Sub(halfK, one),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("conversion.effective_sign", sel.VarID(), eqExpr(
		v(c.effSign), constraint.Mul(v(c.sign), signedBlend),
	)); err != nil {
		return err
	}

	// res == picked-low-k-bits + eff_sign * (target_modulus - 2^k).
	picked := constraint.Add(constraint.Mul(v(c.sign), halfK), u64v(c.low))
	extension := constraint.Mul(v(c.effSign), constraint.Sub(targetModulus, kModulus))
	return cs.AddGate("conversion.result", sel.VarID(), eqExpr(res, constraint.Add(picked, extension)))
}

func (c *Conversion) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := requireEntries(ev, 2); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	operand, resEntry := ev.MemoryRWEntries[0], ev.MemoryRWEntries[1]
	op := wasm.ConversionOp(ev.Opcode.Arg0)
	if int(op) >= len(conversionShapes) {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: unknown conversion op %d", ErrMalformedEvent, op)
	}
	shape := conversionShapes[op]

	upper := operand.Value >> shape.k
	half := uint64(1) << (shape.k - 1)
	sign := operand.Value >> (shape.k - 1) & 1
	low := operand.Value & (half - 1)
	picked := sign*half + low

	res := picked
	if shape.signed && sign == 1 {
		targetBits := uint(32)
		if shape.targetI64 {
			targetBits = 64
		}
		// target_modulus - 2^k, computed without leaving uint64: for a
		// 64-bit target this is 2^64 - 2^k == -(2^k) in wrapping arithmetic.
		if targetBits == 64 {
			res = picked - (uint64(1) << shape.k)
		} else {
			res = picked + (uint64(1)<<32 - uint64(1)<<shape.k)
		}
	}
	if res != resEntry.Value {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: conversion op %d computed %d, trace writes %d", ErrMalformedEvent, op, res, resEntry.Value)
	}

	effSign := uint64(0)
	if shape.signed {
		effSign = sign
	}
	if err := setAll(w, block,
		cellPair(c.sign, field.FromUint64(sign)),
		cellPair(c.effSign, field.FromUint64(effSign)),
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
		{c.upper, upper}, {c.low, low}, {c.lowC, half - 1 - low},
	} {
		if err := assignU64(w, block, a.cell, a.val); err != nil {
			return etable.NextState{}, nil, nil, err
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
