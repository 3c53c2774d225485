package opconf

// Load is the densest configuration: a heap block of 8 bytes is addressed
// by block_index = effective_address / 8 and inner_offset =
// effective_address & 7; the access reads one block, or two when it
// crosses a block boundary, picks the requested length of bytes, and
// sign- or zero-extends the result to the target width. The pick is a
// framing identity over the 128-bit two-block window: window == tailing +
// picked*2^(8*inner_offset) + leading*2^(8*(inner_offset+len)), with
// tailing and picked range-bounded so the split is unique; sign extension
// adds sign_bit * (target_modulus - len_modulus) on top of the picked
// value.

import (
	"errors"
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

// ErrMemoryOutOfBounds reports an access whose effective_address + length
// exceeds allocated_pages * 64KiB. The interpreter traps instead of
// emitting such an event; one reaching this core means the trace is
// broken.
var ErrMemoryOutOfBounds = errors.New("opconf: memory access out of bounds")

const bytesPerPage = 64 * 1024

type Load struct {
	loadOffset allocator.Cell

	cursor *heapCursor

	isSign      allocator.Cell
	targetIsI64 allocator.Cell
	signBit     allocator.Cell
	effSign     allocator.Cell

	picked      allocator.U64Cell
	pickedC     allocator.U64Cell
	pickedRest  allocator.U64Cell
	pickedRestC allocator.U64Cell
	boundDiff   allocator.U64Cell

	addrRead    mlookup
	heapRead1   mlookup
	heapRead2   mlookup
	resultWrite mlookup
}

func (*Load) Class() wasm.Class { return wasm.ClassLoad }

func (c *Load) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	if c.loadOffset, err = alloc.Alloc(allocator.CommonRange); err != nil {
		return err
	}
	if c.cursor, err = declareHeapCursor(alloc, cs, "load", sel); err != nil {
		return err
	}
	for _, p := range []*allocator.Cell{&c.isSign, &c.targetIsI64, &c.signBit, &c.effSign} {
		if *p, err = alloc.Alloc(allocator.Bit); err != nil {
			return err
		}
	}
	for _, p := range []struct {
		cell *allocator.U64Cell
		name string
	}{
		{&c.picked, "load.picked"}, {&c.pickedC, "load.picked_c"},
		{&c.pickedRest, "load.picked_rest"}, {&c.pickedRestC, "load.picked_rest_c"},
		{&c.boundDiff, "load.bound_diff"},
	} {
		if *p.cell, err = allocU64Checked(alloc, cs, p.name, sel); err != nil {
			return err
		}
	}
	if c.addrRead, err = declareMLookup(alloc, cs, common, sel, "load.addr", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.heapRead1, err = declareMLookup(alloc, cs, common, sel, "load.heap1", false, wasm.LocationHeap); err != nil {
		return err
	}
	// The second block participates only when the access crosses the block
	// boundary; its whole cell group is gated by the cross flag.
	if c.heapRead2, err = declareMLookup(alloc, cs, common, c.cursor.isCross, "load.heap2", false, wasm.LocationHeap); err != nil {
		return err
	}
	if c.resultWrite, err = declareMLookup(alloc, cs, common, sel, "load.result", true, wasm.LocationStack); err != nil {
		return err
	}

	h := c.cursor
	if err := gateOpcodeEncoding(cs, "load", sel, common, wasm.ClassLoad,
		h.lenBytes(), v(c.loadOffset),
		constraint.Add(v(c.isSign), constraint.Scale(field.FromUint64(2), v(c.targetIsI64))),
	); err != nil {
		return err
	}

	// effective_address == addr + load_offset == 8*block_index +
	// inner_offset; the cursor's offset-len row proves inner_offset < 8.
	effAddr := constraint.Add(c.addrRead.val(), v(c.loadOffset))
	if err := cs.AddGate("load.address_split", sel.VarID(), eqExpr(effAddr, addExprs(
		constraint.Scale(field.FromUint64(8), v(h.blockIndex)), v(h.innerOff),
	))); err != nil {
		return err
	}
	// effective_address + len + bound_diff == allocated_pages * 64KiB, so
	// an out-of-bounds access leaves bound_diff unrepresentable.
	if err := cs.AddGate("load.memory_bound", sel.VarID(), eqExpr(
		addExprs(effAddr, h.lenBytes(), u64v(c.boundDiff)),
		constraint.Scale(field.FromUint64(bytesPerPage), v(common.AllocatedPages)),
	)); err != nil {
		return err
	}

	// Heap lookups target the addressed block (and its successor when
	// crossing); heap blocks are always 64-bit.
	if err := cs.AddGate("load.heap1_offset", sel.VarID(), eqExpr(c.heapRead1.off(), v(h.blockIndex))); err != nil {
		return err
	}
	if err := cs.AddGate("load.heap1_width", sel.VarID(), c.heapRead1.is32()); err != nil {
		return err
	}
	if err := cs.AddGate("load.heap2_offset", h.isCross.VarID(), eqExpr(
		c.heapRead2.off(), constraint.Add(v(h.blockIndex), constraint.Const(field.One())),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("load.heap2_width", h.isCross.VarID(), c.heapRead2.is32()); err != nil {
		return err
	}

	// The pick itself: frame the accessed byte range out of the two-block
	// window and bound both frame parts so the split is unique.
	window := heapWindow(c.heapRead1, c.heapRead2)
	if err := cs.AddGate("load.window_split", sel.VarID(), h.decomposeWindow(window, u64v(c.picked))); err != nil {
		return err
	}
	if err := cs.AddGate("load.picked_bound", sel.VarID(), eqExpr(
		constraint.Add(u64v(c.picked), u64v(c.pickedC)),
		constraint.Sub(h.lenModulus(), constraint.Const(field.One())),
	)); err != nil {
		return err
	}

	// Sign bit extraction: picked == sign_bit*half + rest, rest < half.
	if err := cs.AddGate("load.sign_split", sel.VarID(), eqExpr(
		u64v(c.picked),
		addExprs(constraint.Mul(v(c.signBit), h.halfLenModulus()), u64v(c.pickedRest)),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("load.sign_rest_bound", sel.VarID(), eqExpr(
		constraint.Add(u64v(c.pickedRest), u64v(c.pickedRestC)),
		constraint.Sub(h.halfLenModulus(), constraint.Const(field.One())),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("load.effective_sign", sel.VarID(), eqExpr(
		v(c.effSign), constraint.Mul(v(c.isSign), v(c.signBit)),
	)); err != nil {
		return err
	}

	// An 8-byte load must target i64.
	if err := cs.AddGate("load.width_fits_target", sel.VarID(), constraint.Mul(
		v(h.isEightByte), constraint.Sub(constraint.Const(field.One()), v(c.targetIsI64)),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("load.result_width", sel.VarID(), eqExpr(
		c.resultWrite.is32(), constraint.Sub(constraint.Const(field.One()), v(c.targetIsI64)),
	)); err != nil {
		return err
	}

	// result == picked + eff_sign * (target_modulus - len_modulus).
	targetModulus := constraint.Add(
		constraint.Const(field.FromUint64(1<<32)),
		constraint.Scale(field.Sub(twoPow64(), field.FromUint64(1<<32)), v(c.targetIsI64)),
	)
	extension := constraint.Mul(v(c.effSign), constraint.Sub(targetModulus, h.lenModulus()))
	return cs.AddGate("load.result_extended", sel.VarID(), eqExpr(
		c.resultWrite.val(), constraint.Add(u64v(c.picked), extension),
	))
}

// loadLength decodes the static length-in-bytes immediate Arg0 carries.
func loadLength(ev trace.Event) (uint64, error) {
	switch l := ev.Opcode.Arg0; l {
	case 1, 2, 4, 8:
		return l, nil
	default:
		return 0, fmt.Errorf("%w: load length %d invalid", ErrMalformedEvent, l)
	}
}

func (c *Load) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	length, err := loadLength(ev)
	if err != nil {
		return etable.NextState{}, nil, nil, err
	}
	loadOffset := ev.Opcode.Arg1
	signed := ev.Opcode.Arg2&1 != 0
	targetIsI64 := ev.Opcode.Arg2&2 != 0

	if len(ev.MemoryRWEntries) < 3 {
		return etable.NextState{}, nil, nil, ErrMalformedEvent
	}
	addr := ev.MemoryRWEntries[0]
	effectiveAddress := addr.Value + loadOffset

	if effectiveAddress+length > uint64(ev.AllocatedPages)*bytesPerPage {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: address %d length %d pages %d", ErrMemoryOutOfBounds, effectiveAddress, length, ev.AllocatedPages)
	}

	blockIndex := effectiveAddress / 8
	innerOffset := effectiveAddress % 8
	crosses := rtable.OffsetLenCrosses(innerOffset, length)

	heap0 := ev.MemoryRWEntries[1]
	var heap1 trace.MemoryRWEntry
	writeIdx := 2
	if crosses {
		if len(ev.MemoryRWEntries) != 4 {
			return etable.NextState{}, nil, nil, ErrMalformedEvent
		}
		heap1 = ev.MemoryRWEntries[2]
		writeIdx = 3
	} else if len(ev.MemoryRWEntries) != 3 {
		return etable.NextState{}, nil, nil, ErrMalformedEvent
	}
	resultWrite := ev.MemoryRWEntries[writeIdx]

	window := new(big.Int).SetUint64(heap0.Value)
	if crosses {
		high := new(big.Int).SetUint64(heap1.Value)
		window.Or(window, high.Lsh(high, 64))
	}

	lenModulus := new(big.Int).Lsh(big.NewInt(1), uint(length*8))
	picked := new(big.Int).Rsh(window, uint(innerOffset*8))
	picked.Mod(picked, lenModulus)
	pickedU := picked.Uint64()
	half := uint64(1) << (length*8 - 1)
	signBit := pickedU >> (length*8 - 1) & 1

	targetBits := uint(32)
	if targetIsI64 {
		targetBits = 64
	}
	res := pickedU
	if signed && signBit == 1 {
		ext := new(big.Int).Lsh(big.NewInt(1), targetBits)
		ext.Sub(ext, lenModulus)
		res = new(big.Int).Add(picked, ext).Uint64()
	}
	if resultWrite.Value != res {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: load computed %d, trace writes %d", ErrMalformedEvent, res, resultWrite.Value)
	}

	effSign := uint64(0)
	if signed {
		effSign = signBit
	}
	pickedRest := pickedU - signBit*half
	pickedC := new(big.Int).Sub(lenModulus, big.NewInt(1))
	pickedC.Sub(pickedC, picked)

	if err := setAll(w, block,
		cellPair(c.loadOffset, field.FromUint64(loadOffset)),
		cellPair(c.cursor.blockIndex, field.FromUint64(blockIndex)),
		cellPair(c.isSign, boolField(signed)),
		cellPair(c.targetIsI64, boolField(targetIsI64)),
		cellPair(c.signBit, field.FromUint64(signBit)),
		cellPair(c.effSign, field.FromUint64(effSign)),
	); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignHeapCursor(w, block, c.cursor, window, innerOffset, length); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	for _, a := range []struct {
		cell allocator.U64Cell
		val  uint64
	}{
		{c.picked, pickedU}, {c.pickedC, pickedC.Uint64()},
		{c.pickedRest, pickedRest}, {c.pickedRestC, half - 1 - pickedRest},
		{c.boundDiff, uint64(ev.AllocatedPages)*bytesPerPage - effectiveAddress - length},
	} {
		if err := assignU64(w, block, a.cell, a.val); err != nil {
			return etable.NextState{}, nil, nil, err
		}
	}
	if err := assignMLookup(w, block, c.addrRead, addr); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.heapRead1, heap0); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if crosses {
		if err := assignMLookup(w, block, c.heapRead2, heap1); err != nil {
			return etable.NextState{}, nil, nil, err
		}
	}
	if err := assignMLookup(w, block, c.resultWrite, resultWrite); err != nil {
		return etable.NextState{}, nil, nil, err
	}

	return etable.NextState{
		NextFid:     ev.Fid,
		NextIid:     ev.Iid + 1,
		NextFrameId: ev.LastJumpEid,
		Mops:        uint32(len(ev.MemoryRWEntries)),
	}, ev.MemoryRWEntries, nil, nil
}

func addExprs(es ...constraint.Expr) constraint.Expr {
	acc := constraint.Const(field.Zero())
	for _, e := range es {
		acc = constraint.Add(acc, e)
	}
	return acc
}
