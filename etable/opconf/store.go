package opconf

// Store reads the pre-image heap block(s), merges the wrapped store value
// in at inner_offset*8, and writes the updated block(s) back, decomposing
// into two block reads and two block writes when the access crosses a
// block boundary. The merge shares load's framing identity: the read and
// written windows decompose against the same tailing/leading cells, with
// only the picked slot differing (the pre-image bytes on the read side,
// the wrapped value on the write side).

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

type Store struct {
	storeOffset allocator.Cell

	cursor *heapCursor

	prior     allocator.U64Cell // pre-image bytes in the accessed range
	priorC    allocator.U64Cell
	wrapped   allocator.U64Cell // store value reduced mod 2^(8*len)
	wrappedC  allocator.U64Cell
	wrapHigh  allocator.U64Cell // discarded high part of the store value
	boundDiff allocator.U64Cell

	addrRead   mlookup
	valueRead  mlookup
	heapRead1  mlookup
	heapRead2  mlookup
	heapWrite1 mlookup
	heapWrite2 mlookup
}

func (*Store) Class() wasm.Class { return wasm.ClassStore }

func (c *Store) Configure(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell) error {
	var err error
	if c.storeOffset, err = alloc.Alloc(allocator.CommonRange); err != nil {
		return err
	}
	if c.cursor, err = declareHeapCursor(alloc, cs, "store", sel); err != nil {
		return err
	}
	for _, p := range []struct {
		cell *allocator.U64Cell
		name string
	}{
		{&c.prior, "store.prior"}, {&c.priorC, "store.prior_c"},
		{&c.wrapped, "store.wrapped"}, {&c.wrappedC, "store.wrapped_c"},
		{&c.wrapHigh, "store.wrap_high"},
		{&c.boundDiff, "store.bound_diff"},
	} {
		if *p.cell, err = allocU64Checked(alloc, cs, p.name, sel); err != nil {
			return err
		}
	}
	if c.addrRead, err = declareMLookup(alloc, cs, common, sel, "store.addr", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.valueRead, err = declareMLookup(alloc, cs, common, sel, "store.value", false, wasm.LocationStack); err != nil {
		return err
	}
	if c.heapRead1, err = declareMLookup(alloc, cs, common, sel, "store.heap1_read", false, wasm.LocationHeap); err != nil {
		return err
	}
	if c.heapRead2, err = declareMLookup(alloc, cs, common, c.cursor.isCross, "store.heap2_read", false, wasm.LocationHeap); err != nil {
		return err
	}
	if c.heapWrite1, err = declareMLookup(alloc, cs, common, sel, "store.heap1_write", true, wasm.LocationHeap); err != nil {
		return err
	}
	if c.heapWrite2, err = declareMLookup(alloc, cs, common, c.cursor.isCross, "store.heap2_write", true, wasm.LocationHeap); err != nil {
		return err
	}

	h := c.cursor
	if err := gateOpcodeEncoding(cs, "store", sel, common, wasm.ClassStore,
		h.lenBytes(), v(c.storeOffset), c.valueRead.is32(),
	); err != nil {
		return err
	}

	effAddr := constraint.Add(c.addrRead.val(), v(c.storeOffset))
	if err := cs.AddGate("store.address_split", sel.VarID(), eqExpr(effAddr, addExprs(
		constraint.Scale(field.FromUint64(8), v(h.blockIndex)), v(h.innerOff),
	))); err != nil {
		return err
	}
	if err := cs.AddGate("store.memory_bound", sel.VarID(), eqExpr(
		addExprs(effAddr, h.lenBytes(), u64v(c.boundDiff)),
		constraint.Scale(field.FromUint64(bytesPerPage), v(common.AllocatedPages)),
	)); err != nil {
		return err
	}

	// Block addressing for the four heap lookups; heap blocks are 64-bit.
	for _, l := range []struct {
		name string
		m    mlookup
		selC allocator.Cell
		succ bool
	}{
		{"store.heap1_read", c.heapRead1, sel, false},
		{"store.heap1_write", c.heapWrite1, sel, false},
		{"store.heap2_read", c.heapRead2, h.isCross, true},
		{"store.heap2_write", c.heapWrite2, h.isCross, true},
	} {
		want := constraint.Var(h.blockIndex.VarID())
		if l.succ {
			want = constraint.Add(want, constraint.Const(field.One()))
		}
		if err := cs.AddGate(l.name+"_offset", l.selC.VarID(), eqExpr(l.m.off(), want)); err != nil {
			return err
		}
		if err := cs.AddGate(l.name+"_width", l.selC.VarID(), l.m.is32()); err != nil {
			return err
		}
	}

	// wrapped == value mod 2^(8*len): value == wrap_high*len_modulus +
	// wrapped with wrapped < len_modulus.
	if err := cs.AddGate("store.value_wrap", sel.VarID(), eqExpr(
		c.valueRead.val(),
		addExprs(constraint.Mul(u64v(c.wrapHigh), h.lenModulus()), u64v(c.wrapped)),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("store.wrapped_bound", sel.VarID(), eqExpr(
		constraint.Add(u64v(c.wrapped), u64v(c.wrappedC)),
		constraint.Sub(h.lenModulus(), constraint.Const(field.One())),
	)); err != nil {
		return err
	}
	if err := cs.AddGate("store.prior_bound", sel.VarID(), eqExpr(
		constraint.Add(u64v(c.prior), u64v(c.priorC)),
		constraint.Sub(h.lenModulus(), constraint.Const(field.One())),
	)); err != nil {
		return err
	}

	// The merge: both windows frame against the same tailing/leading; only
	// the accessed range differs.
	readWindow := heapWindow(c.heapRead1, c.heapRead2)
	writeWindow := heapWindow(c.heapWrite1, c.heapWrite2)
	if err := cs.AddGate("store.read_window_split", sel.VarID(), h.decomposeWindow(readWindow, u64v(c.prior))); err != nil {
		return err
	}
	return cs.AddGate("store.write_window_split", sel.VarID(), h.decomposeWindow(writeWindow, u64v(c.wrapped)))
}

func (c *Store) Assign(w *etable.Witness, block int, common *etable.CommonCells, ev trace.Event) (etable.NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	length, err := loadLength(ev)
	if err != nil {
		return etable.NextState{}, nil, nil, err
	}
	storeOffset := ev.Opcode.Arg1

	if len(ev.MemoryRWEntries) < 4 {
		return etable.NextState{}, nil, nil, ErrMalformedEvent
	}
	addr := ev.MemoryRWEntries[0]
	value := ev.MemoryRWEntries[1]
	effectiveAddress := addr.Value + storeOffset

	if effectiveAddress+length > uint64(ev.AllocatedPages)*bytesPerPage {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: address %d length %d pages %d", ErrMemoryOutOfBounds, effectiveAddress, length, ev.AllocatedPages)
	}

	blockIndex := effectiveAddress / 8
	innerOffset := effectiveAddress % 8
	crosses := rtable.OffsetLenCrosses(innerOffset, length)

	readBlock0 := ev.MemoryRWEntries[2]
	writeBlock0 := ev.MemoryRWEntries[3]
	var readBlock1, writeBlock1 trace.MemoryRWEntry
	if crosses {
		if len(ev.MemoryRWEntries) != 6 {
			return etable.NextState{}, nil, nil, ErrMalformedEvent
		}
		readBlock1 = ev.MemoryRWEntries[4]
		writeBlock1 = ev.MemoryRWEntries[5]
	} else if len(ev.MemoryRWEntries) != 4 {
		return etable.NextState{}, nil, nil, ErrMalformedEvent
	}

	lenModulus := new(big.Int).Lsh(big.NewInt(1), uint(length*8))
	wrapped := new(big.Int).SetUint64(value.Value)
	wrapHigh := new(big.Int).Rsh(wrapped, uint(length*8))
	wrapped.Mod(wrapped, lenModulus)

	readWindow := new(big.Int).SetUint64(readBlock0.Value)
	writeWindow := new(big.Int).SetUint64(writeBlock0.Value)
	if crosses {
		rh := new(big.Int).SetUint64(readBlock1.Value)
		readWindow.Or(readWindow, rh.Lsh(rh, 64))
		wh := new(big.Int).SetUint64(writeBlock1.Value)
		writeWindow.Or(writeWindow, wh.Lsh(wh, 64))
	}

	prior := new(big.Int).Rsh(readWindow, uint(innerOffset*8))
	prior.Mod(prior, lenModulus)

	// The written window must be the read window with the accessed range
	// replaced by the wrapped value.
	merged := new(big.Int).Sub(readWindow, new(big.Int).Lsh(prior, uint(innerOffset*8)))
	merged.Add(merged, new(big.Int).Lsh(wrapped, uint(innerOffset*8)))
	if merged.Cmp(writeWindow) != 0 {
		return etable.NextState{}, nil, nil, fmt.Errorf("%w: store merge mismatch", ErrMalformedEvent)
	}

	if err := setAll(w, block,
		cellPair(c.storeOffset, field.FromUint64(storeOffset)),
		cellPair(c.cursor.blockIndex, field.FromUint64(blockIndex)),
	); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignHeapCursor(w, block, c.cursor, readWindow, innerOffset, length); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	lenLess1 := new(big.Int).Sub(lenModulus, big.NewInt(1))
	for _, a := range []struct {
		cell allocator.U64Cell
		val  uint64
	}{
		{c.prior, prior.Uint64()},
		{c.priorC, new(big.Int).Sub(lenLess1, prior).Uint64()},
		{c.wrapped, wrapped.Uint64()},
		{c.wrappedC, new(big.Int).Sub(lenLess1, wrapped).Uint64()},
		{c.wrapHigh, wrapHigh.Uint64()},
		{c.boundDiff, uint64(ev.AllocatedPages)*bytesPerPage - effectiveAddress - length},
	} {
		if err := assignU64(w, block, a.cell, a.val); err != nil {
			return etable.NextState{}, nil, nil, err
		}
	}
	if err := assignMLookup(w, block, c.addrRead, addr); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.valueRead, value); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.heapRead1, readBlock0); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if err := assignMLookup(w, block, c.heapWrite1, writeBlock0); err != nil {
		return etable.NextState{}, nil, nil, err
	}
	if crosses {
		if err := assignMLookup(w, block, c.heapRead2, readBlock1); err != nil {
			return etable.NextState{}, nil, nil, err
		}
		if err := assignMLookup(w, block, c.heapWrite2, writeBlock1); err != nil {
			return etable.NextState{}, nil, nil, err
		}
	}

	return etable.NextState{
		NextFid:     ev.Fid,
		NextIid:     ev.Iid + 1,
		NextFrameId: ev.LastJumpEid,
		SpDiff:      2,
		Mops:        uint32(len(ev.MemoryRWEntries)),
	}, ev.MemoryRWEntries, nil, nil
}
