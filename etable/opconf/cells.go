package opconf

// Shared cell gadgets used across the opcode configurations: range-proved
// 64-bit composites, memory lookups whose packed encode is algebraically
// bound to standalone offset/width/value cells, pow-table bindings, and
// the per-family instruction-encoding bind. Every helper registers both
// the cells and the gates/lookups that make them trustworthy, so a
// configuration using one never has to re-derive the plumbing.

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

// allocU64Checked reserves a U64 composite and registers the gates that
// make its aggregate trustworthy: the little-endian limb decomposition
// plus one u16 range lookup per limb. The aggregate can then appear in
// arithmetic identities as a proven [0, 2^64) value.
func allocU64Checked(alloc *allocator.Allocator, cs *constraint.System, name string, sel allocator.Cell) (allocator.U64Cell, error) {
	u, err := alloc.AllocU64()
	if err != nil {
		return allocator.U64Cell{}, err
	}
	if err := gateU64Limbs(cs, name, sel, u); err != nil {
		return allocator.U64Cell{}, err
	}
	return u, nil
}

func gateU64Limbs(cs *constraint.System, name string, sel allocator.Cell, u allocator.U64Cell) error {
	decomposed := constraint.Var(u.Aggregate.VarID())
	for i, limb := range u.Limbs {
		shift := field.FromUint64(1 << (16 * uint(i)))
		decomposed = constraint.Sub(decomposed, constraint.Scale(shift, v(limb)))
		if err := cs.AddLookup(fmt.Sprintf("%s_limb%d_in_u16", name, i), sel.VarID(), v(limb), constraint.TableU16); err != nil {
			return err
		}
	}
	return cs.AddGate(name+"_limb_decomposition", sel.VarID(), decomposed)
}

// assignU64 fills a U64 composite's limbs and aggregate from one value.
func assignU64(w *etable.Witness, block int, u allocator.U64Cell, value uint64) error {
	for i, limb := range u.Limbs {
		if err := w.Set(block, limb, field.FromUint64(value>>(16*uint(i))&0xffff)); err != nil {
			return err
		}
	}
	return w.Set(block, u.Aggregate, field.FromUint64(value))
}

// u64v is the aggregate of a range-proved composite as an expression.
func u64v(u allocator.U64Cell) constraint.Expr { return v(u.Aggregate) }

// gateNarrowWhenI32 pins a range-proved u64's upper two limbs to zero on
// rows where the dynamic width flag says 32-bit, tightening the proven
// range to [0, 2^32).
func gateNarrowWhenI32(cs *constraint.System, name string, sel allocator.Cell, isI32 allocator.Cell, u allocator.U64Cell) error {
	if err := cs.AddGate(name+"_limb2_zero_when_i32", sel.VarID(), constraint.Mul(v(isI32), v(u.Limbs[2]))); err != nil {
		return err
	}
	return cs.AddGate(name+"_limb3_zero_when_i32", sel.VarID(), constraint.Mul(v(isI32), v(u.Limbs[3])))
}

// mlookup is an M-table lookup whose packed encode is bound by a gate to
// standalone offset, width, and value cells, so opcode identities can
// constrain the looked-up tuple's parts directly instead of treating the
// encode as an opaque blob. The location type is fixed per declaration
// site (an opcode family always knows which region each of its accesses
// touches).
type mlookup struct {
	cells  allocator.MTableLookupCell
	offset allocator.Cell
	isI32  allocator.Cell
	value  allocator.U64Cell
	loc    wasm.LocationType
}

func (m mlookup) val() constraint.Expr  { return v(m.value.Aggregate) }
func (m mlookup) off() constraint.Expr  { return v(m.offset) }
func (m mlookup) is32() constraint.Expr { return v(m.isI32) }

// declareMLookup reserves the lookup cell group plus its bound components
// and registers the binding gate, the value's u16 range plumbing, and the
// M-table lookup argument itself. sel gates everything: a configuration
// whose lookup is conditional (a keep-branch's read/write pair) passes a
// per-lookup enable bit instead of its class selector.
func declareMLookup(alloc *allocator.Allocator, cs *constraint.System, common *etable.CommonCells, sel allocator.Cell, name string, isWrite bool, loc wasm.LocationType) (mlookup, error) {
	var m mlookup
	m.loc = loc
	var err error
	if m.cells, err = alloc.AllocMTableLookup(isWrite); err != nil {
		return mlookup{}, err
	}
	if m.offset, err = alloc.Alloc(allocator.CommonRange); err != nil {
		return mlookup{}, err
	}
	if m.isI32, err = alloc.Alloc(allocator.Bit); err != nil {
		return mlookup{}, err
	}
	if m.value, err = allocU64Checked(alloc, cs, name+".value", sel); err != nil {
		return mlookup{}, err
	}

	// encode == offset | loc<<16 | is_i32<<18 | value<<19, the same layout
	// mtable.EncodeRow packs.
	bound := addExprs(
		v(m.offset),
		constraint.Const(field.FromUint64(uint64(loc)<<16)),
		constraint.Scale(field.FromUint64(1<<18), v(m.isI32)),
		constraint.Scale(field.FromUint64(1<<19), v(m.value.Aggregate)),
	)
	if err := cs.AddGate(name+".encode_binding", sel.VarID(), eqExpr(v(m.cells.Encode), bound)); err != nil {
		return mlookup{}, err
	}
	if err := cs.AddLookup(name+".in_mtable", sel.VarID(), v(m.cells.Encode), constraint.TableMemory); err != nil {
		return mlookup{}, err
	}

	// The interval contract: a write establishes its own interval, a read
	// sits strictly inside one opened by an earlier write.
	if isWrite {
		if err := cs.AddGate(name+".start_eid_is_eid", sel.VarID(), eqExpr(v(m.cells.StartEid), v(common.Eid))); err != nil {
			return mlookup{}, err
		}
	} else {
		started := addExprs(v(m.cells.StartEid), v(m.cells.StartEidDiff), constraint.Const(field.One()))
		if err := cs.AddGate(name+".start_eid_contract", sel.VarID(), eqExpr(started, v(common.Eid))); err != nil {
			return mlookup{}, err
		}
	}
	return m, nil
}

// assignMLookup fills the lookup cell group and its bound components from
// one recorded memory rw-entry.
func assignMLookup(w *etable.Witness, block int, m mlookup, entry trace.MemoryRWEntry) error {
	if entry.LocationType != m.loc {
		return fmt.Errorf("%w: entry at offset %d is %v, lookup declared for %v", ErrMalformedEvent, entry.Offset, entry.LocationType, m.loc)
	}
	if err := assignMTableLookup(w, block, m.cells, entry); err != nil {
		return err
	}
	if err := w.Set(block, m.offset, field.FromUint64(entry.Offset)); err != nil {
		return err
	}
	if err := w.Set(block, m.isI32, boolField(entry.IsI32)); err != nil {
		return err
	}
	return assignU64(w, block, m.value, entry.Value)
}

// declarePowBinding reserves a pow-table lookup cell and gates it to a
// (power-of-two value, exponent) expression pair: the lookup forces the
// cell to be some row 2^i<<16|i, and the gate forces that row's halves to
// equal the supplied expressions. The exponent expression must be proven
// < 2^16 by its own cells for the mixed-radix split to be unique.
func declarePowBinding(alloc *allocator.Allocator, cs *constraint.System, name string, sel allocator.Cell, powValue, exponent constraint.Expr) (allocator.Cell, error) {
	cell, err := alloc.Alloc(allocator.Unlimited)
	if err != nil {
		return allocator.Cell{}, err
	}
	bound := constraint.Add(constraint.Scale(field.FromUint64(1<<16), powValue), exponent)
	if err := cs.AddGate(name+"_binding", sel.VarID(), eqExpr(v(cell), bound)); err != nil {
		return allocator.Cell{}, err
	}
	if err := cs.AddLookup(name+"_in_pow_table", sel.VarID(), v(cell), constraint.TablePow); err != nil {
		return allocator.Cell{}, err
	}
	return cell, nil
}

func assignPow(w *etable.Witness, block int, cell allocator.Cell, exponent uint64) error {
	return w.Set(block, cell, rtable.EncodePow(exponent))
}

// gateOpcodeEncoding binds the shared itable_lookup_cell to this family's
// class tag and argument expressions: the instruction-table lookup then
// pins the family's immediates to the static code.
func gateOpcodeEncoding(cs *constraint.System, name string, sel allocator.Cell, common *etable.CommonCells, class wasm.Class, arg0, arg1, arg2 constraint.Expr) error {
	encoded := addExprs(
		constraint.Const(field.FromUint64(uint64(class)<<wasm.ClassShift)),
		constraint.Scale(field.FromUint64(1<<wasm.Arg0Shift), arg0),
		constraint.Scale(field.FromUint64(1<<wasm.Arg1Shift), arg1),
		arg2,
	)
	return cs.AddGate(name+".opcode_encoding", sel.VarID(), eqExpr(v(common.ITableLookup), encoded))
}

func zero() constraint.Expr { return constraint.Const(field.Zero()) }

// twoPow64 is 2^64 as a field element.
func twoPow64() field.Element {
	return field.FromBigInt(new(big.Int).Lsh(big.NewInt(1), 64))
}

// fieldPow2 is 2^bits as a field element, for radix weights past uint64.
func fieldPow2(bits uint) field.Element {
	return field.FromBigInt(new(big.Int).Lsh(big.NewInt(1), bits))
}

// heapCursor is the shared addressing gadget of the load and store
// configurations: it locates an access inside the 8-byte-block heap
// (block index, inner byte offset, length one-hot, block-cross flag),
// proves the (offset, len) pair valid through the offset-len-bits table,
// binds 2^(8*inner_offset) through the pow table, and carries the
// tailing/leading cells that frame the accessed byte range inside the
// 128-bit two-block window.
type heapCursor struct {
	blockIndex allocator.Cell
	innerOff   allocator.Cell

	isOneByte   allocator.Cell
	isTwoBytes  allocator.Cell
	isFourBytes allocator.Cell
	isEightByte allocator.Cell
	isCross     allocator.Cell

	mask          allocator.Cell
	offsetLenLkup allocator.Cell
	powOffset     allocator.Cell
	powLkup       allocator.Cell
	powEnd        allocator.Cell

	tailing  allocator.U64Cell
	tailingC allocator.U64Cell
	leadLo   allocator.U64Cell
	leadHi   allocator.U64Cell
}

// lenBytes is the access length in bytes as a one-hot blend.
func (h *heapCursor) lenBytes() constraint.Expr {
	return addExprs(
		v(h.isOneByte),
		constraint.Scale(field.FromUint64(2), v(h.isTwoBytes)),
		constraint.Scale(field.FromUint64(4), v(h.isFourBytes)),
		constraint.Scale(field.FromUint64(8), v(h.isEightByte)),
	)
}

// lenModulus is 2^(8*len).
func (h *heapCursor) lenModulus() constraint.Expr {
	return addExprs(
		constraint.Scale(field.FromUint64(1<<8), v(h.isOneByte)),
		constraint.Scale(field.FromUint64(1<<16), v(h.isTwoBytes)),
		constraint.Scale(field.FromUint64(1<<32), v(h.isFourBytes)),
		constraint.Scale(twoPow64(), v(h.isEightByte)),
	)
}

// halfLenModulus is 2^(8*len-1), the sign-bit weight of the accessed
// range.
func (h *heapCursor) halfLenModulus() constraint.Expr {
	return addExprs(
		constraint.Scale(field.FromUint64(1<<7), v(h.isOneByte)),
		constraint.Scale(field.FromUint64(1<<15), v(h.isTwoBytes)),
		constraint.Scale(field.FromUint64(1<<31), v(h.isFourBytes)),
		constraint.Scale(field.FromUint64(1<<63), v(h.isEightByte)),
	)
}

// leading is the block content above the accessed range, split into two
// proven-u64 halves so its product with powEnd stays inside the field.
func (h *heapCursor) leading() constraint.Expr {
	return constraint.Add(u64v(h.leadLo), constraint.Scale(twoPow64(), u64v(h.leadHi)))
}

func declareHeapCursor(alloc *allocator.Allocator, cs *constraint.System, name string, sel allocator.Cell) (*heapCursor, error) {
	h := &heapCursor{}
	var err error
	for _, p := range []*allocator.Cell{&h.blockIndex, &h.innerOff} {
		if *p, err = alloc.Alloc(allocator.CommonRange); err != nil {
			return nil, err
		}
	}
	for _, p := range []*allocator.Cell{&h.isOneByte, &h.isTwoBytes, &h.isFourBytes, &h.isEightByte, &h.isCross} {
		if *p, err = alloc.Alloc(allocator.Bit); err != nil {
			return nil, err
		}
	}
	if h.mask, err = alloc.Alloc(allocator.U16); err != nil {
		return nil, err
	}
	if err := cs.AddLookup(name+".mask_in_u16", sel.VarID(), v(h.mask), constraint.TableU16); err != nil {
		return nil, err
	}
	if h.offsetLenLkup, err = alloc.Alloc(allocator.Unlimited); err != nil {
		return nil, err
	}
	if h.powOffset, err = alloc.Alloc(allocator.Unlimited); err != nil {
		return nil, err
	}
	if h.powEnd, err = alloc.Alloc(allocator.Unlimited); err != nil {
		return nil, err
	}
	for _, p := range []struct {
		cell *allocator.U64Cell
		part string
	}{
		{&h.tailing, "tailing"}, {&h.tailingC, "tailing_c"},
		{&h.leadLo, "lead_lo"}, {&h.leadHi, "lead_hi"},
	} {
		if *p.cell, err = allocU64Checked(alloc, cs, name+"."+p.part, sel); err != nil {
			return nil, err
		}
	}

	if err := cs.AddGate(name+".length_one_hot", sel.VarID(), eqExpr(
		addExprs(v(h.isOneByte), v(h.isTwoBytes), v(h.isFourBytes), v(h.isEightByte)),
		constraint.Const(field.One()),
	)); err != nil {
		return nil, err
	}

	// The offset-len-bits row pins (inner offset, length, mask, cross flag)
	// to a consistent tuple, which in particular proves inner_offset < 8.
	offsetLenBound := addExprs(
		constraint.Scale(field.FromUint64(1<<24), v(h.isCross)),
		constraint.Scale(field.FromUint64(1<<20), v(h.innerOff)),
		constraint.Scale(field.FromUint64(1<<16), h.lenBytes()),
		v(h.mask),
	)
	if err := cs.AddGate(name+".offset_len_binding", sel.VarID(), eqExpr(v(h.offsetLenLkup), offsetLenBound)); err != nil {
		return nil, err
	}
	if err := cs.AddLookup(name+".offset_len_in_table", sel.VarID(), v(h.offsetLenLkup), constraint.TableOffsetLenBits); err != nil {
		return nil, err
	}

	// powOffset == 2^(8*inner_offset), via the pow table.
	eightInner := constraint.Scale(field.FromUint64(8), v(h.innerOff))
	if h.powLkup, err = declarePowBinding(alloc, cs, name+".pow_offset", sel, v(h.powOffset), eightInner); err != nil {
		return nil, err
	}
	// powEnd == 2^(8*(inner_offset+len)).
	if err := cs.AddGate(name+".pow_end", sel.VarID(), eqExpr(
		v(h.powEnd), constraint.Mul(v(h.powOffset), h.lenModulus()),
	)); err != nil {
		return nil, err
	}
	// tailing < powOffset frames the bytes below the accessed range.
	return h, cs.AddGate(name+".tailing_bound", sel.VarID(), eqExpr(
		constraint.Add(u64v(h.tailing), u64v(h.tailingC)),
		constraint.Sub(v(h.powOffset), constraint.Const(field.One())),
	))
}

// heapWindow is the two-block 128-bit window an access touches, as an
// expression over the bound block-value cells: low + high*2^64. The high
// half is zero (cells unassigned, lookup disabled) unless the access
// crosses.
func heapWindow(low, high mlookup) constraint.Expr {
	return constraint.Add(low.val(), constraint.Scale(twoPow64(), high.val()))
}

// decomposeWindow is the framing identity window == tailing +
// picked*powOffset + leading*powEnd shared by load's pick and store's
// merge.
func (h *heapCursor) decomposeWindow(window, picked constraint.Expr) constraint.Expr {
	return eqExpr(window, addExprs(
		u64v(h.tailing),
		constraint.Mul(picked, v(h.powOffset)),
		constraint.Mul(h.leading(), v(h.powEnd)),
	))
}

// assignHeapCursor fills the cursor's cells for one concrete access; the
// caller passes the combined two-block window so the tailing/leading
// frame can be cut out of it.
func assignHeapCursor(w *etable.Witness, block int, h *heapCursor, window *big.Int, innerOffset, length uint64) error {
	crosses := rtable.OffsetLenCrosses(innerOffset, length)
	powOffset := uint64(1) << (8 * innerOffset)
	tailing := new(big.Int).Mod(window, new(big.Int).SetUint64(powOffset)).Uint64()
	leading := new(big.Int).Rsh(window, uint(8*(innerOffset+length)))
	leadLo := new(big.Int).And(leading, new(big.Int).SetUint64(^uint64(0))).Uint64()
	leadHi := new(big.Int).Rsh(leading, 64).Uint64()

	lenFlags := map[uint64]*allocator.Cell{1: &h.isOneByte, 2: &h.isTwoBytes, 4: &h.isFourBytes, 8: &h.isEightByte}
	for _, l := range []uint64{1, 2, 4, 8} {
		if err := w.Set(block, *lenFlags[l], boolField(l == length)); err != nil {
			return err
		}
	}
	mask := (uint64(1)<<length - 1) << innerOffset
	if err := setAll(w, block,
		cellPair(h.innerOff, field.FromUint64(innerOffset)),
		cellPair(h.isCross, boolField(crosses)),
		cellPair(h.mask, field.FromUint64(mask)),
		cellPair(h.offsetLenLkup, field.FromUint64(rtable.EncodeOffsetLenBits(innerOffset, length))),
		cellPair(h.powOffset, field.FromUint64(powOffset)),
		cellPair(h.powEnd, rtable.PowElement(8*(innerOffset+length))),
	); err != nil {
		return err
	}
	if err := assignPow(w, block, h.powLkup, 8*innerOffset); err != nil {
		return err
	}
	for _, a := range []struct {
		cell allocator.U64Cell
		val  uint64
	}{
		{h.tailing, tailing}, {h.tailingC, powOffset - 1 - tailing},
		{h.leadLo, leadLo}, {h.leadHi, leadHi},
	} {
		if err := assignU64(w, block, a.cell, a.val); err != nil {
			return err
		}
	}
	return nil
}
