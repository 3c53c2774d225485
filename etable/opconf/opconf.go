// Package opconf implements the per-opcode constraint modules: one small
// module per Wasm opcode family, each declaring cells via the allocator,
// pushing constraints into the constraint system, and filling those cells
// from a trace.Event during witness assignment.
//
// Every configuration in this package implements etable.Configuration.
// Shared conventions used throughout:
//
//   - Stack operands in trace.Event.MemoryRWEntries are always
//     LocationStack, and are listed in the order the opcode consumes them:
//     reads before writes, and for binary ops the right-hand operand
//     (popped first, since Wasm pushes lhs then rhs) before the left-hand
//     operand.
//   - "Unlimited" cells hold values whose range is already pinned by a
//     binding gate plus a table lookup (packed row encodes, pow pairs) or
//     that genuinely span the whole field (inverse helpers); anything
//     that needs a real range proof goes through Bit/U8/U16/CommonRange
//     cells or a u16-limbed u64 composite.
package opconf

import (
	"errors"
	"fmt"

	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/jtable"
	"github.com/eth2030/zkwasm/mtable"
	"github.com/eth2030/zkwasm/trace"
)

// ErrMalformedEvent is returned when a trace.Event lacks the memory
// rw-entries an opcode configuration's family requires (e.g. a `bin` event
// with fewer than three entries). This indicates the interpreter producing
// the trace is broken, not a constraint violation.
var ErrMalformedEvent = errors.New("opconf: event has wrong memory rw-entry shape for its opcode")

// requireEntries checks an event carries exactly n memory rw-entries.
func requireEntries(ev trace.Event, n int) error {
	if len(ev.MemoryRWEntries) != n {
		return fmt.Errorf("%w: class %s wants %d entries, got %d", ErrMalformedEvent, ev.Opcode.Class, n, len(ev.MemoryRWEntries))
	}
	return nil
}

// sameFidNextIid is the default next-state projection for opcodes that do
// not branch: same fid, iid+1, same frame.
func sameFidNextIid(ev trace.Event) etable.NextState {
	return etable.NextState{
		NextFid:     ev.Fid,
		NextIid:     ev.Iid + 1,
		NextFrameId: ev.LastJumpEid,
	}
}

// setAll assigns every (cell, value) pair in order, stopping at the first
// error.
func setAll(w *etable.Witness, block int, pairs ...struct {
	Cell allocator.Cell
	Val  field.Element
}) error {
	for _, p := range pairs {
		if err := w.Set(block, p.Cell, p.Val); err != nil {
			return err
		}
	}
	return nil
}

// cellPair is a tiny constructor so call sites read as setAll(w, block,
// cellPair(c1, v1), cellPair(c2, v2), ...) instead of repeating the anonymous
// struct literal.
func cellPair(c allocator.Cell, v field.Element) struct {
	Cell allocator.Cell
	Val  field.Element
} {
	return struct {
		Cell allocator.Cell
		Val  field.Element
	}{c, v}
}

// boolField renders a Go bool as the field element 0 or 1, for Bit cells.
func boolField(b bool) field.Element {
	if b {
		return field.One()
	}
	return field.Zero()
}

// eqExpr returns an Expr that is zero exactly when a and b are equal
// (a - b), the standard shape for an equality gate.
func eqExpr(a, b constraint.Expr) constraint.Expr {
	return constraint.Sub(a, b)
}

func v(c allocator.Cell) constraint.Expr { return constraint.Var(c.VarID()) }

// isZeroGadget allocates an `inv` helper cell and an `isZero` bit cell for
// value, and registers the standard two-gate is-zero gadget under every
// selector in sels: `value*inv + isZero == 1` and `isZero*value == 0`.
// Together they force isZero to 1 when value is 0 (inv is then
// unconstrained, free to be 0) and to 0 otherwise (inv must be value's field
// inverse). Used wherever a sign flag must be forced to 0 on a zero
// magnitude (bin.go's signed div/rem recombination), the same shape
// select.go's cond/cond_inv and rel.go's diff/diff_inv pairs already use
// for is-zero without naming it. Returns both the isZero and inv cells;
// the caller assigns both.
func isZeroGadget(alloc *allocator.Allocator, cs *constraint.System, name string, value allocator.Cell, sels ...constraint.VarID) (isZero, inv allocator.Cell, err error) {
	if inv, err = alloc.Alloc(allocator.Unlimited); err != nil {
		return allocator.Cell{}, allocator.Cell{}, err
	}
	if isZero, err = alloc.Alloc(allocator.Bit); err != nil {
		return allocator.Cell{}, allocator.Cell{}, err
	}
	valInv := constraint.Mul(v(value), v(inv))
	inverseOrZero := eqExpr(addExprs(valInv, v(isZero)), constraint.Const(field.One()))
	zeroForcesValueZero := constraint.Mul(v(isZero), v(value))
	for i, sel := range sels {
		suffix := fmt.Sprintf("_%d", i)
		if err = cs.AddGate(name+"_inv_or_zero"+suffix, sel, inverseOrZero); err != nil {
			return allocator.Cell{}, allocator.Cell{}, err
		}
		if err = cs.AddGate(name+"_zero_forces_value_zero"+suffix, sel, zeroForcesValueZero); err != nil {
			return allocator.Cell{}, allocator.Cell{}, err
		}
	}
	return isZero, inv, nil
}

// assignMTableLookup fills an M-table-lookup cell group from the concrete
// memory rw-entry the interpreter recorded, per the diff-cell contract
// `eid = start_eid + start_eid_diff + 1` and
// `end_eid = eid + end_eid_diff`. A still-live entry (EndEid ==
// trace.EndEidSentinel) carries an end_eid_diff of 0; the sentinel itself
// is carried in the M-table row, not reconstructed from the diff.
func assignMTableLookup(w *etable.Witness, block int, cell allocator.MTableLookupCell, entry trace.MemoryRWEntry) error {
	enc := mtable.EncodeRow(entry.LocationType, entry.Offset, entry.IsI32, entry.Value)
	if err := w.Set(block, cell.Encode, enc); err != nil {
		return err
	}
	if err := w.Set(block, cell.StartEid, field.FromUint64(entry.StartEid)); err != nil {
		return err
	}
	if err := w.Set(block, cell.EndEid, field.FromUint64(entry.EndEid)); err != nil {
		return err
	}
	if !cell.IsWrite {
		if entry.Eid <= entry.StartEid {
			return fmt.Errorf("%w: read entry eid %d not after start_eid %d", ErrMalformedEvent, entry.Eid, entry.StartEid)
		}
		diff := entry.Eid - entry.StartEid - 1
		if err := w.Set(block, cell.StartEidDiff, field.FromUint64(diff)); err != nil {
			return err
		}
	}
	endDiff := uint64(0)
	if entry.EndEid != trace.EndEidSentinel {
		if entry.EndEid < entry.Eid {
			return fmt.Errorf("%w: entry eid %d has end_eid %d before it", ErrMalformedEvent, entry.Eid, entry.EndEid)
		}
		endDiff = entry.EndEid - entry.Eid
	}
	return w.Set(block, cell.EndEidDiff, field.FromUint64(endDiff))
}

// jtableRowEncode renders a frame entry's J-table encoding as the field
// element a jtable_lookup_cell carries.
func jtableRowEncode(f *trace.FrameEntry) field.Element {
	return jtable.Encode(*f)
}
