// Package etable implements the event-table driver: the per-row
// commonality every opcode configuration shares (enables, step counters,
// next-state selectors, opcode dispatch, cross-opcode accumulators), and
// the glue that turns an ordered trace.Slice into a witness matrix plus
// the derived M-table and J-table.
package etable

import (
	"errors"
	"fmt"

	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/internal/telemetry"
	"github.com/eth2030/zkwasm/internal/zklog"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

var (
	// ErrDuplicateClass is returned if two Configurations register the same
	// opcode Class.
	ErrDuplicateClass = errors.New("etable: duplicate opcode class configuration")
	// ErrUnreachableOpcode reports a trace event whose discriminator has
	// no configuration.
	ErrUnreachableOpcode = errors.New("etable: no configuration for opcode class")
	// ErrTraceOutOfOrder reports a non-monotonic or inconsistent trace.
	ErrTraceOutOfOrder = errors.New("etable: trace out of order")
	// ErrCellAlreadyAssigned enforces the assign-once cell discipline.
	ErrCellAlreadyAssigned = errors.New("etable: cell already assigned in this row block")
)

// NextState is the per-event projection an opcode configuration's witness
// assignment returns.
type NextState struct {
	NextFid            uint32
	NextIid            uint32
	NextFrameId        uint64
	SpDiff             int32
	AllocatedPagesDiff int32
	Mops               uint32
	Jops               uint32
	CallOps            uint32
	ReturnOps          uint32
	MemoryWritingOps   uint32
	IsReturned         bool
}

// CommonCells are the row-block fields every opcode configuration shares.
type CommonCells struct {
	Eid            allocator.Cell
	Fid            allocator.Cell
	Iid            allocator.Cell
	Sp             allocator.Cell
	FrameId        allocator.Cell
	AllocatedPages allocator.Cell
	IsReturned     allocator.Cell
	Enable         allocator.Cell

	// EidPerm/SpPerm exist only under the continuation configuration: u32
	// composites whose accompanying equality cells let eid and sp be
	// permuted across slice boundaries. Zero-valued otherwise.
	EidPerm allocator.U32PermCell
	SpPerm  allocator.U32PermCell

	ITableLookup  allocator.Cell
	JTableLookup  allocator.Cell
	BrTableLookup allocator.Cell

	RestMops      allocator.Cell
	RestJops      allocator.Cell
	RestCallOps   allocator.Cell
	RestReturnOps allocator.Cell

	Selectors map[wasm.Class]allocator.Cell
}

// Configuration is the interface every opcode configuration
// implements. It is declared here, not in package opconf, so opconf can
// depend on etable without etable depending back on opconf.
type Configuration interface {
	Class() wasm.Class
	// Configure declares cells and pushes constraints, gated by sel.
	Configure(alloc *allocator.Allocator, cs *constraint.System, common *CommonCells, sel allocator.Cell) error
	// Assign fills the cells this configuration declared from one trace
	// event and projects its next-state fields, plus any memory
	// rw-entries and frame entry the opcode emits.
	Assign(w *Witness, block int, common *CommonCells, ev trace.Event) (NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error)
}

// Witness is the row matrix: one field element per (block, VarID)
// coordinate, across every event's row block. Each coordinate may be
// written exactly once.
type Witness struct {
	rows map[int]map[constraint.VarID]field.Element
}

// NewWitness returns an empty witness matrix.
func NewWitness() *Witness {
	return &Witness{rows: make(map[int]map[constraint.VarID]field.Element)}
}

// Set assigns v to cell's VarID within the given row block. It is an error
// to assign the same coordinate twice.
func (w *Witness) Set(block int, cell allocator.Cell, v field.Element) error {
	row, ok := w.rows[block]
	if !ok {
		row = make(map[constraint.VarID]field.Element)
		w.rows[block] = row
	}
	id := cell.VarID()
	if _, dup := row[id]; dup {
		return fmt.Errorf("%w: block %d cell %+v", ErrCellAlreadyAssigned, block, cell)
	}
	row[id] = v
	return nil
}

// Get returns the value assigned to cell within block, or the zero element
// if unassigned (padded rows never assign most cells).
func (w *Witness) Get(block int, cell allocator.Cell) field.Element {
	return w.GetVar(block, cell.VarID())
}

// GetVar is Get addressed directly by VarID, for callers (the row-level
// gate/lookup self-check in package circuit) that only have the VarID a
// constraint.Gate or constraint.Lookup carries, not the originating Cell.
func (w *Witness) GetVar(block int, id constraint.VarID) field.Element {
	row, ok := w.rows[block]
	if !ok {
		return field.Zero()
	}
	return row[id]
}

// Blocks returns the number of row blocks assigned so far.
func (w *Witness) Blocks() int { return len(w.rows) }

// Driver owns the cell allocator, the constraint system, and the installed
// opcode configurations, and materializes the witness matrix for a trace
// slice.
type Driver struct {
	alloc        *allocator.Allocator
	cs           *constraint.System
	common       *CommonCells
	configs      map[wasm.Class]Configuration
	continuation bool

	log *zklog.Logger
}

// NewDriver constructs a Driver with a K-row-per-event allocator and an
// empty constraint system.
func NewDriver(k int) *Driver {
	return NewDriverWithContinuation(k, false)
}

// NewDriverWithContinuation is NewDriver with the continuation flag: when
// set, eid and sp additionally occupy permutation-enabled u32 composites
// so their values can be equated across slice boundaries by the outer
// driver.
func NewDriverWithContinuation(k int, continuation bool) *Driver {
	return &Driver{
		alloc:        allocator.New(k),
		cs:           constraint.NewSystem(),
		configs:      make(map[wasm.Class]Configuration),
		continuation: continuation,
		log:          zklog.Default().Module("etable"),
	}
}

// Allocator exposes the underlying cell allocator, so opcode configurations
// registered before Configure can reach it if they need shared cells (none
// currently do; exposed for symmetry and testing).
func (d *Driver) Allocator() *allocator.Allocator { return d.alloc }

// Constraints exposes the accumulated constraint system.
func (d *Driver) Constraints() *constraint.System { return d.cs }

// Configure declares the common cells, installs every supplied opcode
// configuration under its own one-hot selector bit, and registers the
// driver-level invariants (dispatch selector is one-hot).
func (d *Driver) Configure(configs []Configuration) (*CommonCells, error) {
	common := &CommonCells{Selectors: make(map[wasm.Class]allocator.Cell, len(configs))}

	var err error
	if common.Eid, err = d.alloc.Alloc(allocator.CommonRange); err != nil {
		return nil, err
	}
	if common.Fid, err = d.alloc.Alloc(allocator.Unlimited); err != nil {
		return nil, err
	}
	if common.Iid, err = d.alloc.Alloc(allocator.Unlimited); err != nil {
		return nil, err
	}
	if common.Sp, err = d.alloc.Alloc(allocator.CommonRange); err != nil {
		return nil, err
	}
	if common.FrameId, err = d.alloc.Alloc(allocator.Unlimited); err != nil {
		return nil, err
	}
	if common.AllocatedPages, err = d.alloc.Alloc(allocator.CommonRange); err != nil {
		return nil, err
	}
	if common.IsReturned, err = d.alloc.Alloc(allocator.Bit); err != nil {
		return nil, err
	}
	if common.Enable, err = d.alloc.Alloc(allocator.Bit); err != nil {
		return nil, err
	}
	if common.ITableLookup, err = d.alloc.Alloc(allocator.Unlimited); err != nil {
		return nil, err
	}
	if common.JTableLookup, err = d.alloc.Alloc(allocator.Unlimited); err != nil {
		return nil, err
	}
	if common.BrTableLookup, err = d.alloc.Alloc(allocator.Unlimited); err != nil {
		return nil, err
	}
	if common.RestMops, err = d.alloc.Alloc(allocator.CommonRange); err != nil {
		return nil, err
	}
	if common.RestJops, err = d.alloc.Alloc(allocator.CommonRange); err != nil {
		return nil, err
	}
	if common.RestCallOps, err = d.alloc.Alloc(allocator.CommonRange); err != nil {
		return nil, err
	}
	if common.RestReturnOps, err = d.alloc.Alloc(allocator.CommonRange); err != nil {
		return nil, err
	}
	if d.continuation {
		if common.EidPerm, err = d.alloc.AllocU32WithPermutation(); err != nil {
			return nil, err
		}
		if common.SpPerm, err = d.alloc.AllocU32WithPermutation(); err != nil {
			return nil, err
		}
		for _, pc := range []struct {
			name string
			perm allocator.U32PermCell
			src  allocator.Cell
		}{{"eid", common.EidPerm, common.Eid}, {"sp", common.SpPerm, common.Sp}} {
			lo, hi := constraint.Var(pc.perm.Lo.VarID()), constraint.Var(pc.perm.Hi.VarID())
			value := constraint.Add(lo, constraint.Scale(field.FromUint64(1<<16), hi))
			if err := d.cs.AddGate("etable."+pc.name+"_perm_decomposition", common.Enable.VarID(),
				constraint.Sub(constraint.Var(pc.perm.Perm.VarID()), value)); err != nil {
				return nil, err
			}
			if err := d.cs.AddGate("etable."+pc.name+"_perm_tracks_common", common.Enable.VarID(),
				constraint.Sub(constraint.Var(pc.perm.Perm.VarID()), constraint.Var(pc.src.VarID()))); err != nil {
				return nil, err
			}
			for i, limb := range []allocator.Cell{pc.perm.Lo, pc.perm.Hi} {
				if err := d.cs.AddLookup(fmt.Sprintf("etable.%s_perm_limb%d_in_u16", pc.name, i),
					common.Enable.VarID(), constraint.Var(limb.VarID()), constraint.TableU16); err != nil {
					return nil, err
				}
			}
		}
	}

	oneHot := constraint.Const(field.Zero())
	for _, cfg := range configs {
		class := cfg.Class()
		if _, dup := common.Selectors[class]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateClass, class)
		}
		sel, err := d.alloc.Alloc(allocator.Bit)
		if err != nil {
			return nil, err
		}
		common.Selectors[class] = sel
		oneHot = constraint.Add(oneHot, constraint.Var(sel.VarID()))

		if err := cfg.Configure(d.alloc, d.cs, common, sel); err != nil {
			return nil, fmt.Errorf("configure %s: %w", class, err)
		}
		d.configs[class] = cfg
	}

	if err := d.cs.AddGate("etable.one_hot_dispatch",
		common.Enable.VarID(),
		constraint.Sub(oneHot, constraint.Var(common.Enable.VarID())),
	); err != nil {
		return nil, err
	}

	// Every Bit cell any configuration reserved obeys x*(x-1) == 0 on
	// enabled rows; unassigned bits evaluate to zero and satisfy it. The
	// single-column range-checked families get their table lookups the
	// same way.
	for i, bit := range d.alloc.Bits() {
		x := constraint.Var(bit.VarID())
		xLess1 := constraint.Sub(x, constraint.Const(field.One()))
		if err := d.cs.AddGate(fmt.Sprintf("etable.bitness_%d", i), common.Enable.VarID(), constraint.Mul(x, xLess1)); err != nil {
			return nil, err
		}
	}
	for _, fam := range []struct {
		t     allocator.CellType
		table constraint.TableColumn
	}{
		{allocator.U8, constraint.TableU8},
		{allocator.U16, constraint.TableU16},
		{allocator.CommonRange, constraint.TableCommonRange},
	} {
		for i, cell := range d.alloc.Ranged(fam.t) {
			name := fmt.Sprintf("etable.range_%s_%d", fam.t, i)
			if err := d.cs.AddLookup(name, common.Enable.VarID(), constraint.Var(cell.VarID()), fam.table); err != nil {
				return nil, err
			}
		}
	}

	// Every enabled row's opcode must be the one the instruction table
	// records at (fid, iid). The fid/iid
	// pairing itself is checked by itable.Table.Contains, which a caller
	// can run directly against the assigned common cells; this lookup only
	// binds the encoded value into the flat instruction-encoding domain.
	if err := d.cs.AddLookup("etable.itable_lookup",
		common.Enable.VarID(),
		constraint.Var(common.ITableLookup.VarID()),
		constraint.TableInstruction,
	); err != nil {
		return nil, err
	}

	d.common = common
	d.log.Debug("configured event table", "opcodes", len(configs))
	return common, nil
}

// AuditCellUsage runs the free-cell profiler over every cell type the
// allocator could have reserved, surfacing a dead column
// family as an error rather than silent waste.
func (d *Driver) AuditCellUsage(types []allocator.CellType) error {
	for _, t := range types {
		if err := d.alloc.VerifyFullyUsed(t); err != nil {
			return err
		}
	}
	return nil
}

// Assigned is the output of assigning a trace slice: the witness matrix
// plus the flattened memory and frame entries the M-table and J-table
// builders consume.
type Assigned struct {
	Witness       *Witness
	MemoryEntries []trace.MemoryRWEntry
	CallFrames    []trace.FrameEntry
	ReturnFrames  []trace.FrameEntry
}

// AssignSlice materializes one row block per event, dispatching to the
// matching opcode configuration and checking the driver-level
// invariants: eid sequence 1..N, sp/fid/iid/allocated_pages
// transitions (sp and allocated_pages carried forward from each opcode's
// returned SpDiff/AllocatedPagesDiff, fid and iid from its
// NextFid/NextIid), and
// rest_mops/rest_jops/rest_call_ops/rest_return_ops running counters that
// close to zero at the final row.
func (d *Driver) AssignSlice(s trace.Slice) (*Assigned, error) {
	if d.common == nil {
		return nil, fmt.Errorf("etable: AssignSlice called before Configure")
	}

	restMops := uint64(s.TotalMemoryOps())
	restJops := uint64(2 * s.TotalCallCount())
	restCallOps := uint64(s.TotalCallCount())
	restReturnOps := uint64(s.TotalReturnCount())

	out := &Assigned{Witness: NewWitness()}

	wantFid, wantIid := uint32(0), uint32(0)
	wantSp, wantAllocatedPages := uint32(0), uint32(0)
	if len(s.Events) > 0 {
		wantFid, wantIid = s.Events[0].Fid, s.Events[0].Iid
		wantSp, wantAllocatedPages = s.Events[0].Sp, s.Events[0].AllocatedPages
	}
	wantFrameId := uint64(0)

	for i, ev := range s.Events {
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTraceOutOfOrder, err)
		}
		if ev.Eid != uint64(i+1) {
			return nil, fmt.Errorf("%w: event %d has eid %d, want %d", ErrTraceOutOfOrder, i, ev.Eid, i+1)
		}
		if ev.Fid != wantFid || ev.Iid != wantIid {
			return nil, fmt.Errorf("%w: event at eid %d is (fid=%d,iid=%d), predecessor projected (fid=%d,iid=%d)",
				ErrTraceOutOfOrder, ev.Eid, ev.Fid, ev.Iid, wantFid, wantIid)
		}
		if ev.LastJumpEid != wantFrameId {
			return nil, fmt.Errorf("%w: event at eid %d has frame_id %d, predecessor projected %d",
				ErrTraceOutOfOrder, ev.Eid, ev.LastJumpEid, wantFrameId)
		}
		if ev.Sp != wantSp {
			return nil, fmt.Errorf("%w: event at eid %d has sp=%d, predecessor's sp_diff projected %d",
				ErrTraceOutOfOrder, ev.Eid, ev.Sp, wantSp)
		}
		if ev.AllocatedPages != wantAllocatedPages {
			return nil, fmt.Errorf("%w: event at eid %d has allocated_pages=%d, predecessor's allocated_pages_diff projected %d",
				ErrTraceOutOfOrder, ev.Eid, ev.AllocatedPages, wantAllocatedPages)
		}

		cfg, ok := d.configs[ev.Opcode.Class]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnreachableOpcode, ev.Opcode.Class)
		}

		block := i
		if err := d.assignCommon(out.Witness, block, ev, restMops, restJops, restCallOps, restReturnOps); err != nil {
			return nil, err
		}

		// Every memory entry is performed by this event: stamp its eid before
		// the configuration fills the eid-diff cells from it. The copy keeps
		// the caller's slice untouched.
		entries := make([]trace.MemoryRWEntry, len(ev.MemoryRWEntries))
		copy(entries, ev.MemoryRWEntries)
		for idx := range entries {
			entries[idx].Eid = ev.Eid
		}
		ev.MemoryRWEntries = entries

		stopTimer := telemetry.EventAssignDuration.Start()
		next, memEntries, frame, err := cfg.Assign(out.Witness, block, d.common, ev)
		stopTimer()
		if err != nil {
			return nil, fmt.Errorf("assign %s at eid %d: %w", ev.Opcode.Class, ev.Eid, err)
		}
		isReturned := field.Zero()
		if next.IsReturned {
			isReturned = field.One()
		}
		if err := out.Witness.Set(block, d.common.IsReturned, isReturned); err != nil {
			return nil, err
		}

		for idx := range memEntries {
			memEntries[idx].Eid = ev.Eid
		}
		out.MemoryEntries = append(out.MemoryEntries, memEntries...)
		if frame != nil {
			if ev.Opcode.Class == wasm.ClassReturn {
				out.ReturnFrames = append(out.ReturnFrames, *frame)
			} else {
				out.CallFrames = append(out.CallFrames, *frame)
			}
		}

		restMops -= uint64(next.Mops)
		restJops -= uint64(next.Jops)
		restCallOps -= uint64(next.CallOps)
		restReturnOps -= uint64(next.ReturnOps)

		wantFid, wantIid, wantFrameId = next.NextFid, next.NextIid, next.NextFrameId
		wantSp = uint32(int64(ev.Sp) + int64(next.SpDiff))
		wantAllocatedPages = uint32(int64(ev.AllocatedPages) + int64(next.AllocatedPagesDiff))
		telemetry.EventRowsAssigned.Inc()
	}

	if restMops != 0 {
		return nil, fmt.Errorf("%w: rest_mops closing boundary left %d", ErrTraceOutOfOrder, restMops)
	}
	if restJops != 0 {
		return nil, fmt.Errorf("%w: rest_jops closing boundary left %d", ErrTraceOutOfOrder, restJops)
	}
	if restCallOps != 0 || restReturnOps != 0 {
		return nil, fmt.Errorf("%w: rest_call_ops/rest_return_ops closing boundary left %d/%d", ErrTraceOutOfOrder, restCallOps, restReturnOps)
	}

	d.log.Debug("assigned event table", "events", len(s.Events))
	return out, nil
}

func (d *Driver) assignCommon(w *Witness, block int, ev trace.Event, restMops, restJops, restCallOps, restReturnOps uint64) error {
	c := d.common
	sets := []struct {
		cell allocator.Cell
		val  field.Element
	}{
		{c.Eid, field.FromUint64(ev.Eid)},
		{c.Fid, field.FromUint64(uint64(ev.Fid))},
		{c.Iid, field.FromUint64(uint64(ev.Iid))},
		{c.Sp, field.FromUint64(uint64(ev.Sp))},
		{c.FrameId, field.FromUint64(ev.LastJumpEid)},
		{c.AllocatedPages, field.FromUint64(uint64(ev.AllocatedPages))},
		{c.Enable, field.One()},
		{c.ITableLookup, field.FromUint64(ev.Opcode.Encode())},
		{c.RestMops, field.FromUint64(restMops)},
		{c.RestJops, field.FromUint64(restJops)},
		{c.RestCallOps, field.FromUint64(restCallOps)},
		{c.RestReturnOps, field.FromUint64(restReturnOps)},
	}
	for _, s := range sets {
		if err := w.Set(block, s.cell, s.val); err != nil {
			return err
		}
	}
	if d.continuation {
		for _, pc := range []struct {
			perm allocator.U32PermCell
			val  uint64
		}{{c.EidPerm, ev.Eid}, {c.SpPerm, uint64(ev.Sp)}} {
			if err := w.Set(block, pc.perm.Lo, field.FromUint64(pc.val&0xffff)); err != nil {
				return err
			}
			if err := w.Set(block, pc.perm.Hi, field.FromUint64(pc.val>>16&0xffff)); err != nil {
				return err
			}
			if err := w.Set(block, pc.perm.Perm, field.FromUint64(pc.val)); err != nil {
				return err
			}
		}
	}
	for class, sel := range c.Selectors {
		v := field.Zero()
		if class == ev.Opcode.Class {
			v = field.One()
		}
		if err := w.Set(block, sel, v); err != nil {
			return err
		}
	}
	return nil
}
