// Package circuit wires the opcode configuration set, the event-table
// driver, the memory table, and the jump table together into the single
// top-level object a caller constructs from a compiled module and a
// trace.
package circuit

import (
	"errors"
	"fmt"

	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/brtable"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/etable/opconf"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/imtable"
	"github.com/eth2030/zkwasm/internal/telemetry"
	"github.com/eth2030/zkwasm/internal/zklog"
	"github.com/eth2030/zkwasm/itable"
	"github.com/eth2030/zkwasm/jtable"
	"github.com/eth2030/zkwasm/mtable"
	"github.com/eth2030/zkwasm/rtable"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

// DefaultRowsPerEvent is the fixed K-row block every event reserves,
// generous enough to hold the widest opcode configuration
// (store/load's dual heap-block crossing case) without tuning per module.
const DefaultRowsPerEvent = 32

// ErrNotConfigured is returned by Assign on a Circuit that was not built
// by New (its event-table driver was never configured).
var ErrNotConfigured = errors.New("circuit: Configure has not been called")

// Circuit bundles the static, per-module tables (instruction, initial
// memory, br-table targets, and the shared range tables) with the
// configured event-table driver built over them.
type Circuit struct {
	Module *wasm.CompiledModule
	Params Params

	Range        *rtable.Tables
	Instructions *itable.Table
	InitMemory   *imtable.Table
	BrTargets    *brtable.Table

	driver *etable.Driver
	common *etable.CommonCells

	log *zklog.Logger
}

// New builds the static tables for a compiled module and configures an
// event-table driver over the full opcode configuration roster.
func New(m *wasm.CompiledModule) (*Circuit, error) {
	return NewWithRowsPerEvent(m, DefaultRowsPerEvent)
}

// Params is the static configuration a circuit is built under: the K-row
// block size and the continuation flag (which turns on the
// permutation-enabled u32 state cells and their columns).
type Params struct {
	RowsPerEvent int
	Continuation bool
}

// NewWithRowsPerEvent is New with an explicit K, for callers (tests, mostly)
// that want a tighter or looser row budget than DefaultRowsPerEvent.
func NewWithRowsPerEvent(m *wasm.CompiledModule, k int) (*Circuit, error) {
	return NewWithParams(m, Params{RowsPerEvent: k})
}

// NewWithParams is New with the full static configuration.
func NewWithParams(m *wasm.CompiledModule, p Params) (*Circuit, error) {
	c := &Circuit{
		Module:       m,
		Params:       p,
		Range:        rtable.New(),
		Instructions: itable.Build(m),
		InitMemory:   imtable.Build(m),
		BrTargets:    brtable.Build(m),
		driver:       etable.NewDriverWithContinuation(p.RowsPerEvent, p.Continuation),
		log:          zklog.Default().Module("circuit"),
	}

	common, err := c.driver.Configure(opcodeConfigurations(m))
	if err != nil {
		return nil, fmt.Errorf("circuit: configure: %w", err)
	}
	c.common = common

	if err := c.driver.Constraints().Finalize(); err != nil {
		return nil, fmt.Errorf("circuit: %w", err)
	}

	c.log.Info("circuit configured",
		"functions", len(m.Functions),
		"gates", len(c.driver.Constraints().Gates()),
		"lookups", len(c.driver.Constraints().Lookups()))
	return c, nil
}

// opcodeConfigurations returns one Configuration per opcode family this
// core implements.
func opcodeConfigurations(m *wasm.CompiledModule) []etable.Configuration {
	return []etable.Configuration{
		&opconf.Unreachable{},
		&opconf.Nop{},
		&opconf.Drop{},
		&opconf.Const{},
		&opconf.LocalGet{},
		&opconf.LocalSet{},
		&opconf.LocalTee{},
		&opconf.GlobalGet{},
		&opconf.GlobalSet{},
		&opconf.Call{},
		&opconf.CallIndirect{},
		&opconf.Return{},
		&opconf.Br{},
		&opconf.BrIf{},
		&opconf.BrIfEqz{},
		&opconf.BrTable{},
		&opconf.Load{},
		&opconf.Store{},
		&opconf.MemorySize{},
		opconf.NewMemoryGrow(m.MaximalMemoryPages),
		&opconf.Bin{},
		&opconf.BinShift{},
		&opconf.BinBit{},
		&opconf.Unary{},
		&opconf.Test{},
		&opconf.Rel{},
		&opconf.Conversion{},
		&opconf.Select{},
	}
}

// Result is the fully assigned circuit: the event-table witness plus the
// derived memory and jump tables, ready for the per-row/lookup self-check
// Verify performs (and, beyond this core's scope, the outer polynomial IOP
// that would actually prove it).
type Result struct {
	Assigned *etable.Assigned
	Memory   *mtable.Table
	Jump     *jtable.Table
}

// Assign materializes the witness for one traced execution: one row
// block per event, then builds the memory and jump tables from the
// memory/frame entries the event table emitted, checking every
// cross-table invariant those packages define.
func (c *Circuit) Assign(s trace.Slice) (*Result, error) {
	if c.driver == nil || c.common == nil {
		return nil, ErrNotConfigured
	}
	if len(s.Events) > 0 {
		first := s.Events[0]
		if first.Fid != c.Module.EntryFid || first.Iid != c.Module.EntryIid {
			return nil, fmt.Errorf("circuit: trace starts at (fid=%d,iid=%d), module entry is (fid=%d,iid=%d)",
				first.Fid, first.Iid, c.Module.EntryFid, c.Module.EntryIid)
		}
		if first.AllocatedPages != c.Module.InitialAllocatedPages {
			return nil, fmt.Errorf("circuit: trace starts with %d pages, module declares %d",
				first.AllocatedPages, c.Module.InitialAllocatedPages)
		}
	}

	assigned, err := c.driver.AssignSlice(s)
	if err != nil {
		return nil, fmt.Errorf("circuit: assign event table: %w", err)
	}

	memoryEntries := withInitEntries(assigned.MemoryEntries, c.Module)
	mt, err := mtable.Build(memoryEntries, c.InitMemory, s.TotalMemoryOps())
	if err != nil {
		return nil, fmt.Errorf("circuit: build memory table: %w", err)
	}

	jt, err := jtable.Build(assigned.CallFrames, assigned.ReturnFrames, s.TotalCallCount())
	if err != nil {
		return nil, fmt.Errorf("circuit: build jump table: %w", err)
	}

	telemetry.CircuitsAssigned.Inc()
	c.log.Debug("assigned circuit", "events", len(s.Events), "memory_rows", len(mt.Rows()), "jump_rows", len(jt.Rows()))

	return &Result{Assigned: assigned, Memory: mt, Jump: jt}, nil
}

// withInitEntries prepends one Init row for every initialized heap or
// global offset the trace actually touched, closing it against the first
// access's eid. Stack offsets never have Init rows; untouched initialized
// offsets stay out of the memory table entirely.
func withInitEntries(entries []trace.MemoryRWEntry, m *wasm.CompiledModule) []trace.MemoryRWEntry {
	type key struct {
		loc    wasm.LocationType
		offset uint64
	}
	firstAccess := map[key]uint64{}
	for _, e := range entries {
		if e.LocationType == wasm.LocationStack {
			continue
		}
		k := key{e.LocationType, e.Offset}
		if cur, ok := firstAccess[k]; !ok || e.Eid < cur {
			firstAccess[k] = e.Eid
		}
	}
	out := make([]trace.MemoryRWEntry, 0, len(entries)+len(firstAccess))
	for _, init := range m.InitMemory {
		eid, ok := firstAccess[key{init.LocationType, init.Offset}]
		if !ok {
			continue
		}
		out = append(out, trace.MemoryRWEntry{
			Eid:          0,
			StartEid:     0,
			EndEid:       eid,
			Offset:       init.Offset,
			LocationType: init.LocationType,
			IsI32:        init.IsI32,
			Value:        init.Value,
			AccessType:   trace.AccessInit,
		})
	}
	return append(out, entries...)
}

// AuditCellUsage runs the free-cell profiler over every cell
// type the allocator could have reserved.
func (c *Circuit) AuditCellUsage() error {
	types := []allocator.CellType{
		allocator.Bit, allocator.U8, allocator.U16, allocator.CommonRange,
		allocator.Unlimited, allocator.U64,
		allocator.JTableLookup, allocator.BitTableLookup,
	}
	if c.Params.Continuation {
		types = append(types, allocator.U32WithPermutation)
	}
	return c.driver.AuditCellUsage(types)
}

// Constraints exposes the accumulated gate/lookup system, mainly for tests
// that want to run the row-level self-check below.
func (c *Circuit) Constraints() *constraint.System { return c.driver.Constraints() }

// Verify runs a debug-mode self-check over an assigned witness: every
// gate evaluates to zero on every assigned row (where its selector is 1),
// and every lookup's source value is actually present in its target
// table. This stands in for the real polynomial IOP verifier (out of
// scope); it catches a malformed assignment before the system is handed
// to a proving backend.
func (c *Circuit) Verify(res *Result) error {
	w := res.Assigned.Witness

	for _, g := range c.Constraints().Gates() {
		for block := 0; block < w.Blocks(); block++ {
			sel := w.GetVar(block, g.Selector)
			if sel.IsZero() {
				continue
			}
			got := g.Expr.Evaluate(func(id constraint.VarID) field.Element {
				return w.GetVar(block, id)
			})
			if !got.IsZero() {
				return fmt.Errorf("circuit: gate %q nonzero at row block %d", g.Name, block)
			}
		}
	}
	return c.verifyLookups(res)
}

// verifyLookups checks every registered Lookup argument against its
// concrete target table for each row where the lookup's selector fires,
// through checkMembership: a width test for the u8/u16/common-range
// tables, a set lookup for the bit-op table, and a scan of row encodings
// for every other table (the tables' own address-keyed Contains methods
// are not used here).
func (c *Circuit) verifyLookups(res *Result) error {
	w := res.Assigned.Witness
	for _, l := range c.Constraints().Lookups() {
		for block := 0; block < w.Blocks(); block++ {
			sel := w.GetVar(block, l.Selector)
			if sel.IsZero() {
				continue
			}
			source := l.Source.Evaluate(func(id constraint.VarID) field.Element {
				return w.GetVar(block, id)
			})
			if err := c.checkMembership(res, l.Target, source); err != nil {
				return fmt.Errorf("circuit: lookup %q at row block %d: %w", l.Name, block, err)
			}
		}
	}
	return nil
}

// checkMembership tests whether v appears anywhere in target's row
// encodings. For every static table this is the full lookup argument; for
// the derived memory and jump tables it is a multiset membership check
// over the rows Assign produced (the interval/diff binds on those rows
// are gated in the event table itself).
func (c *Circuit) checkMembership(res *Result, target constraint.TableColumn, v field.Element) error {
	var haystack []field.Element
	switch target {
	// The pure range tables admit a direct width test instead of a scan;
	// enumerating 2^20 common-range rows per lookup would swamp the
	// self-check.
	case constraint.TableU8:
		return v.RequireBits(8)
	case constraint.TableU16:
		return v.RequireBits(16)
	case constraint.TableCommonRange:
		return v.RequireBits(20)
	case constraint.TableBitOp:
		if !v.FitsInBits(32) || !c.Range.ContainsBitOpRow(v.Uint64()) {
			return fmt.Errorf("value %s not present in %s table", v.String(), target)
		}
		return nil
	case constraint.TablePow:
		haystack = c.Range.Pow()
	case constraint.TableOffsetLenBits:
		haystack = c.Range.OffsetLenBits()
	case constraint.TableInstruction:
		for _, r := range c.Instructions.Rows() {
			haystack = append(haystack, field.FromUint64(r.Encode))
		}
	case constraint.TableBrTarget:
		for _, r := range c.BrTargets.Rows() {
			haystack = append(haystack, brtable.Encode(r))
		}
	case constraint.TableElement:
		for _, e := range c.Module.ElementTable {
			haystack = append(haystack, field.FromBigInt(e.Encode()))
		}
	case constraint.TableMemory:
		for _, r := range res.Memory.Rows() {
			haystack = append(haystack, r.Encode())
		}
	case constraint.TableJump:
		for _, r := range res.Jump.Rows() {
			haystack = append(haystack, jtable.Encode(r.FrameEntry))
		}
	default:
		// The init-memory table is consumed by the memory-table builder
		// directly rather than through a witnessed lookup cell.
		return nil
	}
	for _, h := range haystack {
		if field.Equal(h, v) {
			return nil
		}
	}
	return fmt.Errorf("value %s not present in %s table", v.String(), target)
}
