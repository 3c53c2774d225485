// Package mtable builds the memory table: the sorted log of every memory
// access a traced execution performs, lexicographically ordered by
// (location_type, offset, eid), carrying the per-entry and cross-entry
// invariants the event table's memory lookups rely on. The encoding is
// the "compact" layout: start_eid/end_eid stay separate cells, only
// (offset, location_type, is_i32, value) are packed into one field
// element.
package mtable

import (
	"errors"
	"fmt"
	"sort"

	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/imtable"
	"github.com/eth2030/zkwasm/internal/telemetry"
	"github.com/eth2030/zkwasm/internal/zklog"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

var (
	// ErrImmutableWrite is returned when a Write access targets a global
	// marked immutable in the initial-memory table.
	ErrImmutableWrite = errors.New("mtable: write to immutable location")
	// ErrMissingInit is returned when the first access to a heap/global/
	// element-table offset is not an Init drawn from the initial-memory
	// table.
	ErrMissingInit = errors.New("mtable: first access to location is not a valid Init entry")
	// ErrChainBroken is returned when consecutive same-offset rows fail the
	// end-eid chaining invariant.
	ErrChainBroken = errors.New("mtable: end_eid chaining violated")
	// ErrStaleRead is returned when a same-offset Read does not carry
	// forward the previous row's value/width.
	ErrStaleRead = errors.New("mtable: read does not match preceding write's value/type")
)

// Row is one memory-table entry.
type Row struct {
	trace.MemoryRWEntry
	AccessType    trace.AccessType
	SameLType     bool // this row shares location_type with the previous row
	SameOffset    bool // this row shares (location_type, offset) with the previous row
	RestMopsAfter uint64
}

// Table is the sorted, validated memory table.
type Table struct {
	rows []Row
}

// Rows returns every row, in (location_type, offset, eid) order.
func (t *Table) Rows() []Row { return t.rows }

// Build sorts the flattened list of per-event memory accesses into the
// memory table and checks every row and cross-row invariant. totalNonInit
// is the event table's starting `rest_mops` (trace.Slice.TotalMemoryOps()),
// used to validate the closing-boundary equality.
func Build(entries []trace.MemoryRWEntry, init *imtable.Table, totalNonInit int) (*Table, error) {
	log := zklog.Default().Module("mtable")

	sorted := make([]trace.MemoryRWEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.LocationType != b.LocationType {
			return a.LocationType < b.LocationType
		}
		if a.Offset != b.Offset {
			return a.Offset < b.Offset
		}
		return a.Eid < b.Eid
	})

	t := &Table{rows: make([]Row, 0, len(sorted))}
	var prev *trace.MemoryRWEntry
	restMops := uint64(totalNonInit)

	for i := range sorted {
		e := sorted[i]
		row := Row{MemoryRWEntry: e, AccessType: e.AccessType}

		sameOffset := prev != nil && prev.LocationType == e.LocationType && prev.Offset == e.Offset
		row.SameLType = prev != nil && prev.LocationType == e.LocationType
		row.SameOffset = sameOffset

		if !sameOffset {
			switch e.LocationType {
			case wasm.LocationHeap, wasm.LocationGlobal:
				if e.AccessType != trace.AccessInit {
					return nil, fmt.Errorf("%w: (%v, %d) first access is %v, not Init", ErrMissingInit, e.LocationType, e.Offset, e.AccessType)
				}
				initEntry, ok := init.Lookup(e.LocationType, e.Offset)
				if !ok {
					return nil, fmt.Errorf("%w: (%v, %d) not present in initial memory table", ErrMissingInit, e.LocationType, e.Offset)
				}
				if initEntry.Value != e.Value || initEntry.IsI32 != e.IsI32 {
					return nil, fmt.Errorf("%w: (%v, %d) Init row disagrees with the initial memory table", ErrMissingInit, e.LocationType, e.Offset)
				}
			case wasm.LocationStack:
				if e.AccessType != trace.AccessWrite {
					return nil, fmt.Errorf("%w: stack offset %d first access must be a Write, got %v", ErrMissingInit, e.Offset, e.AccessType)
				}
			}
		} else {
			if e.AccessType == trace.AccessRead {
				if e.Value != prev.Value || e.IsI32 != prev.IsI32 {
					return nil, fmt.Errorf("%w: offset %d eid %d", ErrStaleRead, e.Offset, e.Eid)
				}
			}
			if prev.EndEid != e.Eid {
				return nil, fmt.Errorf("%w: offset %d prev end_eid=%d next eid=%d", ErrChainBroken, e.Offset, prev.EndEid, e.Eid)
			}
			if e.LocationType == wasm.LocationGlobal {
				if initEntry, ok := init.Lookup(e.LocationType, e.Offset); ok && !initEntry.IsMutable && e.AccessType == trace.AccessWrite {
					return nil, fmt.Errorf("%w: global offset %d", ErrImmutableWrite, e.Offset)
				}
			}
		}

		if e.AccessType != trace.AccessInit {
			restMops--
		}
		row.RestMopsAfter = restMops
		t.rows = append(t.rows, row)
		telemetry.MTableRows.Inc()

		prevCopy := e
		prev = &prevCopy
	}

	if restMops != 0 {
		return nil, fmt.Errorf("mtable: rest_mops closing boundary mismatch, left %d unaccounted", restMops)
	}
	log.Debug("built memory table", "rows", len(t.rows))
	return t, nil
}

// EncodeRow packs the (offset, location_type, is_i32, value) blob of one
// memory-table row the way an M-table-lookup cell's Encode sub-cell must
// match.
func EncodeRow(loc wasm.LocationType, offset uint64, isI32 bool, value uint64) field.Element {
	is32 := uint64(0)
	if isI32 {
		is32 = 1
	}
	packed := (offset & 0xffff) | (uint64(loc)&0x3)<<16 | is32<<18
	// The value occupies bits 19..82 of the field element; shifting a full
	// 64-bit value must happen in the field, not in a uint64.
	shifted := field.Mul(field.FromUint64(1<<19), field.FromUint64(value))
	return field.Add(field.FromUint64(packed), shifted)
}

// Encode returns the encoded blob for a Row, for cross-checking against an
// etable M-lookup cell's Encode sub-cell.
func (r Row) Encode() field.Element {
	return EncodeRow(r.LocationType, r.Offset, r.IsI32, r.Value)
}

// Contains reports whether (loc, offset, eid) identifies a row in the
// table whose blob matches encode and whose (start_eid, end_eid) match --
// the lookup argument an etable M-lookup cell must satisfy.
func (t *Table) Contains(eid uint64, loc wasm.LocationType, offset uint64, startEid, endEid uint64, encode field.Element) error {
	for _, r := range t.rows {
		if r.Eid == eid && r.LocationType == loc && r.Offset == offset {
			if r.StartEid != startEid || r.EndEid != endEid {
				return fmt.Errorf("mtable: row (eid=%d loc=%v off=%d) has interval [%d,%d], lookup cell carries [%d,%d]",
					eid, loc, offset, r.StartEid, r.EndEid, startEid, endEid)
			}
			if !field.Equal(r.Encode(), encode) {
				return fmt.Errorf("mtable: row (eid=%d loc=%v off=%d) encode mismatch", eid, loc, offset)
			}
			return nil
		}
	}
	return fmt.Errorf("mtable: no row for (eid=%d loc=%v off=%d)", eid, loc, offset)
}
