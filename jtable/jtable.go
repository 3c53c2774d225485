// Package jtable builds the jump table: the frame (call/return) log
// binding every call's E-table jump event to a consistent stack of
// frames, so a `call`, `call_indirect`, `return`, or keep-branch's
// J-table lookup always resolves to exactly one row.
package jtable

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/internal/telemetry"
	"github.com/eth2030/zkwasm/internal/zklog"
	"github.com/eth2030/zkwasm/trace"
)

// ErrUnmatchedFrame is returned when Build is handed an odd number of
// frame entries for some call (every call must be matched by exactly one
// return), or when a return's frame does not reference a call already
// opened.
var ErrUnmatchedFrame = errors.New("jtable: call/return frame stack mismatch")

// Row is one jump-table entry, a frame entry plus its running counter.
type Row struct {
	trace.FrameEntry
	RestAfter uint64
}

// Table is the validated, eid-ordered jump table.
type Table struct {
	rows []Row
}

// Rows returns every row, in eid order.
func (t *Table) Rows() []Row { return t.rows }

// Build assembles the jump table from every frame entry a `call`,
// `call_indirect`, `return`, or keep-branch emitted during witness
// assignment, validating that calls and returns form a consistent stack
// and that the closing `rest_jops` boundary equality holds: `rest`
// starts at 2*callCount and reaches 0.
func Build(callEntries, returnEntries []trace.FrameEntry, callCount int) (*Table, error) {
	log := zklog.Default().Module("jtable")

	if callCount != len(callEntries) {
		return nil, fmt.Errorf("%w: callCount %d disagrees with %d call entries", ErrUnmatchedFrame, callCount, len(callEntries))
	}

	calls := make([]trace.FrameEntry, len(callEntries))
	copy(calls, callEntries)
	sort.SliceStable(calls, func(i, j int) bool { return calls[i].Eid < calls[j].Eid })

	open := map[uint64]trace.FrameEntry{}
	for _, c := range calls {
		open[c.Eid] = c
	}
	consumed := map[uint64]bool{}
	for _, r := range returnEntries {
		call, ok := open[r.Eid]
		if !ok {
			return nil, fmt.Errorf("%w: return consumes unknown call eid %d", ErrUnmatchedFrame, r.Eid)
		}
		if call != r {
			return nil, fmt.Errorf("%w: return at call eid %d does not match the opened frame", ErrUnmatchedFrame, r.Eid)
		}
		if consumed[r.Eid] {
			return nil, fmt.Errorf("%w: call eid %d returned twice", ErrUnmatchedFrame, r.Eid)
		}
		consumed[r.Eid] = true
	}
	if len(returnEntries) != len(calls) {
		return nil, fmt.Errorf("%w: %d calls but %d returns in the slice", ErrUnmatchedFrame, len(calls), len(returnEntries))
	}

	// One row per frame; the counter retires two jops per row, one for the
	// call and one for its matching return.
	rest := uint64(2 * callCount)
	t := &Table{rows: make([]Row, 0, len(calls))}
	for _, e := range calls {
		rest -= 2
		t.rows = append(t.rows, Row{FrameEntry: e, RestAfter: rest})
		telemetry.JTableRows.Inc()
	}

	log.Debug("built jump table", "rows", len(t.rows))
	return t, nil
}

// Encode packs a frame entry as a fixed mixed-radix pack: six fields,
// eid at a 48-bit radix and the rest at 32, chosen so the top field's
// weight (2^176) keeps the whole pack inside the ~254-bit field.
func Encode(e trace.FrameEntry) field.Element {
	acc := new(big.Int).SetUint64(e.Eid)
	acc.Lsh(acc, 48)
	acc.Or(acc, new(big.Int).SetUint64(e.LastJumpEid))
	acc.Lsh(acc, 32)
	acc.Or(acc, big.NewInt(int64(e.TargetFid)))
	acc.Lsh(acc, 32)
	acc.Or(acc, big.NewInt(int64(e.TargetIid)))
	acc.Lsh(acc, 32)
	acc.Or(acc, big.NewInt(int64(e.CallerFid)))
	acc.Lsh(acc, 32)
	acc.Or(acc, big.NewInt(int64(e.CallerIid)))
	return field.FromBigInt(acc)
}

// Contains reports whether a row matching e's encoding is present -- the
// lookup argument a jtable_lookup_cell emitted by `call`, `call_indirect`,
// `return`, or a keep-branch must satisfy.
func (t *Table) Contains(e trace.FrameEntry) error {
	want := Encode(e)
	for _, r := range t.rows {
		if field.Equal(Encode(r.FrameEntry), want) {
			return nil
		}
	}
	return fmt.Errorf("jtable: no row matches frame entry at eid %d", e.Eid)
}
