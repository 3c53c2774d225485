package telemetry

import (
	"sort"
	"strconv"
	"sync"
)

// BuildStats is the full instrumentation of one prover process. The
// configure-phase fields count what the constraint system accumulates;
// the assign-phase fields count what one or more witnessed traces
// produced. Column high-water marks are the only open-ended part, keyed
// by "<cellFamily>.<column>" as the allocator hands columns out.
type BuildStats struct {
	// Configure phase.
	CellsReserved Counter
	OutOfCells    Counter
	Gates         Counter
	Lookups       Counter

	// Assign phase.
	EventRows     Counter
	MemoryRows    Counter
	JumpRows      Counter
	Circuits      Counter
	AssignLatency LatencyHistogram

	columnMu        sync.Mutex
	columnHighWater map[string]*HighWater
}

// ColumnHighWater returns the high-water mark for one typed column,
// creating it on first use.
func (s *BuildStats) ColumnHighWater(cellFamily string, column int) *HighWater {
	key := cellFamily + "." + strconv.Itoa(column)
	s.columnMu.Lock()
	defer s.columnMu.Unlock()
	if s.columnHighWater == nil {
		s.columnHighWater = make(map[string]*HighWater)
	}
	hw, ok := s.columnHighWater[key]
	if !ok {
		hw = &HighWater{}
		s.columnHighWater[key] = hw
	}
	return hw
}

// ColumnKeys returns every column that recorded a high-water mark, in
// sorted order, for report output and for the free-cell audit.
func (s *BuildStats) ColumnKeys() []string {
	s.columnMu.Lock()
	defer s.columnMu.Unlock()
	keys := make([]string, 0, len(s.columnHighWater))
	for k := range s.columnHighWater {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Report returns a point-in-time snapshot of every metric, keyed by its
// fixed name; column high-water marks appear under "allocator.column.*".
func (s *BuildStats) Report() map[string]int64 {
	out := map[string]int64{
		"configure.cells_reserved": int64(s.CellsReserved.Value()),
		"configure.out_of_cells":   int64(s.OutOfCells.Value()),
		"configure.gates":          int64(s.Gates.Value()),
		"configure.lookups":        int64(s.Lookups.Value()),
		"assign.event_rows":        int64(s.EventRows.Value()),
		"assign.memory_rows":       int64(s.MemoryRows.Value()),
		"assign.jump_rows":         int64(s.JumpRows.Value()),
		"assign.circuits":          int64(s.Circuits.Value()),
		"assign.latency_count":     int64(s.AssignLatency.Count()),
	}
	for _, k := range s.ColumnKeys() {
		s.columnMu.Lock()
		hw := s.columnHighWater[k]
		s.columnMu.Unlock()
		out["allocator.column."+k] = hw.Value()
	}
	return out
}

// Build is the process-wide instrumentation instance. The package-level
// aliases below are the names the instrumented call sites use.
var Build BuildStats

var (
	// CellsReservedTotal counts every cell handed out by the allocator.
	CellsReservedTotal = &Build.CellsReserved
	// OutOfCellsEvents counts column-family exhaustion failures.
	OutOfCellsEvents = &Build.OutOfCells
	// ConstraintsRegistered counts named polynomial identities.
	ConstraintsRegistered = &Build.Gates
	// LookupArgumentsRegistered counts lookup arguments.
	LookupArgumentsRegistered = &Build.Lookups
	// EventRowsAssigned counts enabled event rows witnessed.
	EventRowsAssigned = &Build.EventRows
	// MTableRows counts rows appended to the memory table.
	MTableRows = &Build.MemoryRows
	// JTableRows counts rows appended to the jump table.
	JTableRows = &Build.JumpRows
	// CircuitsAssigned counts completed circuit assignments.
	CircuitsAssigned = &Build.Circuits
	// EventAssignDuration records per-event witness-assignment latency.
	EventAssignDuration = &Build.AssignLatency
)

// AllocatorColumnHighWaterMark records the highest row index reached in a
// typed column family. It is the observable form of the free-cell
// profiler: after all opcode configurations are installed, a caller can
// read back Build.Report()'s "allocator.column." entries to see how much
// of each reserved column was used.
func AllocatorColumnHighWaterMark(cellFamily string, column int, row int) {
	Build.ColumnHighWater(cellFamily, column).Record(int64(row))
}
