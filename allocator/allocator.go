// Package allocator implements the cell allocator: it packs per-event
// typed cells into a fixed K-row block per event and tracks, per cell
// type, the next free (column, row) slot. Column-and-rotation addressing
// is flattened into a single VarID space the constraint package's Expr
// can reference directly.
package allocator

import (
	"errors"
	"fmt"

	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/internal/telemetry"
	"github.com/eth2030/zkwasm/internal/zklog"
)

// ErrOutOfCells is returned when a typed column family is exhausted during
// configuration.
var ErrOutOfCells = errors.New("allocator: out of cells")

// CellType enumerates the typed cell kinds the allocator hands out.
type CellType uint8

const (
	Bit CellType = iota
	U8
	U16
	CommonRange
	Unlimited
	U32
	U32WithPermutation
	U64
	U64WithFlagBit
	U64WithDyn
	U64WithDynSign
	MTableLookup
	JTableLookup
	BitTableLookup

	cellTypeCount
)

func (t CellType) String() string {
	names := [cellTypeCount]string{
		Bit: "bit", U8: "u8", U16: "u16", CommonRange: "common_range",
		Unlimited: "unlimited", U32: "u32", U32WithPermutation: "u32_perm",
		U64: "u64", U64WithFlagBit: "u64_flag", U64WithDyn: "u64_dyn",
		U64WithDynSign: "u64_dyn_sign", MTableLookup: "mtable_lookup",
		JTableLookup: "jtable_lookup", BitTableLookup: "bittable_lookup",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return fmt.Sprintf("CellType(%d)", t)
}

// columnWidth is how many consecutive rows of its typed column a single
// cell of each type spans. Composite types (U32, U64, and the lookup-cell
// groups) reserve more than one slot per logical cell.
var columnWidth = [cellTypeCount]int{
	Bit: 1, U8: 1, U16: 1, CommonRange: 1, Unlimited: 1,
	U32:                2, // two U16 limbs
	U32WithPermutation: 3, // two U16 limbs + one unlimited equality cell
	U64:                5, // four U16 limbs + one unlimited aggregate
	U64WithFlagBit:     6, // U64 + one extracted high bit
	U64WithDyn:         6,
	U64WithDynSign:     6,
	MTableLookup:       6, // encode + start_eid + end_eid + start_diff + end_diff (+ spare)
	JTableLookup:       1,
	BitTableLookup:     1,
}

// columnsPerType bounds how many parallel columns of a given type the
// allocator may hand out before reporting ErrOutOfCells. This mirrors
// the fixed column budget a halo2-style backend reserves ahead of time;
// here it is just a generous static cap since this core does not itself
// lay out physical polynomial columns.
const columnsPerType = 64

// Cell is a handle into the row matrix: which column family, which of the
// columnsPerType parallel columns, and the row offset within an event's
// K-row block. Cells are cheap value types.
type Cell struct {
	Type   CellType
	Column int
	Row    int
}

// VarID derives the flat constraint.VarID this cell corresponds to. The
// encoding packs type, column, and row into disjoint bit ranges so two
// cells of different (type, column, row) never collide.
func (c Cell) VarID() constraint.VarID {
	return constraint.VarID(uint32(c.Type)<<24 | uint32(c.Column)<<12 | uint32(c.Row))
}

// at returns the sub-cell i rows below c, for composite cells whose span
// covers several consecutive rows of one typed column.
func (c Cell) at(i int) Cell {
	return Cell{Type: c.Type, Column: c.Column, Row: c.Row + i}
}

// U32Cell groups the two little-endian u16 limbs a U32 composite cell
// reserves. The limbs live in the U32 column family; their u16 range is
// enforced by the lookups the declaring configuration registers.
type U32Cell struct {
	Lo, Hi Cell
}

// U32PermCell is a U32 plus an equality-enabled accompanying cell, so the
// value can be permuted across slice boundaries under the continuation
// build flag.
type U32PermCell struct {
	U32Cell
	Perm Cell
}

// U64Cell groups the four little-endian u16 limbs plus the aggregate cell
// of a U64 composite. The aggregate carries the full value; the declaring
// configuration registers the decomposition gate and the per-limb u16
// lookups that make the aggregate trustworthy.
type U64Cell struct {
	Limbs     [4]Cell
	Aggregate Cell
}

// U64FlagCell is a U64 plus an accompanying extracted bit: the value's top
// bit for the flag-bit variant, or the sign bit at a dynamically chosen
// 32-vs-64-bit position for the dyn variants.
type U64FlagCell struct {
	U64Cell
	Flag Cell
}

// MTableLookupCell groups the cells of one M-table lookup: the packed
// encoding plus the (start_eid, end_eid) and
// their diff cells establishing `eid = start_eid + start_eid_diff + 1` and
// `end_eid = eid + end_eid_diff`.
type MTableLookupCell struct {
	Encode        Cell
	StartEid      Cell
	EndEid        Cell
	StartEidDiff  Cell // omitted (unused) on write cells
	EndEidDiff    Cell
	IsWrite       bool
}

// Allocator packs cells into a K-row block per event; K is a module-wide
// constant supplied at construction.
type Allocator struct {
	k int

	next map[CellType]*cursor
	max  map[CellType][2]int // high-water (column, row) per type, for the free-cell profiler

	bits   []Cell              // every Bit cell handed out, for the driver's bitness gates
	ranged map[CellType][]Cell // every U8/U16/CommonRange single, for the driver's range lookups

	log *zklog.Logger
}

type cursor struct {
	column int
	row    int
}

// New returns an Allocator that packs K rows per event.
func New(k int) *Allocator {
	a := &Allocator{
		k:      k,
		next:   make(map[CellType]*cursor, cellTypeCount),
		max:    make(map[CellType][2]int, cellTypeCount),
		ranged: make(map[CellType][]Cell, 3),
		log:    zklog.Default().Module("allocator"),
	}
	for t := CellType(0); t < cellTypeCount; t++ {
		a.next[t] = &cursor{}
	}
	return a
}

// Alloc reserves one cell of the given type, advancing that type's free
// pointer by its column width and wrapping to the next column every K
// rows.
func (a *Allocator) Alloc(t CellType) (Cell, error) {
	c := a.next[t]
	width := columnWidth[t]

	if c.row+width > a.k {
		c.row = 0
		c.column++
	}
	if c.column >= columnsPerType {
		telemetry.OutOfCellsEvents.Inc()
		return Cell{}, fmt.Errorf("%w: type %s exhausted %d columns", ErrOutOfCells, t, columnsPerType)
	}

	cell := Cell{Type: t, Column: c.column, Row: c.row}
	c.row += width

	switch t {
	case Bit:
		a.bits = append(a.bits, cell)
	case U8, U16, CommonRange:
		a.ranged[t] = append(a.ranged[t], cell)
	}
	telemetry.CellsReservedTotal.Inc()
	telemetry.AllocatorColumnHighWaterMark(t.String(), c.column, c.row)
	if hw := a.max[t]; c.column > hw[0] || (c.column == hw[0] && c.row > hw[1]) {
		a.max[t] = [2]int{c.column, c.row}
	}

	return cell, nil
}

// AllocU32 reserves a U32 composite: two little-endian u16 limbs spanning
// one U32-family slot, plus an implicit decomposition equation the caller
// must register (value = lo + hi*2^16) via the constraint system.
func (a *Allocator) AllocU32() (U32Cell, error) {
	base, err := a.Alloc(U32)
	if err != nil {
		return U32Cell{}, err
	}
	return U32Cell{Lo: base, Hi: base.at(1)}, nil
}

// AllocU32WithPermutation reserves a U32 plus the equality-enabled cell the
// continuation build flag requires.
func (a *Allocator) AllocU32WithPermutation() (U32PermCell, error) {
	base, err := a.Alloc(U32WithPermutation)
	if err != nil {
		return U32PermCell{}, err
	}
	return U32PermCell{U32Cell: U32Cell{Lo: base, Hi: base.at(1)}, Perm: base.at(2)}, nil
}

// AllocU64 reserves a U64 composite: four little-endian u16 limbs plus the
// aggregate cell carrying the full value, with an implicit decomposition
// equation (value = sum(limb_i * 2^(16i))).
func (a *Allocator) AllocU64() (U64Cell, error) {
	return a.allocU64Span(U64)
}

// AllocU64WithFlag reserves a U64 plus the accompanying extracted-bit cell.
// t selects the flag variant: U64WithFlagBit (static top-u16 bit),
// U64WithDyn or U64WithDynSign (bit position depends on the 32-vs-64-bit
// dynamic mode).
func (a *Allocator) AllocU64WithFlag(t CellType) (U64FlagCell, error) {
	if t != U64WithFlagBit && t != U64WithDyn && t != U64WithDynSign {
		return U64FlagCell{}, fmt.Errorf("allocator: %s is not a flagged u64 variant", t)
	}
	u, err := a.allocU64Span(t)
	if err != nil {
		return U64FlagCell{}, err
	}
	return U64FlagCell{U64Cell: u, Flag: u.Aggregate.at(1)}, nil
}

func (a *Allocator) allocU64Span(t CellType) (U64Cell, error) {
	base, err := a.Alloc(t)
	if err != nil {
		return U64Cell{}, err
	}
	var u U64Cell
	for i := range u.Limbs {
		u.Limbs[i] = base.at(i)
	}
	u.Aggregate = base.at(4)
	return u, nil
}

// AllocMTableLookup reserves an M-table-lookup cell group.
// A write cell omits the start-eid-diff allocation, since the writing
// event is itself the start of the interval.
func (a *Allocator) AllocMTableLookup(isWrite bool) (MTableLookupCell, error) {
	var m MTableLookupCell
	m.IsWrite = isWrite
	var err error
	if m.Encode, err = a.Alloc(Unlimited); err != nil {
		return MTableLookupCell{}, err
	}
	if m.StartEid, err = a.Alloc(CommonRange); err != nil {
		return MTableLookupCell{}, err
	}
	// EndEid carries the still-live sentinel for entries open at slice
	// end, so it cannot live in a range-checked family.
	if m.EndEid, err = a.Alloc(Unlimited); err != nil {
		return MTableLookupCell{}, err
	}
	if !isWrite {
		if m.StartEidDiff, err = a.Alloc(CommonRange); err != nil {
			return MTableLookupCell{}, err
		}
	}
	if m.EndEidDiff, err = a.Alloc(CommonRange); err != nil {
		return MTableLookupCell{}, err
	}
	return m, nil
}

// VerifyFullyUsed is the free-cell profiler: after all opcode
// configurations have been installed, it asserts every reserved
// column was put to use for the given type (i.e. at least one cell of that
// type was allocated). It does not (and cannot, without the final column
// layout) verify there is no slack within a column; it only guards against
// an entirely dead column family.
func (a *Allocator) VerifyFullyUsed(t CellType) error {
	hw := a.max[t]
	if hw[0] == 0 && hw[1] == 0 {
		return fmt.Errorf("allocator: cell type %s was never allocated", t)
	}
	a.log.Debug("column family used", "type", t.String(), "maxColumn", hw[0], "maxRow", hw[1])
	return nil
}

// Bits returns every Bit cell handed out so far. The event-table driver
// registers one x*(x-1) == 0 gate per entry under the row enable, since a
// Bit cell's contract holds on every enabled row regardless of which
// configuration declared it (unassigned cells evaluate to zero).
func (a *Allocator) Bits() []Cell { return a.bits }

// Ranged returns every single-column cell of the given range-checked type
// (U8, U16, CommonRange) handed out so far; the driver registers one
// range-table lookup per entry under the row enable.
func (a *Allocator) Ranged(t CellType) []Cell { return a.ranged[t] }

// K returns the row-block size this allocator was constructed with.
func (a *Allocator) K() int { return a.k }
