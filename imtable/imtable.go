// Package imtable builds the initial memory table: an immutable encoding
// of initial linear memory, globals, and the element table, forming the
// lookup table the M-table's first-for-offset Init row draws its value
// from.
package imtable

import (
	"math/big"

	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/wasm"
)

// Entry is one row "Initial memory entry".
type Entry = wasm.InitMemoryEntry

// key packs (location_type, offset) into a lookup key, location type in
// the high bits, offset in the low.
func key(loc wasm.LocationType, offset uint64) uint64 {
	return uint64(loc)<<56 | offset
}

// Table is the immutable, queryable initial-memory table.
type Table struct {
	entries []Entry
	index   map[uint64]Entry
}

// Build materializes the initial memory table from a compiled module's
// declared initial memory, exactly once.
func Build(m *wasm.CompiledModule) *Table {
	t := &Table{index: make(map[uint64]Entry, len(m.InitMemory))}
	t.entries = append(t.entries, m.InitMemory...)
	for _, e := range m.InitMemory {
		t.index[key(e.LocationType, e.Offset)] = e
	}
	return t
}

// Entries returns every row, in declaration order.
func (t *Table) Entries() []Entry { return t.entries }

// Lookup returns the initial value and mutability flag for (location_type,
// offset), the row an M-table Init entry must match.
func (t *Table) Lookup(loc wasm.LocationType, offset uint64) (Entry, bool) {
	e, ok := t.index[key(loc, offset)]
	return e, ok
}

// Encode packs an entry the way the lookup argument's source expression
// must: location_type, is_mutable, offset, and the full 64-bit value
// concatenated into one field element, so unlike the derived tables'
// uint64 keys the value is never truncated.
func Encode(e Entry) field.Element {
	mutBit := uint64(0)
	if e.IsMutable {
		mutBit = 1
	}
	acc := new(big.Int).SetUint64(uint64(e.LocationType))
	acc.Lsh(acc, 1)
	acc.Or(acc, big.NewInt(int64(mutBit)))
	acc.Lsh(acc, 64)
	acc.Or(acc, new(big.Int).SetUint64(e.Offset))
	acc.Lsh(acc, 64)
	acc.Or(acc, new(big.Int).SetUint64(e.Value))
	return field.FromBigInt(acc)
}
