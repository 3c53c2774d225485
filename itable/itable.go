// Package itable builds the instruction table: an immutable encoding of
// every static instruction of every function, constructed once from a
// wasm.CompiledModule and consulted by every opcode configuration's
// itable_lookup_cell.
package itable

import (
	"fmt"

	"github.com/eth2030/zkwasm/wasm"
)

// Row is one instruction-table entry: (fid, iid, encoded opcode).
type Row struct {
	Fid    uint32
	Iid    uint32
	Encode uint64
}

// Table is the immutable, queryable instruction table.
type Table struct {
	rows  []Row
	index map[[2]uint32]uint64 // (fid, iid) -> encode
}

// Build materializes the instruction table from a compiled module,
// exactly once; the table never changes afterwards.
func Build(m *wasm.CompiledModule) *Table {
	t := &Table{index: make(map[[2]uint32]uint64)}
	for _, fn := range m.Functions {
		for _, ins := range fn.Instructions {
			enc := ins.Opcode.Encode()
			t.rows = append(t.rows, Row{Fid: fn.Fid, Iid: ins.Iid, Encode: enc})
			t.index[[2]uint32{fn.Fid, ins.Iid}] = enc
		}
	}
	return t
}

// Rows returns every row, in module-declaration order.
func (t *Table) Rows() []Row { return t.rows }

// Lookup returns the encoded opcode at (fid, iid), the value every
// itable_lookup_cell must match.
func (t *Table) Lookup(fid, iid uint32) (uint64, bool) {
	v, ok := t.index[[2]uint32{fid, iid}]
	return v, ok
}

// Contains reports whether (fid, iid, encode) is a valid row -- the
// lookup-argument check an opcode configuration's itable_lookup_cell must
// satisfy.
func (t *Table) Contains(fid, iid uint32, encode uint64) error {
	v, ok := t.Lookup(fid, iid)
	if !ok {
		return fmt.Errorf("itable: no instruction at fid=%d iid=%d", fid, iid)
	}
	if v != encode {
		return fmt.Errorf("itable: fid=%d iid=%d encodes %d, lookup cell carries %d", fid, iid, v, encode)
	}
	return nil
}
