// Package brtable builds the static br_table target table that sits
// alongside the instruction and jump tables: a brtable_lookup_cell
// shared by every opcode (only populated by the br_table configuration)
// asserts that its encoded (fid, iid, effective_index, drop, keep,
// dst_iid) tuple is a real target of some br_table instruction.
package brtable

import (
	"fmt"
	"math/big"

	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/wasm"
)

// Row is one (instruction, target-slot) pair: the effective_index-th
// target of the br_table at (fid, iid) branches to DstIid, carrying that
// instruction's shared drop/keep.
type Row struct {
	Fid            uint32
	Iid            uint32
	EffectiveIndex uint32
	Drop           uint64
	Keep           bool
	DstIid         uint32
}

// Table is the immutable, queryable br_table target table.
type Table struct {
	rows  []Row
	index map[[3]uint32]Row // (fid, iid, effective_index) -> row
}

// Build materializes one row per target slot of every ClassBrTable
// instruction in the module.
func Build(m *wasm.CompiledModule) *Table {
	t := &Table{index: make(map[[3]uint32]Row)}
	for _, fn := range m.Functions {
		for _, ins := range fn.Instructions {
			if ins.Opcode.Class != wasm.ClassBrTable {
				continue
			}
			drop := ins.Opcode.Arg0
			keep := ins.Opcode.Arg1 != 0
			for idx, dst := range ins.Targets {
				row := Row{Fid: fn.Fid, Iid: ins.Iid, EffectiveIndex: uint32(idx), Drop: drop, Keep: keep, DstIid: dst}
				t.rows = append(t.rows, row)
				t.index[[3]uint32{fn.Fid, ins.Iid, uint32(idx)}] = row
			}
		}
	}
	return t
}

// Rows returns every row, in build order.
func (t *Table) Rows() []Row { return t.rows }

// Lookup returns the target row for (fid, iid, effective_index).
func (t *Table) Lookup(fid, iid, effectiveIndex uint32) (Row, bool) {
	r, ok := t.index[[3]uint32{fid, iid, effectiveIndex}]
	return r, ok
}

// Encode packs a row's fields into one field element, mixed-radix with
// 32 bits per field (mirroring wasm.ElementEntry.Encode):
// fid, iid, effective_index, drop, keep, dst_iid from high to low.
func Encode(r Row) field.Element {
	acc := new(big.Int).SetUint64(uint64(r.Fid))
	acc.Lsh(acc, 32)
	acc.Or(acc, new(big.Int).SetUint64(uint64(r.Iid)))
	acc.Lsh(acc, 32)
	acc.Or(acc, new(big.Int).SetUint64(uint64(r.EffectiveIndex)))
	acc.Lsh(acc, 32)
	acc.Or(acc, new(big.Int).SetUint64(r.Drop))
	acc.Lsh(acc, 32)
	keepBit := uint64(0)
	if r.Keep {
		keepBit = 1
	}
	acc.Or(acc, new(big.Int).SetUint64(keepBit))
	acc.Lsh(acc, 32)
	acc.Or(acc, new(big.Int).SetUint64(uint64(r.DstIid)))
	return field.FromBigInt(acc)
}

// Contains reports whether (fid, iid, effective_index) resolves to
// exactly the given (drop, keep, dst_iid) -- the check a br_table
// configuration's brtable_lookup_cell must satisfy.
func (t *Table) Contains(fid, iid, effectiveIndex uint32, drop uint64, keep bool, dstIid uint32) error {
	r, ok := t.Lookup(fid, iid, effectiveIndex)
	if !ok {
		return fmt.Errorf("brtable: no target at fid=%d iid=%d effective_index=%d", fid, iid, effectiveIndex)
	}
	if r.Drop != drop || r.Keep != keep || r.DstIid != dstIid {
		return fmt.Errorf("brtable: fid=%d iid=%d effective_index=%d row mismatch", fid, iid, effectiveIndex)
	}
	return nil
}
