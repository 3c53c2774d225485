package brtable

import (
	"testing"

	"github.com/eth2030/zkwasm/wasm"
)

func TestBuildAndLookup(t *testing.T) {
	m := &wasm.CompiledModule{
		Functions: []wasm.Function{
			{
				Fid: 0,
				Instructions: []wasm.Instruction{
					{
						Iid:     4,
						Opcode:  wasm.Opcode{Class: wasm.ClassBrTable, Arg0: 1, Arg1: 1},
						Targets: []uint32{10, 20, 30},
					},
				},
			},
		},
	}

	tbl := Build(m)
	if len(tbl.Rows()) != 3 {
		t.Fatalf("want 3 target rows, got %d", len(tbl.Rows()))
	}

	r, ok := tbl.Lookup(0, 4, 1)
	if !ok {
		t.Fatal("expected a row at effective_index=1")
	}
	if r.DstIid != 20 || r.Drop != 1 || !r.Keep {
		t.Fatalf("unexpected row %+v", r)
	}

	if err := tbl.Contains(0, 4, 1, 1, true, 20); err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if err := tbl.Contains(0, 4, 1, 1, true, 999); err == nil {
		t.Fatal("Contains must reject a mismatched dst_iid")
	}
	if err := tbl.Contains(0, 4, 7, 1, true, 20); err == nil {
		t.Fatal("Contains must reject an out-of-range effective_index")
	}
}

func TestEncodeDistinguishesRows(t *testing.T) {
	a := Row{Fid: 0, Iid: 4, EffectiveIndex: 0, Drop: 1, Keep: true, DstIid: 10}
	b := Row{Fid: 0, Iid: 4, EffectiveIndex: 1, Drop: 1, Keep: true, DstIid: 20}
	if Encode(a) == Encode(b) {
		t.Fatal("distinct target rows must not collide under Encode")
	}
}

func TestBuildIgnoresNonBrTableInstructions(t *testing.T) {
	m := &wasm.CompiledModule{
		Functions: []wasm.Function{
			{Fid: 0, Instructions: []wasm.Instruction{
				{Iid: 0, Opcode: wasm.Opcode{Class: wasm.ClassConst}},
			}},
		},
	}
	tbl := Build(m)
	if len(tbl.Rows()) != 0 {
		t.Fatalf("want 0 rows for a module with no br_table, got %d", len(tbl.Rows()))
	}
}
