package itable

import (
	"testing"

	"github.com/eth2030/zkwasm/wasm"
)

func TestBuildAndLookup(t *testing.T) {
	m := &wasm.CompiledModule{
		Functions: []wasm.Function{
			{Fid: 0, Instructions: []wasm.Instruction{
				{Iid: 0, Opcode: wasm.Opcode{Class: wasm.ClassConst, Arg0: 1}},
				{Iid: 1, Opcode: wasm.Opcode{Class: wasm.ClassReturn}},
			}},
		},
	}
	tbl := Build(m)

	enc, ok := tbl.Lookup(0, 0)
	if !ok {
		t.Fatal("expected (0,0) to be found")
	}
	want := wasm.Opcode{Class: wasm.ClassConst, Arg0: 1}.Encode()
	if enc != want {
		t.Fatalf("Lookup(0,0) = %d, want %d", enc, want)
	}

	if err := tbl.Contains(0, 0, want); err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if err := tbl.Contains(0, 0, want+1); err == nil {
		t.Fatal("expected mismatch error")
	}
	if err := tbl.Contains(0, 99, want); err == nil {
		t.Fatal("expected missing-row error")
	}
}

func TestRowsOrderedByDeclaration(t *testing.T) {
	m := &wasm.CompiledModule{
		Functions: []wasm.Function{
			{Fid: 0, Instructions: []wasm.Instruction{{Iid: 0}, {Iid: 1}}},
		},
	}
	rows := Build(m).Rows()
	if len(rows) != 2 || rows[0].Iid != 0 || rows[1].Iid != 1 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}
