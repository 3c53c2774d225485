package etable

import (
	"testing"

	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

// fakeConfig is a minimal Configuration used only to exercise the driver:
// it declares one Unlimited cell holding the opcode's Arg0, and always
// advances to the next iid with no stack or memory effect.
type fakeConfig struct {
	class wasm.Class
	value allocator.Cell
}

func (f *fakeConfig) Class() wasm.Class { return f.class }

func (f *fakeConfig) Configure(alloc *allocator.Allocator, cs *constraint.System, common *CommonCells, sel allocator.Cell) error {
	cell, err := alloc.Alloc(allocator.Unlimited)
	if err != nil {
		return err
	}
	f.value = cell
	return cs.AddGate(f.class.String()+".value_is_bound", sel.VarID(), constraint.Const(field.Zero()))
}

func (f *fakeConfig) Assign(w *Witness, block int, common *CommonCells, ev trace.Event) (NextState, []trace.MemoryRWEntry, *trace.FrameEntry, error) {
	if err := w.Set(block, f.value, field.FromUint64(ev.Opcode.Arg0)); err != nil {
		return NextState{}, nil, nil, err
	}
	return NextState{NextFid: ev.Fid, NextIid: ev.Iid + 1}, nil, nil, nil
}

func TestDriverConfigureAndAssignSimpleTrace(t *testing.T) {
	d := NewDriver(4)
	constCfg := &fakeConfig{class: wasm.ClassConst}
	dropCfg := &fakeConfig{class: wasm.ClassDrop}

	common, err := d.Configure([]Configuration{constCfg, dropCfg})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if len(common.Selectors) != 2 {
		t.Fatalf("want 2 selectors, got %d", len(common.Selectors))
	}

	slice := trace.Slice{Events: []trace.Event{
		{Eid: 1, Fid: 0, Iid: 0, Opcode: wasm.Opcode{Class: wasm.ClassConst, Arg0: 7}},
		{Eid: 2, Fid: 0, Iid: 1, Opcode: wasm.Opcode{Class: wasm.ClassDrop}},
	}}

	assigned, err := d.AssignSlice(slice)
	if err != nil {
		t.Fatalf("AssignSlice: %v", err)
	}
	if assigned.Witness.Blocks() != 2 {
		t.Fatalf("want 2 row blocks, got %d", assigned.Witness.Blocks())
	}
	got := assigned.Witness.Get(0, constCfg.value)
	if !field.Equal(got, field.FromUint64(7)) {
		t.Fatalf("const value cell = %v, want 7", got)
	}
}

func TestDriverRejectsUnreachableOpcode(t *testing.T) {
	d := NewDriver(4)
	if _, err := d.Configure([]Configuration{&fakeConfig{class: wasm.ClassConst}}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	slice := trace.Slice{Events: []trace.Event{
		{Eid: 1, Opcode: wasm.Opcode{Class: wasm.ClassDrop}},
	}}
	if _, err := d.AssignSlice(slice); err == nil {
		t.Fatal("expected ErrUnreachableOpcode")
	}
}

func TestDriverRejectsNonMonotonicEid(t *testing.T) {
	d := NewDriver(4)
	cfg := &fakeConfig{class: wasm.ClassConst}
	if _, err := d.Configure([]Configuration{cfg}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	slice := trace.Slice{Events: []trace.Event{
		{Eid: 1, Opcode: wasm.Opcode{Class: wasm.ClassConst}},
		{Eid: 3, Opcode: wasm.Opcode{Class: wasm.ClassConst}},
	}}
	if _, err := d.AssignSlice(slice); err == nil {
		t.Fatal("expected ErrTraceOutOfOrder")
	}
}
