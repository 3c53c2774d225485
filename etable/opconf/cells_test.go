package opconf

import (
	"math/big"
	"testing"

	"github.com/eth2030/zkwasm/allocator"
	"github.com/eth2030/zkwasm/constraint"
	"github.com/eth2030/zkwasm/etable"
	"github.com/eth2030/zkwasm/field"
	"github.com/eth2030/zkwasm/mtable"
	"github.com/eth2030/zkwasm/trace"
	"github.com/eth2030/zkwasm/wasm"
)

// gadgetHarness is the minimal scaffolding the cell gadgets need outside
// a full driver: an allocator, a constraint system, one always-on
// selector, and the common eid cell the lookup interval contract reads.
type gadgetHarness struct {
	alloc  *allocator.Allocator
	cs     *constraint.System
	sel    allocator.Cell
	common *etable.CommonCells
	w      *etable.Witness
}

func newGadgetHarness(t *testing.T) *gadgetHarness {
	t.Helper()
	h := &gadgetHarness{
		alloc:  allocator.New(32),
		cs:     constraint.NewSystem(),
		common: &etable.CommonCells{},
		w:      etable.NewWitness(),
	}
	var err error
	if h.sel, err = h.alloc.Alloc(allocator.Bit); err != nil {
		t.Fatalf("alloc selector: %v", err)
	}
	if h.common.Eid, err = h.alloc.Alloc(allocator.CommonRange); err != nil {
		t.Fatalf("alloc eid: %v", err)
	}
	if h.common.ITableLookup, err = h.alloc.Alloc(allocator.Unlimited); err != nil {
		t.Fatalf("alloc itable cell: %v", err)
	}
	if err := h.w.Set(0, h.sel, field.One()); err != nil {
		t.Fatalf("set selector: %v", err)
	}
	return h
}

// checkGates evaluates every registered gate against block 0 and fails on
// the first nonzero one whose selector is set.
func (h *gadgetHarness) checkGates(t *testing.T) {
	t.Helper()
	for _, g := range h.cs.Gates() {
		if h.w.GetVar(0, g.Selector).IsZero() {
			continue
		}
		got := g.Expr.Evaluate(func(id constraint.VarID) field.Element {
			return h.w.GetVar(0, id)
		})
		if !got.IsZero() {
			t.Fatalf("gate %q evaluates to %s, want 0", g.Name, got.String())
		}
	}
}

func TestU64CheckedDecomposition(t *testing.T) {
	h := newGadgetHarness(t)
	u, err := allocU64Checked(h.alloc, h.cs, "t.value", h.sel)
	if err != nil {
		t.Fatalf("allocU64Checked: %v", err)
	}
	const v = uint64(0xDEADBEEF_12345678)
	if err := assignU64(h.w, 0, u, v); err != nil {
		t.Fatalf("assignU64: %v", err)
	}
	h.checkGates(t)
	for i, want := range []uint64{0x5678, 0x1234, 0xBEEF, 0xDEAD} {
		if got := h.w.Get(0, u.Limbs[i]); !field.Equal(got, field.FromUint64(want)) {
			t.Fatalf("limb %d = %s, want %#x", i, got.String(), want)
		}
	}
}

func TestMLookupEncodeBindingMatchesTableRow(t *testing.T) {
	h := newGadgetHarness(t)
	m, err := declareMLookup(h.alloc, h.cs, h.common, h.sel, "t.read", false, wasm.LocationStack)
	if err != nil {
		t.Fatalf("declareMLookup: %v", err)
	}
	entry := trace.MemoryRWEntry{
		Eid: 7, StartEid: 3, EndEid: trace.EndEidSentinel,
		Offset: 12, LocationType: trace.LocationStack, IsI32: true, Value: 0xFFFF_FFFF_FFFF_FFFF,
		AccessType: trace.AccessRead,
	}
	if err := h.w.Set(0, h.common.Eid, field.FromUint64(entry.Eid)); err != nil {
		t.Fatalf("set eid: %v", err)
	}
	if err := assignMLookup(h.w, 0, m, entry); err != nil {
		t.Fatalf("assignMLookup: %v", err)
	}
	h.checkGates(t)

	want := mtable.EncodeRow(entry.LocationType, entry.Offset, entry.IsI32, entry.Value)
	if got := h.w.Get(0, m.cells.Encode); !field.Equal(got, want) {
		t.Fatalf("encode cell %s disagrees with mtable row encode %s", got.String(), want.String())
	}
}

func TestMLookupRejectsWrongRegion(t *testing.T) {
	h := newGadgetHarness(t)
	m, err := declareMLookup(h.alloc, h.cs, h.common, h.sel, "t.heap", false, wasm.LocationHeap)
	if err != nil {
		t.Fatalf("declareMLookup: %v", err)
	}
	entry := trace.MemoryRWEntry{
		Eid: 2, StartEid: 1, EndEid: 2,
		Offset: 0, LocationType: trace.LocationStack, Value: 1, AccessType: trace.AccessRead,
	}
	if err := assignMLookup(h.w, 0, m, entry); err == nil {
		t.Fatal("a stack entry must not assign into a heap-declared lookup")
	}
}

func TestHeapCursorFramesCrossingAccess(t *testing.T) {
	h := newGadgetHarness(t)
	hc, err := declareHeapCursor(h.alloc, h.cs, "t.cursor", h.sel)
	if err != nil {
		t.Fatalf("declareHeapCursor: %v", err)
	}

	// A 4-byte access at inner offset 6 spans both blocks: bytes 6..9 of
	// the 16-byte window.
	window := windowOf(0x1122334455667788, 0x99AABBCCDDEEFF00)
	if err := h.w.Set(0, hc.blockIndex, field.FromUint64(5)); err != nil {
		t.Fatalf("set block index: %v", err)
	}
	if err := assignHeapCursor(h.w, 0, hc, window, 6, 4); err != nil {
		t.Fatalf("assignHeapCursor: %v", err)
	}
	h.checkGates(t)
	if got := h.w.Get(0, hc.isCross); !field.Equal(got, field.One()) {
		t.Fatal("a 4-byte access at offset 6 must set the cross flag")
	}

	// The framing identity window == tailing + picked*2^48 + leading*2^80
	// holds with picked being bytes 6..9: 22 11 | 00 FF, i.e. 0xFF00_1122
	// little-endian, out of block 0 = 88 77 66 55 44 33 22 11 and block 1 =
	// 00 FF EE DD CC BB AA 99 (bytes in address order).
	picked := field.FromUint64(0xFF001122)
	lhs := field.Add(
		h.w.Get(0, hc.tailing.Aggregate),
		field.Mul(picked, h.w.Get(0, hc.powOffset)),
	)
	leading := field.Add(
		h.w.Get(0, hc.leadLo.Aggregate),
		field.Mul(twoPow64(), h.w.Get(0, hc.leadHi.Aggregate)),
	)
	lhs = field.Add(lhs, field.Mul(leading, h.w.Get(0, hc.powEnd)))
	if !field.Equal(lhs, windowElement(window)) {
		t.Fatalf("framing identity does not reconstruct the window: %s", lhs.String())
	}
}

// windowOf assembles the 128-bit two-block window low | high<<64.
func windowOf(low, high uint64) *big.Int {
	w := new(big.Int).SetUint64(high)
	w.Lsh(w, 64)
	return w.Or(w, new(big.Int).SetUint64(low))
}

func windowElement(w *big.Int) field.Element {
	return field.FromBigInt(w)
}
