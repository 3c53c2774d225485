package trace

import (
	"bytes"
	"strings"
	"testing"

	"github.com/eth2030/zkwasm/rlp"
	"github.com/eth2030/zkwasm/wasm"
)

// sampleEvent is a load-shaped event exercising every optional part of
// the wire layout: a memory entry list, a sentinel end_eid, and no frame.
func sampleEvent() Event {
	return Event{
		Eid: 7, Fid: 1, Iid: 3, Sp: 9, AllocatedPages: 2, LastJumpEid: 4,
		Opcode: wasm.Opcode{Class: wasm.ClassLoad, Arg0: 8, Arg1: 16, Arg2: 2},
		MemoryRWEntries: []MemoryRWEntry{
			{Eid: 7, StartEid: 2, EndEid: EndEidSentinel, Offset: 5, LocationType: LocationStack, IsI32: true, Value: 40, AccessType: AccessRead},
			{Eid: 7, StartEid: 0, EndEid: 9, Offset: 7, LocationType: LocationHeap, Value: 0xFFFF_FFFF_FFFF_FFFF, AccessType: AccessRead},
		},
	}
}

func TestEventRoundTrip(t *testing.T) {
	in := sampleEvent()
	enc, err := EncodeEvent(in)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	var out Event
	if err := rlp.DecodeBytes(enc, &out); err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if out.Eid != in.Eid || out.Sp != in.Sp || out.Opcode != in.Opcode {
		t.Fatalf("header fields did not survive: %+v", out)
	}
	if len(out.MemoryRWEntries) != 2 {
		t.Fatalf("want 2 memory entries, got %d", len(out.MemoryRWEntries))
	}
	if out.MemoryRWEntries[0].EndEid != EndEidSentinel {
		t.Fatal("sentinel end_eid must survive the wire")
	}
	if out.MemoryRWEntries[1].Value != 0xFFFF_FFFF_FFFF_FFFF {
		t.Fatal("full-width value must survive the wire")
	}
	if out.Frame != nil {
		t.Fatal("frame must decode back to nil")
	}
}

func TestEventRoundTripWithFrameAndTargets(t *testing.T) {
	in := Event{
		Eid: 2, Fid: 0, Iid: 1, Sp: 10,
		Opcode:         wasm.Opcode{Class: wasm.ClassBrTable, Arg0: 4},
		BrTableTargets: []uint32{3, 2, 1, 0},
		Frame: &FrameEntry{
			Eid: 2, LastJumpEid: 0, TargetFid: 1, TargetIid: 0, CallerFid: 0, CallerIid: 2,
		},
	}
	enc, err := EncodeEvent(in)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	var out Event
	if err := rlp.DecodeBytes(enc, &out); err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if out.Frame == nil || *out.Frame != *in.Frame {
		t.Fatalf("frame did not survive: %+v", out.Frame)
	}
	if len(out.BrTableTargets) != 4 || out.BrTableTargets[0] != 3 || out.BrTableTargets[3] != 0 {
		t.Fatalf("targets did not survive: %v", out.BrTableTargets)
	}
}

func TestSliceRoundTrip(t *testing.T) {
	in := Slice{Events: []Event{sampleEvent(), {
		Eid: 8, Fid: 1, Iid: 4, Sp: 9,
		Opcode: wasm.Opcode{Class: wasm.ClassDrop},
	}}}
	enc, err := EncodeSlice(in)
	if err != nil {
		t.Fatalf("EncodeSlice: %v", err)
	}
	var out Slice
	if err := rlp.DecodeBytes(enc, &out); err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if len(out.Events) != 2 || out.Events[1].Opcode.Class != wasm.ClassDrop {
		t.Fatalf("slice did not survive: %+v", out)
	}

	// Canonicality: re-encoding the decoded slice reproduces the bytes.
	reenc, err := EncodeSlice(out)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(enc, reenc) {
		t.Fatal("decode/encode must be byte-stable")
	}
}

func TestDecodeErrorNamesTheField(t *testing.T) {
	enc, err := EncodeEvent(sampleEvent())
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	// Truncate into the middle of the entry list; the error must place
	// the failure inside the event rather than surfacing a bare sentinel.
	var out Event
	err = rlp.DecodeBytes(enc[:len(enc)-4], &out)
	if err == nil {
		t.Fatal("truncated event must not decode")
	}
	if !strings.Contains(err.Error(), "trace: decode") {
		t.Fatalf("error %q does not name the failing field", err)
	}
}

func TestMemoryRWEntryRoundTripAndFieldCount(t *testing.T) {
	entry := sampleEvent().MemoryRWEntries[0]
	enc, err := EncodeMemoryRWEntry(entry)
	if err != nil {
		t.Fatalf("EncodeMemoryRWEntry: %v", err)
	}
	var out MemoryRWEntry
	if err := rlp.DecodeBytes(enc, &out); err != nil {
		t.Fatalf("clean entry must decode: %v", err)
	}
	if out != entry {
		t.Fatalf("entry did not survive: %+v", out)
	}

	// Re-wrap the payload with a ninth field; the fixed eight-field
	// layout must refuse it through the list-scope check.
	payload := append(append([]byte{}, enc[1:]...), 0x01)
	var bad MemoryRWEntry
	if err := rlp.DecodeBytes(rlp.WrapList(payload), &bad); err == nil {
		t.Fatal("an entry with an extra field must not decode")
	}
}

// FuzzDecodeEvent feeds arbitrary bytes to the event decoder; every input
// must either decode or fail with an error, never panic.
func FuzzDecodeEvent(f *testing.F) {
	seed, _ := EncodeEvent(sampleEvent())
	f.Add(seed)
	f.Add([]byte{0xc0})
	f.Fuzz(func(t *testing.T, data []byte) {
		var e Event
		_ = rlp.DecodeBytes(data, &e)
	})
}
