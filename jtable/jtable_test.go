package jtable

import (
	"testing"

	"github.com/eth2030/zkwasm/trace"
)

func TestBuildMatchesCallWithReturn(t *testing.T) {
	frame := trace.FrameEntry{Eid: 1, LastJumpEid: 0, TargetFid: 2, TargetIid: 0, CallerFid: 1, CallerIid: 5}

	// The return consumes the exact frame the call opened.
	tbl, err := Build([]trace.FrameEntry{frame}, []trace.FrameEntry{frame}, 1)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tbl.Rows()) != 1 {
		t.Fatalf("want 1 row per frame, got %d", len(tbl.Rows()))
	}
	if tbl.Rows()[0].RestAfter != 0 {
		t.Fatal("rest_jops should close at 0 after retiring the call and its return")
	}
	if err := tbl.Contains(frame); err != nil {
		t.Fatalf("Contains(frame): %v", err)
	}
}

func TestBuildRejectsReturnWithoutCall(t *testing.T) {
	ret := trace.FrameEntry{Eid: 10, LastJumpEid: 99}
	if _, err := Build(nil, []trace.FrameEntry{ret}, 0); err == nil {
		t.Fatal("expected ErrUnmatchedFrame")
	}
}

func TestBuildRejectsUnreturnedCall(t *testing.T) {
	call := trace.FrameEntry{Eid: 1, TargetFid: 2}
	if _, err := Build([]trace.FrameEntry{call}, nil, 1); err == nil {
		t.Fatal("a slice whose call never returns must not close rest_jops")
	}
}

func TestBuildRejectsMismatchedReturnFrame(t *testing.T) {
	call := trace.FrameEntry{Eid: 1, TargetFid: 2, CallerFid: 1, CallerIid: 5}
	tampered := call
	tampered.CallerIid = 6
	if _, err := Build([]trace.FrameEntry{call}, []trace.FrameEntry{tampered}, 1); err == nil {
		t.Fatal("a return whose frame disagrees with the call must be rejected")
	}
}

func TestEncodeDistinguishesEntries(t *testing.T) {
	a := trace.FrameEntry{Eid: 1, TargetFid: 2}
	b := trace.FrameEntry{Eid: 1, TargetFid: 3}
	if Encode(a) == Encode(b) {
		t.Fatal("distinct frame entries must encode differently")
	}
}
