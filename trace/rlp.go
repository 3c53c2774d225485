package trace

import (
	"fmt"

	"github.com/eth2030/zkwasm/rlp"
	"github.com/eth2030/zkwasm/wasm"
)

// fieldErr names the field whose wire form failed to decode, so a
// corrupted trace reports "trace: decode event.sp: ..." instead of a bare
// codec sentinel the caller cannot place.
func fieldErr(what string, err error) error {
	return fmt.Errorf("trace: decode %s: %w", what, err)
}

// EncodeRLP hand-encodes an Event's field list rather than leaning on
// reflection: Opcode packs into its own 4-field list, MemoryRWEntries and
// BrTableTargets are variable-length lists, and Frame is nilable and so
// carries an explicit presence flag ahead of it (a bare nil pointer would
// otherwise collide with RLP's own empty-string encoding of zero).
func (e Event) EncodeRLP() ([]byte, error) {
	var payload []byte
	payload = rlp.AppendUint64(payload, e.Eid)
	payload = rlp.AppendUint64(payload, uint64(e.Fid))
	payload = rlp.AppendUint64(payload, uint64(e.Iid))
	payload = rlp.AppendUint64(payload, uint64(e.Sp))
	payload = rlp.AppendUint64(payload, uint64(e.AllocatedPages))
	payload = rlp.AppendUint64(payload, e.LastJumpEid)
	payload = append(payload, encodeOpcode(e.Opcode)...)

	var entries []byte
	for _, m := range e.MemoryRWEntries {
		enc, err := m.EncodeRLP()
		if err != nil {
			return nil, err
		}
		entries = append(entries, enc...)
	}
	payload = append(payload, rlp.WrapList(entries)...)

	if e.Frame == nil {
		payload = rlp.AppendUint64(payload, 0)
		payload = append(payload, rlp.WrapList(nil)...)
	} else {
		payload = rlp.AppendUint64(payload, 1)
		frame, err := e.Frame.EncodeRLP()
		if err != nil {
			return nil, err
		}
		payload = append(payload, frame...)
	}

	var targets []byte
	for _, t := range e.BrTableTargets {
		targets = rlp.AppendUint64(targets, uint64(t))
	}
	payload = append(payload, rlp.WrapList(targets)...)

	return rlp.WrapList(payload), nil
}

// DecodeRLP reverses EncodeRLP field-by-field, naming the failing field
// in every error path.
func (e *Event) DecodeRLP(s *rlp.Stream) error {
	if _, err := s.List(); err != nil {
		return fieldErr("event", err)
	}
	var err error
	if e.Eid, err = s.Uint64(); err != nil {
		return fieldErr("event.eid", err)
	}
	fid, err := s.Uint64()
	if err != nil {
		return fieldErr("event.fid", err)
	}
	e.Fid = uint32(fid)
	iid, err := s.Uint64()
	if err != nil {
		return fieldErr("event.iid", err)
	}
	e.Iid = uint32(iid)
	sp, err := s.Uint64()
	if err != nil {
		return fieldErr("event.sp", err)
	}
	e.Sp = uint32(sp)
	allocatedPages, err := s.Uint64()
	if err != nil {
		return fieldErr("event.allocated_pages", err)
	}
	e.AllocatedPages = uint32(allocatedPages)
	if e.LastJumpEid, err = s.Uint64(); err != nil {
		return fieldErr("event.last_jump_eid", err)
	}
	if e.Opcode, err = decodeOpcode(s); err != nil {
		return err
	}

	if _, err := s.List(); err != nil {
		return fieldErr("event.memory_rw_entries", err)
	}
	e.MemoryRWEntries = nil
	for !s.AtListEnd() {
		var m MemoryRWEntry
		if err := m.DecodeRLP(s); err != nil {
			return err
		}
		e.MemoryRWEntries = append(e.MemoryRWEntries, m)
	}
	if err := s.ListEnd(); err != nil {
		return fieldErr("event.memory_rw_entries", err)
	}

	hasFrame, err := s.Uint64()
	if err != nil {
		return fieldErr("event.frame_flag", err)
	}
	if hasFrame != 0 {
		var f FrameEntry
		if err := f.DecodeRLP(s); err != nil {
			return err
		}
		e.Frame = &f
	} else {
		e.Frame = nil
		if _, err := s.List(); err != nil {
			return fieldErr("event.frame", err)
		}
		if err := s.ListEnd(); err != nil {
			return fieldErr("event.frame", err)
		}
	}

	if _, err := s.List(); err != nil {
		return fieldErr("event.br_table_targets", err)
	}
	e.BrTableTargets = nil
	for !s.AtListEnd() {
		t, err := s.Uint64()
		if err != nil {
			return fieldErr("event.br_table_targets", err)
		}
		e.BrTableTargets = append(e.BrTableTargets, uint32(t))
	}
	if err := s.ListEnd(); err != nil {
		return fieldErr("event.br_table_targets", err)
	}

	if err := s.ListEnd(); err != nil {
		return fieldErr("event", err)
	}
	return nil
}

// EncodeRLP hand-encodes a memory rw-entry's eight fields in declaration
// order.
func (m MemoryRWEntry) EncodeRLP() ([]byte, error) {
	var payload []byte
	payload = rlp.AppendUint64(payload, m.Eid)
	payload = rlp.AppendUint64(payload, m.StartEid)
	payload = rlp.AppendUint64(payload, m.EndEid)
	payload = rlp.AppendUint64(payload, m.Offset)
	payload = rlp.AppendUint64(payload, uint64(m.LocationType))
	payload = rlp.AppendBool(payload, m.IsI32)
	payload = rlp.AppendUint64(payload, m.Value)
	payload = rlp.AppendUint64(payload, uint64(m.AccessType))
	return rlp.WrapList(payload), nil
}

// DecodeRLP reverses EncodeRLP field-by-field.
func (m *MemoryRWEntry) DecodeRLP(s *rlp.Stream) error {
	if _, err := s.List(); err != nil {
		return fieldErr("memory_rw_entry", err)
	}
	var err error
	if m.Eid, err = s.Uint64(); err != nil {
		return fieldErr("memory_rw_entry.eid", err)
	}
	if m.StartEid, err = s.Uint64(); err != nil {
		return fieldErr("memory_rw_entry.start_eid", err)
	}
	if m.EndEid, err = s.Uint64(); err != nil {
		return fieldErr("memory_rw_entry.end_eid", err)
	}
	if m.Offset, err = s.Uint64(); err != nil {
		return fieldErr("memory_rw_entry.offset", err)
	}
	locationType, err := s.Uint64()
	if err != nil {
		return fieldErr("memory_rw_entry.location_type", err)
	}
	m.LocationType = LocationType(locationType)
	isI32, err := s.Uint64()
	if err != nil {
		return fieldErr("memory_rw_entry.is_i32", err)
	}
	m.IsI32 = isI32 != 0
	if m.Value, err = s.Uint64(); err != nil {
		return fieldErr("memory_rw_entry.value", err)
	}
	accessType, err := s.Uint64()
	if err != nil {
		return fieldErr("memory_rw_entry.access_type", err)
	}
	m.AccessType = AccessType(accessType)
	if err := s.ListEnd(); err != nil {
		return fieldErr("memory_rw_entry", err)
	}
	return nil
}

// EncodeRLP hand-encodes a frame entry's six fields in declaration order.
func (f FrameEntry) EncodeRLP() ([]byte, error) {
	var payload []byte
	payload = rlp.AppendUint64(payload, f.Eid)
	payload = rlp.AppendUint64(payload, f.LastJumpEid)
	payload = rlp.AppendUint64(payload, uint64(f.TargetFid))
	payload = rlp.AppendUint64(payload, uint64(f.TargetIid))
	payload = rlp.AppendUint64(payload, uint64(f.CallerFid))
	payload = rlp.AppendUint64(payload, uint64(f.CallerIid))
	return rlp.WrapList(payload), nil
}

// DecodeRLP reverses EncodeRLP field-by-field.
func (f *FrameEntry) DecodeRLP(s *rlp.Stream) error {
	if _, err := s.List(); err != nil {
		return fieldErr("frame_entry", err)
	}
	var err error
	if f.Eid, err = s.Uint64(); err != nil {
		return fieldErr("frame_entry.eid", err)
	}
	if f.LastJumpEid, err = s.Uint64(); err != nil {
		return fieldErr("frame_entry.last_jump_eid", err)
	}
	targetFid, err := s.Uint64()
	if err != nil {
		return fieldErr("frame_entry.target_fid", err)
	}
	f.TargetFid = uint32(targetFid)
	targetIid, err := s.Uint64()
	if err != nil {
		return fieldErr("frame_entry.target_iid", err)
	}
	f.TargetIid = uint32(targetIid)
	callerFid, err := s.Uint64()
	if err != nil {
		return fieldErr("frame_entry.caller_fid", err)
	}
	f.CallerFid = uint32(callerFid)
	callerIid, err := s.Uint64()
	if err != nil {
		return fieldErr("frame_entry.caller_iid", err)
	}
	f.CallerIid = uint32(callerIid)
	if err := s.ListEnd(); err != nil {
		return fieldErr("frame_entry", err)
	}
	return nil
}

// encodeOpcode packs an Opcode's four fields into a list, independently
// of Opcode.Encode's bit-packed field element -- this is the wire
// serialization of a trace, not the in-circuit encoding the instruction
// table looks up.
func encodeOpcode(o wasm.Opcode) []byte {
	var payload []byte
	payload = rlp.AppendUint64(payload, uint64(o.Class))
	payload = rlp.AppendUint64(payload, o.Arg0)
	payload = rlp.AppendUint64(payload, o.Arg1)
	payload = rlp.AppendUint64(payload, o.Arg2)
	return rlp.WrapList(payload)
}

func decodeOpcode(s *rlp.Stream) (wasm.Opcode, error) {
	if _, err := s.List(); err != nil {
		return wasm.Opcode{}, fieldErr("event.opcode", err)
	}
	class, err := s.Uint64()
	if err != nil {
		return wasm.Opcode{}, fieldErr("event.opcode.class", err)
	}
	arg0, err := s.Uint64()
	if err != nil {
		return wasm.Opcode{}, fieldErr("event.opcode.arg0", err)
	}
	arg1, err := s.Uint64()
	if err != nil {
		return wasm.Opcode{}, fieldErr("event.opcode.arg1", err)
	}
	arg2, err := s.Uint64()
	if err != nil {
		return wasm.Opcode{}, fieldErr("event.opcode.arg2", err)
	}
	if err := s.ListEnd(); err != nil {
		return wasm.Opcode{}, fieldErr("event.opcode", err)
	}
	return wasm.Opcode{Class: wasm.Class(class), Arg0: arg0, Arg1: arg1, Arg2: arg2}, nil
}
