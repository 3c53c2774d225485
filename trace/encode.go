package trace

import (
	"fmt"

	"github.com/eth2030/zkwasm/rlp"
)

// EncodeEvent returns the canonical RLP encoding of a single Event. This is
// the bit-exact serialization two independent trace producers must agree
// on byte-for-byte, e.g. when hashing a trace slice for a transcript
// commitment or diffing two runs of the same program.
func EncodeEvent(e Event) ([]byte, error) {
	b, err := rlp.EncodeToBytes(e)
	if err != nil {
		return nil, fmt.Errorf("trace: encode event %d: %w", e.Eid, err)
	}
	return b, nil
}

// EncodeSlice returns the canonical RLP encoding of an entire trace slice.
func EncodeSlice(s Slice) ([]byte, error) {
	b, err := rlp.EncodeToBytes(s)
	if err != nil {
		return nil, fmt.Errorf("trace: encode slice: %w", err)
	}
	return b, nil
}

// EncodeMemoryRWEntry returns the canonical RLP encoding of one memory
// rw-entry, used when a caller wants to hash or log a single entry without
// encoding its owning Event.
func EncodeMemoryRWEntry(m MemoryRWEntry) ([]byte, error) {
	b, err := rlp.EncodeToBytes(m)
	if err != nil {
		return nil, fmt.Errorf("trace: encode memory entry: %w", err)
	}
	return b, nil
}
