package store

import (
	"crypto/rand"
	"encoding/binary"
)

// replayWindow is a sliding-window duplicate detector over 64-bit message
// ids. It remembers the largest id seen plus a 64-bit bitmap covering the
// ids immediately below it; anything older than the window is treated as
// a replay.
type replayWindow struct {
	initialized bool
	latest      uint64
	// bitmap bit i set means id latest-1-i was received.
	bitmap uint64
}

const windowSize = 64

// accept records a message id and reports whether it is fresh.
func (w *replayWindow) accept(id uint64) bool {
	if !w.initialized {
		w.initialized = true
		w.latest = id
		w.bitmap = 0
		return true
	}

	switch {
	case id == w.latest:
		return false

	case id > w.latest:
		diff := id - w.latest
		if diff > windowSize {
			w.bitmap = 0
		} else {
			w.bitmap = w.bitmap<<diff | 1<<(diff-1)
		}
		w.latest = id
		return true

	default:
		offset := w.latest - id
		if offset > windowSize {
			// Too old to distinguish from a replay.
			return false
		}
		bit := uint64(1) << (offset - 1)
		if w.bitmap&bit != 0 {
			return false
		}
		w.bitmap |= bit
		return true
	}
}

// sequenceState is one peer's message id bookkeeping.
type sequenceState struct {
	outgoing uint64
	ingoing  replayWindow
	status   replayWindow
}

// randomOutgoingInit picks a random starting point for a fresh peer's
// outgoing counter so ids stay unique even across a lost database.
func randomOutgoingInit() uint64 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 1
	}
	return uint64(binary.LittleEndian.Uint32(buf[:]))>>4 + 1
}
