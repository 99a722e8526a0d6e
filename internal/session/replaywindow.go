package session

// replayWindowSize is the sliding anti-replay window width, W in the spec.
const replayWindowSize = 256

// ReplayWindow implements the sliding-window anti-replay check described
// for the session data plane: a bitmap of the last replayWindowSize
// sequence numbers ending at highest.
//
// Test is a non-mutating check; Commit records acceptance. Callers MUST
// call Test before attempting AEAD decryption (so an out-of-window or
// obviously duplicate packet is rejected cheaply) and MUST call Commit
// only once AEAD has actually succeeded — committing on a Test pass alone
// would let an attacker poison the window with forged high-sequence
// packets that never had to pass authentication.
type ReplayWindow struct {
	highest    uint32
	hasHighest bool
	bitmap     [replayWindowSize]bool
}

// NewReplayWindow returns an empty window, ready to accept any sequence
// as its first packet.
func NewReplayWindow() *ReplayWindow {
	return &ReplayWindow{}
}

// Test reports whether sequence s would be accepted, without mutating
// the window. Returns (accept, isDuplicate).
func (w *ReplayWindow) Test(s uint32) (accept bool, duplicate bool) {
	if !w.hasHighest {
		return true, false
	}

	if s > w.highest {
		return true, false
	}

	diff := w.highest - s
	if diff >= replayWindowSize {
		return false, false // SequenceOutOfWindow
	}

	index := replayWindowSize - 1 - diff
	if w.bitmap[index] {
		return false, true // DuplicateSequence
	}
	return true, false
}

// Commit records s as accepted, shifting the window if s advances
// highest. Callers must have already checked s with Test and confirmed
// AEAD success for it; Commit does not re-validate.
func (w *ReplayWindow) Commit(s uint32) {
	if !w.hasHighest {
		w.highest = s
		w.hasHighest = true
		w.bitmap[replayWindowSize-1] = true
		return
	}

	if s > w.highest {
		shift := s - w.highest
		if shift >= replayWindowSize {
			for i := range w.bitmap {
				w.bitmap[i] = false
			}
		} else {
			copy(w.bitmap[0:], w.bitmap[shift:])
			for i := replayWindowSize - int(shift); i < replayWindowSize; i++ {
				w.bitmap[i] = false
			}
		}
		w.bitmap[replayWindowSize-1] = true
		w.highest = s
		return
	}

	diff := w.highest - s
	if diff >= replayWindowSize {
		return
	}
	w.bitmap[replayWindowSize-1-diff] = true
}
