package gateway

import "sync"

// replayEntry holds one broadcast bar envelope.
type replayEntry struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer is a fixed-size ring of recent bar envelopes, so a client that
// reconnects with its last seen seq can catch up on the live bars it missed.
//
// Thread-safe for concurrent writes and reads.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []replayEntry
	pos  int // next write position
	full bool
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{buf: make([]replayEntry, capacity)}
}

// Push appends an envelope, overwriting the oldest entry when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.buf[rb.pos] = replayEntry{Seq: seq, Data: cp}
	rb.pos = (rb.pos + 1) % len(rb.buf)
	if rb.pos == 0 {
		rb.full = true
	}
}

// After returns the envelopes newer than seq, oldest first. complete is false
// when entries after seq have already been overwritten.
func (rb *ReplayBuffer) After(seq int64) (envelopes [][]byte, complete bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := rb.len()
	if n == 0 {
		return nil, true
	}
	oldest := rb.buf[rb.index(0)].Seq
	complete = !rb.full || seq+1 >= oldest
	for i := 0; i < n; i++ {
		if e := rb.buf[rb.index(i)]; e.Seq > seq {
			envelopes = append(envelopes, e.Data)
		}
	}
	return envelopes, complete
}

// Len returns the number of entries currently in the buffer.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.len()
}

func (rb *ReplayBuffer) len() int {
	if rb.full {
		return len(rb.buf)
	}
	return rb.pos
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (rb *ReplayBuffer) index(logical int) int {
	if rb.full {
		return (rb.pos + logical) % len(rb.buf)
	}
	return logical
}
