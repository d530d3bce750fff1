package gateway

import (
	"strconv"
	"time"
)

// Envelope types pushed to clients.
const (
	TypeDataset = "dataset"
	TypeQuote   = "quote"
	TypeRecent  = "recent"
	TypeBar     = "bar"
	TypeClock   = "clock"
	TypeError   = "error"
	TypePong    = "pong"
)

// Broadcaster builds hub-wide envelopes and fans them out to every client.
type Broadcaster struct {
	hub *Hub
}

// NewBroadcaster creates a Broadcaster backed by the given Hub.
func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// Broadcast sends data to all clients wrapped as
// {"type":...,"data":...,"ts":...,"seq":N}. Bar envelopes are kept in the
// replay buffer so a reconnecting client can ask for what it missed.
// Returns the envelope's seq.
func (b *Broadcaster) Broadcast(typ string, data []byte) int64 {
	now := b.hub.now().UTC()

	b.hub.mu.Lock()
	b.hub.seq++
	seq := b.hub.seq
	b.hub.mu.Unlock()

	buf := buildEnvelope(typ, data, now, seq)
	if typ == TypeBar {
		b.hub.replay.Push(seq, buf)
	}

	for _, c := range b.hub.snapshot() {
		c.enqueue(buf)
	}
	return seq
}

// buildEnvelope hand-crafts the envelope JSON; data must already be valid JSON.
func buildEnvelope(typ string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(typ)+len(data)+96)
	buf = append(buf, `{"type":"`...)
	buf = append(buf, typ...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}
