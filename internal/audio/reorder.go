package audio

import (
	"fmt"
	"sync"
	"time"
)

// ReorderBuffer restores sequence order for packetized PCM before it reaches
// the meeting adapter. Packets ahead of the expected sequence are held until the
// gap fills or exceeds MaxGap, at which point the missing packets are counted as lost.
type ReorderBuffer struct {
	maxGap uint32

	started     bool
	expectedSeq uint32
	lastSeq     uint32
	pending     map[uint32][]byte

	lastUpdate   time.Time
	totalPackets uint32
	lostCount    uint32
	lateCount    uint32

	mu sync.Mutex
}

// ReorderStats is exposed on the session API.
type ReorderStats struct {
	TotalPackets uint32  `json:"total_packets"`
	LostPackets  uint32  `json:"lost_packets"`
	LatePackets  uint32  `json:"late_packets"`
	LossRate     float64 `json:"loss_rate"`
	PendingSeqs  int     `json:"pending_sequences"`
	LastSequence uint32  `json:"last_sequence"`
}

// NewReorderBuffer creates a buffer that waits for at most maxGap missing packets.
func NewReorderBuffer(maxGap uint32) *ReorderBuffer {
	if maxGap == 0 {
		maxGap = 20
	}
	return &ReorderBuffer{
		maxGap:  maxGap,
		pending: make(map[uint32][]byte),
	}
}

// Add accepts a packet and returns the payloads that are now in order.
func (b *ReorderBuffer) Add(sequence uint32, payload []byte) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastUpdate = time.Now()
	b.totalPackets++

	if !b.started {
		b.started = true
		b.expectedSeq = sequence
		b.lastSeq = sequence - 1
	}

	switch {
	case sequence == b.expectedSeq:
		out := [][]byte{clonePayload(payload)}
		b.lastSeq = sequence
		b.expectedSeq = sequence + 1
		return b.drain(out), nil

	case sequence > b.expectedSeq:
		b.pending[sequence] = clonePayload(payload)
		if sequence-b.expectedSeq > b.maxGap {
			b.skipTo(b.lowestPending())
			return b.drain(nil), nil
		}
		return nil, nil

	default:
		b.lateCount++
		return nil, fmt.Errorf("ignoring old/duplicate packet: seq=%d, lastSeq=%d", sequence, b.lastSeq)
	}
}

// Flush releases everything still held, in sequence order, skipping gaps.
func (b *ReorderBuffer) Flush() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out [][]byte
	for len(b.pending) > 0 {
		b.skipTo(b.lowestPending())
		out = b.drain(out)
	}
	return out
}

// skipTo gives up on the packets before seq.
func (b *ReorderBuffer) skipTo(seq uint32) {
	if seq > b.expectedSeq {
		b.lostCount += seq - b.expectedSeq
		b.expectedSeq = seq
	}
}

func (b *ReorderBuffer) lowestPending() uint32 {
	first := true
	var lowest uint32
	for seq := range b.pending {
		if first || seq < lowest {
			lowest = seq
			first = false
		}
	}
	return lowest
}

func (b *ReorderBuffer) drain(out [][]byte) [][]byte {
	for {
		data, ok := b.pending[b.expectedSeq]
		if !ok {
			return out
		}
		out = append(out, data)
		delete(b.pending, b.expectedSeq)
		b.lastSeq = b.expectedSeq
		b.expectedSeq++
	}
}

func clonePayload(p []byte) []byte {
	c := make([]byte, len(p))
	copy(c, p)
	return c
}

// LastUpdate returns when the last packet arrived.
func (b *ReorderBuffer) LastUpdate() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdate
}

// GetStats returns buffer statistics.
func (b *ReorderBuffer) GetStats() ReorderStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	lossRate := float64(0)
	if b.totalPackets > 0 {
		lossRate = float64(b.lostCount) / float64(b.totalPackets) * 100
	}

	return ReorderStats{
		TotalPackets: b.totalPackets,
		LostPackets:  b.lostCount,
		LatePackets:  b.lateCount,
		LossRate:     lossRate,
		PendingSeqs:  len(b.pending),
		LastSequence: b.lastSeq,
	}
}
