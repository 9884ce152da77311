package audio

import (
	"context"
	"sync"
)

// FrameQueue is a bounded FIFO between a producer that must never block
// (device capture) and a single consumer. When full, the oldest frame is dropped.
type FrameQueue struct {
	mu       sync.Mutex
	frames   []Frame
	capacity int
	dropped  uint64
	pushed   uint64
	closed   bool
	ready    chan struct{}
}

// NewFrameQueue creates a queue holding at most capacity frames.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameQueue{
		frames:   make([]Frame, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Push enqueues a frame. It reports whether an older frame was dropped to make room.
// Pushing to a closed queue is a no-op.
func (q *FrameQueue) Push(f Frame) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	dropped := false
	if len(q.frames) >= q.capacity {
		copy(q.frames, q.frames[1:])
		q.frames = q.frames[:len(q.frames)-1]
		q.dropped++
		dropped = true
	}
	q.frames = append(q.frames, f)
	q.pushed++

	// Signalled under the lock so Close cannot race the send.
	select {
	case q.ready <- struct{}{}:
	default:
	}
	q.mu.Unlock()

	return dropped
}

// Pop blocks until a frame is available, the queue is closed and drained, or ctx is done.
func (q *FrameQueue) Pop(ctx context.Context) (Frame, bool) {
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			f := q.frames[0]
			copy(q.frames, q.frames[1:])
			q.frames = q.frames[:len(q.frames)-1]
			q.mu.Unlock()
			return f, true
		}
		if q.closed {
			q.mu.Unlock()
			return Frame{}, false
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return Frame{}, false
		}
	}
}

// Close wakes any blocked consumer. Frames already queued can still be popped.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ready)
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped returns how many frames were discarded because the queue was full.
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Pushed returns how many frames were accepted.
func (q *FrameQueue) Pushed() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushed
}
