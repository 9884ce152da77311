// Package events fans out pipeline and job events to in-process subscribers
// such as the WebSocket event stream and the metrics recorder.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type names an event.
type Type string

const (
	Started  Type = "started"
	Stopped  Type = "stopped"
	Muted    Type = "muted"
	Unmuted  Type = "unmuted"
	Error    Type = "error"
	Verified Type = "verified"

	SessionStarted  Type = "session_started"
	SessionEnded    Type = "session_ended"
	TranscriptEntry Type = "transcript_entry"

	JobStarted   Type = "job_started"
	JobProgress  Type = "job_progress"
	JobCompleted Type = "job_completed"
	JobFailed    Type = "job_failed"
	JobSkipped   Type = "job_skipped"
)

// Event is one published occurrence. Data must be JSON-encodable.
type Event struct {
	Type      Type           `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher is the narrow interface components publish through.
type Publisher interface {
	Publish(Event)
}

// Bus delivers events to subscriber channels. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	dropped atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a subscriber. The returned cancel func closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish stamps and delivers an event.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped on full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
