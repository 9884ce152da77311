package meeting

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/audio"
)

// Format is the sample encoding of an incoming chunk.
type Format string

const (
	FormatS16LE Format = "pcm_s16le"
	FormatF32LE Format = "pcm_f32le"
)

// ErrNotConnected is returned for audio arriving outside Connect/Disconnect.
var ErrNotConnected = errors.New("meeting adapter not connected")

// Chunk is a block of meeting audio as delivered by a meeting bot or bridge.
type Chunk struct {
	SessionID   string    `json:"session_id"`
	SpeakerID   string    `json:"speaker_id,omitempty"`
	SpeakerName string    `json:"speaker_name,omitempty"`
	Format      Format    `json:"format"`
	SampleRate  int       `json:"sample_rate"`
	Channels    int       `json:"channels"`
	Data        []byte    `json:"-"`
	Timestamp   time.Time `json:"timestamp"`
}

// AdapterConfig is the canonical frame shape the adapter produces.
type AdapterConfig struct {
	SampleRate int
	FrameSize  int
}

// AdapterStats is exposed on the session API.
type AdapterStats struct {
	Connected      bool   `json:"connected"`
	Chunks         uint64 `json:"chunks"`
	Frames         uint64 `json:"frames"`
	PendingSamples int    `json:"pending_samples"`
}

// Adapter converts meeting audio chunks of any supported format, channel
// count and rate into canonical mono frames tagged with speaker metadata.
type Adapter struct {
	config AdapterConfig

	mu          sync.Mutex
	sessionID   string
	connected   bool
	pending     []int16
	speakerID   string
	speakerName string
	clock       time.Time
	emitted     int64
	seq         uint64
	chunks      uint64
	resampler   *audio.StreamResampler
}

// NewAdapter creates an adapter.
func NewAdapter(config AdapterConfig) *Adapter {
	if config.SampleRate <= 0 {
		config.SampleRate = audio.DefaultSampleRate
	}
	if config.FrameSize <= 0 {
		config.FrameSize = audio.DefaultFrameSize
	}
	return &Adapter{config: config}
}

// Connect starts a session with an empty buffer.
func (a *Adapter) Connect(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.sessionID = sessionID
	a.connected = true
	a.pending = a.pending[:0]
	a.speakerID = ""
	a.speakerName = ""
	a.clock = time.Time{}
	a.emitted = 0
	a.seq = 0
	a.chunks = 0
	a.resampler = nil
}

// Connected reports whether the adapter accepts audio.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// ProcessIncomingAudio decodes a chunk and returns every full frame it completes.
// A speaker change first flushes the partial buffer under the previous speaker.
func (a *Adapter) ProcessIncomingAudio(c Chunk) ([]audio.Frame, error) {
	samples, err := decode(c)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return nil, ErrNotConnected
	}
	a.chunks++

	if a.clock.IsZero() {
		a.clock = c.Timestamp
		if a.clock.IsZero() {
			a.clock = time.Now()
		}
	}

	var frames []audio.Frame
	if c.SpeakerID != a.speakerID {
		a.drainResampler()
		if len(a.pending) > 0 {
			frames = append(frames, a.emit(a.pending))
			a.pending = a.pending[:0]
		}
	}
	a.speakerID = c.SpeakerID
	a.speakerName = c.SpeakerName

	if a.resampler != nil && a.resampler.From() != c.SampleRate {
		a.drainResampler()
	}
	if a.resampler == nil {
		a.resampler, err = audio.NewStreamResampler(c.SampleRate, a.config.SampleRate)
		if err != nil {
			return frames, err
		}
	}

	a.pending = append(a.pending, a.resampler.Write(samples)...)
	for len(a.pending) >= a.config.FrameSize {
		frames = append(frames, a.emit(a.pending[:a.config.FrameSize]))
		a.pending = append(a.pending[:0], a.pending[a.config.FrameSize:]...)
	}

	return frames, nil
}

// drainResampler must be called with a.mu held. It moves the resampler's
// held-back tail into pending and drops it.
func (a *Adapter) drainResampler() {
	if a.resampler == nil {
		return
	}
	a.pending = append(a.pending, a.resampler.Flush()...)
	a.resampler = nil
}

// Disconnect flushes the remaining partial buffer as a final, possibly short,
// frame and clears the session. It returns nil when nothing was pending.
func (a *Adapter) Disconnect() []audio.Frame {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return nil
	}

	a.drainResampler()

	var frames []audio.Frame
	if len(a.pending) > 0 {
		frames = append(frames, a.emit(a.pending))
	}

	a.connected = false
	a.pending = nil
	a.speakerID = ""
	a.speakerName = ""
	return frames
}

// emit must be called with a.mu held. It copies samples.
func (a *Adapter) emit(samples []int16) audio.Frame {
	out := make([]int16, len(samples))
	copy(out, samples)

	name := a.speakerName
	if name == "" {
		name = audio.UnknownSpeaker
	}

	offset := time.Duration(a.emitted) * time.Second / time.Duration(a.config.SampleRate)
	a.emitted += int64(len(out))
	a.seq++

	return audio.Frame{
		Samples:     out,
		SampleRate:  a.config.SampleRate,
		Seq:         a.seq,
		Timestamp:   a.clock.Add(offset),
		SpeakerID:   a.speakerID,
		SpeakerName: name,
	}
}

// GetStats returns adapter statistics.
func (a *Adapter) GetStats() AdapterStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AdapterStats{
		Connected:      a.connected,
		Chunks:         a.chunks,
		Frames:         a.seq,
		PendingSamples: len(a.pending),
	}
}

// decode converts a chunk into mono PCM16 at the chunk's own rate.
func decode(c Chunk) ([]int16, error) {
	if c.SampleRate <= 0 {
		return nil, fmt.Errorf("chunk sample rate must be positive, got %d", c.SampleRate)
	}
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}

	var samples []int16
	var err error
	switch c.Format {
	case FormatS16LE, "":
		samples, err = audio.BytesToSamples(c.Data)
	case FormatF32LE:
		samples, err = audio.Float32BytesToSamples(c.Data)
	default:
		return nil, fmt.Errorf("unsupported audio format %q", c.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s chunk: %w", c.Format, err)
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("chunk holds %d samples, not a multiple of %d channels", len(samples), channels)
	}

	return audio.Downmix(samples, channels), nil
}
