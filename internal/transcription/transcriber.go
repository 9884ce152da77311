package transcription

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/audio"
	"github.com/AnnixInvestments/annix-sub033/internal/events"
	"github.com/AnnixInvestments/annix-sub033/internal/metrics"
)

// Entry is one transcribed utterance. Entries are immutable once created.
type Entry struct {
	Timestamp   time.Time `json:"timestamp"`
	SpeakerID   string    `json:"speaker_id,omitempty"`
	SpeakerName string    `json:"speaker_name"`
	Text        string    `json:"text"`
	Confidence  float64   `json:"confidence"`
}

// Speaker labels the audio handed to Transcribe.
type Speaker struct {
	ID   string
	Name string
}

// TranscriberConfig describes the PCM handed to Transcribe.
type TranscriberConfig struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	MinDuration   time.Duration
}

// TranscriberStats is exposed on the status API.
type TranscriberStats struct {
	Requests uint64 `json:"requests"`
	Entries  uint64 `json:"entries"`
	Busy     uint64 `json:"rejected_busy"`
	TooShort uint64 `json:"rejected_short"`
	Empty    uint64 `json:"empty_results"`
	Failures uint64 `json:"failures"`
	InFlight bool   `json:"in_flight"`
}

// Transcriber converts PCM buffers into transcript entries, one at a time.
type Transcriber struct {
	stt     SpeechToText
	config  TranscriberConfig
	events  events.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger

	busy     atomic.Bool
	requests atomic.Uint64
	entries  atomic.Uint64
	rejected atomic.Uint64
	short    atomic.Uint64
	empty    atomic.Uint64
	failures atomic.Uint64

	now func() time.Time
}

// NewTranscriber creates a transcriber. pub and m may be nil.
func NewTranscriber(stt SpeechToText, config TranscriberConfig, pub events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Transcriber {
	if config.SampleRate <= 0 {
		config.SampleRate = audio.DefaultSampleRate
	}
	if config.Channels <= 0 {
		config.Channels = 1
	}
	if config.BitsPerSample <= 0 {
		config.BitsPerSample = 16
	}
	if config.MinDuration <= 0 {
		config.MinDuration = time.Second
	}
	if pub == nil {
		pub = events.Discard
	}
	return &Transcriber{
		stt:     stt,
		config:  config,
		events:  pub,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

func (t *Transcriber) duration(pcm []byte) time.Duration {
	bytesPerSecond := t.config.SampleRate * t.config.Channels * t.config.BitsPerSample / 8
	return time.Duration(len(pcm)) * time.Second / time.Duration(bytesPerSecond)
}

// Transcribe converts pcm into an entry for speaker. It returns nil when a
// request is already in flight, when the audio is shorter than MinDuration,
// when nothing was said, or when the provider failed (an error event is published).
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, speaker Speaker) *Entry {
	if !t.busy.CompareAndSwap(false, true) {
		t.rejected.Add(1)
		t.metrics.RecordTranscriptionRejected("busy")
		return nil
	}
	defer t.busy.Store(false)

	if d := t.duration(pcm); d < t.config.MinDuration {
		t.short.Add(1)
		t.metrics.RecordTranscriptionRejected("too_short")
		t.logger.Debug("Skipping short audio",
			slog.Duration("duration", d),
			slog.Duration("min_duration", t.config.MinDuration),
		)
		return nil
	}

	wav, err := audio.WrapPCM(pcm, t.config.SampleRate, t.config.Channels, t.config.BitsPerSample)
	if err != nil {
		t.fail(err, speaker)
		return nil
	}

	t.requests.Add(1)
	start := t.now()
	resp, err := t.stt.Transcribe(ctx, "audio.wav", bytes.NewReader(wav))
	if err != nil {
		t.fail(err, speaker)
		return nil
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		t.empty.Add(1)
		return nil
	}

	name := speaker.Name
	if name == "" {
		name = audio.UnknownSpeaker
	}

	t.entries.Add(1)
	t.logger.Debug("Transcribed segment",
		slog.String("speaker", name),
		slog.Int("chars", len(text)),
		slog.Duration("latency", t.now().Sub(start)),
	)

	return &Entry{
		Timestamp:   start,
		SpeakerID:   speaker.ID,
		SpeakerName: name,
		Text:        text,
		Confidence:  resp.Confidence(),
	}
}

func (t *Transcriber) fail(err error, speaker Speaker) {
	t.failures.Add(1)
	t.logger.Warn("Transcription failed",
		slog.String("speaker", speaker.Name),
		slog.String("error", err.Error()),
	)
	t.events.Publish(events.Event{
		Type:   events.Error,
		Source: "transcriber",
		Data:   map[string]any{"error": err.Error(), "speaker": speaker.Name},
	})
}

// TranscribeFile sends a recorded file as-is and returns its text. Unlike
// Transcribe it is not single-flight and returns errors to the caller, which
// owns retry.
func (t *Transcriber) TranscribeFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	resp, err := t.stt.Transcribe(ctx, filepath.Base(path), f)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// Busy reports whether a Transcribe call is in flight.
func (t *Transcriber) Busy() bool {
	return t.busy.Load()
}

// GetStats returns transcriber statistics.
func (t *Transcriber) GetStats() TranscriberStats {
	return TranscriberStats{
		Requests: t.requests.Load(),
		Entries:  t.entries.Load(),
		Busy:     t.rejected.Load(),
		TooShort: t.short.Load(),
		Empty:    t.empty.Load(),
		Failures: t.failures.Load(),
		InFlight: t.busy.Load(),
	}
}
