package device

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/AnnixInvestments/annix-sub033/internal/audio"
)

// OutputStats is exposed on the status API.
type OutputStats struct {
	Running     bool   `json:"running"`
	Muted       bool   `json:"muted"`
	Frames      uint64 `json:"frames_written"`
	MutedFrames uint64 `json:"muted_frames"`
	Underflows  uint64 `json:"underflows"`
}

// Output writes frames to a playback device with an atomic mute.
type Output struct {
	backend Backend
	params  StreamParams
	logger  *slog.Logger

	mu      sync.Mutex
	stream  OutputStream
	silence []int16

	muted       atomic.Bool
	frames      atomic.Uint64
	mutedFrames atomic.Uint64
	underflows  atomic.Uint64

	// OnXrun, when set, is called after each suppressed underflow.
	OnXrun func(error)
}

// NewOutput creates an output. It starts muted.
func NewOutput(backend Backend, params StreamParams, logger *slog.Logger) *Output {
	o := &Output{backend: backend, params: params, logger: logger}
	o.muted.Store(true)
	return o
}

// Start opens the playback handle.
func (o *Output) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stream != nil {
		return nil
	}
	if err := validateParams(o.params); err != nil {
		return &DeviceError{Op: "open output", Device: strconv.Itoa(o.params.DeviceID), Err: err}
	}

	stream, err := o.backend.OpenOutput(o.params)
	if err != nil {
		var devErr *DeviceError
		if errors.As(err, &devErr) {
			return err
		}
		return &DeviceError{Op: "open output", Device: strconv.Itoa(o.params.DeviceID), Err: err}
	}

	o.stream = stream
	o.silence = make([]int16, o.params.FrameSize)

	o.logger.Info("Audio output started",
		slog.Int("device_id", o.params.DeviceID),
		slog.Int("sample_rate", o.params.SampleRate),
		slog.Int("frame_size", o.params.FrameSize),
	)
	return nil
}

// Write plays one frame, or silence of the same length when muted.
// The mute flag is read once per call.
func (o *Output) Write(frame audio.Frame) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stream == nil {
		return ErrClosed
	}

	buf := frame.Samples
	if o.muted.Load() {
		if len(o.silence) < len(buf) {
			o.silence = make([]int16, len(buf))
		}
		buf = o.silence[:len(buf)]
		o.mutedFrames.Add(1)
	}

	if err := o.stream.Write(buf); err != nil {
		if errors.Is(err, ErrUnderflow) {
			o.underflows.Add(1)
			o.logger.Debug("Output underflow suppressed")
			if o.OnXrun != nil {
				o.OnXrun(err)
			}
			return nil
		}
		return fmt.Errorf("write output frame: %w", err)
	}

	o.frames.Add(1)
	return nil
}

// Mute makes subsequent writes silent.
func (o *Output) Mute() { o.muted.Store(true) }

// Unmute lets subsequent writes through.
func (o *Output) Unmute() { o.muted.Store(false) }

// SetMuted sets the mute flag.
func (o *Output) SetMuted(muted bool) { o.muted.Store(muted) }

// Muted reports the mute flag.
func (o *Output) Muted() bool { return o.muted.Load() }

// Stop releases the playback handle. Safe to call more than once.
func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stream == nil {
		return nil
	}
	err := o.stream.Close()
	o.stream = nil

	o.logger.Info("Audio output stopped",
		slog.Uint64("frames", o.frames.Load()),
		slog.Uint64("underflows", o.underflows.Load()),
	)
	if err != nil {
		return &DeviceError{Op: "close output", Device: strconv.Itoa(o.params.DeviceID), Err: err}
	}
	return nil
}

// GetStats returns output statistics.
func (o *Output) GetStats() OutputStats {
	o.mu.Lock()
	running := o.stream != nil
	o.mu.Unlock()

	return OutputStats{
		Running:     running,
		Muted:       o.muted.Load(),
		Frames:      o.frames.Load(),
		MutedFrames: o.mutedFrames.Load(),
		Underflows:  o.underflows.Load(),
	}
}
