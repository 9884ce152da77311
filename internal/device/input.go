package device

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/audio"
)

// InputStats is exposed on the status API.
type InputStats struct {
	Running   bool   `json:"running"`
	Frames    uint64 `json:"frames_captured"`
	Overflows uint64 `json:"overflows"`
}

// Input captures fixed-size frames from a capture device.
type Input struct {
	backend Backend
	params  StreamParams
	logger  *slog.Logger

	mu     sync.Mutex
	stream InputStream

	seq       atomic.Uint64
	overflows atomic.Uint64

	// OnXrun, when set, is called after each suppressed overflow.
	OnXrun func(error)
}

// NewInput creates an input.
func NewInput(backend Backend, params StreamParams, logger *slog.Logger) *Input {
	return &Input{backend: backend, params: params, logger: logger}
}

// Start opens the capture handle.
func (in *Input) Start() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.stream != nil {
		return nil
	}
	if err := validateParams(in.params); err != nil {
		return &DeviceError{Op: "open input", Device: strconv.Itoa(in.params.DeviceID), Err: err}
	}

	stream, err := in.backend.OpenInput(in.params)
	if err != nil {
		var devErr *DeviceError
		if errors.As(err, &devErr) {
			return err
		}
		return &DeviceError{Op: "open input", Device: strconv.Itoa(in.params.DeviceID), Err: err}
	}
	in.stream = stream

	in.logger.Info("Audio input started",
		slog.Int("device_id", in.params.DeviceID),
		slog.Int("sample_rate", in.params.SampleRate),
		slog.Int("frame_size", in.params.FrameSize),
	)
	return nil
}

// Read blocks until the next frame is captured. It returns ErrClosed once Stop
// has been called, including for a read that was blocked at the time.
func (in *Input) Read() (audio.Frame, error) {
	in.mu.Lock()
	stream := in.stream
	in.mu.Unlock()

	if stream == nil {
		return audio.Frame{}, ErrClosed
	}

	buf := make([]int16, in.params.FrameSize)
	if err := stream.Read(buf); err != nil {
		switch {
		case errors.Is(err, ErrOverflow):
			// Data is still valid; the host dropped samples before it.
			in.overflows.Add(1)
			in.logger.Debug("Input overflow suppressed")
			if in.OnXrun != nil {
				in.OnXrun(err)
			}
		case in.stopped():
			return audio.Frame{}, ErrClosed
		default:
			return audio.Frame{}, fmt.Errorf("read input frame: %w", err)
		}
	}

	return audio.Frame{
		Samples:    buf,
		SampleRate: in.params.SampleRate,
		Seq:        in.seq.Add(1),
		Timestamp:  time.Now(),
	}, nil
}

func (in *Input) stopped() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.stream == nil
}

// Stop closes the capture handle, unblocking a pending Read. Safe to call more than once.
func (in *Input) Stop() error {
	in.mu.Lock()
	stream := in.stream
	in.stream = nil
	in.mu.Unlock()

	if stream == nil {
		return nil
	}

	in.logger.Info("Audio input stopped",
		slog.Uint64("frames", in.seq.Load()),
		slog.Uint64("overflows", in.overflows.Load()),
	)
	if err := stream.Close(); err != nil {
		return &DeviceError{Op: "close input", Device: strconv.Itoa(in.params.DeviceID), Err: err}
	}
	return nil
}

// GetStats returns input statistics.
func (in *Input) GetStats() InputStats {
	return InputStats{
		Running:   !in.stopped(),
		Frames:    in.seq.Load(),
		Overflows: in.overflows.Load(),
	}
}
