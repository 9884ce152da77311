package gate

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/audio"
)

// Verifier scores recent audio against an enrolled speaker.
type Verifier interface {
	Verify(ctx context.Context, samples []int16, sampleRate int, speakerID string) (VerificationResult, error)
}

// MonitorConfig controls the background verification loop.
type MonitorConfig struct {
	SpeakerID  string
	SampleRate int
	Window     time.Duration // rolling audio kept for verification
	MinAudio   time.Duration // minimum buffered speech before a call
	Interval   time.Duration // how often a call may start
	Timeout    time.Duration // per-call deadline
}

// MonitorStats is exposed on the status API.
type MonitorStats struct {
	Requests  uint64  `json:"requests"`
	Failures  uint64  `json:"failures"`
	Dropped   uint64  `json:"dropped_frames"`
	LastScore float64 `json:"last_confidence"`
	InFlight  bool    `json:"in_flight"`
}

// Monitor feeds speech audio to a Verifier off the frame path and publishes
// results to the gate. Feed never blocks; frames are dropped when the loop lags.
type Monitor struct {
	gate     *Gate
	verifier Verifier
	config   MonitorConfig
	logger   *slog.Logger

	frames  chan monitorFrame
	results chan verifyOutcome
	epoch   atomic.Uint64

	requests atomic.Uint64
	failures atomic.Uint64
	dropped  atomic.Uint64
	inFlight atomic.Bool
	lastConf atomic.Pointer[float64]

	// OnResult, when set, is called from the monitor goroutine after each call.
	OnResult func(VerificationResult, time.Duration, error)
}

// monitorFrame carries the reset epoch it was fed in.
type monitorFrame struct {
	samples []int16
	epoch   uint64
}

type verifyOutcome struct {
	result  VerificationResult
	err     error
	elapsed time.Duration
}

// NewMonitor creates a monitor. Zero config values fall back to defaults.
func NewMonitor(g *Gate, verifier Verifier, config MonitorConfig, logger *slog.Logger) *Monitor {
	if config.SampleRate <= 0 {
		config.SampleRate = audio.DefaultSampleRate
	}
	if config.Window <= 0 {
		config.Window = 1500 * time.Millisecond
	}
	if config.MinAudio <= 0 {
		config.MinAudio = 500 * time.Millisecond
	}
	if config.Interval <= 0 {
		config.Interval = 200 * time.Millisecond
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	return &Monitor{
		gate:     g,
		verifier: verifier,
		config:   config,
		logger:   logger,
		frames:   make(chan monitorFrame, 64),
		results:  make(chan verifyOutcome, 1),
	}
}

// Feed offers a speech frame to the verifier window.
func (m *Monitor) Feed(samples []int16) {
	select {
	case m.frames <- monitorFrame{samples: samples, epoch: m.epoch.Load()}:
	default:
		m.dropped.Add(1)
	}
}

// Reset discards the buffered window at the end of an utterance. Frames fed
// before the call are never scored with frames fed after it.
func (m *Monitor) Reset() {
	m.epoch.Add(1)
}

// Run drives verification until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	window := make([]int16, 0, m.samplesFor(m.config.Window))
	limit := m.samplesFor(m.config.Window)
	minSamples := m.samplesFor(m.config.MinAudio)
	var epoch uint64
	resync := func() {
		if e := m.epoch.Load(); e != epoch {
			window = window[:0]
			epoch = e
		}
	}

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.logger.Debug("Verification monitor started",
		slog.String("speaker_id", m.config.SpeakerID),
		slog.Duration("interval", m.config.Interval),
		slog.Duration("window", m.config.Window),
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("Verification monitor stopping")
			return

		case f := <-m.frames:
			resync()
			if f.epoch != epoch {
				continue
			}
			window = append(window, f.samples...)
			if over := len(window) - limit; over > 0 {
				window = append(window[:0], window[over:]...)
			}

		case out := <-m.results:
			m.inFlight.Store(false)
			m.handle(out)

		case <-ticker.C:
			resync()
			if m.inFlight.Load() || len(window) < minSamples {
				continue
			}
			snapshot := make([]int16, len(window))
			copy(snapshot, window)
			m.inFlight.Store(true)
			m.requests.Add(1)
			go m.verify(ctx, snapshot)
		}
	}
}

func (m *Monitor) verify(ctx context.Context, samples []int16) {
	callCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	start := time.Now()
	result, err := m.verifier.Verify(callCtx, samples, m.config.SampleRate, m.config.SpeakerID)
	out := verifyOutcome{result: result, err: err, elapsed: time.Since(start)}

	select {
	case m.results <- out:
	case <-ctx.Done():
	}
}

func (m *Monitor) handle(out verifyOutcome) {
	if out.err != nil {
		m.gate.ClearVerification()
		m.failures.Add(1)
		m.logger.Warn("Speaker verification failed, falling back to gate policy",
			slog.String("error", out.err.Error()),
			slog.Bool("fail_open", m.gate.Policy().FailOpen),
		)
	} else {
		if out.result.Timestamp.IsZero() {
			out.result.Timestamp = time.Now()
		}
		conf := out.result.Confidence
		m.lastConf.Store(&conf)
		m.gate.UpdateVerification(out.result)
		m.logger.Debug("Speaker verification completed",
			slog.Float64("confidence", out.result.Confidence),
			slog.String("decision", out.result.Decision.String()),
			slog.Duration("latency", out.elapsed),
		)
	}

	if m.OnResult != nil {
		m.OnResult(out.result, out.elapsed, out.err)
	}
}

func (m *Monitor) samplesFor(d time.Duration) int {
	return int(d * time.Duration(m.config.SampleRate) / time.Second)
}

// GetStats returns monitor statistics.
func (m *Monitor) GetStats() MonitorStats {
	stats := MonitorStats{
		Requests: m.requests.Load(),
		Failures: m.failures.Load(),
		Dropped:  m.dropped.Load(),
		InFlight: m.inFlight.Load(),
	}
	if c := m.lastConf.Load(); c != nil {
		stats.LastScore = *c
	}
	return stats
}
