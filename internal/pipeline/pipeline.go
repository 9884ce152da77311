// Package pipeline runs the live speaker-gated path:
//
//	capture -> bounded frame queue -> VAD -> gate -> output
//
// Capture runs on its own goroutine and never blocks on processing; the queue
// drops the oldest frame when processing lags. A single processing goroutine
// owns the VAD and the gate. Speaker verification runs on a third goroutine
// (gate.Monitor) fed with speech frames.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/audio"
	"github.com/AnnixInvestments/annix-sub033/internal/device"
	"github.com/AnnixInvestments/annix-sub033/internal/events"
	"github.com/AnnixInvestments/annix-sub033/internal/gate"
	"github.com/AnnixInvestments/annix-sub033/internal/metrics"
	"github.com/AnnixInvestments/annix-sub033/internal/vad"
)

const eventSource = "pipeline"

// Options wires the pipeline's collaborators. Input and Monitor are optional:
// without Input, frames arrive through Feed.
type Options struct {
	Input     *device.Input
	Output    *device.Output
	Detector  *vad.Detector
	Gate      *gate.Gate
	Monitor   *gate.Monitor
	QueueSize int

	Events  events.Publisher
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Status is exposed on the status API.
type Status struct {
	Running      bool               `json:"running"`
	StartedAt    time.Time          `json:"started_at,omitempty"`
	Queued       int                `json:"queued_frames"`
	Dropped      uint64             `json:"dropped_frames"`
	WriteErrors  uint64             `json:"write_errors"`
	Gate         gate.Stats         `json:"gate"`
	VAD          vad.Stats          `json:"vad"`
	Verification *gate.MonitorStats `json:"verification,omitempty"`
	Input        *device.InputStats `json:"input,omitempty"`
	Output       device.OutputStats `json:"output"`
}

// Pipeline is the live audio path.
type Pipeline struct {
	opts  Options
	queue *audio.FrameQueue

	running     atomic.Bool
	startedAt   atomic.Pointer[time.Time]
	writeErrors atomic.Uint64

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a pipeline. It does not touch devices until Start.
func New(opts Options) (*Pipeline, error) {
	if opts.Output == nil || opts.Detector == nil || opts.Gate == nil {
		return nil, fmt.Errorf("pipeline requires an output, a detector and a gate")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.Events == nil {
		opts.Events = events.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Pipeline{
		opts:  opts,
		queue: audio.NewFrameQueue(opts.QueueSize),
	}, nil
}

// Start acquires the devices and launches the goroutines. A device failure is
// returned as a *device.DeviceError and nothing is left running.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return fmt.Errorf("pipeline already running")
	}
	if p.stopped {
		return fmt.Errorf("pipeline has been stopped")
	}

	p.opts.Output.OnXrun = func(error) { p.opts.Metrics.RecordXrun("output") }
	if p.opts.Input != nil {
		p.opts.Input.OnXrun = func(error) { p.opts.Metrics.RecordXrun("input") }
	}

	if err := p.opts.Output.Start(); err != nil {
		return err
	}
	if p.opts.Input != nil {
		if err := p.opts.Input.Start(); err != nil {
			p.opts.Output.Stop()
			return err
		}
	}

	p.opts.Gate.OnChange(p.onGateChange)

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	if p.opts.Input != nil {
		p.wg.Add(1)
		go p.captureLoop(ctx)
	}
	p.wg.Add(1)
	go p.processLoop(ctx)
	if p.opts.Monitor != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.opts.Monitor.Run(ctx)
		}()
	}

	now := time.Now()
	p.startedAt.Store(&now)
	p.running.Store(true)

	p.opts.Logger.Info("Live pipeline started",
		slog.Bool("capture", p.opts.Input != nil),
		slog.Bool("verification", p.opts.Monitor != nil),
		slog.Int("queue_size", p.opts.QueueSize),
		slog.Bool("fail_open", p.opts.Gate.Policy().FailOpen),
	)
	p.publish(events.Started, nil)
	return nil
}

// Feed queues an externally produced frame, e.g. meeting audio routed through
// the live path. It reports false when the pipeline is not running.
func (p *Pipeline) Feed(frame audio.Frame) bool {
	if !p.running.Load() {
		return false
	}
	if p.queue.Push(frame) {
		p.opts.Metrics.RecordFramesDropped(1)
	}
	return true
}

func (p *Pipeline) captureLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		frame, err := p.opts.Input.Read()
		if err != nil {
			if errors.Is(err, device.ErrClosed) || ctx.Err() != nil {
				return
			}
			p.opts.Logger.Warn("Capture read failed", slog.String("error", err.Error()))
			p.publish(events.Error, map[string]any{"stage": "capture", "error": err.Error()})

			select {
			case <-ctx.Done():
				return
			case <-time.After(frame.Duration() + 10*time.Millisecond):
			}
			continue
		}

		if p.queue.Push(frame) {
			p.opts.Metrics.RecordFramesDropped(1)
		}
	}
}

func (p *Pipeline) processLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		frame, ok := p.queue.Pop(ctx)
		if !ok {
			return
		}
		p.processFrame(frame)
	}
}

func (p *Pipeline) processFrame(frame audio.Frame) {
	start := time.Now()

	result := p.opts.Detector.Process(frame.Samples)
	state := p.opts.Gate.Evaluate(result.State)
	p.opts.Output.SetMuted(state == gate.Muted)

	speech := result.State == vad.Speech
	if p.opts.Monitor != nil {
		if speech {
			p.opts.Monitor.Feed(frame.Samples)
		} else if result.Changed {
			p.opts.Monitor.Reset()
		}
	}

	if err := p.opts.Output.Write(frame); err != nil {
		if p.writeErrors.Add(1) == 1 {
			p.opts.Logger.Warn("Output write failed", slog.String("error", err.Error()))
		} else {
			p.opts.Logger.Debug("Output write failed", slog.String("error", err.Error()))
		}
		p.publish(events.Error, map[string]any{"stage": "output", "error": err.Error()})
	}

	p.opts.Metrics.RecordFrame(speech, time.Since(start).Seconds())
}

func (p *Pipeline) onGateChange(c gate.Change) {
	typ := events.Muted
	if c.State == gate.Unmuted {
		typ = events.Unmuted
	}
	p.opts.Metrics.RecordGateTransition(c.State == gate.Unmuted, c.Reason)
	p.opts.Logger.Debug("Gate changed",
		slog.String("state", c.State.String()),
		slog.String("reason", c.Reason),
	)
	p.publish(typ, map[string]any{"reason": c.Reason})
}

func (p *Pipeline) publish(t events.Type, data map[string]any) {
	p.opts.Events.Publish(events.Event{Type: t, Source: eventSource, Data: data})
}

// Stop cancels the goroutines, closes the capture handle to unblock a pending
// read, waits for processing to drain and releases the output. Idempotent.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running.Load() {
		return nil
	}
	p.running.Store(false)
	p.stopped = true

	var stopErr error
	p.cancel()
	if p.opts.Input != nil {
		stopErr = p.opts.Input.Stop()
	}
	p.queue.Close()
	p.wg.Wait()

	if err := p.opts.Output.Stop(); err != nil && stopErr == nil {
		stopErr = err
	}

	p.opts.Logger.Info("Live pipeline stopped",
		slog.Uint64("dropped_frames", p.queue.Dropped()),
		slog.Uint64("write_errors", p.writeErrors.Load()),
	)
	p.publish(events.Stopped, nil)
	return stopErr
}

// Running reports whether the pipeline is running.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Status returns a snapshot of the pipeline and its stages.
func (p *Pipeline) Status() Status {
	s := Status{
		Running:     p.running.Load(),
		Queued:      p.queue.Len(),
		Dropped:     p.queue.Dropped(),
		WriteErrors: p.writeErrors.Load(),
		Gate:        p.opts.Gate.GetStats(),
		VAD:         p.opts.Detector.GetStats(),
		Output:      p.opts.Output.GetStats(),
	}
	if t := p.startedAt.Load(); t != nil {
		s.StartedAt = *t
	}
	if p.opts.Monitor != nil {
		ms := p.opts.Monitor.GetStats()
		s.Verification = &ms
	}
	if p.opts.Input != nil {
		is := p.opts.Input.GetStats()
		s.Input = &is
	}
	return s
}
