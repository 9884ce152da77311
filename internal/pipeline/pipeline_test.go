package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/audio"
	"github.com/AnnixInvestments/annix-sub033/internal/device"
	"github.com/AnnixInvestments/annix-sub033/internal/device/devicetest"
	"github.com/AnnixInvestments/annix-sub033/internal/events"
	"github.com/AnnixInvestments/annix-sub033/internal/gate"
	"github.com/AnnixInvestments/annix-sub033/internal/vad"
)

const frameSize = 512

var devices = []device.Info{
	{ID: 0, Name: "Mic", MaxInputChannels: 1},
	{ID: 1, Name: "Virtual Cable", MaxOutputChannels: 2},
}

type fixture struct {
	backend  *devicetest.Backend
	pipeline *Pipeline
	events   <-chan events.Event
	cancel   func()
}

func newFixture(t *testing.T, failOpen, withInput bool) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := devicetest.NewBackend(devices...)
	params := device.StreamParams{Channels: 1, SampleRate: 16000, FrameSize: frameSize}

	outParams := params
	outParams.DeviceID = 1
	output := device.NewOutput(backend, outParams, logger)

	var input *device.Input
	if withInput {
		inParams := params
		inParams.DeviceID = 0
		input = device.NewInput(backend, inParams, logger)
	}

	detector, err := vad.NewDetector(vad.DefaultThreshold, vad.DefaultWindowSize)
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}

	policy := gate.DefaultPolicy()
	policy.FailOpen = failOpen

	bus := events.NewBus()
	ch, cancel := bus.Subscribe(64)

	p, err := New(Options{
		Input:    input,
		Output:   output,
		Detector: detector,
		Gate:     gate.New(policy),
		Events:   bus,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	return &fixture{backend: backend, pipeline: p, events: ch, cancel: cancel}
}

func constantFrame(value int16) audio.Frame {
	f := audio.Frame{Samples: make([]int16, frameSize), SampleRate: 16000}
	for i := range f.Samples {
		f.Samples[i] = value
	}
	return f
}

func waitForWrites(t *testing.T, b *devicetest.Backend, n int) [][]int16 {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w := b.Writes(); len(w) >= n {
			return w
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d writes, got %d", n, len(b.Writes()))
	return nil
}

func allZero(s []int16) bool {
	for _, v := range s {
		if v != 0 {
			return false
		}
	}
	return true
}

func collect(ch <-chan events.Event) []events.Type {
	var out []events.Type
	for {
		select {
		case e := <-ch:
			out = append(out, e.Type)
		default:
			return out
		}
	}
}

func TestFailOpenPassesSpeech(t *testing.T) {
	f := newFixture(t, true, false)
	defer f.cancel()

	if err := f.pipeline.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		f.pipeline.Feed(constantFrame(0))
		waitForWrites(t, f.backend, i+1)
	}
	for i := 0; i < 10; i++ {
		f.pipeline.Feed(constantFrame(16000))
		waitForWrites(t, f.backend, 6+i)
	}

	writes := waitForWrites(t, f.backend, 15)
	for i, w := range writes {
		if len(w) != frameSize {
			t.Fatalf("Write %d has length %d", i, len(w))
		}
		if i < 5 && !allZero(w) {
			t.Errorf("Silent frame %d must be muted", i)
		}
		if i >= 5 && w[0] != 16000 {
			t.Errorf("Speech frame %d must pass through, got %d", i, w[0])
		}
	}

	if err := f.pipeline.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	types := collect(f.events)
	unmuted := 0
	for _, typ := range types {
		if typ == events.Unmuted {
			unmuted++
		}
	}
	if unmuted != 1 {
		t.Errorf("Expected exactly one unmuted event, got %d (%v)", unmuted, types)
	}
	if len(types) == 0 || types[0] != events.Started || types[len(types)-1] != events.Stopped {
		t.Errorf("Expected started ... stopped, got %v", types)
	}
}

func TestFailClosedMutesUnverifiedSpeech(t *testing.T) {
	f := newFixture(t, false, false)
	defer f.cancel()

	if err := f.pipeline.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.pipeline.Stop()

	for i := 0; i < 8; i++ {
		f.pipeline.Feed(constantFrame(16000))
	}

	for i, w := range waitForWrites(t, f.backend, 8) {
		if len(w) != frameSize || !allZero(w) {
			t.Errorf("Write %d must be silence of frame length", i)
		}
	}
	if f.pipeline.Status().Gate.State != "muted" {
		t.Errorf("Expected muted gate, got %s", f.pipeline.Status().Gate.State)
	}
}

func TestCaptureLoop(t *testing.T) {
	f := newFixture(t, true, true)
	defer f.cancel()

	if err := f.pipeline.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		f.backend.Feed(constantFrame(8000).Samples)
	}
	waitForWrites(t, f.backend, 4)

	status := f.pipeline.Status()
	if !status.Running || status.Input == nil || status.Input.Frames < 4 {
		t.Errorf("Unexpected status: %+v", status)
	}

	done := make(chan error, 1)
	go func() { done <- f.pipeline.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a pending capture read")
	}

	if err := f.pipeline.Stop(); err != nil {
		t.Errorf("Second Stop failed: %v", err)
	}
	if f.pipeline.Feed(constantFrame(1)) {
		t.Error("Feed must report false after Stop")
	}
}

func TestStartDeviceError(t *testing.T) {
	f := newFixture(t, true, false)
	defer f.cancel()
	f.backend.SetBusy(1)

	err := f.pipeline.Start(context.Background())
	var devErr *device.DeviceError
	if !errors.As(err, &devErr) || !errors.Is(err, device.ErrDeviceBusy) {
		t.Fatalf("Expected busy DeviceError, got %v", err)
	}
	if f.pipeline.Running() {
		t.Error("Pipeline must not run after a device error")
	}
}
