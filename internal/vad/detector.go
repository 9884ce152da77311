package vad

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/audio"
)

const (
	// DefaultThreshold is the window-average RMS energy that counts as speech.
	DefaultThreshold = 0.01
	// DefaultWindowSize is the number of frames averaged.
	DefaultWindowSize = 5
)

// State is the speech/silence classification of the current window.
type State int

const (
	Silence State = iota
	Speech
)

func (s State) String() string {
	if s == Speech {
		return "speech"
	}
	return "silence"
}

// Result is the outcome of processing a single frame.
type Result struct {
	Energy      float64   `json:"energy"`      // RMS of this frame
	Average     float64   `json:"average"`     // mean RMS over the window
	Probability float64   `json:"probability"` // average scaled to [0,1]
	State       State     `json:"state"`
	Changed     bool      `json:"changed"`
	Timestamp   time.Time `json:"timestamp"`
}

// Stats is exposed on the status API.
type Stats struct {
	FramesProcessed  uint64    `json:"frames_processed"`
	SpeechFrames     uint64    `json:"speech_frames"`
	SpeechPercentage float64   `json:"speech_percentage"`
	Transitions      uint64    `json:"transitions"`
	Threshold        float64   `json:"threshold"`
	WindowSize       int       `json:"window_size"`
	State            string    `json:"state"`
	LastProbability  float64   `json:"last_probability"`
	LastProcessed    time.Time `json:"last_processed"`
}

// Detector is an energy-based voice activity detector.
type Detector struct {
	threshold  float64
	windowSize int

	energies []float64
	next     int
	filled   int
	state    State

	onStateChange func(State, Result)
	onProbability func(float64)

	framesProcessed uint64
	speechFrames    uint64
	transitions     uint64
	lastProbability float64
	lastProcessed   time.Time

	mu sync.Mutex
}

// NewDetector creates a detector starting in Silence.
func NewDetector(threshold float64, windowSize int) (*Detector, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %f", threshold)
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	return &Detector{
		threshold:  threshold,
		windowSize: windowSize,
		energies:   make([]float64, windowSize),
	}, nil
}

// OnStateChange registers a callback fired only when the state flips.
func (d *Detector) OnStateChange(fn func(State, Result)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStateChange = fn
}

// OnProbability registers a callback fired for every frame.
func (d *Detector) OnProbability(fn func(float64)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onProbability = fn
}

// Process classifies one frame of samples.
func (d *Detector) Process(samples []int16) Result {
	energy := audio.RMS(samples)
	now := time.Now()

	d.mu.Lock()

	d.energies[d.next] = energy
	d.next = (d.next + 1) % d.windowSize
	if d.filled < d.windowSize {
		d.filled++
	}

	var sum float64
	for i := 0; i < d.filled; i++ {
		sum += d.energies[i]
	}
	avg := sum / float64(d.filled)

	probability := math.Min(1, math.Max(0, avg/(10*d.threshold)))

	newState := Silence
	if avg >= d.threshold {
		newState = Speech
	}
	changed := newState != d.state
	d.state = newState

	d.framesProcessed++
	if newState == Speech {
		d.speechFrames++
	}
	if changed {
		d.transitions++
	}
	d.lastProbability = probability
	d.lastProcessed = now

	onState := d.onStateChange
	onProb := d.onProbability
	d.mu.Unlock()

	result := Result{
		Energy:      energy,
		Average:     avg,
		Probability: probability,
		State:       newState,
		Changed:     changed,
		Timestamp:   now,
	}

	if onProb != nil {
		onProb(probability)
	}
	if changed && onState != nil {
		onState(newState, result)
	}

	return result
}

// State returns the current classification.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Reset clears the window and returns to Silence without firing callbacks.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.energies {
		d.energies[i] = 0
	}
	d.next = 0
	d.filled = 0
	d.state = Silence
	d.lastProbability = 0
}

// UpdateThreshold changes the speech threshold.
func (d *Detector) UpdateThreshold(threshold float64) error {
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %f", threshold)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.threshold = threshold
	return nil
}

// GetStats returns detector statistics.
func (d *Detector) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	pct := float64(0)
	if d.framesProcessed > 0 {
		pct = float64(d.speechFrames) / float64(d.framesProcessed) * 100
	}

	return Stats{
		FramesProcessed:  d.framesProcessed,
		SpeechFrames:     d.speechFrames,
		SpeechPercentage: pct,
		Transitions:      d.transitions,
		Threshold:        d.threshold,
		WindowSize:       d.windowSize,
		State:            d.state.String(),
		LastProbability:  d.lastProbability,
		LastProcessed:    d.lastProcessed,
	}
}
