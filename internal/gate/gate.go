// Package gate decides, frame by frame, whether live audio may pass to the
// output device. It combines the VAD state with the most recent completed
// speaker-verification result and a fail-open/fail-closed policy.
package gate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/vad"
)

// State is the gate output.
type State int32

const (
	Muted State = iota
	Unmuted
)

func (s State) String() string {
	if s == Unmuted {
		return "unmuted"
	}
	return "muted"
}

// Decision is the verdict of a verification call.
type Decision int

const (
	Unauthorized Decision = iota
	Authorized
)

func (d Decision) String() string {
	if d == Authorized {
		return "authorized"
	}
	return "unauthorized"
}

// VerificationResult is the outcome of one speaker-verification call.
type VerificationResult struct {
	Confidence float64   `json:"confidence"`
	Decision   Decision  `json:"-"`
	Timestamp  time.Time `json:"timestamp"`
}

// Reasons attached to gate changes.
const (
	ReasonSilence       = "silence"
	ReasonVerified      = "verified"
	ReasonLowConfidence = "low_confidence"
	ReasonUnauthorized  = "unauthorized"
	ReasonFailOpen      = "fail_open"
	ReasonFailClosed    = "fail_closed"
)

// Policy configures the gate.
type Policy struct {
	VerificationThreshold float64
	StaleAfter            time.Duration
	FailOpen              bool
}

// DefaultPolicy returns the stock gate policy.
func DefaultPolicy() Policy {
	return Policy{
		VerificationThreshold: 0.75,
		StaleAfter:            300 * time.Millisecond,
		FailOpen:              true,
	}
}

// Change describes a muted/unmuted transition.
type Change struct {
	State     State     `json:"-"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats is exposed on the status API.
type Stats struct {
	State           string              `json:"state"`
	Evaluations     uint64              `json:"evaluations"`
	Transitions     uint64              `json:"transitions"`
	LastReason      string              `json:"last_reason"`
	LastResult      *VerificationResult `json:"last_verification,omitempty"`
	LastDecision    string              `json:"last_decision,omitempty"`
	FailOpen        bool                `json:"fail_open"`
	Threshold       float64             `json:"verification_threshold"`
	StaleAfterMilli int64               `json:"stale_after_ms"`
}

// Gate holds the mute decision in atomic cells so readers on other goroutines
// never observe a partially applied state.
type Gate struct {
	policy Policy

	state       atomic.Int32
	last        atomic.Pointer[VerificationResult]
	lastReason  atomic.Pointer[string]
	evaluations atomic.Uint64
	transitions atomic.Uint64

	now func() time.Time

	mu       sync.RWMutex
	onChange func(Change)
}

// New creates a gate in the Muted state.
func New(policy Policy) *Gate {
	if policy.StaleAfter <= 0 {
		policy.StaleAfter = DefaultPolicy().StaleAfter
	}
	g := &Gate{policy: policy, now: time.Now}
	g.state.Store(int32(Muted))
	return g
}

// SetClock replaces the time source. Tests only.
func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}

// OnChange registers a callback fired once per muted/unmuted transition.
func (g *Gate) OnChange(fn func(Change)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = fn
}

// UpdateVerification publishes a newly completed verification result.
func (g *Gate) UpdateVerification(r VerificationResult) {
	if r.Timestamp.IsZero() {
		r.Timestamp = g.now()
	}
	g.last.Store(&r)
}

// ClearVerification forgets the last result, e.g. after a failed verification call.
func (g *Gate) ClearVerification() {
	g.last.Store(nil)
}

// LastVerification returns the retained result, if any.
func (g *Gate) LastVerification() (VerificationResult, bool) {
	r := g.last.Load()
	if r == nil {
		return VerificationResult{}, false
	}
	return *r, true
}

// Decide computes the gate state for a speech state without applying it.
func (g *Gate) Decide(speech vad.State) (State, string) {
	if speech != vad.Speech {
		return Muted, ReasonSilence
	}

	r := g.last.Load()
	if r == nil || g.now().Sub(r.Timestamp) > g.policy.StaleAfter {
		if g.policy.FailOpen {
			return Unmuted, ReasonFailOpen
		}
		return Muted, ReasonFailClosed
	}

	switch {
	case r.Decision != Authorized:
		return Muted, ReasonUnauthorized
	case r.Confidence < g.policy.VerificationThreshold:
		return Muted, ReasonLowConfidence
	default:
		return Unmuted, ReasonVerified
	}
}

// Evaluate applies the decision for this frame and returns the resulting state.
func (g *Gate) Evaluate(speech vad.State) State {
	next, reason := g.Decide(speech)
	g.evaluations.Add(1)

	prev := State(g.state.Swap(int32(next)))
	if prev == next {
		return next
	}

	g.transitions.Add(1)
	g.lastReason.Store(&reason)

	g.mu.RLock()
	fn := g.onChange
	g.mu.RUnlock()
	if fn != nil {
		fn(Change{State: next, Reason: reason, Timestamp: g.now()})
	}

	return next
}

// State returns the current gate state.
func (g *Gate) State() State {
	return State(g.state.Load())
}

// Policy returns the configured policy.
func (g *Gate) Policy() Policy {
	return g.policy
}

// GetStats returns gate statistics.
func (g *Gate) GetStats() Stats {
	stats := Stats{
		State:           g.State().String(),
		Evaluations:     g.evaluations.Load(),
		Transitions:     g.transitions.Load(),
		FailOpen:        g.policy.FailOpen,
		Threshold:       g.policy.VerificationThreshold,
		StaleAfterMilli: g.policy.StaleAfter.Milliseconds(),
	}
	if reason := g.lastReason.Load(); reason != nil {
		stats.LastReason = *reason
	}
	if r := g.last.Load(); r != nil {
		copied := *r
		stats.LastResult = &copied
		stats.LastDecision = r.Decision.String()
	}
	return stats
}
