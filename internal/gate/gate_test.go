package gate

import (
	"testing"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/vad"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGate(failOpen bool) (*Gate, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	g := New(Policy{VerificationThreshold: 0.75, StaleAfter: 300 * time.Millisecond, FailOpen: failOpen})
	g.SetClock(clock.now)
	return g, clock
}

func TestSilenceAlwaysMuted(t *testing.T) {
	for _, failOpen := range []bool{true, false} {
		g, clock := newTestGate(failOpen)
		g.UpdateVerification(VerificationResult{Confidence: 0.99, Decision: Authorized, Timestamp: clock.now()})

		for i := 0; i < 10; i++ {
			if got := g.Evaluate(vad.Silence); got != Muted {
				t.Fatalf("failOpen=%v: silence must mute, got %s", failOpen, got)
			}
		}
	}
}

func TestDecisionTable(t *testing.T) {
	tests := []struct {
		name     string
		failOpen bool
		result   *VerificationResult
		age      time.Duration
		expected State
		reason   string
	}{
		{"no result fail open", true, nil, 0, Unmuted, ReasonFailOpen},
		{"no result fail closed", false, nil, 0, Muted, ReasonFailClosed},
		{"authorized above threshold", false, &VerificationResult{Confidence: 0.9, Decision: Authorized}, 100 * time.Millisecond, Unmuted, ReasonVerified},
		{"authorized at threshold", false, &VerificationResult{Confidence: 0.75, Decision: Authorized}, 0, Unmuted, ReasonVerified},
		{"authorized below threshold", true, &VerificationResult{Confidence: 0.6, Decision: Authorized}, 0, Muted, ReasonLowConfidence},
		{"unauthorized", true, &VerificationResult{Confidence: 0.95, Decision: Unauthorized}, 0, Muted, ReasonUnauthorized},
		{"stale result fail open", true, &VerificationResult{Confidence: 0.1, Decision: Unauthorized}, 400 * time.Millisecond, Unmuted, ReasonFailOpen},
		{"stale result fail closed", false, &VerificationResult{Confidence: 0.99, Decision: Authorized}, 400 * time.Millisecond, Muted, ReasonFailClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, clock := newTestGate(tt.failOpen)
			if tt.result != nil {
				r := *tt.result
				r.Timestamp = clock.now()
				g.UpdateVerification(r)
				clock.advance(tt.age)
			}

			state, reason := g.Decide(vad.Speech)
			if state != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, state)
			}
			if reason != tt.reason {
				t.Errorf("Expected reason %q, got %q", tt.reason, reason)
			}
		})
	}
}

func TestFailOpenUnmutesExactlyOnce(t *testing.T) {
	g, _ := newTestGate(true)

	var changes []Change
	g.OnChange(func(c Change) { changes = append(changes, c) })

	for i := 0; i < 20; i++ {
		if got := g.Evaluate(vad.Speech); got != Unmuted {
			t.Fatalf("Frame %d: expected unmuted, got %s", i, got)
		}
	}

	if len(changes) != 1 {
		t.Fatalf("Expected exactly one change event, got %d", len(changes))
	}
	if changes[0].State != Unmuted || changes[0].Reason != ReasonFailOpen {
		t.Errorf("Unexpected change: %+v", changes[0])
	}
}

func TestFailClosedNeverUnmutesWithoutResult(t *testing.T) {
	g, clock := newTestGate(false)

	changes := 0
	g.OnChange(func(Change) { changes++ })

	for i := 0; i < 50; i++ {
		if got := g.Evaluate(vad.Speech); got != Muted {
			t.Fatalf("Frame %d: expected muted, got %s", i, got)
		}
		clock.advance(32 * time.Millisecond)
	}

	if changes != 0 {
		t.Errorf("Expected no change events, got %d", changes)
	}
}

func TestClearVerificationFallsBackToPolicy(t *testing.T) {
	g, clock := newTestGate(false)
	g.UpdateVerification(VerificationResult{Confidence: 0.9, Decision: Authorized, Timestamp: clock.now()})

	if g.Evaluate(vad.Speech) != Unmuted {
		t.Fatal("Expected unmuted with fresh authorized result")
	}

	g.ClearVerification()
	if _, ok := g.LastVerification(); ok {
		t.Error("Expected no retained result after clear")
	}
	if g.Evaluate(vad.Speech) != Muted {
		t.Error("Expected fail-closed mute after clearing the result")
	}
}

func TestTransitionSequence(t *testing.T) {
	g, clock := newTestGate(false)

	var states []State
	g.OnChange(func(c Change) { states = append(states, c.State) })

	g.UpdateVerification(VerificationResult{Confidence: 0.9, Decision: Authorized, Timestamp: clock.now()})
	g.Evaluate(vad.Speech)  // unmute
	g.Evaluate(vad.Speech)  // no change
	g.Evaluate(vad.Silence) // mute
	g.Evaluate(vad.Silence) // no change
	g.Evaluate(vad.Speech)  // unmute

	expected := []State{Unmuted, Muted, Unmuted}
	if len(states) != len(expected) {
		t.Fatalf("Expected %d transitions, got %d (%v)", len(expected), len(states), states)
	}
	for i := range expected {
		if states[i] != expected[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, expected[i], states[i])
		}
	}

	stats := g.GetStats()
	if stats.Transitions != 3 || stats.Evaluations != 5 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.LastDecision != "authorized" {
		t.Errorf("Expected last decision authorized, got %q", stats.LastDecision)
	}
}

func TestUpdateVerificationStampsTime(t *testing.T) {
	g, clock := newTestGate(true)
	g.UpdateVerification(VerificationResult{Confidence: 0.8, Decision: Authorized})

	r, ok := g.LastVerification()
	if !ok {
		t.Fatal("Expected retained result")
	}
	if !r.Timestamp.Equal(clock.now()) {
		t.Errorf("Expected timestamp %v, got %v", clock.now(), r.Timestamp)
	}
}
