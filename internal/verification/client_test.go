package verification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/audio"
	"github.com/AnnixInvestments/annix-sub033/internal/gate"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}, nil); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name       string
		response   Response
		decision   gate.Decision
		confidence float64
	}{
		{"match", Response{Confidence: 0.91, Authorized: true}, gate.Authorized, 0.91},
		{"no match", Response{Confidence: 0.12, Authorized: false}, gate.Unauthorized, 0.12},
		{"clamped", Response{Confidence: 1.7, Authorized: true}, gate.Authorized, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := r.ParseMultipartForm(1 << 20); err != nil {
					t.Errorf("Bad multipart form: %v", err)
				}
				if got := r.FormValue("speaker_id"); got != "alice" {
					t.Errorf("Expected speaker_id alice, got %q", got)
				}
				if got := r.FormValue("sample_rate"); got != "16000" {
					t.Errorf("Expected sample_rate 16000, got %q", got)
				}
				file, _, err := r.FormFile("file")
				if err != nil {
					t.Errorf("Missing file: %v", err)
				} else {
					head := make([]byte, 4)
					file.Read(head)
					if string(head) != "RIFF" {
						t.Errorf("Expected WAV upload, got %q", head)
					}
				}
				json.NewEncoder(w).Encode(tt.response)
			}))
			defer srv.Close()

			client, err := NewClient(Config{Endpoint: srv.URL}, nil)
			if err != nil {
				t.Fatalf("NewClient failed: %v", err)
			}

			res, err := client.Verify(context.Background(), make([]int16, 8000), audio.DefaultSampleRate, "alice")
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if res.Decision != tt.decision || res.Confidence != tt.confidence {
				t.Errorf("Expected %s/%v, got %s/%v", tt.decision, tt.confidence, res.Decision, res.Confidence)
			}
			if res.Timestamp.IsZero() {
				t.Error("Expected timestamp to be set")
			}
		})
	}
}

func TestVerifyRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Response{Confidence: 0.8, Authorized: true})
	}))
	defer srv.Close()

	client, _ := NewClient(Config{Endpoint: srv.URL, MaxRetries: 2, BaseBackoff: time.Millisecond}, nil)
	if _, err := client.Verify(context.Background(), make([]int16, 1600), 16000, "alice"); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}

	stats := client.GetStats()
	if stats.TotalRetries != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestVerifyPermanentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown speaker", http.StatusNotFound)
	}))
	defer srv.Close()

	client, _ := NewClient(Config{Endpoint: srv.URL, MaxRetries: 3, BaseBackoff: time.Millisecond}, nil)
	if _, err := client.Verify(context.Background(), make([]int16, 1600), 16000, "bob"); err == nil {
		t.Fatal("Expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected no retries on 404, got %d calls", calls.Load())
	}
	if client.GetStats().FailedRequests != 1 {
		t.Errorf("Expected 1 failed request, got %+v", client.GetStats())
	}
}

func TestVerifyEmptyAudio(t *testing.T) {
	client, _ := NewClient(Config{Endpoint: "http://127.0.0.1:1"}, nil)
	if _, err := client.Verify(context.Background(), nil, 16000, "alice"); err == nil {
		t.Error("Expected error for empty audio")
	}
}
