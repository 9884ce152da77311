package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"missing endpoint", Config{APIKey: "k"}},
		{"missing key", Config{Endpoint: "http://localhost"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.config, nil); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestClientTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Unexpected authorization header %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("Bad multipart form: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("Expected default model, got %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("Expected language en, got %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("Missing file: %v", err)
		}
		data, _ := io.ReadAll(file)
		if header.Filename != "meeting.m4a" || string(data) != "audio-bytes" {
			t.Errorf("Unexpected upload %q: %q", header.Filename, data)
		}
		json.NewEncoder(w).Encode(Response{Text: "hello world", Language: "en"})
	}))
	defer srv.Close()

	client, err := NewClient(Config{Endpoint: srv.URL, APIKey: "secret", Language: "en"}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	resp, err := client.Transcribe(context.Background(), "meeting.m4a", bytes.NewReader([]byte("audio-bytes")))
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if resp.Text != "hello world" {
		t.Errorf("Expected text, got %q", resp.Text)
	}
	if resp.Confidence() != 1 {
		t.Errorf("Expected confidence 1 without segments, got %v", resp.Confidence())
	}
}

func TestClientRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(Response{Text: "ok"})
	}))
	defer srv.Close()

	client, _ := NewClient(Config{Endpoint: srv.URL, APIKey: "k", MaxRetries: 3, BaseBackoff: time.Millisecond}, nil)
	if _, err := client.Transcribe(context.Background(), "a.wav", bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}

	stats := client.GetStats()
	if stats.TotalRetries != 2 || stats.SuccessRequests != 1 || stats.TotalRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestClientRejectsEmptyAudio(t *testing.T) {
	client, _ := NewClient(Config{Endpoint: "http://127.0.0.1:1", APIKey: "k"}, nil)
	if _, err := client.Transcribe(context.Background(), "a.wav", bytes.NewReader(nil)); err == nil {
		t.Error("Expected error for empty audio")
	}
}

func TestResponseConfidence(t *testing.T) {
	r := Response{Segments: []Segment{{AvgLogprob: 0}, {AvgLogprob: 0}}}
	if r.Confidence() != 1 {
		t.Errorf("Expected 1, got %v", r.Confidence())
	}
	r = Response{Segments: []Segment{{AvgLogprob: -1}}}
	if c := r.Confidence(); c < 0.36 || c > 0.37 {
		t.Errorf("Expected ~0.368, got %v", c)
	}
}
