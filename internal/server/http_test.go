package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AnnixInvestments/annix-sub033/internal/config"
	"github.com/AnnixInvestments/annix-sub033/internal/device"
	"github.com/AnnixInvestments/annix-sub033/internal/device/devicetest"
	"github.com/AnnixInvestments/annix-sub033/internal/events"
	"github.com/AnnixInvestments/annix-sub033/internal/jobstore"
	"github.com/AnnixInvestments/annix-sub033/internal/meeting"
	"github.com/AnnixInvestments/annix-sub033/internal/metrics"
	"github.com/AnnixInvestments/annix-sub033/internal/postmeeting"
	"github.com/AnnixInvestments/annix-sub033/internal/transcript"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type apiFixture struct {
	server   *httptest.Server
	meetings *meeting.Manager
	bus      *events.Bus
	config   *config.Config
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := testLogger()
	dir := t.TempDir()

	store, err := transcript.NewStore(filepath.Join(dir, "transcripts"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	bus := events.NewBus()
	meetings, err := meeting.NewManager(logger, meeting.ManagerConfig{}, nil, store, bus, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(meetings.Stop)

	jobs, err := jobstore.Open[postmeeting.Job](filepath.Join(dir, "jobs"))
	if err != nil {
		t.Fatalf("Open job store failed: %v", err)
	}
	opts := postmeeting.DefaultOptions()
	opts.ArtifactDir = filepath.Join(dir, "artifacts")
	svc, err := postmeeting.NewService(jobs, opts, postmeeting.Dependencies{Events: bus}, logger)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	cfg := config.Default()
	cfg.Transcription.APIKey = "sk-secret"
	cfg.SMTP.Password = "hunter2"

	reg := prometheus.NewRegistry()
	h := NewHTTPServer(cfg.HTTP, logger, HTTPDeps{
		Config:   cfg,
		Devices:  devicetest.NewBackend(device.Info{ID: 0, Name: "Mic", MaxInputChannels: 1}, device.Info{ID: 1, Name: "CABLE Input", MaxOutputChannels: 2}),
		Meetings: meetings,
		Jobs:     svc,
		Bus:      bus,
		Metrics:  metrics.NewMetrics(reg),
		Gatherer: reg,
	})

	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)

	return &apiFixture{server: srv, meetings: meetings, bus: bus, config: cfg}
}

func (f *apiFixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func (f *apiFixture) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealthAndStatus(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.get(t, "/health")
	if resp.StatusCode != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("Unexpected health: %d %v", resp.StatusCode, body)
	}
	components := body["components"].(map[string]any)
	if _, ok := components["meetings"]; !ok {
		t.Error("Expected meetings component")
	}

	resp, body = f.get(t, "/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if _, ok := body["post_meeting"]; !ok {
		t.Error("Expected post_meeting status")
	}
}

func TestDevices(t *testing.T) {
	f := newAPIFixture(t)

	_, body := f.get(t, "/devices")
	if body["total_devices"].(float64) != 2 {
		t.Errorf("Expected 2 devices, got %v", body["total_devices"])
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.post(t, "/health", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}
}

func TestConfigIsSanitized(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.server.URL + "/config")
	if err != nil {
		t.Fatalf("GET /config failed: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	for _, secret := range []string{"sk-secret", "hunter2"} {
		if bytes.Contains(raw, []byte(secret)) {
			t.Errorf("Config response leaks %q", secret)
		}
	}
	if !bytes.Contains(raw, []byte(`"fail_open":true`)) {
		t.Errorf("Expected fail_open in config: %s", raw)
	}
}

func TestJobLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	resp, job := f.post(t, "/jobs", `{
		"user_id": "user-1",
		"provider": "google",
		"title": "Planning",
		"meeting_url": "https://meet.google.com/abc-defg-hij",
		"scheduled_start_time": "2026-03-02T14:00:00Z",
		"scheduled_end_time": "2026-03-02T15:00:00Z"
	}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %v", resp.StatusCode, job)
	}
	if job["platform"] != "meet" || job["meeting_id"] != "abc-defg-hij" || job["status"] != "pending" {
		t.Errorf("Unexpected job: %v", job)
	}
	id := job["id"].(string)

	_, list := f.get(t, "/jobs?user_id=user-1")
	if list["total_jobs"].(float64) != 1 {
		t.Errorf("Expected 1 job, got %v", list["total_jobs"])
	}

	resp, got := f.get(t, "/jobs/"+id)
	if resp.StatusCode != http.StatusOK || got["id"] != id {
		t.Errorf("Unexpected job lookup: %d %v", resp.StatusCode, got)
	}

	resp, cancelled := f.post(t, "/jobs/"+id+"/cancel", "")
	if resp.StatusCode != http.StatusOK || cancelled["status"] != "skipped" {
		t.Errorf("Unexpected cancel: %d %v", resp.StatusCode, cancelled)
	}

	resp, _ = f.post(t, "/jobs/"+id+"/cancel", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 on second cancel, got %d", resp.StatusCode)
	}

	_, skipped := f.get(t, "/jobs?status=skipped")
	if skipped["total_jobs"].(float64) != 1 {
		t.Errorf("Expected 1 skipped job, got %v", skipped["total_jobs"])
	}
}

func TestJobErrors(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown job", http.MethodGet, "/jobs/does-not-exist", "", http.StatusNotFound},
		{"invalid id", http.MethodGet, "/jobs/..bad", "", http.StatusBadRequest},
		{"bad status filter", http.MethodGet, "/jobs?status=exploded", "", http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/jobs", "{", http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/jobs", `{"user_id":"u","scheduled_end_time":"2026-03-02T15:00:00Z","colour":"red"}`, http.StatusBadRequest},
		{"missing user", http.MethodPost, "/jobs", `{"scheduled_end_time":"2026-03-02T15:00:00Z"}`, http.StatusBadRequest},
		{"cancel unknown", http.MethodPost, "/jobs/nope/cancel", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, f.server.URL+tt.path, strings.NewReader(tt.body))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestTranscriptNotFound(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.get(t, "/meetings/unknown/transcript")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.get(t, "/health")

	// The request is recorded after the response is written.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(f.server.URL + "/metrics")
		if err != nil {
			t.Fatalf("GET /metrics failed: %v", err)
		}
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if bytes.Contains(raw, []byte(`endpoint="/health"`)) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("Expected recorded /health request in metrics output")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func wsURL(base, path string) string {
	return "ws" + strings.TrimPrefix(base, "http") + path
}

func TestEventStream(t *testing.T) {
	f := newAPIFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f.server.URL, "/events"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.bus.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	f.bus.Publish(events.Event{Type: events.Muted, Source: "test", Timestamp: time.Now()})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e events.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if e.Type != events.Muted || e.Source != "test" {
		t.Errorf("Unexpected event %+v", e)
	}
}

func TestIngestSocket(t *testing.T) {
	f := newAPIFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f.server.URL, "/ingest/standup?title=Standup&sample_rate=16000"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if _, ok := f.meetings.GetSession("standup"); !ok {
		t.Fatal("Expected session to be created on connect")
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"speaker","speaker_id":"u1","speaker_name":"Alice"}`))
	conn.WriteMessage(websocket.BinaryMessage, make([]byte, 2048))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"end"}`))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := f.meetings.GetSession("standup"); !ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := f.meetings.GetSession("standup"); ok {
		t.Error("Session should be removed after end")
	}
}
