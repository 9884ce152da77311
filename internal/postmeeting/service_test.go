package postmeeting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/email"
	"github.com/AnnixInvestments/annix-sub033/internal/events"
	"github.com/AnnixInvestments/annix-sub033/internal/jobstore"
	"github.com/AnnixInvestments/annix-sub033/internal/recording"
	"github.com/AnnixInvestments/annix-sub033/internal/summary"
	"github.com/AnnixInvestments/annix-sub033/internal/transcription"
)

var meetingEnd = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu         sync.Mutex
	ended      bool
	endTime    time.Time
	recordings []recording.Metadata
	checks     int

	listErr     error
	downloadErr error
	lists       int
	downloads   int
}

func (p *fakeProvider) Platform() string { return recording.PlatformZoom }

func (p *fakeProvider) CheckMeetingEnded(ctx context.Context, c recording.Credentials, id string) (recording.EndStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks++
	return recording.EndStatus{Ended: p.ended, EndTime: p.endTime}, nil
}

func (p *fakeProvider) ListRecordings(ctx context.Context, c recording.Credentials, id string) ([]recording.Metadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lists++
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.recordings, nil
}

func (p *fakeProvider) DownloadRecording(ctx context.Context, c recording.Credentials, rec recording.Metadata, dest string) error {
	p.mu.Lock()
	p.downloads++
	err := p.downloadErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte("fake m4a"), 0o644)
}

type fakeTranscriber struct {
	mu    sync.Mutex
	err   error
	block chan struct{}
	calls int
}

func (f *fakeTranscriber) TranscribeFile(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.err != nil {
		return "", f.err
	}
	return "We agreed to ship on Friday.", nil
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSummarizer struct{}

func (fakeSummarizer) Generate(ctx context.Context, m summary.Meeting, entries []transcription.Entry) (*summary.Summary, error) {
	return &summary.Summary{
		Title:     m.Title,
		Duration:  int(m.Duration.Seconds()),
		Attendees: m.Attendees,
		Overview:  entries[0].Text,
		Decisions: []string{"Ship on Friday"},
	}, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []email.Message
}

func (f *fakeSender) Send(ctx context.Context, msg email.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) types() []events.Type {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.Type, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	svc         *Service
	store       *jobstore.Store[Job]
	provider    *fakeProvider
	transcriber *fakeTranscriber
	sender      *fakeSender
	bus         *recordingBus
	logs        *lockedBuffer
	now         time.Time
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// records decodes every JSON log line with the given message.
func (b *lockedBuffer) records(t *testing.T, msg string) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	for _, line := range bytes.Split(b.buf.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			t.Fatalf("Bad log line %q: %v", line, err)
		}
		if rec["msg"] == msg {
			out = append(out, rec)
		}
	}
	return out
}

func newHarness(t *testing.T, mutate func(*Options, *Dependencies)) *harness {
	t.Helper()

	store, err := jobstore.Open[Job](filepath.Join(t.TempDir(), "jobs"))
	if err != nil {
		t.Fatalf("Open store failed: %v", err)
	}

	h := &harness{
		store:       store,
		provider:    &fakeProvider{ended: true, recordings: []recording.Metadata{{RecordingID: "r1", DownloadURL: "https://zoom.example/r1"}}},
		transcriber: &fakeTranscriber{},
		sender:      &fakeSender{},
		bus:         &recordingBus{},
		logs:        &lockedBuffer{},
		now:         meetingEnd.Add(10 * time.Minute),
	}

	opts := DefaultOptions()
	opts.ArtifactDir = filepath.Join(t.TempDir(), "artifacts")
	deps := Dependencies{
		Providers:   recording.NewRegistry(h.provider),
		Credentials: NewStaticCredentials(map[string]recording.Credentials{recording.PlatformZoom: {AccessToken: "tok"}}),
		Transcriber: h.transcriber,
		Summarizer:  fakeSummarizer{},
		Email:       h.sender,
		Events:      h.bus,
	}
	if mutate != nil {
		mutate(&opts, &deps)
	}

	svc, err := NewService(store, opts, deps, slog.New(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	svc.SetClock(func() time.Time { return h.now })
	h.svc = svc
	return h
}

func (h *harness) create(t *testing.T, mutate func(*CreateRequest)) *Job {
	t.Helper()
	req := CreateRequest{
		UserID:             "user-1",
		Provider:           "zoom",
		Title:              "Weekly sync",
		MeetingURL:         "https://zoom.us/j/123456789",
		Attendees:          []summary.Attendee{{Name: "Alice", Email: "alice@example.com"}},
		OrganizerEmail:     "owner@example.com",
		ScheduledStartTime: meetingEnd.Add(-time.Hour),
		ScheduledEndTime:   meetingEnd,
	}
	if mutate != nil {
		mutate(&req)
	}
	j, err := h.svc.CreateJob(req)
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	return j
}

func (h *harness) reload(t *testing.T, id string) *Job {
	t.Helper()
	j, err := h.svc.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	return j
}

func TestJobRunsToCompletion(t *testing.T) {
	h := newHarness(t, nil)
	job := h.create(t, nil)

	if job.Platform != recording.PlatformZoom || job.MeetingID != "123456789" {
		t.Fatalf("Unexpected derived fields: platform=%s meeting=%s", job.Platform, job.MeetingID)
	}

	h.svc.Tick(context.Background())

	got := h.reload(t, job.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("Expected completed, got %s (%s)", got.Status, got.ErrorMessage)
	}
	if got.ActualEndTime == nil || !got.ActualEndTime.Equal(h.now) {
		t.Errorf("Expected actual end at check time, got %v", got.ActualEndTime)
	}
	if !strings.HasSuffix(got.RecordingPath, "recording.m4a") || got.RecordingURL != "https://zoom.example/r1" {
		t.Errorf("Unexpected recording fields: %s %s", got.RecordingPath, got.RecordingURL)
	}
	for _, p := range []string{got.RecordingPath, got.TranscriptPath, got.SummaryPath} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("Artifact %q missing: %v", p, err)
		}
	}
	for _, name := range []string{"summary.html", "summary.txt"} {
		if _, err := os.Stat(filepath.Join(filepath.Dir(got.SummaryPath), name)); err != nil {
			t.Errorf("%s missing: %v", name, err)
		}
	}
	if got.EmailSentAt == nil {
		t.Error("Expected email_sent_at to be set")
	}

	if len(h.sender.sent) != 1 {
		t.Fatalf("Expected 1 email, got %d", len(h.sender.sent))
	}
	msg := h.sender.sent[0]
	if msg.Subject != "Meeting Summary: Weekly sync" || msg.To[0] != "alice@example.com" {
		t.Errorf("Unexpected message: %+v", msg)
	}

	types := h.bus.types()
	if types[0] != events.JobStarted || types[len(types)-1] != events.JobCompleted {
		t.Errorf("Unexpected event sequence: %v", types)
	}
}

func TestJobWaitsForGracePeriod(t *testing.T) {
	h := newHarness(t, nil)
	h.now = meetingEnd.Add(2 * time.Minute)
	job := h.create(t, nil)

	h.svc.Tick(context.Background())

	if got := h.reload(t, job.ID); got.Status != StatusPending {
		t.Errorf("Expected pending inside grace period, got %s", got.Status)
	}
	if h.provider.checks != 0 {
		t.Errorf("Provider should not be asked before grace elapses")
	}
}

func TestJobFailsAfterMaxRetriesPlusOneAttempts(t *testing.T) {
	h := newHarness(t, nil)
	h.transcriber.err = errors.New("upstream 503")
	job := h.create(t, nil)

	for i := 1; i <= 3; i++ {
		h.svc.Tick(context.Background())
		got := h.reload(t, job.ID)
		if got.Status != StatusTranscribing {
			t.Fatalf("Attempt %d: expected transcribing, got %s", i, got.Status)
		}
		if got.RetryCount != i || !strings.Contains(got.ErrorMessage, "upstream 503") {
			t.Fatalf("Attempt %d: retry=%d error=%q", i, got.RetryCount, got.ErrorMessage)
		}
	}

	h.svc.Tick(context.Background())
	got := h.reload(t, job.ID)
	if got.Status != StatusFailed {
		t.Fatalf("Expected failed, got %s", got.Status)
	}
	if !strings.HasPrefix(got.ErrorMessage, "max retries exceeded") {
		t.Errorf("Unexpected error message %q", got.ErrorMessage)
	}
	if calls := h.transcriber.callCount(); calls != 4 {
		t.Errorf("Expected 4 attempts, got %d", calls)
	}

	h.svc.Tick(context.Background())
	if calls := h.transcriber.callCount(); calls != 4 {
		t.Errorf("Failed job should not be retried, got %d attempts", calls)
	}
}

func TestRecordingFetchFailsAfterMaxRetriesPlusOneAttempts(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(p *fakeProvider)
		calls   func(p *fakeProvider) int
		message string
	}{
		{
			name:    "list always fails",
			setup:   func(p *fakeProvider) { p.listErr = errors.New("zoom 500") },
			calls:   func(p *fakeProvider) int { return p.lists },
			message: "list recordings",
		},
		{
			name:    "download always fails",
			setup:   func(p *fakeProvider) { p.downloadErr = errors.New("connection reset") },
			calls:   func(p *fakeProvider) int { return p.downloads },
			message: "download recording",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			tt.setup(h.provider)
			job := h.create(t, nil)

			for i := 1; i <= 3; i++ {
				h.svc.Tick(context.Background())
				got := h.reload(t, job.ID)
				if got.Status != StatusFetchingRecording {
					t.Fatalf("Attempt %d: expected fetching_recording, got %s", i, got.Status)
				}
				if got.RetryCount != i || !strings.Contains(got.ErrorMessage, tt.message) {
					t.Fatalf("Attempt %d: retry=%d error=%q", i, got.RetryCount, got.ErrorMessage)
				}
			}

			h.svc.Tick(context.Background())
			got := h.reload(t, job.ID)
			if got.Status != StatusFailed {
				t.Fatalf("Expected failed, got %s", got.Status)
			}
			if got.RecordingPath != "" {
				t.Errorf("No recording should be recorded, got %q", got.RecordingPath)
			}
			if calls := tt.calls(h.provider); calls != 4 {
				t.Errorf("Expected 4 fetch attempts, got %d", calls)
			}
			if h.transcriber.callCount() != 0 {
				t.Error("Transcription must not run after a failed fetch")
			}

			h.svc.Tick(context.Background())
			if calls := tt.calls(h.provider); calls != 4 {
				t.Errorf("Failed job should not be retried, got %d attempts", calls)
			}
		})
	}
}

func TestJobLogsCarryAttributes(t *testing.T) {
	h := newHarness(t, nil)
	h.transcriber.err = errors.New("upstream 503")
	job := h.create(t, nil)

	h.svc.Tick(context.Background())

	created := h.logs.records(t, "Post-meeting job created")
	if len(created) != 1 || created[0]["job_id"] != job.ID || created[0]["platform"] != "zoom" {
		t.Errorf("Unexpected creation log: %v", created)
	}

	retries := h.logs.records(t, "Job stage failed, will retry")
	if len(retries) != 1 {
		t.Fatalf("Expected one retry log, got %d", len(retries))
	}
	rec := retries[0]
	if rec["job_id"] != job.ID || rec["stage"] != string(StatusTranscribing) {
		t.Errorf("Expected job and stage attributes, got %v", rec)
	}
	if rec["attempt"] != float64(1) || rec["max_retries"] != float64(3) || rec["error"] != "transcribe recording: upstream 503" {
		t.Errorf("Unexpected retry attributes: %v", rec)
	}

	transitions := h.logs.records(t, "Job transition")
	if len(transitions) == 0 || transitions[0]["from"] != string(StatusPending) || transitions[0]["to"] != string(StatusDetectingEnd) {
		t.Errorf("Unexpected transition logs: %v", transitions)
	}
}

func TestJobSkippedAfterBackstop(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.ended = false
	job := h.create(t, nil)

	h.svc.Tick(context.Background())
	if got := h.reload(t, job.ID); got.Status != StatusDetectingEnd {
		t.Fatalf("Expected detecting_end, got %s", got.Status)
	}

	h.now = meetingEnd.Add(6*time.Hour + time.Minute)
	h.svc.Tick(context.Background())

	got := h.reload(t, job.ID)
	if got.Status != StatusSkipped {
		t.Fatalf("Expected skipped, got %s", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "backstop") {
		t.Errorf("Unexpected reason %q", got.ErrorMessage)
	}
}

func TestAutomationDisabledSkips(t *testing.T) {
	h := newHarness(t, nil)
	disabled := false
	job := h.create(t, func(r *CreateRequest) { r.AutomationEnabled = &disabled })

	h.svc.Tick(context.Background())

	if got := h.reload(t, job.ID); got.Status != StatusSkipped {
		t.Errorf("Expected skipped, got %s", got.Status)
	}
	if h.transcriber.callCount() != 0 {
		t.Error("No stage should run for a disabled job")
	}
}

func TestNoProviderUsesScheduledEnd(t *testing.T) {
	h := newHarness(t, nil)
	job := h.create(t, func(r *CreateRequest) {
		r.Provider = ""
		r.MeetingURL = ""
	})

	h.svc.Tick(context.Background())

	got := h.reload(t, job.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("Expected completed, got %s", got.Status)
	}
	if got.ActualEndTime == nil || !got.ActualEndTime.Equal(meetingEnd) {
		t.Errorf("Expected scheduled end as actual end, got %v", got.ActualEndTime)
	}
	if got.RecordingPath != "" || got.TranscriptPath != "" || got.EmailSentAt != nil {
		t.Errorf("Stages without inputs should pass through: %+v", got)
	}
}

func TestMissingCredentialsFailsImmediately(t *testing.T) {
	h := newHarness(t, func(o *Options, d *Dependencies) {
		d.Credentials = NewStaticCredentials(nil)
	})
	job := h.create(t, nil)

	h.svc.Tick(context.Background())

	got := h.reload(t, job.ID)
	if got.Status != StatusFailed || got.RetryCount != 0 {
		t.Errorf("Expected immediate failure, got %s after %d retries", got.Status, got.RetryCount)
	}
	if !strings.Contains(got.ErrorMessage, "missing platform credentials") {
		t.Errorf("Unexpected message %q", got.ErrorMessage)
	}
}

func TestDisabledStagesPassThrough(t *testing.T) {
	h := newHarness(t, func(o *Options, d *Dependencies) {
		o.EnableTranscription = false
	})
	job := h.create(t, nil)

	h.svc.Tick(context.Background())

	got := h.reload(t, job.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("Expected completed, got %s", got.Status)
	}
	if got.RecordingPath == "" {
		t.Error("Recording stage should still run")
	}
	if got.TranscriptPath != "" || got.SummaryPath != "" || len(h.sender.sent) != 0 {
		t.Error("Stages depending on the transcript should be passed through")
	}
}

func TestRecipientsFallBackToOrganizer(t *testing.T) {
	tests := []struct {
		name      string
		attendees []summary.Attendee
		organizer string
		want      []string
	}{
		{"attendees", []summary.Attendee{{Email: "a@x.com"}, {Email: "A@x.com"}, {Name: "NoMail"}}, "o@x.com", []string{"a@x.com"}},
		{"organizer", []summary.Attendee{{Name: "NoMail"}}, "o@x.com", []string{"o@x.com"}},
		{"none", nil, "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &Job{Attendees: tt.attendees, OrganizerEmail: tt.organizer}
			got := j.Recipients()
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestCancel(t *testing.T) {
	h := newHarness(t, nil)
	job := h.create(t, nil)

	got, err := h.svc.Cancel(job.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if got.Status != StatusSkipped || got.ErrorMessage != "cancelled" {
		t.Errorf("Unexpected cancelled job: %+v", got)
	}

	if _, err := h.svc.Cancel(job.ID); !errors.Is(err, ErrTerminal) {
		t.Errorf("Expected ErrTerminal, got %v", err)
	}
	if _, err := h.svc.Cancel("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	h.svc.Tick(context.Background())
	if h.provider.checks != 0 {
		t.Error("Cancelled job should not be processed")
	}
}

func TestCancelDuringStageStopsProcessing(t *testing.T) {
	h := newHarness(t, nil)
	h.transcriber.block = make(chan struct{})
	job := h.create(t, nil)

	done := make(chan struct{})
	go func() {
		h.svc.Tick(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.transcriber.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := h.svc.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	close(h.transcriber.block)
	<-done

	got := h.reload(t, job.ID)
	if got.Status != StatusSkipped || got.TranscriptPath != "" {
		t.Errorf("Cancelled job was overwritten: %s %q", got.Status, got.TranscriptPath)
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	h := newHarness(t, nil)
	h.transcriber.block = make(chan struct{})
	h.create(t, nil)

	done := make(chan struct{})
	go func() {
		h.svc.Tick(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.transcriber.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.svc.Tick(context.Background())
	close(h.transcriber.block)
	<-done

	stats := h.svc.GetStats()
	if stats.Ticks != 1 || stats.SkippedTicks != 1 {
		t.Errorf("Expected 1 tick and 1 skipped, got %d and %d", stats.Ticks, stats.SkippedTicks)
	}
	if stats.JobsByStatus[StatusCompleted] != 1 {
		t.Errorf("Expected the job to complete, got %v", stats.JobsByStatus)
	}
}

func TestJobsForUser(t *testing.T) {
	h := newHarness(t, nil)
	h.now = meetingEnd.Add(-time.Hour)
	h.create(t, nil)
	h.create(t, func(r *CreateRequest) { r.UserID = "user-2" })
	other := h.create(t, nil)
	h.svc.Cancel(other.ID)

	all, err := h.svc.JobsForUser("user-1", "")
	if err != nil || len(all) != 2 {
		t.Fatalf("Expected 2 jobs for user-1, got %d (%v)", len(all), err)
	}

	skipped, _ := h.svc.JobsForUser("user-1", StatusSkipped)
	if len(skipped) != 1 || skipped[0].ID != other.ID {
		t.Errorf("Unexpected skipped jobs: %+v", skipped)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	end := meetingEnd
	tests := []struct {
		name    string
		req     CreateRequest
		wantErr bool
	}{
		{"valid", CreateRequest{UserID: "u", ScheduledEndTime: end}, false},
		{"missing user", CreateRequest{ScheduledEndTime: end}, true},
		{"missing end", CreateRequest{UserID: "u"}, true},
		{"end before start", CreateRequest{UserID: "u", ScheduledStartTime: end, ScheduledEndTime: end.Add(-time.Minute)}, true},
		{"unknown provider", CreateRequest{UserID: "u", Provider: "aol", ScheduledEndTime: end}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus("Completed"); err != nil || s != StatusCompleted {
		t.Errorf("ParseStatus(Completed) = %s, %v", s, err)
	}
	if s, err := ParseStatus(""); err != nil || s != "" {
		t.Errorf("Empty status should be accepted, got %s, %v", s, err)
	}
	if _, err := ParseStatus("exploded"); err == nil {
		t.Error("Expected error for unknown status")
	}
}
