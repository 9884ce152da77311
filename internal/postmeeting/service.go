package postmeeting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/audio"
	"github.com/AnnixInvestments/annix-sub033/internal/email"
	"github.com/AnnixInvestments/annix-sub033/internal/events"
	"github.com/AnnixInvestments/annix-sub033/internal/fileutil"
	"github.com/AnnixInvestments/annix-sub033/internal/metrics"
	"github.com/AnnixInvestments/annix-sub033/internal/recording"
	"github.com/AnnixInvestments/annix-sub033/internal/summary"
	"github.com/AnnixInvestments/annix-sub033/internal/transcription"
)

const (
	recordingBase  = "recording"
	transcriptFile = "transcript.json"
	summaryJSON    = "summary.json"
	summaryHTML    = "summary.html"
	summaryText    = "summary.txt"
)

// Options tunes the scheduler.
type Options struct {
	PollInterval      time.Duration
	GracePeriod       time.Duration // wait after scheduled end before checking
	BackstopWindow    time.Duration // give up on end detection after scheduled end + this
	MaxRetries        int
	MaxConcurrentJobs int
	ArtifactDir       string

	EnableRecordingFetch bool
	EnableTranscription  bool
	EnableSummary        bool
	EnableEmail          bool
}

// DefaultOptions returns the production defaults with every stage enabled.
func DefaultOptions() Options {
	return Options{
		PollInterval:         60 * time.Second,
		GracePeriod:          5 * time.Minute,
		BackstopWindow:       6 * time.Hour,
		MaxRetries:           3,
		MaxConcurrentJobs:    1,
		ArtifactDir:          "data/post-meeting",
		EnableRecordingFetch: true,
		EnableTranscription:  true,
		EnableSummary:        true,
		EnableEmail:          true,
	}
}

// Store persists jobs. *jobstore.Store[Job] satisfies it.
type Store interface {
	Put(id string, j *Job) error
	Get(id string) (*Job, error)
	List() ([]*Job, error)
}

// storeWatcher is implemented by stores that can report external writes.
type storeWatcher interface {
	Watch(ctx context.Context, logger *slog.Logger, interval time.Duration, fn func(id string))
}

// FileTranscriber turns a recording file into text.
type FileTranscriber interface {
	TranscribeFile(ctx context.Context, path string) (string, error)
}

// Summarizer produces a structured summary from a transcript.
type Summarizer interface {
	Generate(ctx context.Context, m summary.Meeting, entries []transcription.Entry) (*summary.Summary, error)
}

// Dependencies are the collaborators a stage may call. Any of them may be
// nil, in which case the stage that needs it is passed through.
type Dependencies struct {
	Providers   *recording.Registry
	Credentials CredentialSource
	Transcriber FileTranscriber
	Summarizer  Summarizer
	Email       email.Sender
	Events      events.Publisher
	Metrics     *metrics.Metrics
}

// Stats summarizes scheduler activity.
type Stats struct {
	Ticks         uint64         `json:"ticks"`
	SkippedTicks  uint64         `json:"skipped_ticks"`
	LastTick      time.Time      `json:"last_tick"`
	JobsByStatus  map[Status]int `json:"jobs_by_status"`
	Running       bool           `json:"running"`
	PollInterval  string         `json:"poll_interval"`
	MaxRetries    int            `json:"max_retries"`
	EnabledStages []string       `json:"enabled_stages"`
}

// errAborted stops processing of a job that was finished by someone else,
// normally Cancel, while a stage was running.
var errAborted = errors.New("job finished concurrently")

// Service runs queued jobs through the post-meeting stages.
type Service struct {
	store  Store
	opts   Options
	deps   Dependencies
	logger *slog.Logger
	now    func() time.Time

	processing atomic.Bool
	running    atomic.Bool
	ticks      atomic.Uint64
	skipped    atomic.Uint64
	lastTick   atomic.Int64

	mu   sync.Mutex // serializes read-check-write of job records
	wake chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a stopped service.
func NewService(store Store, opts Options, deps Dependencies, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("job store is required")
	}
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", opts.PollInterval)
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be non-negative, got %d", opts.MaxRetries)
	}
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = 1
	}
	if opts.ArtifactDir == "" {
		return nil, errors.New("artifact directory is required")
	}
	if deps.Events == nil {
		deps.Events = events.Discard
	}

	return &Service{
		store:  store,
		opts:   opts,
		deps:   deps,
		logger: logger,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}, nil
}

// SetClock replaces the time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Start begins polling. It runs one tick immediately.
func (s *Service) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	if w, ok := s.store.(storeWatcher); ok {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.Watch(ctx, s.logger, 0, func(id string) {
				s.logger.Debug("Job changed on disk", slog.String("job_id", id))
				s.Wake()
			})
		}()
	}

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("Post-meeting scheduler started",
		slog.Duration("poll_interval", s.opts.PollInterval),
		slog.Int("max_retries", s.opts.MaxRetries),
		slog.Any("stages", s.enabledStages()),
	)
}

// Stop cancels in-flight stages and waits for the scheduler to exit.
func (s *Service) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Post-meeting scheduler stopped")
}

// Wake requests a tick without waiting for the poll interval.
func (s *Service) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.wake:
			s.Tick(ctx)
		}
	}
}

// Tick processes every non-terminal job once. A tick that starts while the
// previous one is still running returns immediately.
func (s *Service) Tick(ctx context.Context) {
	if !s.processing.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		return
	}
	defer s.processing.Store(false)

	s.ticks.Add(1)
	s.lastTick.Store(s.now().UnixNano())

	jobs, err := s.store.List()
	if err != nil {
		s.logger.Error("Failed to load some jobs", slog.String("error", err.Error()))
	}

	sem := make(chan struct{}, s.opts.MaxConcurrentJobs)
	var wg sync.WaitGroup
	for _, j := range jobs {
		if j.Status.IsTerminal() {
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}
		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			defer func() { <-sem }()
			s.process(ctx, j)
		}(j)
	}
	wg.Wait()
}

// process advances one job as far as it can go in this tick.
func (s *Service) process(ctx context.Context, j *Job) {
	logger := s.logger.With(slog.String("job_id", j.ID), slog.String("platform", j.Platform))

	if !j.AutomationEnabled {
		s.finish(j, StatusSkipped, "automation disabled")
		return
	}

	now := s.now()
	if j.Status == StatusPending {
		if now.Before(j.ScheduledEndTime.Add(s.opts.GracePeriod)) {
			return
		}
		if err := s.transition(j, StatusDetectingEnd); err != nil {
			s.abort(logger, err)
			return
		}
		s.publish(events.JobStarted, j, nil)
	}

	for !j.Status.IsTerminal() {
		stage := j.Status
		started := time.Now()

		next, err := s.runStage(ctx, j, now)
		s.deps.Metrics.RecordJobStage(string(stage), time.Since(started).Seconds())

		if ctx.Err() != nil {
			logger.Info("Job interrupted by shutdown", slog.String("stage", string(stage)))
			return
		}
		if errors.Is(err, errAborted) {
			logger.Info("Job finished elsewhere, stopping", slog.String("stage", string(stage)))
			return
		}
		if err != nil {
			s.fail(j, stage, err)
			return
		}
		if next == "" {
			return
		}
		if next.IsTerminal() {
			reason := ""
			if next == StatusSkipped {
				reason = "meeting end not confirmed within backstop window"
			}
			s.finish(j, next, reason)
			return
		}
		if err := s.transition(j, next); err != nil {
			s.abort(logger, err)
			return
		}
		s.publish(events.JobProgress, j, map[string]any{"stage": string(next)})
	}
}

// runStage executes the work for j.Status and returns the status to move
// to. An empty status means "stay here until a later tick".
func (s *Service) runStage(ctx context.Context, j *Job, now time.Time) (Status, error) {
	switch j.Status {
	case StatusDetectingEnd:
		ended, err := s.detectEnd(ctx, j, now)
		if err != nil {
			return "", err
		}
		if !ended {
			if now.After(j.ScheduledEndTime.Add(s.opts.BackstopWindow)) {
				return StatusSkipped, nil
			}
			return "", nil
		}
		return StatusFetchingRecording, nil

	case StatusFetchingRecording:
		if s.opts.EnableRecordingFetch {
			if err := s.fetchRecording(ctx, j); err != nil {
				return "", err
			}
		}
		return StatusTranscribing, nil

	case StatusTranscribing:
		if s.opts.EnableTranscription && j.RecordingPath != "" && s.deps.Transcriber != nil {
			if err := s.transcribe(ctx, j); err != nil {
				return "", err
			}
		}
		return StatusGeneratingSummary, nil

	case StatusGeneratingSummary:
		if s.opts.EnableSummary && j.TranscriptPath != "" && s.deps.Summarizer != nil {
			if err := s.summarize(ctx, j); err != nil {
				return "", err
			}
		}
		return StatusSendingEmail, nil

	case StatusSendingEmail:
		if s.opts.EnableEmail && j.SummaryPath != "" && s.deps.Email != nil {
			if err := s.sendEmail(ctx, j); err != nil {
				return "", err
			}
		}
		return StatusCompleted, nil
	}
	return "", fmt.Errorf("job in unexpected status %q", j.Status)
}

// detectEnd asks the platform whether the meeting is over. Without a
// provider or meeting id, the elapsed grace period is the confirmation.
func (s *Service) detectEnd(ctx context.Context, j *Job, now time.Time) (bool, error) {
	provider := s.provider(j)
	if provider == nil || j.MeetingID == "" {
		end := j.ScheduledEndTime
		j.ActualEndTime = &end
		return true, nil
	}

	creds, err := s.credentials(ctx, j)
	if err != nil {
		return false, err
	}

	status, err := provider.CheckMeetingEnded(ctx, creds, j.MeetingID)
	if err != nil {
		return false, fmt.Errorf("check meeting end: %w", err)
	}
	if !status.Ended {
		return false, nil
	}

	end := status.EndTime
	if end.IsZero() {
		end = now
	}
	j.ActualEndTime = &end
	return true, s.save(j)
}

func (s *Service) fetchRecording(ctx context.Context, j *Job) error {
	logger := s.logger.With(slog.String("job_id", j.ID))

	provider := s.provider(j)
	if provider == nil {
		logger.Info("No recording provider, skipping recording fetch", slog.String("platform", j.Platform))
		return nil
	}
	if j.MeetingID == "" {
		logger.Info("No meeting id, skipping recording fetch")
		return nil
	}

	creds, err := s.credentials(ctx, j)
	if err != nil {
		return err
	}

	recs, err := provider.ListRecordings(ctx, creds, j.MeetingID)
	if err != nil {
		return fmt.Errorf("list recordings: %w", err)
	}
	if len(recs) == 0 {
		logger.Info("No recordings found for meeting", slog.String("meeting_id", j.MeetingID))
		return nil
	}

	rec := recs[0]
	dest := filepath.Join(s.jobDir(j.ID), recordingBase+"."+recording.FileExtension(provider.Platform()))
	if err := provider.DownloadRecording(ctx, creds, rec, dest); err != nil {
		return fmt.Errorf("download recording: %w", err)
	}

	j.Recording = &rec
	j.RecordingURL = rec.DownloadURL
	j.RecordingPath = dest
	logger.Info("Recording downloaded", slog.String("path", dest), slog.String("recording_id", rec.RecordingID))
	return s.save(j)
}

func (s *Service) transcribe(ctx context.Context, j *Job) error {
	text, err := s.deps.Transcriber.TranscribeFile(ctx, j.RecordingPath)
	if err != nil {
		return fmt.Errorf("transcribe recording: %w", err)
	}
	if text == "" {
		s.logger.Info("Recording produced no transcript", slog.String("job_id", j.ID))
		return nil
	}

	ts := j.ScheduledStartTime
	if ts.IsZero() {
		ts = s.now()
	}
	entries := []transcription.Entry{{
		Timestamp:   ts,
		SpeakerName: audio.UnknownSpeaker,
		Text:        text,
		Confidence:  1,
	}}

	path := filepath.Join(s.jobDir(j.ID), transcriptFile)
	if err := writeJSON(path, entries); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}

	j.TranscriptPath = path
	return s.save(j)
}

func (s *Service) summarize(ctx context.Context, j *Job) error {
	var entries []transcription.Entry
	if err := readJSON(j.TranscriptPath, &entries); err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}

	var duration time.Duration
	if !j.ScheduledStartTime.IsZero() {
		duration = j.endTime().Sub(j.ScheduledStartTime)
	}

	sum, err := s.deps.Summarizer.Generate(ctx, summary.Meeting{
		Title:     j.Title,
		Start:     j.ScheduledStartTime,
		Duration:  duration,
		Attendees: j.Attendees,
	}, entries)
	if err != nil {
		return fmt.Errorf("generate summary: %w", err)
	}

	html, err := summary.FormatHTML(sum)
	if err != nil {
		return err
	}

	dir := s.jobDir(j.ID)
	if err := fileutil.WriteFileAtomic(filepath.Join(dir, summaryHTML), []byte(html)); err != nil {
		return fmt.Errorf("write summary html: %w", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(dir, summaryText), []byte(summary.FormatText(sum))); err != nil {
		return fmt.Errorf("write summary text: %w", err)
	}
	path := filepath.Join(dir, summaryJSON)
	if err := writeJSON(path, sum); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	j.SummaryPath = path
	return s.save(j)
}

func (s *Service) sendEmail(ctx context.Context, j *Job) error {
	recipients := j.Recipients()
	if len(recipients) == 0 {
		s.logger.Info("No recipients for summary email", slog.String("job_id", j.ID))
		return nil
	}

	var sum summary.Summary
	if err := readJSON(j.SummaryPath, &sum); err != nil {
		return fmt.Errorf("read summary: %w", err)
	}

	msg, err := email.SummaryMessage(&sum, recipients)
	if err != nil {
		return err
	}
	if err := s.deps.Email.Send(ctx, msg); err != nil {
		return fmt.Errorf("send summary email: %w", err)
	}

	sent := s.now()
	j.EmailSentAt = &sent
	return s.save(j)
}

func (s *Service) provider(j *Job) recording.Provider {
	if s.deps.Providers == nil || j.Platform == "" {
		return nil
	}
	p, err := s.deps.Providers.Get(j.Platform)
	if err != nil {
		return nil
	}
	return p
}

func (s *Service) credentials(ctx context.Context, j *Job) (recording.Credentials, error) {
	if s.deps.Credentials == nil {
		return recording.Credentials{}, fmt.Errorf("%w for %s", ErrMissingCredentials, j.Platform)
	}
	return s.deps.Credentials.Credentials(ctx, j.UserID, j.Platform)
}

// fail records a stage failure. The job fails for good once it has been
// attempted MaxRetries+1 times, or immediately when credentials are missing.
func (s *Service) fail(j *Job, stage Status, err error) {
	logger := s.logger.With(slog.String("job_id", j.ID), slog.String("stage", string(stage)))

	if errors.Is(err, ErrMissingCredentials) {
		logger.Error("Job cannot proceed without credentials", slog.String("error", err.Error()))
		s.finish(j, StatusFailed, err.Error())
		return
	}

	j.RetryCount++
	s.deps.Metrics.RecordJobRetry()

	if j.RetryCount > s.opts.MaxRetries {
		logger.Error("Job failed, retries exhausted", slog.Int("attempts", j.RetryCount), slog.String("error", err.Error()))
		s.finish(j, StatusFailed, "max retries exceeded: "+err.Error())
		return
	}

	j.ErrorMessage = err.Error()
	j.UpdatedAt = s.now()
	if err := s.save(j); err != nil {
		s.abort(logger, err)
		return
	}
	logger.Warn("Job stage failed, will retry",
		slog.Int("attempt", j.RetryCount),
		slog.Int("max_retries", s.opts.MaxRetries),
		slog.String("error", err.Error()),
	)
}

func (s *Service) finish(j *Job, status Status, reason string) {
	j.Status = status
	j.UpdatedAt = s.now()
	if reason != "" {
		j.ErrorMessage = reason
	}
	if err := s.save(j); err != nil {
		s.abort(s.logger.With(slog.String("job_id", j.ID)), err)
		return
	}

	s.deps.Metrics.RecordJobTransition(string(status))
	s.deps.Metrics.RecordJobOutcome(string(status))

	switch status {
	case StatusCompleted:
		s.logger.Info("Job completed", slog.String("job_id", j.ID), slog.String("summary_path", j.SummaryPath))
		s.publish(events.JobCompleted, j, nil)
	case StatusFailed:
		s.publish(events.JobFailed, j, map[string]any{"error": j.ErrorMessage})
	case StatusSkipped:
		s.logger.Info("Job skipped", slog.String("job_id", j.ID), slog.String("reason", reason))
		s.publish(events.JobSkipped, j, map[string]any{"reason": reason})
	}
}

func (s *Service) transition(j *Job, to Status) error {
	from := j.Status
	j.Status = to
	j.UpdatedAt = s.now()
	if err := s.save(j); err != nil {
		return err
	}
	s.deps.Metrics.RecordJobTransition(string(to))
	s.logger.Debug("Job transition", slog.String("job_id", j.ID), slog.String("from", string(from)), slog.String("to", string(to)))
	return nil
}

func (s *Service) abort(logger *slog.Logger, err error) {
	if errors.Is(err, errAborted) {
		logger.Info("Job finished elsewhere, stopping")
		return
	}
	logger.Error("Failed to persist job", slog.String("error", err.Error()))
}

// save persists j unless the stored copy has already reached a terminal
// status that j does not share.
func (s *Service) save(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, err := s.store.Get(j.ID); err == nil && cur.Status.IsTerminal() && cur.Status != j.Status {
		return errAborted
	}
	return s.store.Put(j.ID, j)
}

func (s *Service) publish(t events.Type, j *Job, data map[string]any) {
	if data == nil {
		data = make(map[string]any)
	}
	data["job_id"] = j.ID
	data["status"] = string(j.Status)
	data["title"] = j.Title
	s.deps.Events.Publish(events.Event{
		Type:      t,
		Source:    "post_meeting",
		Timestamp: s.now(),
		Data:      data,
	})
}

func (s *Service) jobDir(id string) string {
	return filepath.Join(s.opts.ArtifactDir, id)
}

func (s *Service) enabledStages() []string {
	var out []string
	if s.opts.EnableRecordingFetch {
		out = append(out, string(StatusFetchingRecording))
	}
	if s.opts.EnableTranscription {
		out = append(out, string(StatusTranscribing))
	}
	if s.opts.EnableSummary {
		out = append(out, string(StatusGeneratingSummary))
	}
	if s.opts.EnableEmail {
		out = append(out, string(StatusSendingEmail))
	}
	return out
}

// CreateJob validates req and persists a new pending job.
func (s *Service) CreateJob(req CreateRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	j := newJob(req, s.now())

	s.mu.Lock()
	err := s.store.Put(j.ID, j)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	s.deps.Metrics.RecordJobTransition(string(StatusPending))
	s.logger.Info("Post-meeting job created",
		slog.String("job_id", j.ID),
		slog.String("user_id", j.UserID),
		slog.String("platform", j.Platform),
		slog.Time("scheduled_end", j.ScheduledEndTime),
	)
	return j, nil
}

// Get returns one job.
func (s *Service) Get(id string) (*Job, error) {
	return s.store.Get(id)
}

// List returns all jobs, newest first.
func (s *Service) List() ([]*Job, error) {
	jobs, err := s.store.List()
	sort.SliceStable(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
	})
	return jobs, err
}

// JobsForUser returns a user's jobs, newest first. An empty status matches all.
func (s *Service) JobsForUser(userID string, status Status) ([]*Job, error) {
	all, err := s.List()
	out := make([]*Job, 0, len(all))
	for _, j := range all {
		if j.UserID == userID && (status == "" || j.Status == status) {
			out = append(out, j)
		}
	}
	return out, err
}

// Cancel skips a job that has not finished. A stage running for it at the
// time notices on its next persist and stops.
func (s *Service) Cancel(id string) (*Job, error) {
	s.mu.Lock()
	j, err := s.store.Get(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if j.Status.IsTerminal() {
		s.mu.Unlock()
		return j, fmt.Errorf("%w: %s", ErrTerminal, j.Status)
	}
	j.Status = StatusSkipped
	j.ErrorMessage = "cancelled"
	j.UpdatedAt = s.now()
	err = s.store.Put(j.ID, j)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	s.deps.Metrics.RecordJobOutcome(string(StatusSkipped))
	s.publish(events.JobSkipped, j, map[string]any{"reason": "cancelled"})
	s.logger.Info("Job cancelled", slog.String("job_id", id))
	return j, nil
}

// GetStats returns scheduler statistics including per-status job counts.
func (s *Service) GetStats() Stats {
	counts := make(map[Status]int)
	if jobs, err := s.store.List(); err == nil {
		for _, j := range jobs {
			counts[j.Status]++
		}
	}

	var last time.Time
	if ns := s.lastTick.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}

	return Stats{
		Ticks:         s.ticks.Load(),
		SkippedTicks:  s.skipped.Load(),
		LastTick:      last,
		JobsByStatus:  counts,
		Running:       s.running.Load(),
		PollInterval:  s.opts.PollInterval.String(),
		MaxRetries:    s.opts.MaxRetries,
		EnabledStages: s.enabledStages(),
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, data)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
