package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/audio"
	"github.com/AnnixInvestments/annix-sub033/internal/events"
	"github.com/AnnixInvestments/annix-sub033/internal/metrics"
	"github.com/AnnixInvestments/annix-sub033/internal/transcript"
	"github.com/AnnixInvestments/annix-sub033/internal/transcription"
	"github.com/AnnixInvestments/annix-sub033/internal/vad"
)

// ErrSessionNotFound is returned for audio addressed to an unknown session.
var ErrSessionNotFound = errors.New("meeting session not found")

const eventSource = "meeting"

// FrameSink receives canonical meeting frames in arrival order. The live
// pipeline satisfies it through Feed.
type FrameSink interface {
	Feed(frame audio.Frame) bool
}

type sinkRef struct{ FrameSink }

// ManagerConfig contains configuration for the session manager.
type ManagerConfig struct {
	SampleRate      int
	FrameSize       int
	VADThreshold    float64
	VADWindow       int
	Segmenter       audio.SegmenterConfig
	Transcriber     transcription.TranscriberConfig
	SessionTimeout  time.Duration
	CleanupInterval time.Duration
	SegmentQueue    int
}

// Session is one meeting's audio path: adapter, VAD, segmenter and a
// transcription worker writing to the transcript store.
type Session struct {
	ID           string
	Title        string
	StartTime    time.Time
	LastActivity time.Time

	adapter     *Adapter
	detector    *vad.Detector
	segmenter   *audio.Segmenter
	transcriber *transcription.Transcriber
	segments    chan *audio.Segment

	segmentsGenerated uint64
	segmentsDropped   uint64
	entries           uint64
	storeErrors       uint64

	manager *Manager
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	audioMu sync.Mutex // serializes the adapter -> VAD -> segmenter path
	mu      sync.RWMutex
}

// SessionInfo is the monitoring view of a session.
type SessionInfo struct {
	ID                string                          `json:"id"`
	Title             string                          `json:"title,omitempty"`
	StartTime         time.Time                       `json:"start_time"`
	LastActivity      time.Time                       `json:"last_activity"`
	Duration          time.Duration                   `json:"duration"`
	Adapter           AdapterStats                    `json:"adapter"`
	VAD               vad.Stats                       `json:"vad"`
	Segmenter         audio.SegmenterStats            `json:"segmenter"`
	Transcriber       *transcription.TranscriberStats `json:"transcriber,omitempty"`
	SegmentsGenerated uint64                          `json:"segments_generated"`
	SegmentsDropped   uint64                          `json:"segments_dropped"`
	Entries           uint64                          `json:"transcript_entries"`
}

// Manager manages all active meeting sessions.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	config   ManagerConfig

	stt     transcription.SpeechToText
	store   *transcript.Store
	events  events.Publisher
	metrics *metrics.Metrics

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
	sink    atomic.Pointer[sinkRef]
}

// NewManager creates a session manager. stt may be nil, in which case speech
// segments are counted but not transcribed. pub and m may be nil.
func NewManager(logger *slog.Logger, config ManagerConfig, stt transcription.SpeechToText, store *transcript.Store, pub events.Publisher, m *metrics.Metrics) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("transcript store is required")
	}
	if config.SampleRate <= 0 {
		config.SampleRate = audio.DefaultSampleRate
	}
	if config.FrameSize <= 0 {
		config.FrameSize = audio.DefaultFrameSize
	}
	if config.VADThreshold <= 0 {
		config.VADThreshold = vad.DefaultThreshold
	}
	if config.VADWindow <= 0 {
		config.VADWindow = vad.DefaultWindowSize
	}
	if config.SessionTimeout <= 0 {
		config.SessionTimeout = 5 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 30 * time.Second
	}
	if config.SegmentQueue <= 0 {
		config.SegmentQueue = 16
	}
	config.Segmenter.SampleRate = config.SampleRate
	config.Transcriber.SampleRate = config.SampleRate
	if pub == nil {
		pub = events.Discard
	}

	// Fail fast on a bad threshold rather than per session.
	if _, err := vad.NewDetector(config.VADThreshold, config.VADWindow); err != nil {
		return nil, fmt.Errorf("vad config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		sessions: make(map[string]*Session),
		logger:   logger,
		config:   config,
		stt:      stt,
		store:    store,
		events:   pub,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go mgr.startCleanupRoutine()
	return mgr, nil
}

// SetLiveSink routes every session's frames to sink in addition to the
// session's own VAD and segmenter. A nil sink stops routing.
func (m *Manager) SetLiveSink(sink FrameSink) {
	if sink == nil {
		m.sink.Store(nil)
		return
	}
	m.sink.Store(&sinkRef{sink})
}

// CreateSession starts a session, or refreshes an existing one's title.
func (m *Manager) CreateSession(id, title string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[id]; ok {
		existing.mu.Lock()
		if title != "" {
			existing.Title = title
		}
		existing.LastActivity = time.Now()
		existing.mu.Unlock()
		return existing, nil
	}

	detector, err := vad.NewDetector(m.config.VADThreshold, m.config.VADWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to create VAD: %w", err)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	now := time.Now()
	s := &Session{
		ID:           id,
		Title:        title,
		StartTime:    now,
		LastActivity: now,
		adapter:      NewAdapter(AdapterConfig{SampleRate: m.config.SampleRate, FrameSize: m.config.FrameSize}),
		detector:     detector,
		segmenter:    audio.NewSegmenter(m.config.Segmenter),
		segments:     make(chan *audio.Segment, m.config.SegmentQueue),
		manager:      m,
		cancel:       cancel,
	}
	if m.stt != nil {
		s.transcriber = transcription.NewTranscriber(m.stt, m.config.Transcriber, m.events, m.metrics,
			m.logger.With(slog.String("session_id", id)))
	}
	s.adapter.Connect(id)

	s.wg.Add(1)
	go s.transcriptionLoop(ctx)

	m.sessions[id] = s
	m.metrics.RecordSessionCreated()
	m.metrics.SetActiveSessions(len(m.sessions))

	m.logger.Info("Created meeting session",
		slog.String("session_id", id),
		slog.String("title", title),
		slog.Bool("transcription", s.transcriber != nil),
	)
	m.events.Publish(events.Event{
		Type:   events.SessionStarted,
		Source: eventSource,
		Data:   map[string]any{"session_id": id, "title": title},
	})

	return s, nil
}

// GetSession retrieves an existing session.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ProcessChunk routes a chunk to its session.
func (m *Manager) ProcessChunk(c Chunk, transport string) error {
	s, ok := m.GetSession(c.SessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, c.SessionID)
	}
	m.metrics.RecordMeetingChunk(transport)
	return s.ProcessChunk(c)
}

// ActiveSessionCount returns the number of active sessions.
func (m *Manager) ActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sessions returns info for every active session, oldest first.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StartTime.Before(infos[j].StartTime) })
	return infos
}

// Transcript returns the persisted transcript of a live or finished meeting.
func (m *Manager) Transcript(id string) ([]transcription.Entry, error) {
	return m.store.Entries(id)
}

// TranscriptIDs lists meetings with a persisted transcript, live or finished.
func (m *Manager) TranscriptIDs() ([]string, error) {
	return m.store.Meetings()
}

// RemoveSession flushes a session's remaining audio, waits for pending
// transcriptions and exports the text transcript.
func (m *Manager) RemoveSession(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.metrics.SetActiveSessions(count)

	s.finalize()

	duration := time.Since(s.StartTime)
	m.metrics.RecordSessionDestroyed(duration.Seconds())

	var textPath string
	if s.entryCount() > 0 {
		path, err := m.store.ExportText(id)
		if err != nil {
			m.logger.Warn("Failed to export transcript text",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
		}
		textPath = path
	}
	m.store.Forget(id)

	info := s.Info()
	m.logger.Info("Meeting session removed",
		slog.String("session_id", id),
		slog.Duration("duration", duration),
		slog.Uint64("segments", info.SegmentsGenerated),
		slog.Uint64("entries", info.Entries),
	)
	m.events.Publish(events.Event{
		Type:   events.SessionEnded,
		Source: eventSource,
		Data: map[string]any{
			"session_id":      id,
			"duration_sec":    duration.Seconds(),
			"entries":         info.Entries,
			"transcript_text": textPath,
		},
	})
	return true
}

// Stop removes every session and stops the cleanup routine.
func (m *Manager) Stop() {
	m.logger.Info("Stopping meeting manager...")

	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.RemoveSession(id)
	}

	m.cancel()
	<-m.cleanup

	m.logger.Info("Meeting manager stopped", slog.Int("finalized_sessions", len(ids)))
}

func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Meeting cleanup routine started",
		slog.Duration("timeout", m.config.SessionTimeout),
		slog.Duration("check_interval", m.config.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Meeting cleanup routine stopping")
			return
		case <-ticker.C:
			m.cleanupExpiredSessions(time.Now())
		}
	}
}

// cleanupExpiredSessions removes sessions that have been idle past the timeout.
func (m *Manager) cleanupExpiredSessions(now time.Time) int {
	var expired []string

	m.mu.RLock()
	for id, s := range m.sessions {
		s.mu.RLock()
		last := s.LastActivity
		s.mu.RUnlock()
		if now.Sub(last) > m.config.SessionTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) > 0 {
		m.logger.Info("Cleaning up expired sessions", slog.Int("expired_count", len(expired)))
		for _, id := range expired {
			m.RemoveSession(id)
		}
	}
	return len(expired)
}

// ProcessChunk runs a chunk through the adapter, VAD and segmenter. Finished
// segments are queued for transcription; when the queue is full the segment is dropped.
func (s *Session) ProcessChunk(c Chunk) error {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()

	s.audioMu.Lock()
	defer s.audioMu.Unlock()

	frames, err := s.adapter.ProcessIncomingAudio(c)
	if err != nil {
		return err
	}
	s.processFrames(frames)
	return nil
}

// processFrames must be called with audioMu held.
func (s *Session) processFrames(frames []audio.Frame) {
	ref := s.manager.sink.Load()
	for _, f := range frames {
		if ref != nil {
			ref.Feed(f)
		}
		result := s.detector.Process(f.Samples)
		if seg := s.segmenter.Process(f, result.State == vad.Speech); seg != nil {
			s.enqueue(seg)
		}
	}
}

func (s *Session) enqueue(seg *audio.Segment) {
	s.manager.metrics.RecordSegment(seg.Duration.Seconds())

	select {
	case s.segments <- seg:
		s.mu.Lock()
		s.segmentsGenerated++
		s.mu.Unlock()
	default:
		s.mu.Lock()
		s.segmentsDropped++
		s.mu.Unlock()
		s.manager.logger.Warn("Segment queue full, dropping speech segment",
			slog.String("session_id", s.ID),
			slog.String("segment_id", seg.ID),
			slog.Float64("duration", seg.Duration.Seconds()),
		)
	}
}

func (s *Session) transcriptionLoop(ctx context.Context) {
	defer s.wg.Done()
	logger := s.manager.logger

	for seg := range s.segments {
		if s.transcriber == nil {
			continue
		}

		entry := s.transcriber.Transcribe(ctx, seg.PCM(), transcription.Speaker{ID: seg.SpeakerID, Name: seg.SpeakerName})
		if entry == nil {
			continue
		}

		// Order the transcript by when the words were spoken.
		stamped := *entry
		stamped.Timestamp = seg.StartTime

		if err := s.manager.store.Append(s.ID, stamped); err != nil {
			s.mu.Lock()
			s.storeErrors++
			s.mu.Unlock()
			logger.Error("Failed to persist transcript entry",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.mu.Lock()
		s.entries++
		s.mu.Unlock()

		logger.Debug("Transcript entry added",
			slog.String("session_id", s.ID),
			slog.String("speaker", stamped.SpeakerName),
			slog.Float64("segment_duration", seg.Duration.Seconds()),
		)
		s.manager.events.Publish(events.Event{
			Type:   events.TranscriptEntry,
			Source: eventSource,
			Data: map[string]any{
				"session_id": s.ID,
				"speaker":    stamped.SpeakerName,
				"text":       stamped.Text,
				"timestamp":  stamped.Timestamp,
			},
		})
	}
}

// finalize flushes the adapter and segmenter, then drains the transcription queue.
func (s *Session) finalize() {
	s.audioMu.Lock()
	s.processFrames(s.adapter.Disconnect())
	if seg := s.segmenter.Flush(); seg != nil {
		s.enqueue(seg)
	}
	close(s.segments)
	s.audioMu.Unlock()

	s.wg.Wait()
	s.cancel()
}

func (s *Session) entryCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries
}

// Info returns the monitoring view of the session.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	info := SessionInfo{
		ID:                s.ID,
		Title:             s.Title,
		StartTime:         s.StartTime,
		LastActivity:      s.LastActivity,
		Duration:          time.Since(s.StartTime),
		SegmentsGenerated: s.segmentsGenerated,
		SegmentsDropped:   s.segmentsDropped,
		Entries:           s.entries,
	}
	s.mu.RUnlock()

	info.Adapter = s.adapter.GetStats()
	info.VAD = s.detector.GetStats()
	info.Segmenter = s.segmenter.GetStats()
	if s.transcriber != nil {
		ts := s.transcriber.GetStats()
		info.Transcriber = &ts
	}
	return info
}
