package audio

import (
	"fmt"
	"sync"
	"time"
)

// SegmentState is the current state of speech segmentation.
type SegmentState int

const (
	StateIdle SegmentState = iota
	StateCollecting
	StateTrailing
)

func (s SegmentState) String() string {
	switch s {
	case StateCollecting:
		return "collecting"
	case StateTrailing:
		return "trailing"
	default:
		return "idle"
	}
}

// Segment is a contiguous stretch of speech from one speaker, ready for transcription.
type Segment struct {
	ID          string        `json:"id"`
	SpeakerID   string        `json:"speaker_id,omitempty"`
	SpeakerName string        `json:"speaker_name"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Duration    time.Duration `json:"duration"`
	SampleRate  int           `json:"sample_rate"`
	Samples     []int16       `json:"-"`
	StartSeq    uint64        `json:"start_seq"`
	EndSeq      uint64        `json:"end_seq"`
}

// PCM returns the segment audio as little-endian PCM16 bytes.
func (s *Segment) PCM() []byte {
	return SamplesToBytes(s.Samples)
}

// SegmenterConfig controls how speech frames are grouped into segments.
// Durations are measured in audio time, not wall-clock time.
type SegmenterConfig struct {
	SampleRate         int
	MinSpeechDuration  time.Duration // segments with less speech are discarded
	MinSilenceDuration time.Duration // trailing silence that closes a segment
	MaxDuration        time.Duration // forced cut
}

// SegmenterStats is exposed on the session API.
type SegmenterStats struct {
	State            string  `json:"state"`
	SegmentsCreated  uint64  `json:"segments_created"`
	SegmentsDropped  uint64  `json:"segments_dropped"`
	PendingSamples   int     `json:"pending_samples"`
	AvgSegmentLength float64 `json:"avg_segment_duration_sec"`
}

// Segmenter turns a stream of (frame, speech?) decisions into speech segments.
// A speaker change closes the open segment under the previous speaker.
type Segmenter struct {
	config SegmenterConfig
	state  SegmentState

	samples        []int16
	speechSamples  int
	silenceSamples int
	speakerID      string
	speakerName    string
	startTime      time.Time
	lastTime       time.Time
	startSeq       uint64
	endSeq         uint64

	segmentsCreated uint64
	segmentsDropped uint64
	totalDuration   time.Duration

	mu sync.Mutex
}

// NewSegmenter creates a segmenter. Zero durations fall back to conservative defaults.
func NewSegmenter(config SegmenterConfig) *Segmenter {
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSampleRate
	}
	if config.MinSpeechDuration <= 0 {
		config.MinSpeechDuration = 500 * time.Millisecond
	}
	if config.MinSilenceDuration <= 0 {
		config.MinSilenceDuration = 500 * time.Millisecond
	}
	if config.MaxDuration <= 0 {
		config.MaxDuration = 15 * time.Second
	}
	return &Segmenter{config: config}
}

func (s *Segmenter) samplesFor(d time.Duration) int {
	return int(d * time.Duration(s.config.SampleRate) / time.Second)
}

// Process feeds one frame with its speech decision and returns a finished segment, if any.
func (s *Segmenter) Process(frame Frame, speech bool) *Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	var done *Segment

	// Speaker change closes what we have under the previous speaker.
	if s.state != StateIdle && frame.SpeakerID != s.speakerID {
		done = s.finalize()
	}

	switch s.state {
	case StateIdle:
		if speech {
			s.start(frame)
			s.speechSamples = len(frame.Samples)
		}

	case StateCollecting, StateTrailing:
		s.append(frame)
		if speech {
			s.speechSamples += len(frame.Samples)
			s.silenceSamples = 0
			s.state = StateCollecting
		} else {
			s.silenceSamples += len(frame.Samples)
			s.state = StateTrailing
			if s.silenceSamples >= s.samplesFor(s.config.MinSilenceDuration) {
				if seg := s.finalize(); seg != nil {
					return seg
				}
				return done
			}
		}

		if len(s.samples) >= s.samplesFor(s.config.MaxDuration) {
			if seg := s.finalize(); seg != nil {
				return seg
			}
		}
	}

	return done
}

// Flush closes any open segment, returning it if it holds enough speech.
func (s *Segmenter) Flush() *Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle {
		return nil
	}
	return s.finalize()
}

func (s *Segmenter) start(frame Frame) {
	s.state = StateCollecting
	s.samples = append(s.samples[:0], frame.Samples...)
	s.speakerID = frame.SpeakerID
	s.speakerName = frame.SpeakerName
	s.startTime = frame.Timestamp
	s.lastTime = frame.Timestamp
	s.startSeq = frame.Seq
	s.endSeq = frame.Seq
	s.silenceSamples = 0
}

func (s *Segmenter) append(frame Frame) {
	s.samples = append(s.samples, frame.Samples...)
	s.lastTime = frame.Timestamp
	s.endSeq = frame.Seq
}

// finalize must be called with s.mu held.
func (s *Segmenter) finalize() *Segment {
	defer s.reset()

	if s.speechSamples < s.samplesFor(s.config.MinSpeechDuration) {
		s.segmentsDropped++
		return nil
	}

	// Trim trailing silence beyond the hangover so segments end near the last word.
	keep := len(s.samples) - s.silenceSamples
	if keep <= 0 {
		keep = len(s.samples)
	}
	samples := make([]int16, keep)
	copy(samples, s.samples[:keep])

	duration := time.Duration(len(samples)) * time.Second / time.Duration(s.config.SampleRate)
	name := s.speakerName
	if name == "" {
		name = UnknownSpeaker
	}

	s.segmentsCreated++
	s.totalDuration += duration

	return &Segment{
		ID:          fmt.Sprintf("seg_%d_%d", s.startSeq, s.segmentsCreated),
		SpeakerID:   s.speakerID,
		SpeakerName: name,
		StartTime:   s.startTime,
		EndTime:     s.startTime.Add(duration),
		Duration:    duration,
		SampleRate:  s.config.SampleRate,
		Samples:     samples,
		StartSeq:    s.startSeq,
		EndSeq:      s.endSeq,
	}
}

func (s *Segmenter) reset() {
	s.state = StateIdle
	s.samples = s.samples[:0]
	s.speechSamples = 0
	s.silenceSamples = 0
	s.speakerID = ""
	s.speakerName = ""
	s.startTime = time.Time{}
	s.lastTime = time.Time{}
	s.startSeq = 0
	s.endSeq = 0
}

// State returns the current segmentation state.
func (s *Segmenter) State() SegmentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GetStats returns segmenter statistics.
func (s *Segmenter) GetStats() SegmenterStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	avg := float64(0)
	if s.segmentsCreated > 0 {
		avg = s.totalDuration.Seconds() / float64(s.segmentsCreated)
	}

	return SegmenterStats{
		State:            s.state.String(),
		SegmentsCreated:  s.segmentsCreated,
		SegmentsDropped:  s.segmentsDropped,
		PendingSamples:   len(s.samples),
		AvgSegmentLength: avg,
	}
}
