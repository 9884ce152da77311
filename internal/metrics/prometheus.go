package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voicefilter"

// Metrics contains all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing, so components can run without a registry.
type Metrics struct {
	// Live pipeline
	FramesProcessed prometheus.Counter
	FramesDropped   prometheus.Counter
	FrameLatency    prometheus.Histogram
	DeviceXruns     *prometheus.CounterVec

	// VAD
	VADFrames       prometheus.Counter
	VADSpeechFrames prometheus.Counter

	// Gate
	GateTransitions *prometheus.CounterVec
	GateUnmuted     prometheus.Gauge

	// Speaker verification
	VerificationRequests prometheus.Counter
	VerificationFailures prometheus.Counter
	VerificationRetries  prometheus.Counter
	VerificationDuration prometheus.Histogram
	VerificationScore    prometheus.Histogram

	// Transcription
	TranscriptionRequests   prometheus.Counter
	TranscriptionSuccesses  prometheus.Counter
	TranscriptionFailures   prometheus.Counter
	TranscriptionRejections *prometheus.CounterVec
	TranscriptionRetries    prometheus.Counter
	TranscriptionDuration   prometheus.Histogram

	// Meeting sessions
	ActiveSessions    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	SessionDuration   prometheus.Histogram
	MeetingChunks     *prometheus.CounterVec
	SegmentsGenerated prometheus.Counter
	SegmentDuration   prometheus.Histogram

	// UDP ingest
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	PacketsLost      prometheus.Counter
	ParseErrors      prometheus.Counter
	QueueSize        prometheus.Gauge

	// Post-meeting jobs
	JobTransitions   *prometheus.CounterVec
	JobOutcomes      *prometheus.CounterVec
	JobRetries       prometheus.Counter
	JobStageDuration *prometheus.HistogramVec

	// HTTP API
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
	EventSubscribers    prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		FramesProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Total number of live audio frames processed",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped from the capture queue because processing lagged",
		}),
		FrameLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_processing_seconds",
			Help:      "Time spent on VAD, gate and output per frame",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 100µs to ~200ms
		}),
		DeviceXruns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_xruns_total",
			Help:      "Suppressed device underflows and overflows",
		}, []string{"direction"}),

		VADFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_frames_total",
			Help:      "Total number of frames classified by the VAD",
		}),
		VADSpeechFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_speech_frames_total",
			Help:      "Frames classified as speech",
		}),

		GateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_transitions_total",
			Help:      "Gate state transitions",
		}, []string{"state", "reason"}),
		GateUnmuted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gate_unmuted",
			Help:      "1 while the gate lets audio through, 0 while muted",
		}),

		VerificationRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_requests_total",
			Help:      "Total number of speaker verification calls",
		}),
		VerificationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_failures_total",
			Help:      "Speaker verification calls that failed",
		}),
		VerificationRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_retries_total",
			Help:      "Speaker verification request retries",
		}),
		VerificationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_duration_seconds",
			Help:      "Latency of speaker verification calls",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),
		VerificationScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_confidence",
			Help:      "Confidence returned by speaker verification",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),

		TranscriptionRequests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_requests_total",
			Help:      "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_successes_total",
			Help:      "Total number of successful transcription requests",
		}),
		TranscriptionFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_failures_total",
			Help:      "Total number of failed transcription requests",
		}),
		TranscriptionRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_rejections_total",
			Help:      "Transcription calls skipped before reaching the provider",
		}, []string{"reason"}),
		TranscriptionRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_retries_total",
			Help:      "Total number of transcription request retries",
		}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Duration of transcription requests",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "meeting_sessions_active",
			Help:      "Current number of meeting audio sessions",
		}),
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meeting_sessions_created_total",
			Help:      "Total number of meeting sessions created",
		}),
		SessionsDestroyed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meeting_sessions_destroyed_total",
			Help:      "Total number of meeting sessions destroyed",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "meeting_session_duration_seconds",
			Help:      "Duration of meeting sessions in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
		}),
		MeetingChunks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meeting_chunks_total",
			Help:      "Meeting audio chunks received by transport",
		}, []string{"transport"}),
		SegmentsGenerated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_segments_total",
			Help:      "Speech segments handed to transcription",
		}),
		SegmentDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speech_segment_duration_seconds",
			Help:      "Duration of speech segments",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 minute
		}),

		PacketsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "udp_packets_received_total",
			Help:      "Total number of UDP packets received",
		}),
		PacketsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "udp_packets_processed_total",
			Help:      "Total number of UDP packets successfully processed",
		}),
		PacketsLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "udp_packets_lost_total",
			Help:      "Audio packets given up on by the reorder buffer",
		}),
		ParseErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "udp_parse_errors_total",
			Help:      "Total number of packet parsing errors",
		}),
		QueueSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "udp_packet_queue_size",
			Help:      "Current number of packets in processing queue",
		}),

		JobTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_transitions_total",
			Help:      "Post-meeting job status transitions",
		}, []string{"status"}),
		JobOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_outcomes_total",
			Help:      "Post-meeting jobs reaching a terminal status",
		}, []string{"outcome"}),
		JobRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_retries_total",
			Help:      "Post-meeting stage failures that were retried",
		}),
		JobStageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_stage_duration_seconds",
			Help:      "Duration of post-meeting stages",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27 minutes
		}, []string{"stage"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
		EventSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_stream_clients",
			Help:      "Connected WebSocket event stream clients",
		}),
	}
}

// RecordFrame records one processed live frame.
func (m *Metrics) RecordFrame(speech bool, latencySeconds float64) {
	if m == nil {
		return
	}
	m.FramesProcessed.Inc()
	m.VADFrames.Inc()
	if speech {
		m.VADSpeechFrames.Inc()
	}
	m.FrameLatency.Observe(latencySeconds)
}

// RecordFramesDropped adds to the dropped frame counter.
func (m *Metrics) RecordFramesDropped(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.FramesDropped.Add(float64(n))
}

// RecordXrun counts a suppressed underflow ("output") or overflow ("input").
func (m *Metrics) RecordXrun(direction string) {
	if m == nil {
		return
	}
	m.DeviceXruns.WithLabelValues(direction).Inc()
}

// RecordGateTransition records a muted/unmuted change.
func (m *Metrics) RecordGateTransition(unmuted bool, reason string) {
	if m == nil {
		return
	}
	state := "muted"
	value := 0.0
	if unmuted {
		state = "unmuted"
		value = 1
	}
	m.GateTransitions.WithLabelValues(state, reason).Inc()
	m.GateUnmuted.Set(value)
}

// RecordVerification records one verification call.
func (m *Metrics) RecordVerification(confidence, durationSeconds float64, err error) {
	if m == nil {
		return
	}
	m.VerificationRequests.Inc()
	m.VerificationDuration.Observe(durationSeconds)
	if err != nil {
		m.VerificationFailures.Inc()
		return
	}
	m.VerificationScore.Observe(confidence)
}

// RecordVerificationRetry increments the verification retry counter.
func (m *Metrics) RecordVerificationRetry() {
	if m == nil {
		return
	}
	m.VerificationRetries.Inc()
}

// RecordTranscriptionRequest increments transcription requests counter.
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription.
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription.
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRejected records a call skipped before the provider ("busy", "too_short").
func (m *Metrics) RecordTranscriptionRejected(reason string) {
	if m == nil {
		return
	}
	m.TranscriptionRejections.WithLabelValues(reason).Inc()
}

// RecordTranscriptionRetry increments the retry counter.
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// SetActiveSessions sets the current number of meeting sessions.
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter.
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed increments the sessions destroyed counter and records duration.
func (m *Metrics) RecordSessionDestroyed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsDestroyed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordMeetingChunk counts an incoming meeting audio chunk.
func (m *Metrics) RecordMeetingChunk(transport string) {
	if m == nil {
		return
	}
	m.MeetingChunks.WithLabelValues(transport).Inc()
}

// RecordSegment records a speech segment handed to transcription.
func (m *Metrics) RecordSegment(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SegmentsGenerated.Inc()
	m.SegmentDuration.Observe(durationSeconds)
}

// RecordPacketReceived increments the packets received counter.
func (m *Metrics) RecordPacketReceived() {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the packets processed counter.
func (m *Metrics) RecordPacketProcessed() {
	if m == nil {
		return
	}
	m.PacketsProcessed.Inc()
}

// RecordPacketsLost adds packets skipped by the reorder buffer.
func (m *Metrics) RecordPacketsLost(n uint32) {
	if m == nil || n == 0 {
		return
	}
	m.PacketsLost.Add(float64(n))
}

// RecordParseError increments the parse errors counter.
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// SetQueueSize sets the current queue size.
func (m *Metrics) SetQueueSize(size int) {
	if m == nil {
		return
	}
	m.QueueSize.Set(float64(size))
}

// RecordJobTransition counts a job entering status.
func (m *Metrics) RecordJobTransition(status string) {
	if m == nil {
		return
	}
	m.JobTransitions.WithLabelValues(status).Inc()
}

// RecordJobOutcome counts a job reaching a terminal status.
func (m *Metrics) RecordJobOutcome(outcome string) {
	if m == nil {
		return
	}
	m.JobOutcomes.WithLabelValues(outcome).Inc()
}

// RecordJobRetry increments the job retry counter.
func (m *Metrics) RecordJobRetry() {
	if m == nil {
		return
	}
	m.JobRetries.Inc()
}

// RecordJobStage observes how long a stage took.
func (m *Metrics) RecordJobStage(stage string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.JobStageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error.
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

// SetEventSubscribers sets the connected event stream client count.
func (m *Metrics) SetEventSubscribers(n int) {
	if m == nil {
		return
	}
	m.EventSubscribers.Set(float64(n))
}
