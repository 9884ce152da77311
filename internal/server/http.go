package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AnnixInvestments/annix-sub033/internal/config"
	"github.com/AnnixInvestments/annix-sub033/internal/device"
	"github.com/AnnixInvestments/annix-sub033/internal/events"
	"github.com/AnnixInvestments/annix-sub033/internal/jobstore"
	"github.com/AnnixInvestments/annix-sub033/internal/meeting"
	"github.com/AnnixInvestments/annix-sub033/internal/metrics"
	"github.com/AnnixInvestments/annix-sub033/internal/pipeline"
	"github.com/AnnixInvestments/annix-sub033/internal/postmeeting"
	"github.com/AnnixInvestments/annix-sub033/internal/transcript"
)

const (
	serviceName    = "voicefilter"
	serviceVersion = "1.0.0"
)

// HTTPDeps are the components the API reports on. Everything except Config
// may be nil; endpoints for a missing component answer 503.
type HTTPDeps struct {
	Config   *config.Config
	Pipeline *pipeline.Pipeline
	Devices  device.Backend
	Meetings *meeting.Manager
	UDP      *UDPServer
	Jobs     *postmeeting.Service
	Bus      *events.Bus
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	deps     HTTPDeps
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, deps HTTPDeps) *HTTPServer {
	h := &HTTPServer{
		logger:    logger,
		deps:      deps,
		metrics:   deps.Metrics,
		startTime: time.Now(),
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed API.
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	return mux
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("GET /status", h.withMetrics("/status", h.handleStatus))
	mux.HandleFunc("GET /devices", h.withMetrics("/devices", h.handleDevices))

	mux.HandleFunc("GET /meetings", h.withMetrics("/meetings", h.handleMeetings))
	mux.HandleFunc("GET /meetings/{id}/transcript", h.withMetrics("/meetings/{id}/transcript", h.handleTranscript))

	mux.HandleFunc("GET /jobs", h.withMetrics("/jobs", h.handleJobs))
	mux.HandleFunc("POST /jobs", h.withMetrics("/jobs", h.handleCreateJob))
	mux.HandleFunc("GET /jobs/{id}", h.withMetrics("/jobs/{id}", h.handleJob))
	mux.HandleFunc("POST /jobs/{id}/cancel", h.withMetrics("/jobs/{id}/cancel", h.handleCancelJob))

	mux.HandleFunc("GET /config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("GET /stats", h.withMetrics("/stats", h.handleStats))

	mux.HandleFunc("GET /events", h.withMetrics("/events", h.handleEvents))
	mux.HandleFunc("GET /ingest/{session}", h.withMetrics("/ingest/{session}", h.handleIngest))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if h.deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	mux.HandleFunc("GET /{$}", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack lets WebSocket upgrades pass through the metrics wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = ln

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address once started.
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error":  msg,
		"status": status,
	})
}

func unavailable(w http.ResponseWriter, component string) {
	writeError(w, http.StatusServiceUnavailable, component+" is not enabled")
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]interface{}{}

	if h.deps.Pipeline != nil {
		components["pipeline"] = map[string]interface{}{
			"running": h.deps.Pipeline.Running(),
		}
	}
	if h.deps.Meetings != nil {
		components["meetings"] = map[string]interface{}{
			"status":          "running",
			"active_sessions": h.deps.Meetings.ActiveSessionCount(),
		}
	}
	if h.deps.UDP != nil {
		udpStats := h.deps.UDP.GetStatistics()
		components["udp_server"] = map[string]interface{}{
			"status":            "running",
			"packets_received":  udpStats.PacketsReceived,
			"packets_processed": udpStats.PacketsProcessed,
			"parse_errors":      udpStats.ParseErrors,
			"queue_size":        udpStats.QueueSize,
		}
	}
	if h.deps.Jobs != nil {
		stats := h.deps.Jobs.GetStats()
		components["post_meeting"] = map[string]interface{}{
			"running":   stats.Running,
			"last_tick": stats.LastTick,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
	}
	if h.deps.Pipeline != nil {
		status["pipeline"] = h.deps.Pipeline.Status()
	}
	if h.deps.Meetings != nil {
		status["meetings"] = h.deps.Meetings.Sessions()
	}
	if h.deps.Jobs != nil {
		status["post_meeting"] = h.deps.Jobs.GetStats()
	}

	writeJSON(w, http.StatusOK, status)
}

// handleDevices implements the /devices endpoint
func (h *HTTPServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	if h.deps.Devices == nil {
		unavailable(w, "audio device backend")
		return
	}

	devices, err := h.deps.Devices.Devices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_devices": len(devices),
		"devices":       devices,
	})
}

// handleMeetings implements the /meetings endpoint
func (h *HTTPServer) handleMeetings(w http.ResponseWriter, r *http.Request) {
	if h.deps.Meetings == nil {
		unavailable(w, "meeting manager")
		return
	}

	stored, err := h.deps.Meetings.TranscriptIDs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sessions := h.deps.Meetings.Sessions()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_count": len(sessions),
		"timestamp":    time.Now().UTC(),
		"sessions":     sessions,
		"transcripts":  stored,
	})
}

// handleTranscript implements /meetings/{id}/transcript. ?format=text
// returns the plain-text rendering.
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if h.deps.Meetings == nil {
		unavailable(w, "meeting manager")
		return
	}

	id := r.PathValue("id")
	entries, err := h.deps.Meetings.Transcript(id)
	if errors.Is(err, transcript.ErrNotFound) {
		writeError(w, http.StatusNotFound, "transcript not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, transcript.FormatText(entries))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"meeting_id": id,
		"entries":    entries,
	})
}

// handleJobs implements GET /jobs with optional user_id and status filters
func (h *HTTPServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Jobs == nil {
		unavailable(w, "post-meeting automation")
		return
	}

	q := r.URL.Query()
	status, err := postmeeting.ParseStatus(q.Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var jobs []*postmeeting.Job
	if user := q.Get("user_id"); user != "" {
		jobs, err = h.deps.Jobs.JobsForUser(user, status)
	} else {
		jobs, err = h.deps.Jobs.List()
		if status != "" {
			filtered := jobs[:0]
			for _, j := range jobs {
				if j.Status == status {
					filtered = append(filtered, j)
				}
			}
			jobs = filtered
		}
	}
	if err != nil {
		h.logger.Warn("Some jobs could not be loaded", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_jobs": len(jobs),
		"jobs":       jobs,
	})
}

// handleCreateJob implements POST /jobs
func (h *HTTPServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if h.deps.Jobs == nil {
		unavailable(w, "post-meeting automation")
		return
	}

	var req postmeeting.CreateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	job, err := h.deps.Jobs.CreateJob(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, job)
}

// handleJob implements GET /jobs/{id}
func (h *HTTPServer) handleJob(w http.ResponseWriter, r *http.Request) {
	if h.deps.Jobs == nil {
		unavailable(w, "post-meeting automation")
		return
	}

	job, err := h.deps.Jobs.Get(r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob implements POST /jobs/{id}/cancel
func (h *HTTPServer) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if h.deps.Jobs == nil {
		unavailable(w, "post-meeting automation")
		return
	}

	job, err := h.deps.Jobs.Cancel(r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, postmeeting.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobstore.ErrInvalidID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, postmeeting.ErrTerminal):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	c := h.deps.Config
	if c == nil {
		unavailable(w, "configuration")
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"device": map[string]interface{}{
			"backend":            c.Device.Backend,
			"input_device_id":    c.Device.InputDeviceID,
			"output_device_id":   c.Device.OutputDeviceID,
			"virtual_cable_name": c.Device.VirtualCableName,
		},
		"audio": map[string]interface{}{
			"sample_rate": c.Audio.SampleRate,
			"frame_size":  c.Audio.FrameSize,
			"queue_size":  c.Audio.QueueSize,
		},
		"vad": map[string]interface{}{
			"threshold":   c.VAD.Threshold,
			"window_size": c.VAD.WindowSize,
		},
		"gate": map[string]interface{}{
			"speaker_id":             c.Gate.SpeakerID,
			"verification_threshold": c.Gate.VerificationThreshold,
			"silence_timeout_ms":     c.Gate.SilenceTimeoutMs,
			"fail_open":              c.Gate.FailOpenEnabled(),
			"verify_interval_ms":     c.Gate.VerifyIntervalMs,
		},
		"verification": map[string]interface{}{
			"endpoint":       c.Verification.Endpoint,
			"timeout":        c.Verification.Timeout,
			"max_retries":    c.Verification.MaxRetries,
			"max_concurrent": c.Verification.MaxConcurrent,
		},
		"transcription": map[string]interface{}{
			"enabled":         c.Transcription.Enabled(),
			"endpoint":        c.Transcription.Endpoint,
			"model":           c.Transcription.Model,
			"timeout":         c.Transcription.Timeout,
			"max_retries":     c.Transcription.MaxRetries,
			"max_concurrent":  c.Transcription.MaxConcurrent,
			"response_format": c.Transcription.ResponseFormat,
		},
		"server": map[string]interface{}{
			"enabled":      c.Server.Enabled,
			"udp_port":     c.Server.UDPPort,
			"bind_address": c.Server.BindAddress,
			"workers":      c.Server.Workers,
		},
		"post_meeting": map[string]interface{}{
			"enabled":                c.PostMeeting.Enabled,
			"poll_interval":          c.PostMeeting.PollInterval,
			"grace_period":           c.PostMeeting.GracePeriod,
			"backstop_window":        c.PostMeeting.BackstopWindow,
			"max_retries":            c.PostMeeting.MaxRetries,
			"enable_recording_fetch": c.PostMeeting.EnableRecordingFetch,
			"enable_transcription":   c.PostMeeting.EnableTranscription,
			"enable_summary":         c.PostMeeting.EnableSummary,
			"enable_email":           c.PostMeeting.EnableEmail,
		},
		"smtp": map[string]interface{}{
			"enabled": c.SMTP.Enabled(),
			"host":    c.SMTP.Host,
			"port":    c.SMTP.Port,
			"tls":     c.SMTP.TLS,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	}

	if h.deps.UDP != nil {
		stats["udp"] = h.deps.UDP.GetStatistics()
	}
	if h.deps.Meetings != nil {
		stats["meetings"] = map[string]interface{}{
			"active_count": h.deps.Meetings.ActiveSessionCount(),
		}
	}
	if h.deps.Pipeline != nil {
		ps := h.deps.Pipeline.Status()
		stats["pipeline"] = map[string]interface{}{
			"queued_frames":  ps.Queued,
			"dropped_frames": ps.Dropped,
			"gate_state":     ps.Gate.State,
			"vad":            ps.VAD,
		}
	}
	if h.deps.Bus != nil {
		stats["events"] = map[string]interface{}{
			"subscribers": h.deps.Bus.Subscribers(),
			"dropped":     h.deps.Bus.Dropped(),
		}
	}
	if h.deps.Jobs != nil {
		stats["post_meeting"] = h.deps.Jobs.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": serviceName,
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                         "API documentation",
			"GET /health":                   "Service health check",
			"GET /status":                   "Pipeline, meeting and job status",
			"GET /devices":                  "List host audio devices",
			"GET /meetings":                 "Active meeting sessions and stored transcripts",
			"GET /meetings/{id}/transcript": "Meeting transcript (?format=text)",
			"GET /jobs":                     "List post-meeting jobs (?user_id=&status=)",
			"POST /jobs":                    "Create a post-meeting job",
			"GET /jobs/{id}":                "Get a post-meeting job",
			"POST /jobs/{id}/cancel":        "Cancel a post-meeting job",
			"GET /config":                   "Get service configuration",
			"GET /stats":                    "Get service statistics",
			"GET /metrics":                  "Prometheus metrics",
			"GET /events":                   "WebSocket event stream",
			"GET /ingest/{session}":         "WebSocket meeting audio ingest",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
