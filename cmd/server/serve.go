package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/AnnixInvestments/annix-sub033/internal/audio"
	"github.com/AnnixInvestments/annix-sub033/internal/config"
	"github.com/AnnixInvestments/annix-sub033/internal/device"
	"github.com/AnnixInvestments/annix-sub033/internal/device/portaudio"
	"github.com/AnnixInvestments/annix-sub033/internal/email"
	"github.com/AnnixInvestments/annix-sub033/internal/events"
	"github.com/AnnixInvestments/annix-sub033/internal/gate"
	"github.com/AnnixInvestments/annix-sub033/internal/httpclient"
	"github.com/AnnixInvestments/annix-sub033/internal/jobstore"
	"github.com/AnnixInvestments/annix-sub033/internal/meeting"
	"github.com/AnnixInvestments/annix-sub033/internal/metrics"
	"github.com/AnnixInvestments/annix-sub033/internal/pipeline"
	"github.com/AnnixInvestments/annix-sub033/internal/postmeeting"
	"github.com/AnnixInvestments/annix-sub033/internal/recording"
	"github.com/AnnixInvestments/annix-sub033/internal/server"
	"github.com/AnnixInvestments/annix-sub033/internal/summary"
	"github.com/AnnixInvestments/annix-sub033/internal/transcript"
	"github.com/AnnixInvestments/annix-sub033/internal/transcription"
	"github.com/AnnixInvestments/annix-sub033/internal/vad"
	"github.com/AnnixInvestments/annix-sub033/internal/verification"
)

func newServeCmd(deps *cliDeps) *cobra.Command {
	var noPipeline bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the audio pipeline, meeting ingest and post-meeting automation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, deps.config, deps.logger, deps.configPath, !noPipeline)
		},
	}

	cmd.Flags().BoolVar(&noPipeline, "no-pipeline", false, "Do not open audio devices; run ingest and automation only")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, configPath string, withPipeline bool) error {
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("device_backend", cfg.Device.Backend),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("frame_size", cfg.Audio.FrameSize),
		slog.Float64("vad_threshold", cfg.VAD.Threshold),
		slog.Float64("verification_threshold", cfg.Gate.VerificationThreshold),
		slog.Bool("fail_open", cfg.Gate.FailOpenEnabled()),
		slog.Bool("transcription_enabled", cfg.Transcription.Enabled()),
		slog.Bool("udp_enabled", cfg.Server.Enabled),
		slog.Bool("post_meeting_enabled", cfg.PostMeeting.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(reg)
	bus := events.NewBus()

	var backend device.Backend
	if cfg.Device.Backend == "portaudio" {
		pa, err := portaudio.Open()
		if err != nil {
			return fmt.Errorf("failed to initialize audio backend: %w", err)
		}
		defer pa.Close()
		backend = pa
	}

	var pipe *pipeline.Pipeline
	if withPipeline && backend != nil {
		p, closeVerifier, err := buildPipeline(cfg, backend, bus, appMetrics, logger)
		if err != nil {
			return err
		}
		defer closeVerifier()
		if err := p.Start(ctx); err != nil {
			return fmt.Errorf("failed to start audio pipeline: %w", err)
		}
		pipe = p
	}

	var stt *transcription.Client
	var transcriber *transcription.Transcriber
	if cfg.Transcription.Enabled() {
		c, err := transcription.NewClient(transcription.Config{
			Endpoint:       cfg.Transcription.Endpoint,
			APIKey:         cfg.Transcription.APIKey,
			Model:          cfg.Transcription.Model,
			Language:       cfg.Transcription.Language,
			ResponseFormat: cfg.Transcription.ResponseFormat,
			Timeout:        cfg.Transcription.GetTimeoutDuration(),
			MaxRetries:     cfg.Transcription.MaxRetries,
			MaxConcurrent:  cfg.Transcription.MaxConcurrent,
		}, appMetrics)
		if err != nil {
			return fmt.Errorf("failed to create transcription client: %w", err)
		}
		defer c.Close()
		stt = c
		transcriber = transcription.NewTranscriber(c, transcription.TranscriberConfig{
			SampleRate:  cfg.Audio.SampleRate,
			MinDuration: cfg.Meeting.GetMinTranscribeDuration(),
		}, bus, appMetrics, logger)
	} else {
		logger.Warn("Transcription disabled: no API key configured")
	}

	store, err := transcript.NewStore(cfg.Meeting.TranscriptDir)
	if err != nil {
		return fmt.Errorf("failed to open transcript store: %w", err)
	}

	managerConfig := meeting.ManagerConfig{
		SampleRate:   cfg.Audio.SampleRate,
		FrameSize:    cfg.Audio.FrameSize,
		VADThreshold: cfg.VAD.Threshold,
		VADWindow:    cfg.VAD.WindowSize,
		Segmenter: audio.SegmenterConfig{
			MinSpeechDuration:  cfg.Meeting.GetMinSpeechDuration(),
			MinSilenceDuration: cfg.Meeting.GetMinSilenceDuration(),
			MaxDuration:        cfg.Meeting.GetMaxSegmentDuration(),
		},
		Transcriber:    transcription.TranscriberConfig{MinDuration: cfg.Meeting.GetMinTranscribeDuration()},
		SessionTimeout: cfg.Meeting.GetSessionTimeoutDuration(),
		SegmentQueue:   cfg.Meeting.SegmentQueue,
	}
	// A nil *Client must not become a non-nil interface.
	var speechToText transcription.SpeechToText
	if stt != nil {
		speechToText = stt
	}
	meetingMgr, err := meeting.NewManager(logger, managerConfig, speechToText, store, bus, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create meeting manager: %w", err)
	}
	defer meetingMgr.Stop()
	if cfg.Meeting.RouteToPipeline && pipe != nil {
		meetingMgr.SetLiveSink(pipe)
		logger.Info("Meeting audio routed through the live gate")
	}

	var udpServer *server.UDPServer
	if cfg.Server.Enabled {
		udpServer = server.NewUDPServer(&cfg.Server, logger, meetingMgr, appMetrics)
		if err := udpServer.Start(); err != nil {
			return fmt.Errorf("failed to start UDP server: %w", err)
		}
	}

	var jobs *postmeeting.Service
	if cfg.PostMeeting.Enabled {
		svc, err := buildPostMeeting(cfg, transcriber, bus, appMetrics, logger)
		if err != nil {
			return err
		}
		svc.Start(ctx)
		jobs = svc
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, server.HTTPDeps{
			Config:   cfg,
			Pipeline: pipe,
			Devices:  backend,
			Meetings: meetingMgr,
			UDP:      udpServer,
			Jobs:     jobs,
			Bus:      bus,
			Metrics:  appMetrics,
			Gatherer: reg,
		})
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	logger.Info("Service started successfully, waiting for signals...")
	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if pipe != nil {
		if err := pipe.Stop(); err != nil {
			logger.Error("Error stopping audio pipeline", slog.String("error", err.Error()))
		}
	}

	if udpServer != nil {
		if err := udpServer.Stop(); err != nil {
			logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
		}
		stats := udpServer.GetStatistics()
		logger.Info("Final UDP statistics",
			slog.Uint64("packets_received", stats.PacketsReceived),
			slog.Uint64("packets_processed", stats.PacketsProcessed),
			slog.Uint64("parse_errors", stats.ParseErrors),
		)
	}

	if jobs != nil {
		jobs.Stop()
	}

	logger.Info("Service stopped")
	return nil
}

// buildPipeline wires capture, VAD, gate, verification and output. The
// returned func releases the verification client.
func buildPipeline(cfg *config.Config, backend device.Backend, bus *events.Bus, m *metrics.Metrics, logger *slog.Logger) (*pipeline.Pipeline, func(), error) {
	outputID, err := device.ResolveOutput(backend, cfg.Device.OutputDeviceID, cfg.Device.VirtualCableName)
	if err != nil {
		return nil, nil, err
	}

	var input *device.Input
	params := device.StreamParams{
		Channels:   1,
		SampleRate: cfg.Audio.SampleRate,
		FrameSize:  cfg.Audio.FrameSize,
	}
	inParams := params
	inParams.DeviceID = cfg.Device.InputDeviceID
	outParams := params
	outParams.DeviceID = outputID
	if !cfg.Meeting.RouteToPipeline {
		input = device.NewInput(backend, inParams, logger)
	}

	detector, err := vad.NewDetector(cfg.VAD.Threshold, cfg.VAD.WindowSize)
	if err != nil {
		return nil, nil, fmt.Errorf("vad config: %w", err)
	}

	g := gate.New(gate.Policy{
		VerificationThreshold: cfg.Gate.VerificationThreshold,
		StaleAfter:            cfg.Gate.GetSilenceTimeout(),
		FailOpen:              cfg.Gate.FailOpenEnabled(),
	})

	closeVerifier := func() {}
	var monitor *gate.Monitor
	if cfg.Verification.Endpoint != "" && cfg.Gate.SpeakerID != "" {
		client, err := verification.NewClient(verification.Config{
			Endpoint:      cfg.Verification.Endpoint,
			APIKey:        cfg.Verification.APIKey,
			Timeout:       cfg.Verification.GetTimeoutDuration(),
			MaxRetries:    cfg.Verification.MaxRetries,
			MaxConcurrent: cfg.Verification.MaxConcurrent,
		}, m)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create verification client: %w", err)
		}
		closeVerifier = func() { client.Close() }

		monitor = gate.NewMonitor(g, client, gate.MonitorConfig{
			SpeakerID:  cfg.Gate.SpeakerID,
			SampleRate: cfg.Audio.SampleRate,
			Window:     cfg.Gate.GetVerifyWindow(),
			MinAudio:   cfg.Gate.GetMinAudio(),
			Interval:   cfg.Gate.GetVerifyInterval(),
			Timeout:    cfg.Verification.GetTimeoutDuration(),
		}, logger)
		monitor.OnResult = func(r gate.VerificationResult, elapsed time.Duration, err error) {
			if err != nil {
				logger.Debug("Verification failed", slog.Duration("elapsed", elapsed), slog.String("error", err.Error()))
				return
			}
			logger.Debug("Verification result",
				slog.Float64("confidence", r.Confidence),
				slog.Duration("elapsed", elapsed),
			)
		}
	} else {
		logger.Warn("Speaker verification disabled: gate follows fail-open policy",
			slog.Bool("fail_open", cfg.Gate.FailOpenEnabled()),
		)
	}

	p, err := pipeline.New(pipeline.Options{
		Input:     input,
		Output:    device.NewOutput(backend, outParams, logger),
		Detector:  detector,
		Gate:      g,
		Monitor:   monitor,
		QueueSize: cfg.Audio.QueueSize,
		Events:    bus,
		Metrics:   m,
		Logger:    logger,
	})
	if err != nil {
		closeVerifier()
		return nil, nil, err
	}
	return p, closeVerifier, nil
}

// openJobStore opens the job records under the post-meeting data directory.
func openJobStore(cfg *config.Config) (*jobstore.Store[postmeeting.Job], error) {
	store, err := jobstore.Open[postmeeting.Job](filepath.Join(cfg.PostMeeting.DataDir, "jobs"))
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	return store, nil
}

func postMeetingOptions(cfg *config.Config) postmeeting.Options {
	pm := cfg.PostMeeting
	return postmeeting.Options{
		PollInterval:         pm.GetPollInterval(),
		GracePeriod:          pm.GetGracePeriod(),
		BackstopWindow:       pm.GetBackstopWindow(),
		MaxRetries:           pm.MaxRetries,
		MaxConcurrentJobs:    pm.MaxConcurrentJobs,
		ArtifactDir:          filepath.Join(pm.DataDir, "artifacts"),
		EnableRecordingFetch: pm.EnableRecordingFetch,
		EnableTranscription:  pm.EnableTranscription,
		EnableSummary:        pm.EnableSummary,
		EnableEmail:          pm.EnableEmail,
	}
}

func buildPostMeeting(cfg *config.Config, transcriber *transcription.Transcriber, bus *events.Bus, m *metrics.Metrics, logger *slog.Logger) (*postmeeting.Service, error) {
	store, err := openJobStore(cfg)
	if err != nil {
		return nil, err
	}

	pm := cfg.PostMeeting
	client := httpclient.New(pm.GetDownloadTimeout())
	deps := postmeeting.Dependencies{
		Providers: recording.NewRegistry(
			recording.NewZoomProvider(pm.ZoomAPIBase, client),
			recording.NewTeamsProvider(pm.GraphAPIBase, client),
			recording.NewMeetProvider(pm.MeetAPIBase, pm.DriveAPIBase, client),
		),
		Credentials: postmeeting.NewStaticCredentials(map[string]recording.Credentials{
			recording.PlatformZoom:  platformCredentials(cfg.Credentials.Zoom),
			recording.PlatformTeams: platformCredentials(cfg.Credentials.Teams),
			recording.PlatformMeet:  platformCredentials(cfg.Credentials.Meet),
		}),
		Events:  bus,
		Metrics: m,
	}

	if transcriber != nil {
		deps.Transcriber = transcriber
	}

	if cfg.Summary.Enabled() {
		gen, err := summary.NewGenerator(summary.Config{
			Endpoint:   cfg.Summary.Endpoint,
			APIKey:     cfg.Summary.APIKey,
			Model:      cfg.Summary.Model,
			MaxTokens:  cfg.Summary.MaxTokens,
			Timeout:    cfg.Summary.GetTimeoutDuration(),
			MaxRetries: cfg.Summary.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create summary generator: %w", err)
		}
		deps.Summarizer = gen
	}

	if cfg.SMTP.Enabled() {
		sender, err := email.NewSMTPSender(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			TLS:      cfg.SMTP.TLS,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SMTP sender: %w", err)
		}
		deps.Email = sender
	}

	svc, err := postmeeting.NewService(store, postMeetingOptions(cfg), deps, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create post-meeting service: %w", err)
	}
	return svc, nil
}

func platformCredentials(c config.PlatformCredentials) recording.Credentials {
	return recording.Credentials{AccessToken: c.AccessToken, RefreshToken: c.RefreshToken}
}
