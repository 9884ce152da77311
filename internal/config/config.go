package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Device        DeviceConfig        `yaml:"device"`
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Gate          GateConfig          `yaml:"gate"`
	Verification  VerificationConfig  `yaml:"verification"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Meeting       MeetingConfig       `yaml:"meeting"`
	Server        ServerConfig        `yaml:"server"`
	HTTP          HTTPConfig          `yaml:"http"`
	PostMeeting   PostMeetingConfig   `yaml:"post_meeting"`
	Summary       SummaryConfig       `yaml:"summary"`
	SMTP          SMTPConfig          `yaml:"smtp"`
	Credentials   CredentialsConfig   `yaml:"credentials"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// DeviceConfig selects the host audio devices. -1 means the system default.
type DeviceConfig struct {
	Backend          string `yaml:"backend"` // portaudio | none
	InputDeviceID    int    `yaml:"input_device_id"`
	OutputDeviceID   int    `yaml:"output_device_id"`
	VirtualCableName string `yaml:"virtual_cable_name"`
}

// AudioConfig fixes the canonical frame shape
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	FrameSize  int `yaml:"frame_size"` // samples per frame
	QueueSize  int `yaml:"queue_size"` // frames between capture and processing
}

// VADConfig contains Voice Activity Detection configuration
type VADConfig struct {
	Threshold  float64 `yaml:"threshold"`
	WindowSize int     `yaml:"window_size"` // frames
}

// GateConfig contains the mute policy and verification cadence
type GateConfig struct {
	SpeakerID             string  `yaml:"speaker_id"`
	VerificationThreshold float64 `yaml:"verification_threshold"`
	SilenceTimeoutMs      int     `yaml:"silence_timeout_ms"` // verification staleness
	FailOpen              *bool   `yaml:"fail_open"`
	VerifyIntervalMs      int     `yaml:"verify_interval_ms"`
	VerifyWindowMs        int     `yaml:"verify_window_ms"`
	MinAudioMs            int     `yaml:"min_audio_ms"`
}

// VerificationConfig contains speaker verification API configuration
type VerificationConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Language       string `yaml:"language"`
	Timeout        int    `yaml:"timeout"` // seconds
	MaxRetries     int    `yaml:"max_retries"`
	MaxConcurrent  int    `yaml:"max_concurrent"`
	ResponseFormat string `yaml:"response_format"`
}

// MeetingConfig contains meeting session and segmentation parameters
type MeetingConfig struct {
	TranscriptDir         string  `yaml:"transcript_dir"`
	SessionTimeout        int     `yaml:"session_timeout"`         // seconds
	MinSpeechDuration     float64 `yaml:"min_speech_duration"`     // seconds
	MinSilenceDuration    float64 `yaml:"min_silence_duration"`    // seconds
	MaxSegmentDuration    float64 `yaml:"max_segment_duration"`    // seconds
	MinTranscribeDuration float64 `yaml:"min_transcribe_duration"` // seconds
	SegmentQueue          int     `yaml:"segment_queue"`
	// RouteToPipeline feeds meeting frames into the live gate instead of
	// capturing from the input device.
	RouteToPipeline bool `yaml:"route_to_pipeline"`
}

// ServerConfig contains UDP ingest server configuration
type ServerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	UDPPort       int    `yaml:"udp_port"`
	BindAddress   string `yaml:"bind_address"`
	BufferSize    int    `yaml:"buffer_size"`
	Workers       int    `yaml:"workers"`
	QueueSize     int    `yaml:"queue_size"`
	MaxReorderGap uint32 `yaml:"max_reorder_gap"`
	StreamTimeout int    `yaml:"stream_timeout"` // seconds
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// PostMeetingConfig contains the post-meeting scheduler configuration
type PostMeetingConfig struct {
	Enabled              bool   `yaml:"enabled"`
	DataDir              string `yaml:"data_dir"`
	PollInterval         int    `yaml:"poll_interval"`   // seconds
	GracePeriod          int    `yaml:"grace_period"`    // seconds
	BackstopWindow       int    `yaml:"backstop_window"` // seconds
	MaxRetries           int    `yaml:"max_retries"`
	MaxConcurrentJobs    int    `yaml:"max_concurrent_jobs"`
	EnableRecordingFetch bool   `yaml:"enable_recording_fetch"`
	EnableTranscription  bool   `yaml:"enable_transcription"`
	EnableSummary        bool   `yaml:"enable_summary"`
	EnableEmail          bool   `yaml:"enable_email"`
	ZoomAPIBase          string `yaml:"zoom_api_base"`
	GraphAPIBase         string `yaml:"graph_api_base"`
	MeetAPIBase          string `yaml:"meet_api_base"`
	DriveAPIBase         string `yaml:"drive_api_base"`
	DownloadTimeout      int    `yaml:"download_timeout"` // seconds
}

// SummaryConfig contains the chat completion API configuration
type SummaryConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	MaxTokens  int    `yaml:"max_tokens"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries"`
}

// SMTPConfig contains outgoing mail configuration
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	TLS      string `yaml:"tls"`
}

// PlatformCredentials are OAuth tokens for one meeting platform
type PlatformCredentials struct {
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
}

// CredentialsConfig holds per-platform tokens
type CredentialsConfig struct {
	Zoom  PlatformCredentials `yaml:"zoom"`
	Teams PlatformCredentials `yaml:"teams"`
	Meet  PlatformCredentials `yaml:"meet"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration that validates and runs without any
// external service: no devices, no verification endpoint, post-meeting off.
func Default() *Config {
	failOpen := true
	return &Config{
		Device: DeviceConfig{
			Backend:        "portaudio",
			InputDeviceID:  -1,
			OutputDeviceID: -1,
		},
		Audio: AudioConfig{SampleRate: 16000, FrameSize: 512, QueueSize: 32},
		VAD:   VADConfig{Threshold: 0.01, WindowSize: 5},
		Gate: GateConfig{
			VerificationThreshold: 0.75,
			SilenceTimeoutMs:      300,
			FailOpen:              &failOpen,
			VerifyIntervalMs:      200,
			VerifyWindowMs:        1500,
			MinAudioMs:            500,
		},
		Verification: VerificationConfig{Timeout: 2, MaxRetries: 1, MaxConcurrent: 2},
		Transcription: TranscriptionConfig{
			Endpoint:       "https://api.openai.com/v1/audio/transcriptions",
			Model:          "whisper-1",
			Timeout:        60,
			MaxRetries:     3,
			MaxConcurrent:  4,
			ResponseFormat: "verbose_json",
		},
		Meeting: MeetingConfig{
			TranscriptDir:         "data/transcripts",
			SessionTimeout:        300,
			MinSpeechDuration:     0.5,
			MinSilenceDuration:    0.8,
			MaxSegmentDuration:    30,
			MinTranscribeDuration: 0.5,
			SegmentQueue:          16,
		},
		Server: ServerConfig{
			UDPPort:       4444,
			BindAddress:   "0.0.0.0",
			BufferSize:    65536,
			Workers:       4,
			QueueSize:     1000,
			MaxReorderGap: 32,
			StreamTimeout: 300,
		},
		HTTP: HTTPConfig{Port: 8080, Address: "0.0.0.0", Enabled: true},
		PostMeeting: PostMeetingConfig{
			DataDir:              "data/post-meeting",
			PollInterval:         60,
			GracePeriod:          300,
			BackstopWindow:       6 * 3600,
			MaxRetries:           3,
			MaxConcurrentJobs:    1,
			EnableRecordingFetch: true,
			EnableTranscription:  true,
			EnableSummary:        true,
			EnableEmail:          true,
			ZoomAPIBase:          "https://api.zoom.us/v2",
			GraphAPIBase:         "https://graph.microsoft.com/v1.0",
			MeetAPIBase:          "https://meet.googleapis.com/v2",
			DriveAPIBase:         "https://www.googleapis.com/drive/v3",
			DownloadTimeout:      600,
		},
		Summary: SummaryConfig{
			Endpoint:   "https://api.openai.com/v1",
			Model:      "gpt-4o-mini",
			MaxTokens:  2000,
			Timeout:    120,
			MaxRetries: 2,
		},
		SMTP:    SMTPConfig{Port: 587, TLS: "mandatory"},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// Load reads and parses the configuration file on top of Default, then
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// envOverrides maps environment variables onto secret or deployment
// specific fields so they can stay out of the YAML file.
func (c *Config) envOverrides() map[string]*string {
	return map[string]*string{
		"VOICEFILTER_SPEAKER_ID":           &c.Gate.SpeakerID,
		"VOICEFILTER_VERIFICATION_URL":     &c.Verification.Endpoint,
		"VOICEFILTER_VERIFICATION_API_KEY": &c.Verification.APIKey,
		"OPENAI_API_KEY":                   &c.Transcription.APIKey,
		"VOICEFILTER_SUMMARY_API_KEY":      &c.Summary.APIKey,
		"SMTP_HOST":                        &c.SMTP.Host,
		"SMTP_USER":                        &c.SMTP.Username,
		"SMTP_PASSWORD":                    &c.SMTP.Password,
		"SMTP_FROM":                        &c.SMTP.From,
		"ZOOM_ACCESS_TOKEN":                &c.Credentials.Zoom.AccessToken,
		"ZOOM_REFRESH_TOKEN":               &c.Credentials.Zoom.RefreshToken,
		"TEAMS_ACCESS_TOKEN":               &c.Credentials.Teams.AccessToken,
		"TEAMS_REFRESH_TOKEN":              &c.Credentials.Teams.RefreshToken,
		"MEET_ACCESS_TOKEN":                &c.Credentials.Meet.AccessToken,
		"MEET_REFRESH_TOKEN":               &c.Credentials.Meet.RefreshToken,
	}
}

// ApplyEnv loads .env if present and overlays the environment. The summary
// API key falls back to the transcription key.
func (c *Config) ApplyEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}

	for name, field := range c.envOverrides() {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*field = v
		}
	}

	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SMTP_PORT must be a number, got %q", v)
		}
		c.SMTP.Port = port
	}

	if c.Summary.APIKey == "" {
		c.Summary.APIKey = c.Transcription.APIKey
	}
	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"device", &c.Device},
		{"audio", &c.Audio},
		{"vad", &c.VAD},
		{"gate", &c.Gate},
		{"verification", &c.Verification},
		{"transcription", &c.Transcription},
		{"meeting", &c.Meeting},
		{"server", &c.Server},
		{"http", &c.HTTP},
		{"post_meeting", &c.PostMeeting},
		{"summary", &c.Summary},
		{"smtp", &c.SMTP},
		{"logging", &c.Logging},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s config: %w", s.name, err)
		}
	}
	return nil
}

// Validate validates device configuration
func (d *DeviceConfig) Validate() error {
	if d.Backend != "portaudio" && d.Backend != "none" {
		return fmt.Errorf("backend must be 'portaudio' or 'none', got '%s'", d.Backend)
	}
	if d.InputDeviceID < -1 || d.OutputDeviceID < -1 {
		return fmt.Errorf("device ids must be -1 (default) or a device index")
	}
	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	validRates := map[int]bool{8000: true, 16000: true, 24000: true, 48000: true}
	if !validRates[a.SampleRate] {
		return fmt.Errorf("sample_rate must be one of 8000, 16000, 24000, 48000, got %d", a.SampleRate)
	}

	if a.FrameSize < 64 || a.FrameSize > 4096 {
		return fmt.Errorf("frame_size must be between 64 and 4096 samples, got %d", a.FrameSize)
	}

	if a.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", a.QueueSize)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.Threshold <= 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %f", v.Threshold)
	}

	if v.WindowSize < 1 {
		return fmt.Errorf("window_size must be at least 1 frame, got %d", v.WindowSize)
	}

	return nil
}

// Validate validates gate configuration
func (g *GateConfig) Validate() error {
	if g.VerificationThreshold < 0 || g.VerificationThreshold > 1 {
		return fmt.Errorf("verification_threshold must be between 0 and 1, got %f", g.VerificationThreshold)
	}

	if g.SilenceTimeoutMs < 1 {
		return fmt.Errorf("silence_timeout_ms must be positive, got %d", g.SilenceTimeoutMs)
	}

	if g.VerifyIntervalMs < 1 || g.VerifyWindowMs < 1 || g.MinAudioMs < 0 {
		return fmt.Errorf("verify_interval_ms and verify_window_ms must be positive")
	}

	if g.MinAudioMs > g.VerifyWindowMs {
		return fmt.Errorf("min_audio_ms (%d) cannot exceed verify_window_ms (%d)", g.MinAudioMs, g.VerifyWindowMs)
	}

	return nil
}

// Validate validates verification configuration. An empty endpoint disables
// verification and leaves the gate on its fail-open policy.
func (v *VerificationConfig) Validate() error {
	if v.Endpoint == "" {
		return nil
	}

	if v.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", v.Timeout)
	}

	if v.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", v.MaxRetries)
	}

	if v.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", v.MaxConcurrent)
	}

	return nil
}

// Validate validates transcription configuration. An empty API key
// disables transcription.
func (t *TranscriptionConfig) Validate() error {
	if t.APIKey == "" {
		return nil
	}

	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	validFormats := map[string]bool{"json": true, "verbose_json": true}
	if !validFormats[t.ResponseFormat] {
		return fmt.Errorf("response_format must be 'json' or 'verbose_json', got '%s'", t.ResponseFormat)
	}

	return nil
}

// Enabled reports whether an API key was configured.
func (t *TranscriptionConfig) Enabled() bool {
	return t.APIKey != ""
}

// Validate validates meeting configuration
func (m *MeetingConfig) Validate() error {
	if m.TranscriptDir == "" {
		return fmt.Errorf("transcript_dir cannot be empty")
	}

	if m.SessionTimeout < 1 {
		return fmt.Errorf("session_timeout must be at least 1 second, got %d", m.SessionTimeout)
	}

	if m.MinSpeechDuration <= 0 {
		return fmt.Errorf("min_speech_duration must be positive, got %f", m.MinSpeechDuration)
	}

	if m.MinSilenceDuration <= 0 {
		return fmt.Errorf("min_silence_duration must be positive, got %f", m.MinSilenceDuration)
	}

	if m.MaxSegmentDuration <= m.MinSpeechDuration {
		return fmt.Errorf("max_segment_duration (%f) must be greater than min_speech_duration (%f)",
			m.MaxSegmentDuration, m.MinSpeechDuration)
	}

	if m.SegmentQueue < 1 {
		return fmt.Errorf("segment_queue must be at least 1, got %d", m.SegmentQueue)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	if s.StreamTimeout < 1 {
		return fmt.Errorf("stream_timeout must be at least 1 second, got %d", s.StreamTimeout)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates post-meeting configuration
func (p *PostMeetingConfig) Validate() error {
	if !p.Enabled {
		return nil
	}

	if p.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}

	if p.PollInterval < 1 {
		return fmt.Errorf("poll_interval must be at least 1 second, got %d", p.PollInterval)
	}

	if p.GracePeriod < 0 {
		return fmt.Errorf("grace_period cannot be negative, got %d", p.GracePeriod)
	}

	if p.BackstopWindow <= p.GracePeriod {
		return fmt.Errorf("backstop_window (%d) must be greater than grace_period (%d)", p.BackstopWindow, p.GracePeriod)
	}

	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", p.MaxRetries)
	}

	if p.MaxConcurrentJobs < 1 {
		return fmt.Errorf("max_concurrent_jobs must be at least 1, got %d", p.MaxConcurrentJobs)
	}

	if p.DownloadTimeout < 1 {
		return fmt.Errorf("download_timeout must be at least 1 second, got %d", p.DownloadTimeout)
	}

	return nil
}

// Validate validates summary configuration
func (s *SummaryConfig) Validate() error {
	if s.APIKey == "" {
		return nil
	}

	if s.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries)
	}

	return nil
}

// Enabled reports whether an API key was configured.
func (s *SummaryConfig) Enabled() bool {
	return s.APIKey != ""
}

// Validate validates SMTP configuration. An empty host disables email.
func (s *SMTPConfig) Validate() error {
	if s.Host == "" {
		return nil
	}

	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.From == "" {
		return fmt.Errorf("from cannot be empty when host is set")
	}

	validTLS := map[string]bool{"mandatory": true, "opportunistic": true, "ssl": true, "none": true}
	if !validTLS[s.TLS] {
		return fmt.Errorf("tls must be one of [mandatory, opportunistic, ssl, none], got '%s'", s.TLS)
	}

	return nil
}

// Enabled reports whether a relay was configured.
func (s *SMTPConfig) Enabled() bool {
	return s.Host != ""
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// FailOpenEnabled returns the fail-open policy, defaulting to true.
func (g *GateConfig) FailOpenEnabled() bool {
	return g.FailOpen == nil || *g.FailOpen
}

// GetSilenceTimeout returns the verification staleness as a time.Duration
func (g *GateConfig) GetSilenceTimeout() time.Duration {
	return time.Duration(g.SilenceTimeoutMs) * time.Millisecond
}

// GetVerifyInterval returns the verification cadence as a time.Duration
func (g *GateConfig) GetVerifyInterval() time.Duration {
	return time.Duration(g.VerifyIntervalMs) * time.Millisecond
}

// GetVerifyWindow returns the verification audio window as a time.Duration
func (g *GateConfig) GetVerifyWindow() time.Duration {
	return time.Duration(g.VerifyWindowMs) * time.Millisecond
}

// GetMinAudio returns the minimum buffered speech as a time.Duration
func (g *GateConfig) GetMinAudio() time.Duration {
	return time.Duration(g.MinAudioMs) * time.Millisecond
}

// GetTimeoutDuration returns the verification timeout as a time.Duration
func (v *VerificationConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(v.Timeout) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetSessionTimeoutDuration returns the idle session timeout as a time.Duration
func (m *MeetingConfig) GetSessionTimeoutDuration() time.Duration {
	return time.Duration(m.SessionTimeout) * time.Second
}

// GetMinSpeechDuration returns the minimum speech duration as a time.Duration
func (m *MeetingConfig) GetMinSpeechDuration() time.Duration {
	return seconds(m.MinSpeechDuration)
}

// GetMinSilenceDuration returns the minimum silence duration as a time.Duration
func (m *MeetingConfig) GetMinSilenceDuration() time.Duration {
	return seconds(m.MinSilenceDuration)
}

// GetMaxSegmentDuration returns the forced segment cut as a time.Duration
func (m *MeetingConfig) GetMaxSegmentDuration() time.Duration {
	return seconds(m.MaxSegmentDuration)
}

// GetMinTranscribeDuration returns the shortest audio sent to transcription
func (m *MeetingConfig) GetMinTranscribeDuration() time.Duration {
	return seconds(m.MinTranscribeDuration)
}

// GetStreamTimeoutDuration returns the UDP stream timeout as a time.Duration
func (s *ServerConfig) GetStreamTimeoutDuration() time.Duration {
	return time.Duration(s.StreamTimeout) * time.Second
}

// GetPollInterval returns the scheduler poll interval as a time.Duration
func (p *PostMeetingConfig) GetPollInterval() time.Duration {
	return time.Duration(p.PollInterval) * time.Second
}

// GetGracePeriod returns the end-detection grace as a time.Duration
func (p *PostMeetingConfig) GetGracePeriod() time.Duration {
	return time.Duration(p.GracePeriod) * time.Second
}

// GetBackstopWindow returns the end-detection backstop as a time.Duration
func (p *PostMeetingConfig) GetBackstopWindow() time.Duration {
	return time.Duration(p.BackstopWindow) * time.Second
}

// GetDownloadTimeout returns the recording download timeout as a time.Duration
func (p *PostMeetingConfig) GetDownloadTimeout() time.Duration {
	return time.Duration(p.DownloadTimeout) * time.Second
}

// GetTimeoutDuration returns the summary timeout as a time.Duration
func (s *SummaryConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
