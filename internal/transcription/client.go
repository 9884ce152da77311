package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/httpclient"
	"github.com/AnnixInvestments/annix-sub033/internal/metrics"
)

// SpeechToText is the external transcription capability.
type SpeechToText interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (*Response, error)
}

// Config contains transcription client configuration.
type Config struct {
	Endpoint       string
	APIKey         string
	Model          string
	Language       string
	Prompt         string
	ResponseFormat string // "json" or "verbose_json"
	Timeout        time.Duration
	MaxRetries     int
	MaxConcurrent  int
	BaseBackoff    time.Duration
}

// Response is the speech-to-text reply.
type Response struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
}

// Segment is a timed span of a verbose transcription.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	AvgLogprob float64 `json:"avg_logprob"`
}

// Confidence estimates a [0,1] confidence from segment log probabilities.
// Responses without segments report 1.
func (r *Response) Confidence() float64 {
	if len(r.Segments) == 0 {
		return 1
	}
	var sum float64
	for _, s := range r.Segments {
		sum += s.AvgLogprob
	}
	return math.Min(1, math.Exp(sum/float64(len(r.Segments))))
}

// ClientStats represents client statistics.
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// Client is an OpenAI-compatible /audio/transcriptions client.
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{}
	metrics    *metrics.Metrics

	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// NewClient creates a new transcription HTTP client. m may be nil.
func NewClient(config Config, m *metrics.Metrics) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if config.Model == "" {
		config.Model = "whisper-1"
	}
	if config.ResponseFormat == "" {
		config.ResponseFormat = "json"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	return &Client{
		config:     config,
		httpClient: httpclient.New(config.Timeout),
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		metrics:    m,
	}, nil
}

// Transcribe uploads an audio file and returns its transcription.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (*Response, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("audio is empty")
	}

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()
	c.metrics.RecordTranscriptionRequest()

	var response *Response
	retry := httpclient.Retry{
		MaxRetries:  c.config.MaxRetries,
		BaseBackoff: c.config.BaseBackoff,
		OnRetry: func(int, error) {
			c.mu.Lock()
			c.totalRetries++
			c.mu.Unlock()
			c.metrics.RecordTranscriptionRetry()
		},
	}
	attempts, err := retry.Do(ctx, func(ctx context.Context) error {
		r, err := c.doRequest(ctx, filename, data)
		if err != nil {
			return err
		}
		response = r
		return nil
	})

	elapsed := time.Since(startTime)
	if err != nil {
		c.mu.Lock()
		c.failedRequests++
		c.mu.Unlock()
		c.metrics.RecordTranscriptionFailure(elapsed.Seconds())
		return nil, fmt.Errorf("transcription failed after %d attempts: %w", attempts, err)
	}

	c.mu.Lock()
	c.successRequests++
	if c.avgResponseTime == 0 {
		c.avgResponseTime = elapsed
	} else {
		c.avgResponseTime = (c.avgResponseTime + elapsed) / 2
	}
	c.mu.Unlock()
	c.metrics.RecordTranscriptionSuccess(elapsed.Seconds())

	return response, nil
}

// doRequest performs a single HTTP request to the transcription API.
func (c *Client) doRequest(ctx context.Context, filename string, data []byte) (*Response, error) {
	body, contentType, err := c.createMultipartRequest(filename, data)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := httpclient.ReadBody(resp)
	if err != nil {
		return nil, err
	}

	var out Response
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		out.Text = string(respBody)
		return &out, nil
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return &out, nil
}

// createMultipartRequest creates a multipart/form-data request body.
func (c *Client) createMultipartRequest(filename string, data []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(data); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"model", c.config.Model},
		{"response_format", c.config.ResponseFormat},
	}
	if c.config.Language != "" {
		fields = append(fields, [2]string{"language", c.config.Language})
	}
	if c.config.Prompt != "" {
		fields = append(fields, [2]string{"prompt", c.config.Prompt})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// GetStats returns current client statistics.
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight requests to finish.
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}
