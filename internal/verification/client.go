// Package verification implements gate.Verifier against an HTTP speaker
// verification service. Audio is posted as a WAV file in a multipart form
// together with the enrolled speaker ID; the service replies with a confidence
// score and a match decision.
package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/audio"
	"github.com/AnnixInvestments/annix-sub033/internal/gate"
	"github.com/AnnixInvestments/annix-sub033/internal/httpclient"
	"github.com/AnnixInvestments/annix-sub033/internal/metrics"
)

// Config contains verification client configuration.
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	BaseBackoff   time.Duration
}

// Response is the verification service reply.
type Response struct {
	SpeakerID  string  `json:"speaker_id"`
	Confidence float64 `json:"confidence"`
	Authorized bool    `json:"authorized"`
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

// Client calls the speaker verification service.
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

var _ gate.Verifier = (*Client)(nil)

// NewClient creates a verification client. m may be nil.
func NewClient(config Config, m *metrics.Metrics) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = 100 * time.Millisecond
	}

	return &Client{
		config:     config,
		httpClient: httpclient.New(config.Timeout),
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		metrics:    m,
	}, nil
}

// Verify scores samples against speakerID.
func (c *Client) Verify(ctx context.Context, samples []int16, sampleRate int, speakerID string) (gate.VerificationResult, error) {
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return gate.VerificationResult{}, ctx.Err()
	}

	wav, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return gate.VerificationResult{}, fmt.Errorf("encode verification audio: %w", err)
	}

	start := time.Now()
	c.mu.Lock()
	c.totalRequests++
	c.mu.Unlock()

	var resp *Response
	retry := httpclient.Retry{
		MaxRetries:  c.config.MaxRetries,
		BaseBackoff: c.config.BaseBackoff,
		MaxBackoff:  time.Second,
		OnRetry: func(int, error) {
			c.mu.Lock()
			c.totalRetries++
			c.mu.Unlock()
			c.metrics.RecordVerificationRetry()
		},
	}
	attempts, err := retry.Do(ctx, func(ctx context.Context) error {
		r, err := c.doRequest(ctx, wav, sampleRate, speakerID)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})

	elapsed := time.Since(start)
	if err != nil {
		c.mu.Lock()
		c.failedRequests++
		c.mu.Unlock()
		c.metrics.RecordVerification(0, elapsed.Seconds(), err)
		return gate.VerificationResult{}, fmt.Errorf("verification failed after %d attempts: %w", attempts, err)
	}

	c.mu.Lock()
	c.successRequests++
	if c.avgResponseTime == 0 {
		c.avgResponseTime = elapsed
	} else {
		c.avgResponseTime = (c.avgResponseTime + elapsed) / 2
	}
	c.mu.Unlock()
	c.metrics.RecordVerification(resp.Confidence, elapsed.Seconds(), nil)

	decision := gate.Unauthorized
	if resp.Authorized {
		decision = gate.Authorized
	}
	return gate.VerificationResult{
		Confidence: clamp01(resp.Confidence),
		Decision:   decision,
		Timestamp:  time.Now(),
	}, nil
}

func (c *Client) doRequest(ctx context.Context, wav []byte, sampleRate int, speakerID string) (*Response, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "verify.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.WriteField("speaker_id", speakerID); err != nil {
		return nil, fmt.Errorf("failed to write field speaker_id: %w", err)
	}
	if err := writer.WriteField("sample_rate", strconv.Itoa(sampleRate)); err != nil {
		return nil, fmt.Errorf("failed to write field sample_rate: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := httpclient.ReadBody(resp)
	if err != nil {
		return nil, err
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return &out, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
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
