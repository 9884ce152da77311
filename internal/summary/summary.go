// Package summary turns a meeting transcript into a structured summary using an
// OpenAI-compatible chat completion endpoint, and renders it as text and HTML
// for email.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/httpclient"
	"github.com/AnnixInvestments/annix-sub033/internal/transcription"
)

// DefaultPrompt asks the model for the JSON shape Summary decodes.
const DefaultPrompt = `You are a meeting summarizer. Given a meeting transcript, reply with a JSON object with these fields:
"overview": a 2-3 sentence overview of the meeting,
"key_points": list of the main discussion points,
"decisions": list of decisions that were made,
"action_items": list of {"task", "owner", "due_date"} with the responsible person if identifiable,
"topics": list of short topic labels.
Use empty lists for sections without content. Reply with JSON only.`

// Attendee is a meeting participant.
type Attendee struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// ActionItem is a follow-up task.
type ActionItem struct {
	Task       string `json:"task"`
	Owner      string `json:"owner,omitempty"`
	OwnerEmail string `json:"owner_email,omitempty"`
	DueDate    string `json:"due_date,omitempty"`
}

// Summary is the structured result persisted as summary.json.
type Summary struct {
	Title       string       `json:"title"`
	Date        string       `json:"date"`
	Duration    int          `json:"duration_seconds"`
	Attendees   []Attendee   `json:"attendees,omitempty"`
	Overview    string       `json:"overview"`
	KeyPoints   []string     `json:"key_points"`
	Decisions   []string     `json:"decisions"`
	ActionItems []ActionItem `json:"action_items"`
	Topics      []string     `json:"topics"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Meeting describes what was summarized.
type Meeting struct {
	Title     string
	Start     time.Time
	Duration  time.Duration
	Attendees []Attendee
}

// Config contains summary generator configuration.
type Config struct {
	Endpoint    string // base URL, e.g. https://api.openai.com/v1
	APIKey      string
	Model       string
	Prompt      string
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
	BaseBackoff time.Duration
}

// Generator calls the chat completion endpoint.
type Generator struct {
	config     Config
	httpClient *http.Client
	retry      httpclient.Retry
	now        func() time.Time
}

// NewGenerator creates a summary generator.
func NewGenerator(config Config) (*Generator, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("summary endpoint is required")
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.Prompt == "" {
		config.Prompt = DefaultPrompt
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 2000
	}
	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}
	config.Endpoint = strings.TrimRight(config.Endpoint, "/")

	return &Generator{
		config:     config,
		httpClient: httpclient.New(config.Timeout),
		retry:      httpclient.Retry{MaxRetries: config.MaxRetries, BaseBackoff: config.BaseBackoff},
		now:        time.Now,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate summarizes entries. Action item owners are matched to attendee
// emails by name.
func (g *Generator) Generate(ctx context.Context, m Meeting, entries []transcription.Entry) (*Summary, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("transcript is empty")
	}

	var content string
	_, err := g.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		content, err = g.complete(ctx, userPrompt(m, entries))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("summary request failed: %w", err)
	}

	var s Summary
	if err := json.Unmarshal([]byte(stripFence(content)), &s); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}

	s.Title = m.Title
	s.Date = m.Start.Format("Monday, January 2, 2006")
	s.Duration = int(m.Duration.Seconds())
	s.Attendees = m.Attendees
	s.GeneratedAt = g.now().UTC()

	emails := make(map[string]string, len(m.Attendees))
	for _, a := range m.Attendees {
		if a.Name != "" && a.Email != "" {
			emails[strings.ToLower(a.Name)] = a.Email
		}
	}
	for i := range s.ActionItems {
		if email, ok := emails[strings.ToLower(s.ActionItems[i].Owner)]; ok && s.ActionItems[i].OwnerEmail == "" {
			s.ActionItems[i].OwnerEmail = email
		}
	}

	return &s, nil
}

func (g *Generator) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: g.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: g.config.Prompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:      g.config.MaxTokens,
		Temperature:    0.2,
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.config.APIKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := httpclient.ReadBody(resp)
	if err != nil {
		return "", err
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("empty completion")
	}
	return out.Choices[0].Message.Content, nil
}

func userPrompt(m Meeting, entries []transcription.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Meeting: %s\n", m.Title)
	if !m.Start.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", m.Start.Format("Monday, January 2, 2006"))
	}
	if m.Duration > 0 {
		fmt.Fprintf(&b, "Duration: %d minutes\n", int(m.Duration.Minutes()))
	}
	if len(m.Attendees) > 0 {
		names := make([]string, 0, len(m.Attendees))
		for _, a := range m.Attendees {
			if a.Name != "" {
				names = append(names, a.Name)
			} else {
				names = append(names, a.Email)
			}
		}
		fmt.Fprintf(&b, "Attendees: %s\n", strings.Join(names, ", "))
	}
	b.WriteString("\nTranscript:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: %s\n", e.SpeakerName, e.Text)
	}
	return b.String()
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
