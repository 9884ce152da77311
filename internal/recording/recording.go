// Package recording fetches meeting recordings from the hosting platform.
//
// Each platform (Zoom, Microsoft Teams, Google Meet) is a Provider able to
// confirm that a meeting ended, list its recordings and download one. The
// post-meeting pipeline looks providers up by platform in a Registry and
// never depends on a concrete platform.
package recording

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/AnnixInvestments/annix-sub033/internal/fileutil"
	"github.com/AnnixInvestments/annix-sub033/internal/httpclient"
)

const (
	PlatformZoom  = "zoom"
	PlatformTeams = "teams"
	PlatformMeet  = "meet"
)

// ErrUnknownPlatform is returned when no provider is registered for a platform.
var ErrUnknownPlatform = errors.New("unknown recording platform")

// Credentials are the OAuth tokens of the meeting owner.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// Metadata describes one downloadable recording.
type Metadata struct {
	Platform     string        `json:"platform"`
	MeetingID    string        `json:"meeting_id"`
	RecordingID  string        `json:"recording_id"`
	DownloadURL  string        `json:"download_url"`
	Duration     time.Duration `json:"duration"`
	FileSize     int64         `json:"file_size"`
	RecordedAt   time.Time     `json:"recorded_at"`
	Participants []string      `json:"participants,omitempty"`
}

// EndStatus is the outcome of an end-of-meeting check.
type EndStatus struct {
	Ended   bool
	EndTime time.Time // zero when the platform did not report one
}

// Provider is implemented once per meeting platform.
type Provider interface {
	Platform() string
	CheckMeetingEnded(ctx context.Context, creds Credentials, meetingID string) (EndStatus, error)
	ListRecordings(ctx context.Context, creds Credentials, meetingID string) ([]Metadata, error)
	DownloadRecording(ctx context.Context, creds Credentials, rec Metadata, dest string) error
}

// Registry maps platform identifiers to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces the provider for p.Platform().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Platform()] = p
}

// Get returns the provider for platform.
func (r *Registry) Get(platform string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
	return p, nil
}

// Platforms returns the registered platform names, sorted.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var meetingIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`zoom\.us/j/(\d+)`),
	regexp.MustCompile(`meetup-join/([^/]+)`),
	regexp.MustCompile(`meet\.google\.com/([\w-]+)`),
}

// ExtractMeetingID pulls the platform meeting ID out of a join URL. It
// returns "" when the URL matches no known platform.
func ExtractMeetingID(meetingURL string) string {
	for _, re := range meetingIDPatterns {
		if m := re.FindStringSubmatch(meetingURL); m != nil {
			return m[1]
		}
	}
	return ""
}

// PlatformForProvider maps a calendar provider to the platform that hosts its meetings.
func PlatformForProvider(calendarProvider string) (string, bool) {
	switch calendarProvider {
	case "google":
		return PlatformMeet, true
	case "microsoft":
		return PlatformTeams, true
	case "zoom":
		return PlatformZoom, true
	}
	return "", false
}

// FileExtension is the container a platform delivers recordings in.
func FileExtension(platform string) string {
	if platform == PlatformZoom {
		return "m4a"
	}
	return "mp4"
}

// download streams req into dest through a temp file in the same directory,
// renaming only after the body was fully written.
func download(client *http.Client, req *http.Request, dest string) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, err := httpclient.ReadBody(resp)
		return fmt.Errorf("download failed: %w", err)
	}

	if err := fileutil.WriteAtomic(dest, resp.Body); err != nil {
		return fmt.Errorf("save recording: %w", err)
	}
	return nil
}

// getJSON issues an authorized GET and returns the body of a 2xx response.
func getJSON(ctx context.Context, client *http.Client, url, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return httpclient.ReadBody(resp)
}

// isNotFound reports whether err is a 404 from the platform API.
func isNotFound(err error) bool {
	var statusErr *httpclient.StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}
