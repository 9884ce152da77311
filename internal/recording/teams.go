package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultGraphAPI is the Microsoft Graph base URL.
const DefaultGraphAPI = "https://graph.microsoft.com/v1.0"

// TeamsProvider reads online meeting recordings from Microsoft Graph.
type TeamsProvider struct {
	BaseURL string
	Client  *http.Client
	Now     func() time.Time
}

// NewTeamsProvider creates a provider. An empty baseURL selects DefaultGraphAPI.
func NewTeamsProvider(baseURL string, client *http.Client) *TeamsProvider {
	if baseURL == "" {
		baseURL = DefaultGraphAPI
	}
	return &TeamsProvider{BaseURL: strings.TrimRight(baseURL, "/"), Client: client, Now: time.Now}
}

func (t *TeamsProvider) Platform() string { return PlatformTeams }

func (t *TeamsProvider) meetingURL(meetingID string) string {
	return t.BaseURL + "/me/onlineMeetings/" + url.PathEscape(meetingID)
}

// CheckMeetingEnded treats a meeting as ended once its scheduled end has passed.
func (t *TeamsProvider) CheckMeetingEnded(ctx context.Context, creds Credentials, meetingID string) (EndStatus, error) {
	body, err := getJSON(ctx, t.Client, t.meetingURL(meetingID), creds.AccessToken)
	if err != nil {
		return EndStatus{}, fmt.Errorf("graph online meeting: %w", err)
	}

	var m struct {
		EndDateTime time.Time `json:"endDateTime"`
	}
	if err := json.Unmarshal(body, &m); err != nil {
		return EndStatus{}, fmt.Errorf("failed to decode online meeting: %w", err)
	}
	if m.EndDateTime.IsZero() || t.Now().Before(m.EndDateTime) {
		return EndStatus{}, nil
	}
	return EndStatus{Ended: true, EndTime: m.EndDateTime}, nil
}

// ListRecordings returns the meeting's recordings in the order Graph lists them.
func (t *TeamsProvider) ListRecordings(ctx context.Context, creds Credentials, meetingID string) ([]Metadata, error) {
	body, err := getJSON(ctx, t.Client, t.meetingURL(meetingID)+"/recordings", creds.AccessToken)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("graph recordings: %w", err)
	}

	var r struct {
		Value []struct {
			ID                  string    `json:"id"`
			CreatedDateTime     time.Time `json:"createdDateTime"`
			EndDateTime         time.Time `json:"endDateTime"`
			RecordingContentURL string    `json:"recordingContentUrl"`
		} `json:"value"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("failed to decode recordings: %w", err)
	}

	out := make([]Metadata, 0, len(r.Value))
	for _, v := range r.Value {
		md := Metadata{
			Platform:    PlatformTeams,
			MeetingID:   meetingID,
			RecordingID: v.ID,
			DownloadURL: v.RecordingContentURL,
			RecordedAt:  v.CreatedDateTime,
		}
		if !v.EndDateTime.IsZero() {
			md.Duration = v.EndDateTime.Sub(v.CreatedDateTime)
		}
		out = append(out, md)
	}
	return out, nil
}

// DownloadRecording fetches recordingContentUrl with the bearer token.
func (t *TeamsProvider) DownloadRecording(ctx context.Context, creds Credentials, rec Metadata, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.DownloadURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	return download(t.Client, req, dest)
}
