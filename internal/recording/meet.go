package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMeetAPI is the Google Meet REST base URL.
	DefaultMeetAPI = "https://meet.googleapis.com/v2"
	// DefaultDriveAPI is the Google Drive base URL, where Meet stores recordings.
	DefaultDriveAPI = "https://www.googleapis.com/drive/v3"
)

// MeetProvider confirms meeting end through conference records and finds
// recordings in the organizer's Drive.
type MeetProvider struct {
	MeetURL  string
	DriveURL string
	Client   *http.Client
}

// NewMeetProvider creates a provider. Empty URLs select the Google defaults.
func NewMeetProvider(meetURL, driveURL string, client *http.Client) *MeetProvider {
	if meetURL == "" {
		meetURL = DefaultMeetAPI
	}
	if driveURL == "" {
		driveURL = DefaultDriveAPI
	}
	return &MeetProvider{
		MeetURL:  strings.TrimRight(meetURL, "/"),
		DriveURL: strings.TrimRight(driveURL, "/"),
		Client:   client,
	}
}

func (m *MeetProvider) Platform() string { return PlatformMeet }

// CheckMeetingEnded looks for a finished conference record for the meeting code.
func (m *MeetProvider) CheckMeetingEnded(ctx context.Context, creds Credentials, meetingCode string) (EndStatus, error) {
	q := url.Values{"filter": {fmt.Sprintf(`space.meeting_code = "%s"`, meetingCode)}}
	body, err := getJSON(ctx, m.Client, m.MeetURL+"/conferenceRecords?"+q.Encode(), creds.AccessToken)
	if err != nil {
		return EndStatus{}, fmt.Errorf("meet conference records: %w", err)
	}

	var r struct {
		ConferenceRecords []struct {
			EndTime time.Time `json:"endTime"`
		} `json:"conferenceRecords"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return EndStatus{}, fmt.Errorf("failed to decode conference records: %w", err)
	}

	var latest time.Time
	for _, c := range r.ConferenceRecords {
		if c.EndTime.After(latest) {
			latest = c.EndTime
		}
	}
	if latest.IsZero() {
		return EndStatus{}, nil
	}
	return EndStatus{Ended: true, EndTime: latest}, nil
}

// ListRecordings searches Drive for files named after the meeting code.
func (m *MeetProvider) ListRecordings(ctx context.Context, creds Credentials, meetingCode string) ([]Metadata, error) {
	q := url.Values{
		"q":      {fmt.Sprintf("name contains '%s' and mimeType contains 'video/'", strings.ReplaceAll(meetingCode, "'", ""))},
		"fields": {"files(id,name,mimeType,size,createdTime,webContentLink)"},
	}
	body, err := getJSON(ctx, m.Client, m.DriveURL+"/files?"+q.Encode(), creds.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("drive files: %w", err)
	}

	var r struct {
		Files []struct {
			ID             string    `json:"id"`
			Size           string    `json:"size"`
			CreatedTime    time.Time `json:"createdTime"`
			WebContentLink string    `json:"webContentLink"`
		} `json:"files"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("failed to decode drive files: %w", err)
	}

	out := make([]Metadata, 0, len(r.Files))
	for _, f := range r.Files {
		size, _ := strconv.ParseInt(f.Size, 10, 64)
		out = append(out, Metadata{
			Platform:    PlatformMeet,
			MeetingID:   meetingCode,
			RecordingID: f.ID,
			DownloadURL: f.WebContentLink,
			FileSize:    size,
			RecordedAt:  f.CreatedTime,
		})
	}
	return out, nil
}

// DownloadRecording fetches the file content through the Drive media endpoint.
func (m *MeetProvider) DownloadRecording(ctx context.Context, creds Credentials, rec Metadata, dest string) error {
	u := m.DriveURL + "/files/" + url.PathEscape(rec.RecordingID) + "?alt=media"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	return download(m.Client, req, dest)
}
