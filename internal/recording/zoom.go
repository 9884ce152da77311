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

// DefaultZoomAPI is the Zoom REST base URL.
const DefaultZoomAPI = "https://api.zoom.us/v2"

// ZoomProvider reads cloud recordings from the Zoom API.
type ZoomProvider struct {
	BaseURL string
	Client  *http.Client
}

// NewZoomProvider creates a provider. An empty baseURL selects DefaultZoomAPI.
func NewZoomProvider(baseURL string, client *http.Client) *ZoomProvider {
	if baseURL == "" {
		baseURL = DefaultZoomAPI
	}
	return &ZoomProvider{BaseURL: strings.TrimRight(baseURL, "/"), Client: client}
}

func (z *ZoomProvider) Platform() string { return PlatformZoom }

type zoomPastMeeting struct {
	EndTime time.Time `json:"end_time"`
}

type zoomRecordingFile struct {
	ID             string    `json:"id"`
	FileType       string    `json:"file_type"`
	FileSize       int64     `json:"file_size"`
	RecordingType  string    `json:"recording_type"`
	DownloadURL    string    `json:"download_url"`
	RecordingStart time.Time `json:"recording_start"`
	RecordingEnd   time.Time `json:"recording_end"`
}

type zoomRecordings struct {
	RecordingFiles []zoomRecordingFile `json:"recording_files"`
}

// CheckMeetingEnded asks for the past-meeting record, which exists only once
// the meeting has finished.
func (z *ZoomProvider) CheckMeetingEnded(ctx context.Context, creds Credentials, meetingID string) (EndStatus, error) {
	body, err := getJSON(ctx, z.Client, z.BaseURL+"/past_meetings/"+url.PathEscape(meetingID), creds.AccessToken)
	if isNotFound(err) {
		return EndStatus{}, nil
	}
	if err != nil {
		return EndStatus{}, fmt.Errorf("zoom past meeting: %w", err)
	}

	var pm zoomPastMeeting
	if err := json.Unmarshal(body, &pm); err != nil {
		return EndStatus{}, fmt.Errorf("failed to decode zoom past meeting: %w", err)
	}
	return EndStatus{Ended: true, EndTime: pm.EndTime}, nil
}

// ListRecordings returns the audio-bearing files of a meeting, audio-only first.
// A meeting without cloud recordings yields an empty list.
func (z *ZoomProvider) ListRecordings(ctx context.Context, creds Credentials, meetingID string) ([]Metadata, error) {
	body, err := getJSON(ctx, z.Client, z.BaseURL+"/meetings/"+url.PathEscape(meetingID)+"/recordings", creds.AccessToken)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("zoom recordings: %w", err)
	}

	var r zoomRecordings
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("failed to decode zoom recordings: %w", err)
	}

	var audioOnly, video []Metadata
	for _, f := range r.RecordingFiles {
		isAudio := f.FileType == "M4A" || f.RecordingType == "audio_only"
		if !isAudio && f.FileType != "MP4" {
			continue
		}
		md := Metadata{
			Platform:    PlatformZoom,
			MeetingID:   meetingID,
			RecordingID: f.ID,
			DownloadURL: f.DownloadURL,
			Duration:    f.RecordingEnd.Sub(f.RecordingStart),
			FileSize:    f.FileSize,
			RecordedAt:  f.RecordingStart,
		}
		if isAudio {
			audioOnly = append(audioOnly, md)
		} else {
			video = append(video, md)
		}
	}
	return append(audioOnly, video...), nil
}

// DownloadRecording fetches the file; Zoom expects the token as a query parameter.
func (z *ZoomProvider) DownloadRecording(ctx context.Context, creds Credentials, rec Metadata, dest string) error {
	u, err := url.Parse(rec.DownloadURL)
	if err != nil {
		return fmt.Errorf("invalid zoom download url: %w", err)
	}
	q := u.Query()
	q.Set("access_token", creds.AccessToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return download(z.Client, req, dest)
}
