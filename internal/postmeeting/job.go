package postmeeting

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AnnixInvestments/annix-sub033/internal/jobstore"
	"github.com/AnnixInvestments/annix-sub033/internal/recording"
	"github.com/AnnixInvestments/annix-sub033/internal/summary"
)

// Status is the lifecycle position of a job.
type Status string

const (
	StatusPending           Status = "pending"
	StatusDetectingEnd      Status = "detecting_end"
	StatusFetchingRecording Status = "fetching_recording"
	StatusTranscribing      Status = "transcribing"
	StatusGeneratingSummary Status = "generating_summary"
	StatusSendingEmail      Status = "sending_email"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusSkipped           Status = "skipped"
)

var validStatuses = map[Status]bool{
	StatusPending: true, StatusDetectingEnd: true, StatusFetchingRecording: true,
	StatusTranscribing: true, StatusGeneratingSummary: true, StatusSendingEmail: true,
	StatusCompleted: true, StatusFailed: true, StatusSkipped: true,
}

// ParseStatus validates a status name. The empty string is accepted and
// means "any status" to JobsForUser.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if st == "" || validStatuses[st] {
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// IsTerminal reports whether no further processing happens in this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = jobstore.ErrNotFound
	// ErrTerminal is returned when cancelling a job that already finished.
	ErrTerminal = errors.New("job already finished")
)

// Job is one meeting's post-processing record. Jobs are never deleted.
type Job struct {
	ID                 string              `json:"id"`
	UserID             string              `json:"user_id"`
	CalendarEventID    string              `json:"calendar_event_id,omitempty"`
	MeetingSessionID   string              `json:"meeting_session_id,omitempty"`
	Provider           string              `json:"provider,omitempty"`
	Platform           string              `json:"platform,omitempty"`
	MeetingID          string              `json:"meeting_id,omitempty"`
	Title              string              `json:"title"`
	MeetingURL         string              `json:"meeting_url,omitempty"`
	Attendees          []summary.Attendee  `json:"attendees,omitempty"`
	OrganizerEmail     string              `json:"organizer_email,omitempty"`
	AutomationEnabled  bool                `json:"automation_enabled"`
	Status             Status              `json:"status"`
	ScheduledStartTime time.Time           `json:"scheduled_start_time"`
	ScheduledEndTime   time.Time           `json:"scheduled_end_time"`
	ActualEndTime      *time.Time          `json:"actual_end_time,omitempty"`
	Recording          *recording.Metadata `json:"recording,omitempty"`
	RecordingURL       string              `json:"recording_url,omitempty"`
	RecordingPath      string              `json:"recording_path,omitempty"`
	TranscriptPath     string              `json:"transcript_path,omitempty"`
	SummaryPath        string              `json:"summary_path,omitempty"`
	EmailSentAt        *time.Time          `json:"email_sent_at,omitempty"`
	ErrorMessage       string              `json:"error_message,omitempty"`
	RetryCount         int                 `json:"retry_count"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// Recipients returns attendee emails, falling back to the organizer.
func (j *Job) Recipients() []string {
	var out []string
	seen := make(map[string]bool)
	for _, a := range j.Attendees {
		email := strings.TrimSpace(a.Email)
		key := strings.ToLower(email)
		if email == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, email)
	}
	if len(out) == 0 && j.OrganizerEmail != "" {
		out = append(out, j.OrganizerEmail)
	}
	return out
}

// endTime is the best known end of the meeting.
func (j *Job) endTime() time.Time {
	if j.ActualEndTime != nil {
		return *j.ActualEndTime
	}
	return j.ScheduledEndTime
}

// CreateRequest describes a job to create, typically from a calendar event.
type CreateRequest struct {
	UserID             string             `json:"user_id"`
	CalendarEventID    string             `json:"calendar_event_id,omitempty"`
	MeetingSessionID   string             `json:"meeting_session_id,omitempty"`
	Provider           string             `json:"provider,omitempty"`
	Platform           string             `json:"platform,omitempty"`
	Title              string             `json:"title"`
	MeetingURL         string             `json:"meeting_url,omitempty"`
	Attendees          []summary.Attendee `json:"attendees,omitempty"`
	OrganizerEmail     string             `json:"organizer_email,omitempty"`
	AutomationEnabled  *bool              `json:"automation_enabled,omitempty"` // nil means enabled
	ScheduledStartTime time.Time          `json:"scheduled_start_time"`
	ScheduledEndTime   time.Time          `json:"scheduled_end_time"`
}

// Validate checks the request.
func (r *CreateRequest) Validate() error {
	if r.UserID == "" {
		return errors.New("user_id is required")
	}
	if r.ScheduledEndTime.IsZero() {
		return errors.New("scheduled_end_time is required")
	}
	if !r.ScheduledStartTime.IsZero() && r.ScheduledEndTime.Before(r.ScheduledStartTime) {
		return errors.New("scheduled_end_time is before scheduled_start_time")
	}
	if r.Provider != "" {
		if _, ok := recording.PlatformForProvider(r.Provider); !ok {
			return fmt.Errorf("unknown calendar provider %q", r.Provider)
		}
	}
	return nil
}

func newJob(r CreateRequest, now time.Time) *Job {
	platform := r.Platform
	if platform == "" {
		platform, _ = recording.PlatformForProvider(r.Provider)
	}
	enabled := true
	if r.AutomationEnabled != nil {
		enabled = *r.AutomationEnabled
	}
	title := r.Title
	if title == "" {
		title = "Untitled meeting"
	}

	return &Job{
		ID:                 uuid.NewString(),
		UserID:             r.UserID,
		CalendarEventID:    r.CalendarEventID,
		MeetingSessionID:   r.MeetingSessionID,
		Provider:           r.Provider,
		Platform:           platform,
		MeetingID:          recording.ExtractMeetingID(r.MeetingURL),
		Title:              title,
		MeetingURL:         r.MeetingURL,
		Attendees:          r.Attendees,
		OrganizerEmail:     r.OrganizerEmail,
		AutomationEnabled:  enabled,
		Status:             StatusPending,
		ScheduledStartTime: r.ScheduledStartTime,
		ScheduledEndTime:   r.ScheduledEndTime,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
