package models

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Status is the state of a download job as reported by the job service.
type Status string

const (
	StatusQueued          Status = "queued"
	StatusInProgress      Status = "in_progress"
	StatusDownloading     Status = "downloading"
	StatusProcessingVideo Status = "processing_video"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// IsTerminal reports whether no further transitions follow this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsKnown reports whether s belongs to the status vocabulary this client understands.
func (s Status) IsKnown() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusDownloading, StatusProcessingVideo, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Label renders the status for the status field, e.g. "PROCESSING VIDEO".
func (s Status) Label() string {
	return strings.ToUpper(strings.ReplaceAll(string(s), "_", " "))
}

// Message is the sentence shown in the status badge.
func (s Status) Message() string {
	switch s {
	case StatusQueued:
		return "Job queued, waiting to start..."
	case StatusInProgress:
		return "Processing your request..."
	case StatusDownloading:
		return "Downloading video..."
	case StatusProcessingVideo:
		return "Processing video file..."
	case StatusCompleted:
		return "Download completed successfully!"
	case StatusFailed:
		return "Download failed"
	default:
		return "Processing..."
	}
}

// Color is the badge color for the status.
func (s Status) Color() string {
	switch s {
	case StatusDownloading:
		return "#11998e"
	case StatusProcessingVideo:
		return "#f093fb"
	case StatusCompleted:
		return "#38ef7d"
	case StatusFailed:
		return "#eb3349"
	default:
		return "#667eea"
	}
}

// Failure messages surfaced through the poller's failed event.
const (
	MsgMissingJobID      = "No job ID found. Please start a new download."
	MsgStatusUnavailable = "Failed to fetch job status. The server may be unavailable."
	MsgJobFailedDefault  = "An unknown error occurred during download."
)

var (
	ErrMissingJobID     = errors.New("missing job identifier")
	ErrTransport        = errors.New("job status transport failure")
	ErrMalformedPayload = errors.New("malformed job status payload")
	ErrJobFailed        = errors.New("job failed")
)

// JobStatus is one response of GET /jobs/{id}.
type JobStatus struct {
	JobID     string          `json:"job_id"`
	Status    Status          `json:"status"`
	Progress  Progress        `json:"progress"`
	ETA       Seconds         `json:"eta"`
	FilePath  string          `json:"file_path,omitempty"`
	Result    string          `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt json.RawMessage `json:"created_at,omitempty"`
	UpdatedAt json.RawMessage `json:"updated_at,omitempty"`
}

// ArtifactPath returns the location of the downloaded file, preferring file_path.
func (j *JobStatus) ArtifactPath() string {
	if p := strings.TrimSpace(j.FilePath); p != "" {
		return p
	}
	return strings.TrimSpace(j.Result)
}

// FailureMessage returns the server supplied error or the default message.
func (j *JobStatus) FailureMessage() string {
	if msg := strings.TrimSpace(j.Error); msg != "" {
		return msg
	}
	return MsgJobFailedDefault
}

// Seconds is an optional duration in seconds. The job service stores its
// fields in a Redis hash, so numbers may arrive as strings.
type Seconds struct {
	Value float64
	Known bool
}

func (s *Seconds) UnmarshalJSON(data []byte) error {
	*s = Seconds{}
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unq)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 || isNaNOrInf(v) {
		return nil
	}
	*s = Seconds{Value: v, Known: true}
	return nil
}

func (s Seconds) MarshalJSON() ([]byte, error) {
	if !s.Known {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(s.Value, 'f', -1, 64)), nil
}

// Text renders the ETA line, empty when unknown.
func (s Seconds) Text() string {
	if !s.Known {
		return ""
	}
	return "ETA: " + strconv.FormatFloat(s.Value, 'f', -1, 64) + "s"
}
