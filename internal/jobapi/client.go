package jobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"viralclips/internal/models"
)

const maxBodyBytes = 1 << 20

var youtubeURL = regexp.MustCompile(`^(https?://)?(www\.)?(youtube\.com|youtu\.be)/.+$`)

var (
	// ErrInvalidVideo is returned when the service cannot preview the URL.
	ErrInvalidVideo = errors.New("invalid video URL or video not found")
	// ErrRejectedURL is returned when the service's URL check fails.
	ErrRejectedURL = errors.New("URL rejected by the job service")
)

// rejectedMessage is what /validate_url/ answers for a non-YouTube URL.
const rejectedMessage = "Invalid YouTube URL."

// IsYouTubeURL applies the same format check the service does.
func IsYouTubeURL(raw string) bool {
	return youtubeURL.MatchString(strings.TrimSpace(raw))
}

// StripPlaylist drops a trailing "&list=" parameter so only one video is fetched.
func StripPlaylist(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "&list="); i >= 0 {
		return raw[:i]
	}
	return raw
}

// Preview is the metadata returned by GET /preview/.
type Preview struct {
	Title     string  `json:"title"`
	Thumbnail string  `json:"thumbnail"`
	Duration  float64 `json:"duration"`
	Valid     bool    `json:"valid"`
}

// CreatedJob is the response of POST /jobs/.
type CreatedJob struct {
	JobID  string        `json:"job_id"`
	Status models.Status `json:"status"`
}

// Client talks to the video job service REST API.
type Client struct {
	baseURL string
	jobType string
	http    *http.Client
	logger  *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithJobType sets the job_type sent on job creation.
func WithJobType(jobType string) Option {
	return func(c *Client) {
		if jobType != "" {
			c.jobType = jobType
		}
	}
}

// WithTimeout sets the transport timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// NewClient creates a client for the API rooted at baseURL,
// e.g. "http://localhost:8000/api/v1".
func NewClient(logger *slog.Logger, baseURL string, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		jobType: "download_vedio",
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// FilesBase is the origin that serves /downloads/: the API root without its
// version prefix.
func (c *Client) FilesBase() string {
	return strings.TrimSuffix(c.baseURL, "/api/v1")
}

// VideoURL returns the playable URL of a completed job's artifact.
func (c *Client) VideoURL(artifactPath string) string {
	return models.DownloadURL(c.FilesBase(), artifactPath)
}

// ValidateURL asks the service to check a URL and returns its message.
// ErrRejectedURL reports a URL the service does not accept.
func (c *Client) ValidateURL(ctx context.Context, videoURL string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	q := url.Values{"url": {videoURL}}
	if err := c.do(ctx, http.MethodPost, "/validate_url/?"+q.Encode(), nil, &out); err != nil {
		return "", fmt.Errorf("validate url: %w", err)
	}
	if strings.EqualFold(strings.TrimSpace(out.Message), rejectedMessage) {
		c.logger.Warn("url rejected", "url", videoURL)
		return out.Message, ErrRejectedURL
	}
	return out.Message, nil
}

// Preview fetches title, thumbnail and duration for a video URL.
func (c *Client) Preview(ctx context.Context, videoURL string) (*Preview, error) {
	var out struct {
		Preview *Preview `json:"preview"`
		Message string   `json:"message"`
	}
	q := url.Values{"url": {videoURL}}
	if err := c.do(ctx, http.MethodGet, "/preview/?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("preview: %w", err)
	}
	if out.Preview == nil || !out.Preview.Valid {
		c.logger.Warn("preview rejected", "url", videoURL, "message", out.Message)
		return nil, ErrInvalidVideo
	}
	return out.Preview, nil
}

// CreateJob submits a download job for videoURL.
func (c *Client) CreateJob(ctx context.Context, videoURL string) (*CreatedJob, error) {
	body := map[string]any{
		"job_type": c.jobType,
		"payload":  map[string]string{"url": videoURL},
	}
	var out CreatedJob
	if err := c.do(ctx, http.MethodPost, "/jobs/", body, &out); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if out.JobID == "" {
		return nil, fmt.Errorf("create job: %w: missing job_id", models.ErrMalformedPayload)
	}
	c.logger.Info("job created", "job_id", out.JobID, "url", videoURL)
	return &out, nil
}

// JobStatus fetches the current status of a job. Its signature matches
// poller.FetchFunc.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*models.JobStatus, error) {
	if jobID == "" {
		return nil, models.ErrMissingJobID
	}
	var out models.JobStatus
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, err)
	}
	if out.Status == "" {
		return nil, fmt.Errorf("job %s: %w: missing status", jobID, models.ErrMalformedPayload)
	}
	if out.JobID == "" {
		out.JobID = jobID
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrTransport, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxBodyBytes))
		return fmt.Errorf("%w: %s %s returned %d", models.ErrTransport, method, path, res.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(res.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", models.ErrMalformedPayload, err)
	}
	return nil
}
