package models

import (
	"net/url"
	"path"
	"strings"
)

// View is what a progress screen shows for one poll result.
type View struct {
	Event       string  `json:"event"`
	JobID       string  `json:"job_id"`
	Status      Status  `json:"status"`
	Label       string  `json:"label"`
	Message     string  `json:"message"`
	Color       string  `json:"color"`
	Percent     float64 `json:"percent"`
	PercentText string  `json:"percent_text"`
	ETAText     string  `json:"eta_text,omitempty"`
	FileName    string  `json:"file_name,omitempty"`
	VideoURL    string  `json:"video_url,omitempty"`
	Error       string  `json:"error,omitempty"`
	Unknown     bool    `json:"unknown,omitempty"`
}

// NewView projects a status onto the progress screen. filesBase is the
// origin that serves /downloads/; it may be empty when the artifact URL is
// not needed.
func NewView(event string, st *JobStatus, filesBase string) View {
	v := View{
		Event:       event,
		JobID:       st.JobID,
		Status:      st.Status,
		Label:       st.Status.Label(),
		Message:     st.Status.Message(),
		Color:       st.Status.Color(),
		Percent:     st.Progress.Percent,
		PercentText: st.Progress.Display,
		ETAText:     st.ETA.Text(),
		Unknown:     !st.Status.IsKnown(),
	}
	if v.PercentText == "" {
		v.PercentText = "0%"
	}
	if st.Status == StatusCompleted {
		if p := st.ArtifactPath(); p != "" {
			v.FileName = FileName(p)
			v.VideoURL = DownloadURL(filesBase, p)
		}
	}
	return v
}

// FailureView is the screen state after a failed event.
func FailureView(jobID, message string) View {
	return View{
		Event:       "failed",
		JobID:       jobID,
		Status:      StatusFailed,
		Label:       StatusFailed.Label(),
		Message:     "Download Failed",
		Color:       StatusFailed.Color(),
		PercentText: "0%",
		Error:       message,
	}
}

// FileName extracts the last path element of an artifact path,
// e.g. "downloads/abc_title.mp4" -> "abc_title.mp4".
func FileName(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// DownloadURL builds the static URL under which the service exposes an artifact.
func DownloadURL(filesBase, artifactPath string) string {
	name := FileName(artifactPath)
	if name == "" || name == "." || name == "/" {
		return ""
	}
	return strings.TrimRight(filesBase, "/") + "/downloads/" + url.PathEscape(name)
}
