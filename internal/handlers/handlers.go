package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"viralclips/internal/config"
	"viralclips/internal/jobapi"
	"viralclips/internal/models"
	"viralclips/internal/poller"
	"viralclips/internal/session"
	"viralclips/static"
	"viralclips/templates"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

const (
	msgEmptyURL       = "Please enter a YouTube URL"
	msgInvalidURL     = "Please enter a valid YouTube URL"
	msgVideoNotFound  = "Invalid video URL or video not found"
	msgServiceDown    = "Could not reach the download service. Please try again."
	msgDownloadFailed = "Failed to start download. Please try again."
	msgNoJobData      = "No job data found. Please start a new download."

	pageTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// JobService is the part of the job API the web front end needs.
type JobService interface {
	ValidateURL(ctx context.Context, videoURL string) (string, error)
	Preview(ctx context.Context, videoURL string) (*jobapi.Preview, error)
	CreateJob(ctx context.Context, videoURL string) (*jobapi.CreatedJob, error)
	JobStatus(ctx context.Context, jobID string) (*models.JobStatus, error)
	FilesBase() string
}

type App struct {
	logger *slog.Logger

	router   *chi.Mux
	jobs     JobService
	sessions *session.Store

	pollInterval   time.Duration
	maxRetries     int
	allowedOrigins []string

	mu      sync.Mutex
	pollers map[*poller.Poller]struct{}

	upgrader websocket.Upgrader
}

func NewApp(logger *slog.Logger, jobs JobService, sessions *session.Store, cfg *config.Config) *App {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}

	app := &App{
		logger:         logger,
		router:         chi.NewRouter(),
		jobs:           jobs,
		sessions:       sessions,
		pollInterval:   cfg.PollInterval,
		maxRetries:     cfg.MaxRetries,
		allowedOrigins: cfg.AllowedOrigins,
		pollers:        make(map[*poller.Poller]struct{}),
	}
	app.upgrader = websocket.Upgrader{CheckOrigin: app.checkOrigin}

	app.registerRoutes()
	return app
}

func (a *App) Router() http.Handler {
	return a.router
}

func (a *App) registerRoutes() {
	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.RealIP)
	a.router.Use(middleware.Recoverer)
	a.router.Use(a.corsMiddleware)

	a.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(pageTimeout))
		r.Get("/", a.index)
		r.Post("/preview", a.preview)
		r.Post("/download", a.download)
		r.Get("/progress", a.progress)
		r.Post("/back", a.back)
		r.Get("/healthz", a.health)

		staticFS := http.FileServer(http.FS(static.FS))
		r.Handle("/static/*", http.StripPrefix("/static/", staticFS))
	})

	// Long-lived; kept out of the request timeout.
	a.router.Get("/ws/progress", a.progressWS)
}

// ActivePollers returns the number of progress sockets currently polling.
func (a *App) ActivePollers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pollers)
}

// Close stops every running poller.
func (a *App) Close() {
	a.mu.Lock()
	pollers := make([]*poller.Poller, 0, len(a.pollers))
	for p := range a.pollers {
		pollers = append(pollers, p)
	}
	a.mu.Unlock()

	for _, p := range pollers {
		p.Stop()
	}
	if len(pollers) > 0 {
		a.logger.Info("stopped active pollers", "count", len(pollers))
	}
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"pollers":   a.ActivePollers(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (a *App) index(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, http.StatusOK, templates.IndexPage("", ""))
}

func (a *App) preview(w http.ResponseWriter, r *http.Request) {
	videoURL, msg := formURL(r)
	if msg != "" {
		a.render(w, r, http.StatusBadRequest, templates.IndexPage(videoURL, msg))
		return
	}

	if _, err := a.jobs.ValidateURL(r.Context(), videoURL); err != nil {
		a.logger.Warn("url validation failed", "url", videoURL, "error", err)
		msg, code := msgServiceDown, http.StatusBadGateway
		if errors.Is(err, jobapi.ErrRejectedURL) {
			msg, code = msgInvalidURL, http.StatusBadRequest
		}
		a.render(w, r, code, templates.IndexPage(videoURL, msg))
		return
	}

	p, err := a.jobs.Preview(r.Context(), videoURL)
	if err != nil {
		a.logger.Warn("preview failed", "url", videoURL, "error", err)
		msg := msgServiceDown
		code := http.StatusBadGateway
		if errors.Is(err, jobapi.ErrInvalidVideo) {
			msg, code = msgVideoNotFound, http.StatusUnprocessableEntity
		}
		a.render(w, r, code, templates.IndexPage(videoURL, msg))
		return
	}

	a.render(w, r, http.StatusOK, templates.PreviewPage(videoURL, p))
}

func (a *App) download(w http.ResponseWriter, r *http.Request) {
	videoURL, msg := formURL(r)
	if msg != "" {
		a.render(w, r, http.StatusBadRequest, templates.IndexPage(videoURL, msg))
		return
	}

	job, err := a.jobs.CreateJob(r.Context(), videoURL)
	if err != nil {
		a.logger.Error("create job failed", "url", videoURL, "error", err)
		a.render(w, r, http.StatusBadGateway, templates.IndexPage(videoURL, msgDownloadFailed))
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = videoURL
	}
	a.sessions.Put(w, r, session.Job{JobID: job.JobID, VideoTitle: title, VideoURL: videoURL})
	a.logger.Info("download started", "job_id", job.JobID, "url", videoURL)
	http.Redirect(w, r, "/progress", http.StatusSeeOther)
}

func (a *App) progress(w http.ResponseWriter, r *http.Request) {
	job, ok := a.sessions.Get(r)
	if !ok || job.JobID == "" {
		a.render(w, r, http.StatusNotFound, templates.ErrorPage(msgNoJobData))
		return
	}
	a.render(w, r, http.StatusOK, templates.ProgressPage(job))
}

func (a *App) back(w http.ResponseWriter, r *http.Request) {
	a.sessions.Clear(r)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// progressWS relays poller events for the session's job. The socket closes
// once the job is terminal, and a client disconnect stops the poller.
func (a *App) progressWS(w http.ResponseWriter, r *http.Request) {
	job, _ := a.sessions.Get(r)

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	// The server's read timeout still applies to the hijacked conn.
	_ = conn.SetReadDeadline(time.Time{})

	var (
		writeMu sync.Mutex
		p       *poller.Poller
	)
	send := func(v models.View) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(v)
	}

	filesBase := a.jobs.FilesBase()
	p = poller.New(job.JobID, a.jobs.JobStatus, func(e poller.Event) {
		if err := send(e.View(filesBase)); err != nil {
			a.logger.Warn("websocket write failed", "job_id", e.JobID, "error", err)
			if p != nil {
				p.Stop()
			}
		}
	},
		poller.WithInterval(a.pollInterval),
		poller.WithMaxRetries(a.maxRetries),
		poller.WithLogger(a.logger),
	)

	a.track(p)
	defer a.untrack(p)
	p.Start(context.Background())

	go func() {
		<-p.Done()
		writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
			time.Now().Add(writeTimeout))
		writeMu.Unlock()
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	p.Stop()
}

func (a *App) track(p *poller.Poller) {
	a.mu.Lock()
	a.pollers[p] = struct{}{}
	a.mu.Unlock()
}

func (a *App) untrack(p *poller.Poller) {
	a.mu.Lock()
	delete(a.pollers, p)
	a.mu.Unlock()
}

// formURL reads and checks the submitted video URL. msg is empty when the
// URL is usable.
func formURL(r *http.Request) (videoURL, msg string) {
	raw := strings.TrimSpace(r.FormValue("url"))
	if raw == "" {
		return "", msgEmptyURL
	}
	if !jobapi.IsYouTubeURL(raw) {
		return raw, msgInvalidURL
	}
	return jobapi.StripPlaylist(raw), ""
}

func (a *App) render(w http.ResponseWriter, r *http.Request, code int, component templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := component.Render(r.Context(), w); err != nil {
		a.logger.Error("failed to render template", "error", err)
	}
}

func (a *App) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.logger.Error("failed to encode json", "error", err)
	}
}

// originAllowed accepts any origin when no list is configured.
func (a *App) originAllowed(origin string) bool {
	if len(a.allowedOrigins) == 0 {
		return true
	}
	for _, o := range a.allowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// checkOrigin allows same-host sockets and configured origins.
func (a *App) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return len(a.allowedOrigins) > 0 && a.originAllowed(origin)
}

func (a *App) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(a.allowedOrigins) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && a.originAllowed(origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
