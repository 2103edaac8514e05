package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"viralclips/internal/config"
	"viralclips/internal/jobapi"
	"viralclips/internal/models"
	"viralclips/internal/poller"
)

const (
	exitCompleted   = 0
	exitFailed      = 1
	exitUsage       = 2
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the optional YAML config file")
	videoURL := fs.String("url", "", "YouTube URL to submit before watching")
	logPath := fs.String("log", "", "write JSON logs to this file")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: watch [-config file] [-log file] [-url video-url | job-id]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		return exitUsage
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "failed to load .env:", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	// Logs would tear the terminal UI, so they only go to a file when asked.
	var logOut io.Writer = io.Discard
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open log file:", err)
			return exitUsage
		}
		defer f.Close()
		logOut = f
	}
	logger := cfg.NewLogger(logOut)
	slog.SetDefault(logger)

	client := jobapi.NewClient(logger, cfg.APIBaseURL,
		jobapi.WithJobType(cfg.JobType),
		jobapi.WithTimeout(cfg.HTTPTimeout),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobID, title := fs.Arg(0), ""
	if *videoURL != "" {
		jobID, title, err = submit(ctx, client, *videoURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitFailed
		}
	}

	final, err := watch(ctx, client, cfg, logger, jobID, title)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFailed
	}

	switch {
	case final.quitting:
		return exitInterrupted
	case final.failed():
		return exitFailed
	default:
		if final.view.VideoURL != "" {
			fmt.Println(final.view.VideoURL)
		}
		return exitCompleted
	}
}

// submit validates and previews videoURL, then creates its download job.
func submit(ctx context.Context, client *jobapi.Client, videoURL string) (jobID, title string, err error) {
	if !jobapi.IsYouTubeURL(videoURL) {
		return "", "", fmt.Errorf("please enter a valid YouTube URL: %q", videoURL)
	}
	videoURL = jobapi.StripPlaylist(videoURL)

	if _, err := client.ValidateURL(ctx, videoURL); err != nil {
		return "", "", err
	}
	preview, err := client.Preview(ctx, videoURL)
	if err != nil {
		return "", "", err
	}
	job, err := client.CreateJob(ctx, videoURL)
	if err != nil {
		return "", "", err
	}
	return job.JobID, preview.Title, nil
}

// watch runs a poller for jobID and renders its events until the job ends or
// the user quits.
func watch(ctx context.Context, client *jobapi.Client, cfg *config.Config, logger *slog.Logger, jobID, title string) (model, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	views := make(chan models.View, 16)
	filesBase := client.FilesBase()

	p := poller.New(jobID, client.JobStatus, func(e poller.Event) {
		select {
		case views <- e.View(filesBase):
		case <-ctx.Done():
		}
	},
		poller.WithInterval(cfg.PollInterval),
		poller.WithMaxRetries(cfg.MaxRetries),
		poller.WithLogger(logger),
	)
	p.Start(ctx)
	defer p.Stop()

	out, err := tea.NewProgram(newModel(jobID, title, views)).Run()
	if err != nil {
		return model{}, fmt.Errorf("terminal ui: %w", err)
	}

	cancel()
	p.Stop()
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		logger.Warn("poller did not exit in time", "job_id", jobID)
	}
	return out.(model), nil
}
