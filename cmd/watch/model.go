package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"viralclips/internal/models"
	"viralclips/internal/poller"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#667eea"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#eb3349"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#777777"))
)

const maxBarWidth = 60

type viewMsg models.View

type model struct {
	jobID string
	title string

	views <-chan models.View

	spinner spinner.Model
	bar     progress.Model

	view     models.View
	finished bool
	quitting bool
}

func newModel(jobID, title string, views <-chan models.View) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	bar := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
	)
	return model{
		jobID:   jobID,
		title:   title,
		views:   views,
		spinner: sp,
		bar:     bar,
		view: models.View{
			JobID:       jobID,
			Status:      models.StatusQueued,
			Label:       models.StatusQueued.Label(),
			Message:     "Connecting...",
			PercentText: "0%",
		},
	}
}

// waitForView delivers the next poller view to Update.
func waitForView(views <-chan models.View) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-views
		if !ok {
			return nil
		}
		return viewMsg(v)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForView(m.views))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.bar.Width = max(min(msg.Width-12, maxBarWidth), 10)
		return m, nil

	case viewMsg:
		m.view = models.View(msg)
		if m.done() {
			m.finished = true
			return m, tea.Quit
		}
		return m, waitForView(m.views)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) done() bool {
	return m.view.Event == string(poller.EventCompleted) || m.view.Event == string(poller.EventFailed)
}

func (m model) failed() bool {
	return m.view.Event == string(poller.EventFailed)
}

func (m model) View() string {
	var b strings.Builder

	title := m.title
	if title == "" {
		title = "Job " + m.jobID
	}
	b.WriteString(titleStyle.Render(title) + "\n\n")

	badge := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorOr(m.view.Color)))
	status := badge.Render(m.view.Label) + "  " + m.view.Message
	if !m.finished {
		status = m.spinner.View() + " " + status
	}
	b.WriteString(status + "\n")

	frac := m.view.Percent / 100
	if m.view.Event == string(poller.EventCompleted) {
		frac = 1
	}
	b.WriteString(m.bar.ViewAs(frac) + " " + m.view.PercentText)
	if m.view.ETAText != "" {
		b.WriteString("  " + mutedStyle.Render(m.view.ETAText))
	}
	b.WriteString("\n\n")

	switch {
	case m.failed():
		b.WriteString(errorStyle.Render(m.view.Error) + "\n")
	case m.view.VideoURL != "":
		b.WriteString("Saved as " + m.view.FileName + "\n" + m.view.VideoURL + "\n")
	case !m.finished:
		b.WriteString(mutedStyle.Render("press q to stop watching") + "\n")
	}
	return b.String()
}

func colorOr(c string) string {
	if c == "" {
		return "#667eea"
	}
	return c
}
