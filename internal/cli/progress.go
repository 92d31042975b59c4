package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/jobingest/internal/client"
	"github.com/raphaelgruber/jobingest/internal/models"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// stageProgress maps each status to the share of the pipeline behind it.
var stageProgress = map[models.Status]float64{
	models.StatusPending: 0.1,
	models.StatusScraped: 0.5,
	models.StatusParsing: 0.7,
	models.StatusParsed:  1,
}

// stageLabel describes what the server is doing while a record sits in a status.
func stageLabel(s models.Status) string {
	switch s {
	case models.StatusPending:
		return "rendering page"
	case models.StatusScraped:
		return "page scraped, queued for extraction"
	case models.StatusParsing:
		return "extracting job data"
	case models.StatusParsed:
		return "done"
	default:
		return string(s)
	}
}

// recordMsg carries a state pushed by the server.
type recordMsg struct {
	rec models.IngestionRecord
}

// doneMsg ends the wait with the terminal record or an error.
type doneMsg struct {
	rec *models.IngestionRecord
	err error
}

// progressModel is the bubbletea model for one record.
type progressModel struct {
	jobID    string
	url      string
	rec      *models.IngestionRecord
	progress progress.Model
	theme    Theme
	started  time.Time
	done     bool
	quitting bool
	err      error
}

func newProgressModel(jobID, url string) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return progressModel{
		jobID:    jobID,
		url:      url,
		progress: prog,
		theme:    defaultTheme,
		started:  time.Now(),
	}
}

// Init starts the progress bar animation. Records arrive via Program.Send.
func (m progressModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case recordMsg:
		rec := msg.rec
		m.rec = &rec
		return m, nil

	case doneMsg:
		m.done = true
		if msg.rec != nil {
			m.rec = msg.rec
		}
		switch {
		case msg.err != nil:
			m.err = msg.err
		case m.rec != nil && m.rec.Status.IsFailure():
			m.err = errJobFailed
		}
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	if m.rec == nil {
		return fmt.Sprintf("Waiting for %s...\n", m.url)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.rec.Status))
	bar := m.progress.ViewAs(stageProgress[m.rec.Status])
	elapsed := time.Since(m.started).Round(time.Second)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s (%s)\n%s\n", status, bar, stageLabel(m.rec.Status), elapsed, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nJob %s continues in background.\nUse 'jobingest status %s' to check status.\n",
			m.jobID, m.jobID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.rec != nil && m.rec.Status.IsFailure() {
		reason := "unknown error"
		if m.rec.ErrorMessage != nil {
			reason = *m.rec.ErrorMessage
		}
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job %s (%s): %s\n", m.rec.Status, m.jobID, reason))
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}

	var b strings.Builder
	b.WriteString(m.theme.completedStyle().Render("✓ Parsed") + "\n")
	if m.rec != nil {
		_ = printOutcome(&b, m.rec)
	}
	return b.String()
}

// RunJobProgress follows a record with an interactive progress view.
// Returns nil on success or Ctrl+C (background), an error when the record
// fails or the wait times out.
func RunJobProgress(ctx context.Context, c *client.Client, jobID, url string, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(jobID, url))

	go func() {
		final, err := c.Wait(ctx, jobID, timeout, func(rec models.IngestionRecord) {
			p.Send(recordMsg{rec: rec})
		})
		p.Send(doneMsg{rec: final, err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		// If user quit with Ctrl+C, the record continues in background - not an error
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}
