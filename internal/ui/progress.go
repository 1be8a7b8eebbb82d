package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// progressInterval is how often the live view polls for counts.
const progressInterval = 100 * time.Millisecond

// ProgressStats is a snapshot of operation counts.
type ProgressStats struct {
	Dispatched uint64
	Completed  uint64
	Failed     uint64
	Retried    uint64
	Pending    int
	InFlight   int
}

// finished is how many dispatched operations have reached a final state.
func (s ProgressStats) finished() uint64 {
	return s.Completed + s.Failed
}

// Progress is a live view of a run, redrawn in place on a terminal.
type Progress struct {
	program *tea.Program
	done    chan struct{}
}

// StartProgress starts a live view on out that polls stats. It returns nil
// when out should receive plain output; a nil *Progress is safe to Stop.
func StartProgress(out io.Writer, title string, stats func() ProgressStats, noColor bool) *Progress {
	f, ok := out.(*os.File)
	if !ok || PlainOutput(out, noColor) {
		return nil
	}

	// No input and no signal handler: SIGINT keeps reaching the command's
	// context instead of the program.
	p := &Progress{
		program: tea.NewProgram(newProgressModel(title, stats, DefaultStyles()),
			tea.WithOutput(f),
			tea.WithInput(nil),
			tea.WithoutSignalHandler()),
		done: make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		_, _ = p.program.Run()
	}()
	return p
}

// Stop clears the view and waits briefly for the program to exit.
func (p *Progress) Stop() {
	if p == nil {
		return
	}
	p.program.Send(progressDoneMsg{})
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		p.program.Kill()
	}
}

type progressTickMsg time.Time
type progressDoneMsg struct{}

// progressModel is the bubbletea model behind Progress.
type progressModel struct {
	title   string
	stats   func() ProgressStats
	last    ProgressStats
	start   time.Time
	done    bool
	spinner spinner.Model
	bar     progress.Model
	styles  Styles
}

func newProgressModel(title string, stats func() ProgressStats, styles Styles) *progressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	return &progressModel{
		title:   title,
		stats:   stats,
		start:   time.Now(),
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(ColorLime),
			progress.WithWidth(40),
			progress.WithoutPercentage(),
		),
		styles: styles,
	}
}

func progressTick() tea.Cmd {
	return tea.Tick(progressInterval, func(t time.Time) tea.Msg {
		return progressTickMsg(t)
	})
}

// Init implements tea.Model.
func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, progressTick())
}

// Update implements tea.Model.
func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = max(msg.Width-30, 20)

	case progressTickMsg:
		m.last = m.stats()
		return m, progressTick()

	case progressDoneMsg:
		m.last = m.stats()
		m.done = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model. A finished view is empty so the summary
// printed afterwards replaces it.
func (m *progressModel) View() string {
	if m.done {
		return ""
	}

	s := m.last
	fraction := 0.0
	if s.Dispatched > 0 {
		fraction = float64(s.finished()) / float64(s.Dispatched)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", m.spinner.View(), m.styles.Header.Render(m.title),
		m.styles.Dim.Render(time.Since(m.start).Round(time.Second).String()))
	fmt.Fprintf(&b, "%s  %s\n", m.bar.ViewAs(fraction),
		m.styles.Value.Render(fmt.Sprintf("%d/%d", s.finished(), s.Dispatched)))

	counts := fmt.Sprintf("in flight %d  queued %d  retried %d", s.InFlight, s.Pending, s.Retried)
	b.WriteString(m.styles.Label.Render(counts))
	if s.Failed > 0 {
		b.WriteString(m.styles.Error.Render(fmt.Sprintf("  failed %d", s.Failed)))
	}
	b.WriteString("\n")
	return b.String()
}
