// Package tui is the live progress view of an ingestion run.
package tui

import (
	"time"

	"github.com/DrSkyle/cloudtail/pkg/engine"
	"github.com/DrSkyle/cloudtail/pkg/engine/source"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

type ViewState int

const (
	ViewStateList ViewState = iota
	ViewStateDetail
)

// OutcomeMsg delivers one finished unit.
type OutcomeMsg source.Outcome

// DoneMsg ends the run.
type DoneMsg struct {
	Summary *engine.Summary
	Err     error
}

type tickMsg time.Time

type Model struct {
	spinner  spinner.Model
	progress progress.Model

	state    ViewState
	running  bool
	quitting bool
	width    int
	height   int

	planned  int
	outcomes []source.Outcome
	summary  *engine.Summary
	err      error

	recorded, skipped, fatal, newEvents int

	startTime time.Time
	elapsed   time.Duration
	cursor    int
}

// NewModel expects planned units; it may be an upper bound.
func NewModel(planned int) Model {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = special

	return Model{
		spinner:   s,
		progress:  progress.New(progress.WithGradient("#00FF99", "#00CCFF")),
		running:   true,
		planned:   planned,
		state:     ViewStateList,
		startTime: time.Now(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
			return tickMsg(t)
		}),
	)
}

// Err is the run error once DoneMsg has arrived.
func (m Model) Err() error { return m.err }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.progress.Width = max(msg.Width-20, 10)
		return m, nil

	case OutcomeMsg:
		out := source.Outcome(msg)
		m.outcomes = append(m.outcomes, out)
		switch out.Status {
		case source.Recorded:
			m.recorded++
		case source.Fatal:
			m.fatal++
		default:
			m.skipped++
		}
		m.newEvents += out.Result.Inserted
		return m, nil

	case DoneMsg:
		m.running = false
		m.summary = msg.Summary
		m.err = msg.Err
		m.elapsed = time.Since(m.startTime)
		return m, nil

	case tickMsg:
		if m.running {
			m.elapsed = time.Since(m.startTime)
			return m, tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.outcomes)-1 {
			m.cursor++
		}
	case "enter":
		if len(m.outcomes) > 0 {
			m.state = ViewStateDetail
		}
	case "esc", "b":
		m.state = ViewStateList
	}
	return m, nil
}

func (m Model) fraction() float64 {
	if !m.running {
		return 1
	}
	if m.planned <= 0 {
		return 0
	}
	return min(float64(len(m.outcomes))/float64(m.planned), 1)
}
