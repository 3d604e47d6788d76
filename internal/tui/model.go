// Package tui is the terminal front end served over SSH: type a code,
// watch the task progress and read the analysis as it streams.
package tui

import (
	"strings"

	"stockpulse/internal/analysis"
	"stockpulse/internal/domain"
	"stockpulse/internal/events"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// Analyzer is the task API the TUI drives.
type Analyzer interface {
	Submit(raw string, opts analysis.Options) (*analysis.Task, error)
	Subscribe(sessionID, taskID string) (*events.Subscription, error)
	Cancel(id string) error
}

type Model struct {
	tasks     Analyzer
	sessionID string
	username  string

	// Current task
	sub     *events.Subscription
	taskID  string
	inst    domain.Instrument
	stage   string
	percent int
	message string
	state   domain.TaskState
	scores  *domain.Scores
	text    strings.Builder
	err     error
	running bool

	// UI state
	width  int
	height int
	ready  bool

	// Components
	input    textinput.Model
	spinner  spinner.Model
	bar      progress.Model
	viewport viewport.Model
}

// Messages

type submittedMsg struct {
	taskID string
	inst   domain.Instrument
	sub    *events.Subscription
}

type errMsg struct{ err error }

type eventMsg struct {
	sub *events.Subscription
	ev  domain.Event
}

type closedMsg struct{ sub *events.Subscription }

func NewModel(tasks Analyzer, sessionID, username string) *Model {
	in := textinput.New()
	in.Placeholder = "600519, 00700, AAPL ..."
	in.CharLimit = 16
	in.Width = 24
	in.Prompt = "code> "
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		tasks:     tasks,
		sessionID: sessionID,
		username:  username,
		input:     in,
		spinner:   sp,
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		viewport:  viewport.New(80, 20),
	}
}

// SetSize applies the initial pty size before the first WindowSizeMsg.
func (m *Model) SetSize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	m.width, m.height = width, height
	m.layout()
	m.ready = true
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Commands

func (m *Model) submit(raw string) tea.Cmd {
	tasks, session := m.tasks, m.sessionID
	return func() tea.Msg {
		t, err := tasks.Submit(raw, analysis.Options{SessionID: session})
		if err != nil {
			return errMsg{err}
		}
		info := t.Info()
		sub, err := tasks.Subscribe(session, info.ID)
		if err != nil {
			return errMsg{err}
		}
		return submittedMsg{taskID: info.ID, inst: info.Instrument, sub: sub}
	}
}

func waitForEvent(sub *events.Subscription) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub.C()
		if !ok {
			return closedMsg{sub}
		}
		return eventMsg{sub: sub, ev: ev}
	}
}

func (m *Model) cancel() tea.Cmd {
	tasks, id := m.tasks, m.taskID
	return func() tea.Msg {
		if err := tasks.Cancel(id); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

// Close releases the event subscription when the SSH session ends.
func (m *Model) Close() {
	if m.sub != nil {
		m.sub.Close()
		m.sub = nil
	}
}
