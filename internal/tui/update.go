package tui

import (
	"strings"

	"stockpulse/internal/advisor"
	"stockpulse/internal/domain"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.ready = true

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.Close()
			return m, tea.Quit
		case key.Matches(msg, keys.Cancel):
			if m.running {
				return m, m.cancel()
			}
		case key.Matches(msg, keys.Submit):
			raw := strings.TrimSpace(m.input.Value())
			if raw != "" && !m.running {
				m.input.Reset()
				m.err = nil
				return m, m.submit(raw)
			}
			return m, nil
		}

	case submittedMsg:
		m.Close()
		m.sub = msg.sub
		m.taskID = msg.taskID
		m.inst = msg.inst
		m.stage, m.message = "queued", ""
		m.percent = 0
		m.state = domain.TaskQueued
		m.scores = nil
		m.text.Reset()
		m.running = true
		m.viewport.SetContent("")
		return m, waitForEvent(msg.sub)

	case eventMsg:
		if msg.sub != m.sub {
			return m, nil
		}
		m.apply(msg.ev)
		if !msg.ev.Kind.IsTerminal() {
			cmds = append(cmds, waitForEvent(msg.sub))
		}

	case closedMsg:
		if msg.sub == m.sub {
			m.running = false
		}

	case errMsg:
		m.err = msg.err

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		pm, cmd := m.bar.Update(msg)
		m.bar = pm.(progress.Model)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// apply folds one task event into the model.
func (m *Model) apply(ev domain.Event) {
	switch p := ev.Payload.(type) {
	case domain.Progress:
		m.stage, m.percent, m.message = p.Stage, p.Percent, p.Message
		if p.State != "" {
			m.state = p.State
		}
	case domain.PartialResult:
		if p.Section == "scores" {
			if data, ok := p.Data.(map[string]any); ok {
				if s, ok := data["scores"].(domain.Scores); ok {
					m.scores = &s
				}
			}
		}
	case domain.Token:
		m.text.WriteString(p.Text)
		m.viewport.SetContent(m.text.String())
		m.viewport.GotoBottom()
	case *domain.AnalysisReport:
		m.viewport.SetContent(advisor.Summary(p))
		m.viewport.GotoTop()
	case domain.Failure:
		m.message = p.Reason
	}

	switch ev.Kind {
	case domain.EventDone:
		m.state, m.percent, m.running = domain.TaskDone, 100, false
	case domain.EventError:
		m.state, m.running = domain.TaskFailed, false
	case domain.EventCancelled:
		m.state, m.running = domain.TaskCancelled, false
	}
}

func (m *Model) layout() {
	m.bar.Width = max(10, m.width-8)
	m.viewport.Width = max(20, m.width-4)
	m.viewport.Height = max(3, m.height-9)
}
