package tui

import (
	"fmt"
	"strings"

	"stockpulse/internal/domain"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#6B50FF"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#858392"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF577D"))
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FFB2"))
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4D4C57")).
			Padding(0, 1)
)

func (m *Model) View() string {
	if !m.ready {
		return "\n  Loading..."
	}

	var sb strings.Builder
	header := titleStyle.Render("StockPulse")
	if m.username != "" {
		header += mutedStyle.Render("  " + m.username)
	}
	sb.WriteString(header + "\n")
	sb.WriteString(m.input.View() + "\n")

	if m.err != nil {
		sb.WriteString(errorStyle.Render(m.err.Error()) + "\n")
	}
	if m.taskID != "" {
		sb.WriteString(m.statusLine() + "\n")
		sb.WriteString(m.bar.ViewAs(float64(m.percent)/100) + "\n")
		if s := m.scoreLine(); s != "" {
			sb.WriteString(s + "\n")
		}
		sb.WriteString(panelStyle.Render(m.viewport.View()) + "\n")
	}
	sb.WriteString(mutedStyle.Render(fmt.Sprintf("%s %s  %s %s  %s %s",
		keys.Submit.Help().Key, keys.Submit.Help().Desc,
		keys.Cancel.Help().Key, keys.Cancel.Help().Desc,
		keys.Quit.Help().Key, keys.Quit.Help().Desc)))
	return sb.String()
}

func (m *Model) statusLine() string {
	label := fmt.Sprintf("%s %s", m.inst.CanonicalCode, m.inst.Market)
	switch m.state {
	case domain.TaskDone:
		return goodStyle.Render("done") + " " + label
	case domain.TaskFailed, domain.TaskCancelled:
		return errorStyle.Render(strings.ToLower(string(m.state))) + " " + label + mutedStyle.Render("  "+m.message)
	}
	return fmt.Sprintf("%s %s  %s %d%%  %s", m.spinner.View(), label, m.stage, m.percent, mutedStyle.Render(m.message))
}

func (m *Model) scoreLine() string {
	if m.scores == nil {
		return ""
	}
	return fmt.Sprintf("score %.1f  %s", m.scores.Composite, m.scores.Recommendation)
}
