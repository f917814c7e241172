package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (m Model) viewDetails() string {
	if m.cursor < 0 || m.cursor >= len(m.outcomes) {
		return "No unit selected"
	}
	out := m.outcomes[m.cursor]

	header := detailsHeaderStyle.Render(fmt.Sprintf("%s : %s", out.Provider, out.Rule))

	lines := []string{
		fmt.Sprintf("%-14s : %s", "Account", out.Scope),
		fmt.Sprintf("%-14s : %s", "Status", statusStyle(out.Status).Render(out.Status.String())),
		fmt.Sprintf("%-14s : %s", "Window", out.Window),
		fmt.Sprintf("%-14s : %v", "Server side", out.ServerSide),
		fmt.Sprintf("%-14s : %d fetched, %d matched, %d new", "Events", out.Fetched, out.Matched, out.Result.Inserted),
		fmt.Sprintf("%-14s : %s", "Execution", orDash(out.Result.ExecutionID)),
		fmt.Sprintf("%-14s : %s", "Duration", out.Duration),
	}
	if out.Result.Reused {
		lines = append(lines, warning.Render("Execution already recorded by a concurrent poll; reused."))
	}
	if out.Degraded > 0 {
		lines = append(lines, warning.Render(fmt.Sprintf("%d events stored with a degraded payload.", out.Degraded)))
	}
	if out.Result.Failed > 0 {
		lines = append(lines, danger.Render(fmt.Sprintf("%d events failed to store.", out.Result.Failed)))
	}

	content := []string{header, "", strings.Join(lines, "\n")}
	if out.Err != nil {
		content = append(content, "", highlight.Render("ERROR:"), danger.Render(out.Err.Error()))
	}
	return detailsBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, content...))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
