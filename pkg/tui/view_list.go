package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/DrSkyle/cloudtail/pkg/engine/source"
	"github.com/charmbracelet/lipgloss"
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.viewHeader())
	b.WriteString("\n\n")
	if m.state == ViewStateDetail {
		b.WriteString(m.viewDetails())
	} else {
		b.WriteString(m.viewList())
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("  ↑/↓ select • enter details • b back • q quit"))
	return b.String()
}

func (m Model) viewHeader() string {
	status := m.spinner.View() + " Polling"
	switch {
	case m.running:
	case m.err != nil:
		status = danger.Render("✗ " + m.err.Error())
	default:
		status = special.Render("✓ Done")
	}
	counts := fmt.Sprintf("recorded %d • skipped %d • fatal %d • new events %d • %s",
		m.recorded, m.skipped, m.fatal, m.newEvents, m.elapsed.Round(time.Second))
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("CLOUDTAIL")+"  "+status,
		"  "+m.progress.ViewAs(m.fraction()),
		"  "+subtle.Render(counts),
	)
}

func (m Model) viewList() string {
	if len(m.outcomes) == 0 {
		if m.running {
			return fmt.Sprintf("   %s Resolving accounts...", m.spinner.View())
		}
		return "   " + subtle.Render("No units ran.")
	}

	var s strings.Builder
	s.WriteString(dimStyle.Render(fmt.Sprintf("  %-8s | %-6s | %-16s | %-24s | %s", "STATUS", "CLOUD", "ACCOUNT", "RULE", "NEW/MATCHED")) + "\n")
	s.WriteString(dimStyle.Render("  "+strings.Repeat("─", 72)) + "\n")

	start, end := m.calculateWindow(len(m.outcomes))
	for i := start; i < end; i++ {
		out := m.outcomes[i]
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}
		line := fmt.Sprintf("%-8s | %-6s | %-16s | %-24s | %d/%d",
			out.Status, out.Provider, truncate(out.Scope, 16), truncate(out.Rule, 24), out.Result.Inserted, out.Matched)
		line = statusStyle(out.Status).Render(line)
		if i == m.cursor {
			s.WriteString(listSelectedStyle.Render(cursor+line) + "\n")
		} else {
			s.WriteString(listNormalStyle.Render(cursor+line) + "\n")
		}
	}
	return s.String()
}

func (m Model) calculateWindow(total int) (int, int) {
	windowSize := max(m.height-8, 5)
	start := max(m.cursor-windowSize/2, 0)
	end := start + windowSize
	if end > total {
		end = total
		start = max(end-windowSize, 0)
	}
	return start, end
}

func statusStyle(s source.Status) lipgloss.Style {
	switch s {
	case source.Recorded:
		return special
	case source.Fatal:
		return danger
	}
	return warning
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
