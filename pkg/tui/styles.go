package tui

import "github.com/charmbracelet/lipgloss"

var (
	special   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF99"))
	danger    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0055"))
	warning   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	highlight = lipgloss.NewStyle().Foreground(lipgloss.Color("#00CCFF")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	subtle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))

	titleStyle         = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF99"))
	listSelectedStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))
	listNormalStyle    = lipgloss.NewStyle()
	detailsHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00CCFF"))
	detailsBoxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(1, 2)
)
