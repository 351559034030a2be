package tui

import "github.com/charmbracelet/lipgloss"

var (
	HeaderKeyStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	AmountStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("40"))
	ExcerptStyle   = lipgloss.NewStyle().Faint(true)
)
