package terminal

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(10)
	amountStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230"))
	activeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("70")).Bold(true)
	doneStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("110"))
	paidStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("120")).Bold(true)
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	linkStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Underline(true)
	panelStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	tableRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)
