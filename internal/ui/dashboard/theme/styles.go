package theme

import "github.com/charmbracelet/lipgloss"

var (
	PanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	LabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	ValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	ErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	HelpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	MutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	StatusStreamingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	StatusConnectingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	StatusStoppingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	StatusErrorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	StatusIdleStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	ButtonStyle         = lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.NormalBorder())
	ButtonHoverStyle    = ButtonStyle.BorderForeground(lipgloss.Color("15")).Foreground(lipgloss.Color("15"))
	ButtonActiveStyle   = ButtonStyle.BorderForeground(lipgloss.Color("10")).Foreground(lipgloss.Color("10"))
	ButtonDisabledStyle = ButtonStyle.BorderForeground(lipgloss.Color("240")).Foreground(lipgloss.Color("240"))

	EventTimeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	EventStatusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	EventPartyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
)
