package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	zone "github.com/lrstanley/bubblezone"

	"pbx-monitor/internal/dispatch"
	"pbx-monitor/internal/ui/dashboard/theme"
)

const (
	headerHeight       = 1
	statusPanelHeight  = 7
	buttonRowHeight    = 3
	eventsPanelChrome  = 3
	logPanelChrome     = 2
	helpHeight         = 1
	statusLabelWidth   = 12
	eventTimeLayout    = "15:04:05"
	panelInnerPadding  = 4
	minRenderableWidth = 20
)

func nonLogLayoutHeight(events int) int {
	return headerHeight + statusPanelHeight + buttonRowHeight + eventsPanelChrome + max(events, 1) + logPanelChrome + helpHeight
}

func (m *dashboardModel) View() string {
	if m.ui.width == 0 {
		return "initializing..."
	}
	width := max(m.ui.width, minRenderableWidth)
	sections := []string{
		m.renderHeader(width),
		m.renderStatus(width),
		m.renderButtons(),
		m.renderEvents(width),
	}
	if m.ui.showLogs {
		sections = append(sections, theme.PanelStyle.Width(width-2).Render(m.ui.logView.View()))
	}
	sections = append(sections, theme.HelpStyle.Render(m.ui.help.View(m.ui.keys)))
	return zone.Scan(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m *dashboardModel) renderHeader(width int) string {
	title := theme.TitleStyle.Render("PBX Monitor")
	version := theme.MutedStyle.Render(" " + m.buildVersion)
	line := title + version
	if m.ui.notice != "" {
		line += theme.MutedStyle.Render("  · " + m.ui.notice)
	}
	return ansi.Truncate(line, width, "…")
}

func (m *dashboardModel) renderStatus(width int) string {
	now := time.Now()
	session := m.snapshot.SessionState
	if session == "" {
		session = "disconnected"
	}
	credential := "none"
	if !m.snapshot.CredentialIssuedAt.IsZero() {
		credential = "issued " + formatAge(now.Sub(m.snapshot.CredentialIssuedAt)) + " ago"
	}
	api := "disabled"
	if listen := strings.TrimSpace(m.opts.Listen); listen != "" {
		api = listen
	}

	rows := []string{
		statusRow("Status", renderStatusBadge(m.status, m.kind)),
		statusRow("Session", theme.ValueStyle.Render(fmt.Sprintf("%s · %d sessions", session, m.snapshot.Sessions))),
		statusRow("Credential", theme.ValueStyle.Render(credential)),
		statusRow("Events", theme.ValueStyle.Render(fmt.Sprintf("%d matched", m.matched))),
		statusRow("Local API", theme.ValueStyle.Render(api)),
	}
	if m.exitErr != nil {
		rows[0] = statusRow("Status", renderStatusBadge(m.status, m.kind)+" "+theme.ErrorStyle.Render(m.exitErr.Error()))
	}
	inner := width - panelInnerPadding
	for i, row := range rows {
		rows[i] = ansi.Truncate(row, inner, "…")
	}
	return theme.PanelStyle.Width(width - 2).Render(strings.Join(rows, "\n"))
}

func statusRow(label string, value string) string {
	return theme.LabelStyle.Width(statusLabelWidth).Render(label) + value
}

func renderStatusBadge(status string, kind statusKind) string {
	switch kind {
	case statusStreaming:
		return theme.StatusStreamingStyle.Render(status)
	case statusConnecting:
		return theme.StatusConnectingStyle.Render(status)
	case statusStopping:
		return theme.StatusStoppingStyle.Render(status)
	case statusError:
		return theme.StatusErrorStyle.Render(status)
	default:
		return theme.StatusIdleStyle.Render(status)
	}
}

func (m *dashboardModel) renderButtons() string {
	reconnect := "Reconnect"
	if !m.running {
		reconnect = "Restart"
	}
	debug := "Debug: off"
	if m.ui.debugOn {
		debug = "Debug: on"
	}
	logs := "Hide logs"
	if !m.ui.showLogs {
		logs = "Show logs"
	}
	buttons := []string{
		m.renderButton(zoneReconnect, reconnect, true, false),
		m.renderButton(zoneRenew, "Renew token", m.running, false),
		m.renderButton(zoneDebug, debug, true, m.ui.debugOn),
		m.renderButton(zoneLogs, logs, true, m.ui.showLogs),
		m.renderButton(zoneQuit, "Quit", true, false),
	}
	row := buttons[0]
	for _, button := range buttons[1:] {
		row = lipgloss.JoinHorizontal(lipgloss.Top, row, " ", button)
	}
	return row
}

func (m *dashboardModel) renderButton(id string, label string, enabled bool, active bool) string {
	style := theme.ButtonStyle
	switch {
	case !enabled:
		style = theme.ButtonDisabledStyle
	case m.ui.hoverZone == id:
		style = theme.ButtonHoverStyle
	case active:
		style = theme.ButtonActiveStyle
	}
	return zone.Mark(id, style.Render(label))
}

func (m *dashboardModel) renderEvents(width int) string {
	inner := width - panelInnerPadding
	lines := []string{theme.LabelStyle.Render("Recent calls")}
	if len(m.events) == 0 {
		lines = append(lines, theme.MutedStyle.Render("waiting for ringing calls..."))
	}
	for i := len(m.events) - 1; i >= 0; i-- {
		lines = append(lines, ansi.Truncate(formatEventRow(m.events[i]), inner, "…"))
	}
	return theme.PanelStyle.Width(width - 2).Render(strings.Join(lines, "\n"))
}

func formatEventRow(ev dispatch.Event) string {
	summary := ev.Summary()
	parts := []string{theme.EventTimeStyle.Render(ev.ReceivedAt.Local().Format(eventTimeLayout))}
	if summary.Status != "" {
		parts = append(parts, theme.EventStatusStyle.Render(summary.Status))
	}
	party := summary.From
	if summary.Extension != "" {
		if party != "" {
			party += " → "
		}
		party += summary.Extension
	}
	if party == "" {
		party = "call " + summary.CallID
	}
	parts = append(parts, theme.EventPartyStyle.Render(party))
	if summary.Trunk != "" {
		parts = append(parts, theme.MutedStyle.Render("("+summary.Trunk+")"))
	}
	return strings.Join(parts, "  ")
}

func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	if d >= time.Hour {
		return d.Truncate(time.Minute).String()
	}
	return d.String()
}
