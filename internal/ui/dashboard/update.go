package dashboard

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	zone "github.com/lrstanley/bubblezone"

	"pbx-monitor/internal/dispatch"
	"pbx-monitor/internal/logging"
	"pbx-monitor/internal/runstatus"
)

func (m *dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.quitting {
		if _, ok := msg.(quitNowMsg); ok {
			m.cleanup()
			return m, tea.Quit
		}
		return m, nil
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ui.width = msg.Width
		m.ui.height = msg.Height
		m.resizeLogs()
		return m, nil
	case logMsg:
		wasAtBottom := m.ui.logView.AtBottom()
		m.ui.logText = appendLogLinesWithLimit(m.ui.logText, string(msg), dashboardLogLineLimit)
		m.ui.logView.SetContent(m.ui.logText)
		if m.ui.followLogs || wasAtBottom {
			m.ui.logView.GotoBottom()
			m.ui.followLogs = true
		}
		return m, waitForLog(m.logCh)
	case statusMsg:
		m.applyRuntimeStatus(string(msg))
		return m, waitForStatus(m.statusCh)
	case eventMsg:
		m.recordEvent(dispatch.Event(msg))
		m.resizeLogs()
		return m, waitForEvent(m.eventCh)
	case startResultMsg:
		if msg.err != nil {
			m.running = false
			m.status = "Not started"
			m.kind = statusError
			m.exitErr = msg.err
			return m, nil
		}
		m.running = true
		return m, nil
	case runDoneMsg:
		m.running = false
		if msg.err == nil || errors.Is(msg.err, context.Canceled) {
			m.status = runstatus.Stopped
			m.kind = statusIdle
			m.exitErr = nil
			return m, nil
		}
		m.status = "Exited"
		m.kind = statusError
		m.exitErr = msg.err
		return m, nil
	case tickMsg:
		m.refreshSnapshot()
		return m, tickCmd()
	case tea.MouseMsg:
		return m.updateMouseMsg(msg)
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}
	return m, nil
}

func (m *dashboardModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.ui.keys.Quit):
		return m, m.beginQuitCmd()
	case key.Matches(msg, m.ui.keys.Reconnect):
		return m, m.activate(zoneReconnect)
	case key.Matches(msg, m.ui.keys.Renew):
		return m, m.activate(zoneRenew)
	case key.Matches(msg, m.ui.keys.Debug):
		return m, m.activate(zoneDebug)
	case key.Matches(msg, m.ui.keys.Logs):
		return m, m.activate(zoneLogs)
	case key.Matches(msg, m.ui.keys.Follow):
		m.ui.followLogs = true
		m.ui.logView.GotoBottom()
		return m, nil
	}
	if !m.ui.showLogs {
		return m, nil
	}
	var cmd tea.Cmd
	m.ui.logView, cmd = m.ui.logView.Update(msg)
	m.ui.followLogs = m.ui.logView.AtBottom()
	return m, cmd
}

func (m *dashboardModel) updateMouseMsg(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	m.ui.hoverZone = ""
	for _, id := range []string{zoneReconnect, zoneRenew, zoneDebug, zoneLogs, zoneQuit} {
		if zone.Get(id).InBounds(msg) {
			m.ui.hoverZone = id
			break
		}
	}
	if msg.Action == tea.MouseActionRelease && msg.Button == tea.MouseButtonLeft && m.ui.hoverZone != "" {
		if m.ui.hoverZone == zoneQuit {
			return m, m.beginQuitCmd()
		}
		return m, m.activate(m.ui.hoverZone)
	}
	if !m.ui.showLogs {
		return m, nil
	}
	var cmd tea.Cmd
	m.ui.logView, cmd = m.ui.logView.Update(msg)
	m.ui.followLogs = m.ui.logView.AtBottom()
	return m, cmd
}

// activate runs the action behind a button; keys and clicks share it.
func (m *dashboardModel) activate(id string) tea.Cmd {
	switch id {
	case zoneReconnect:
		if !m.runner.IsRunning() {
			m.ui.notice = "Restarting monitor"
			return m.startMonitorCmd()
		}
		if m.runner.Reconnect() {
			m.ui.notice = "Reconnect requested"
		} else {
			m.ui.notice = "No stream session to drop yet"
		}
	case zoneRenew:
		if !m.runner.IsRunning() {
			m.ui.notice = "Monitor is not running"
			return nil
		}
		m.runner.RenewCredential()
		m.ui.notice = "Credential renewal requested"
	case zoneDebug:
		m.ui.debugOn = !m.ui.debugOn
		m.logger.SetDebugEnabled(m.ui.debugOn)
		m.logger.Info("debug logging toggled", logging.Field("enabled", m.ui.debugOn))
	case zoneLogs:
		m.ui.showLogs = !m.ui.showLogs
		m.resizeLogs()
	}
	return nil
}

func (m *dashboardModel) resizeLogs() {
	width := max(m.ui.width-4, 1)
	height := max(m.ui.height-nonLogLayoutHeight(len(m.events)), minLogPanelHeight)
	m.ui.logView.Width = width
	m.ui.logView.Height = height
	m.ui.help.Width = m.ui.width
	if m.ui.followLogs {
		m.ui.logView.GotoBottom()
	}
}

func (m *dashboardModel) beginQuitCmd() tea.Cmd {
	m.quitting = true
	m.status = "Stopping..."
	m.kind = statusStopping
	m.runner.Stop()
	return quitProgramCmd()
}

func quitProgramCmd() tea.Cmd {
	return tea.Sequence(func() tea.Msg {
		return tea.DisableMouse()
	}, waitForMouseDrainCmd(), func() tea.Msg {
		return quitNowMsg{}
	})
}

func waitForMouseDrainCmd() tea.Cmd {
	return func() tea.Msg {
		time.Sleep(120 * time.Millisecond)
		return nil
	}
}

func appendLogLinesWithLimit(current string, next string, limit int) string {
	if limit <= 0 {
		return ""
	}
	var lines []string
	if current != "" {
		lines = splitLogLines(current)
	}
	lines = append(lines, splitLogLines(next)...)
	if len(lines) > limit {
		lines = append([]string(nil), lines[len(lines)-limit:]...)
	}
	return strings.Join(lines, "\n")
}

func splitLogLines(input string) []string {
	normalized := strings.ReplaceAll(input, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	lines := strings.Split(normalized, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
