package dashboard

import (
	tea "github.com/charmbracelet/bubbletea"

	"pbx-monitor/internal/dispatch"
	"pbx-monitor/internal/runctx"
	"pbx-monitor/internal/runstatus"
	"pbx-monitor/internal/runtime"
)

func (m *dashboardModel) startMonitorCmd() tea.Cmd {
	m.status = runstatus.Starting
	m.kind = statusConnecting
	m.exitErr = nil

	opts := m.opts
	return func() tea.Msg {
		err := m.runner.Start(opts, m.logger, runtime.StartHooks{
			OnStatus: m.onRuntimeStatus,
			OnEvent:  m.onRuntimeEvent,
			OnExit:   m.onRuntimeExit,
		})
		return startResultMsg{err: err}
	}
}

func (m *dashboardModel) onRuntimeStatus(status string) {
	runctx.SendDropOldest(m.statusCh, status)
}

func (m *dashboardModel) onRuntimeEvent(ev dispatch.Event) {
	runctx.SendDropOldest(m.eventCh, ev)
}

func (m *dashboardModel) onRuntimeExit(runErr error) {
	if m.program == nil {
		return
	}
	m.program.Send(runDoneMsg{err: runErr})
}

func (m *dashboardModel) applyRuntimeStatus(status string) {
	switch runstatus.Key(status) {
	case runstatus.KeyStarting, runstatus.KeyAuthenticating, runstatus.KeyAuthenticated, runstatus.KeyConnecting:
		m.kind = statusConnecting
	case runstatus.KeyStreaming:
		m.kind = statusStreaming
		m.running = true
	case runstatus.KeyReconnecting:
		m.kind = statusConnecting
	case runstatus.KeyDisconnectedAuth:
		m.kind = statusError
	case runstatus.KeyDisconnected, runstatus.KeyStopped:
		m.kind = statusIdle
	}
	m.status = status
}

func (m *dashboardModel) recordEvent(ev dispatch.Event) {
	m.matched++
	m.events = append(m.events, ev)
	if len(m.events) > recentEventLimit {
		m.events = append([]dispatch.Event(nil), m.events[len(m.events)-recentEventLimit:]...)
	}
}

func (m *dashboardModel) refreshSnapshot() {
	if snapshot, ok := m.runner.Snapshot(); ok {
		m.snapshot = snapshot
	}
}

func (m *dashboardModel) cleanup() {
	m.cleanupOnce.Do(func() {
		m.logger.Debug("dashboard cleanup started")

		if m.rootCancel != nil {
			m.rootCancel()
		}
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		m.runner.Stop()

		m.logger.Debug("dashboard cleanup complete")
	})
}
