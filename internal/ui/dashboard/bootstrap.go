package dashboard

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	zone "github.com/lrstanley/bubblezone"

	"pbx-monitor/internal/config"
	"pbx-monitor/internal/dispatch"
	"pbx-monitor/internal/logging"
	"pbx-monitor/internal/runctx"
	"pbx-monitor/internal/runtime"
	"pbx-monitor/internal/ui/dashboard/keyboard"
)

const (
	logChannelBufferSize    = 512
	statusChannelBufferSize = 16
	eventChannelBufferSize  = 32
	updateTickInterval      = 500 * time.Millisecond
	stopTimeout             = 5 * time.Second
)

// Run shows the dashboard until the user quits or rootCtx ends. The monitor
// starts immediately; the returned error is the monitor's exit error, if any.
func Run(rootCtx context.Context, buildVersion string, opts config.Options, logger *logging.Logger) error {
	if logger == nil {
		panic("dashboard.Run: logger must not be nil")
	}
	defer forceDisableMouseTracking()

	logger.SetTerminalOutputEnabled(false)
	defer logger.SetTerminalOutputEnabled(true)
	logger.Info("starting monitor dashboard", logging.Field("version", buildVersion))

	m := newDashboardModel(rootCtx, buildVersion, opts, logger)
	zone.NewGlobal()
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseAllMotion(), tea.WithContext(rootCtx))
	m.program = program
	result, runErr := program.Run()
	model, _ := result.(*dashboardModel)
	if model == nil {
		model = m
	}
	model.cleanup()
	if !model.runner.Wait(stopTimeout) {
		logger.Warn("monitor did not stop in time")
	}
	if runErr != nil && rootCtx.Err() == nil {
		return runErr
	}
	return model.exitErr
}

func forceDisableMouseTracking() {
	_, _ = os.Stdout.WriteString("\x1b[?1000l\x1b[?1002l\x1b[?1003l\x1b[?1006l\x1b[?1015l")
}

func newDashboardModel(rootCtx context.Context, buildVersion string, opts config.Options, logger *logging.Logger) *dashboardModel {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	runCtx, runCancel := context.WithCancel(rootCtx)

	m := &dashboardModel{
		buildVersion: buildVersion,
		modelDeps: modelDeps{
			runner:     runtime.NewController(runCtx),
			logger:     logger,
			rootCancel: runCancel,
		},
		modelChannels: modelChannels{
			logCh:    make(chan string, logChannelBufferSize),
			statusCh: make(chan string, statusChannelBufferSize),
			eventCh:  make(chan dispatch.Event, eventChannelBufferSize),
		},
		modelRuntime: modelRuntime{
			opts:   opts,
			status: "Idle",
			kind:   statusIdle,
		},
		ui: uiState{
			logView:    viewport.New(0, minLogPanelHeight),
			help:       help.New(),
			keys:       keyboard.New(),
			showLogs:   true,
			followLogs: true,
			debugOn:    logger.DebugEnabled(),
		},
	}

	m.unsubscribe = logger.Subscribe(func(event logging.Event) {
		runctx.SendDropOldest(m.logCh, logging.FormatEventANSI(event))
	})

	return m
}

func (m *dashboardModel) Init() tea.Cmd {
	return tea.Batch(
		waitForLog(m.logCh),
		waitForStatus(m.statusCh),
		waitForEvent(m.eventCh),
		tickCmd(),
		m.startMonitorCmd(),
	)
}

func waitForLog(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		line, ok := <-ch
		if !ok {
			return nil
		}
		return logMsg(line)
	}
}

func waitForStatus(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		status, ok := <-ch
		if !ok {
			return nil
		}
		return statusMsg(status)
	}
}

func waitForEvent(ch <-chan dispatch.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(updateTickInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}
