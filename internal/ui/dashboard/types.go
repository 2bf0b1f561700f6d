package dashboard

import (
	"context"
	"sync"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"pbx-monitor/internal/api"
	"pbx-monitor/internal/config"
	"pbx-monitor/internal/dispatch"
	"pbx-monitor/internal/logging"
	"pbx-monitor/internal/runtime"
	"pbx-monitor/internal/ui/dashboard/keyboard"
)

const (
	dashboardLogLineLimit = 2_000
	recentEventLimit      = 8
	minLogPanelHeight     = 6
)

const (
	zoneReconnect = "dashboard-reconnect"
	zoneRenew     = "dashboard-renew"
	zoneDebug     = "dashboard-debug"
	zoneLogs      = "dashboard-logs"
	zoneQuit      = "dashboard-quit"
)

type logMsg string
type statusMsg string
type eventMsg dispatch.Event
type tickMsg struct{}

type runDoneMsg struct {
	err error
}

type startResultMsg struct {
	err error
}

type quitNowMsg struct{}

type statusKind int

const (
	statusIdle statusKind = iota
	statusConnecting
	statusStreaming
	statusStopping
	statusError
)

type modelDeps struct {
	runner      *runtime.Controller
	logger      *logging.Logger
	unsubscribe func()
	rootCancel  context.CancelFunc
	program     *tea.Program
}

type modelChannels struct {
	logCh    chan string
	statusCh chan string
	eventCh  chan dispatch.Event
}

type modelRuntime struct {
	opts     config.Options
	running  bool
	quitting bool
	status   string
	kind     statusKind
	snapshot api.Snapshot
	events   []dispatch.Event
	matched  uint64
	exitErr  error
}

type uiState struct {
	width      int
	height     int
	logText    string
	logView    viewport.Model
	help       help.Model
	keys       keyboard.Map
	showLogs   bool
	followLogs bool
	debugOn    bool
	hoverZone  string
	notice     string
}

type dashboardModel struct {
	buildVersion string
	modelDeps
	modelChannels
	modelRuntime
	cleanupOnce sync.Once
	ui          uiState
}
