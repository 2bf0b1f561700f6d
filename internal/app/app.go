package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"pbx-monitor/internal/api"
	"pbx-monitor/internal/config"
	"pbx-monitor/internal/contacts"
	"pbx-monitor/internal/credential"
	"pbx-monitor/internal/dispatch"
	"pbx-monitor/internal/eventhub"
	"pbx-monitor/internal/forward"
	"pbx-monitor/internal/logging"
	"pbx-monitor/internal/metrics"
	"pbx-monitor/internal/pbxstream"
	"pbx-monitor/internal/runstatus"
	"pbx-monitor/internal/supervisor"
)

type MonitorApp struct {
	opts      config.Options
	endpoints config.Endpoints
	deps      Deps
	logger    *logging.Logger
	hooks     Callbacks
	status    runtimeStatusState
	store     *credential.Store
	hub       *eventhub.Hub

	mu         sync.Mutex
	supervisor *supervisor.Supervisor
}

type Deps struct {
	HTTP           *http.Client
	ForwardHTTP    *http.Client
	TLSConfig      *tls.Config
	Metrics        metrics.Recorder
	MetricsHandler http.Handler
}

type Callbacks struct {
	OnStatusChange func(string)
	OnEvent        func(dispatch.Event)
}

func New(opts config.Options, endpoints config.Endpoints, deps Deps, logger *logging.Logger, hooks Callbacks) *MonitorApp {
	if logger == nil {
		panic("app.New: logger must not be nil")
	}
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	if deps.ForwardHTTP == nil {
		deps.ForwardHTTP = &http.Client{Timeout: 10 * time.Second}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}
	return &MonitorApp{
		opts:      opts,
		endpoints: endpoints,
		deps:      deps,
		logger:    logger,
		hooks:     hooks,
		store:     credential.NewStore(),
		hub:       eventhub.New(eventhub.DefaultRecentSize),
	}
}

func (a *MonitorApp) Store() *credential.Store {
	return a.store
}

func (a *MonitorApp) Hub() *eventhub.Hub {
	return a.hub
}

func (a *MonitorApp) Run() error {
	return a.RunContext(context.Background())
}

func (a *MonitorApp) logStartup() {
	a.logger.Info("pbx monitor starting",
		logging.Field("api", a.endpoints.APIBase),
		logging.Field("stream", a.endpoints.StreamURL),
		logging.Field("topics", fmt.Sprint(a.opts.Topics)),
	)
	if len(a.opts.Topics) == 0 {
		a.logger.Warn("no event topics configured; set TOPIC_LIST or --topic")
	}
	if a.deps.TLSConfig != nil && a.deps.TLSConfig.InsecureSkipVerify {
		a.logger.Warn("TLS certificate verification is disabled for the PBX")
	}
}

// RunContext runs until ctx ends or the supervisor gives up. Every goroutine
// it starts has exited when it returns.
func (a *MonitorApp) RunContext(ctx context.Context) error {
	a.logStartup()
	a.setRuntimeStatus(runstatus.Starting)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	files, err := a.tokenFiles()
	if err != nil {
		return err
	}
	credential.Restore(runCtx, a.store, files, time.Now(), a.opts.RenewInterval, a.logger)
	defer credential.PersistTo(a.store, files, a.logger)()
	defer a.store.Subscribe(func(c credential.Credential) {
		a.deps.Metrics.SetCredentialIssuedAt(c.IssuedAt)
	})()
	if cred, ok := a.store.Get(); ok {
		a.deps.Metrics.SetCredentialIssuedAt(cred.IssuedAt)
	}

	issuer := credential.Issuer{
		HTTP:     a.deps.HTTP,
		TokenURL: a.endpoints.TokenURL,
		Username: a.opts.ClientID,
		Password: a.opts.ClientSecret,
		Store:    a.store,
		Logger:   a.logger,
	}
	renewal := credential.NewRenewalLoop(issuer, a.opts.RenewInterval, a.logger, credential.RenewalHooks{
		OnRenewed: func(credential.Credential) { a.deps.Metrics.IncRenewals("success") },
		OnFailed:  func(error) { a.deps.Metrics.IncRenewals("failure") },
	})

	var wg sync.WaitGroup
	sinks := dispatch.MultiSink{a.hub}
	if url := strings.TrimSpace(a.opts.ForwardURL); url != "" {
		forwarder := forward.New(a.deps.ForwardHTTP, url, a.logger, forward.Options{}, a.deps.Metrics.IncForwarded)
		sinks = append(sinks, forwarder)
		wg.Go(func() {
			forwarder.Run(runCtx)
		})
	}
	dispatcher := dispatch.New(dispatch.MemberStatusFilter(a.opts.MemberStatuses...), sinks, a.logger, dispatch.Hooks{
		OnDecodeError: func(error) { a.deps.Metrics.IncDecodeErrors() },
		OnMatched: func(ev dispatch.Event) {
			a.deps.Metrics.IncEvents("matched")
			if a.hooks.OnEvent != nil {
				a.hooks.OnEvent(ev)
			}
		},
		OnDropped: func(dispatch.Event) { a.deps.Metrics.IncEvents("dropped") },
	})

	sup := supervisor.New(supervisor.Config{
		Stream: pbxstream.Config{
			URL:               a.endpoints.StreamURL,
			Topics:            a.opts.Topics,
			HeartbeatInterval: a.opts.HeartbeatInterval,
			TLSConfig:         a.deps.TLSConfig,
			Logger:            a.logger,
		},
		ReconnectDelay:       a.opts.ReconnectDelay,
		ReconnectMaxDelay:    a.opts.ReconnectMaxDelay,
		MaxReconnectAttempts: a.opts.MaxReconnectAttempts,
	}, a.store, issuer, renewal, dispatcher, a.logger, a.supervisorHooks())
	a.mu.Lock()
	a.supervisor = sup
	a.mu.Unlock()

	if a.opts.WatchToken {
		watcher := credential.NewFileWatcher(files, a.store, a.logger)
		wg.Go(func() {
			if err := watcher.Run(runCtx); err != nil && runCtx.Err() == nil {
				a.logger.Warn("token file watcher stopped", logging.Field("error", err))
			}
		})
	}

	var apiErr error
	if listen := strings.TrimSpace(a.opts.Listen); listen != "" {
		server := a.newAPIServer()
		wg.Go(func() {
			if err := server.ListenAndServe(runCtx, listen); err != nil {
				apiErr = fmt.Errorf("%w: %w", ErrLocalAPI, err)
				a.logger.Error("local API failed", logging.Field("addr", listen), logging.Field("error", err))
				cancel()
			}
		})
	}

	var supErr error
	wg.Go(func() {
		supErr = sup.Run(runCtx)
		cancel()
	})
	wg.Wait()

	a.setRuntimeStatus(runstatus.Stopped)
	switch {
	case apiErr != nil:
		return apiErr
	case ctx.Err() != nil:
		a.logger.Info("pbx monitor stopped")
		return ctx.Err()
	case errors.Is(supErr, supervisor.ErrReconnectAttemptsExhausted):
		a.logger.Error("pbx monitor stopped: stream unavailable", logging.Field("error", supErr))
		return fmt.Errorf("%w: %w", ErrStreamUnavailable, supErr)
	default:
		return supErr
	}
}

// Reconnect drops the active stream session. It reports false before the
// first session starts.
func (a *MonitorApp) Reconnect() bool {
	sup := a.currentSupervisor()
	if sup == nil {
		return false
	}
	return sup.Reconnect()
}

func (a *MonitorApp) RenewCredential() {
	if sup := a.currentSupervisor(); sup != nil {
		sup.RenewCredential()
	}
}

func (a *MonitorApp) Snapshot() api.Snapshot {
	status := a.status.get()
	snapshot := api.Snapshot{
		Status:       status,
		SessionState: pbxstream.StateDisconnected.String(),
		Healthy:      runstatus.Healthy(status),
	}
	if cred, ok := a.store.Get(); ok {
		snapshot.CredentialIssuedAt = cred.IssuedAt
	}
	if sup := a.currentSupervisor(); sup != nil {
		snapshot.SessionState = sup.SessionState().String()
		snapshot.Sessions = sup.Sessions()
	}
	return snapshot
}

func (a *MonitorApp) currentSupervisor() *supervisor.Supervisor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.supervisor
}

func (a *MonitorApp) supervisorHooks() supervisor.Hooks {
	rec := a.deps.Metrics
	return supervisor.Hooks{
		OnStatus: func(status string) {
			rec.SetStatus(status)
			a.setRuntimeStatus(status)
		},
		OnReconnect: func(_ uint, delay time.Duration) { rec.IncReconnects(delay) },
		OnAuthFailure: func(err error) {
			a.logger.Error("PBX rejected the client credentials; check CLIENT_ID and CLIENT_SECRET", logging.Field("error", err))
		},
		Session: pbxstream.Hooks{
			OnStateChange: func(state pbxstream.State) {
				if state == pbxstream.StateConnecting {
					rec.IncSessions()
				}
				rec.SetSessionState(state.String())
			},
			OnHeartbeat:    func(time.Time) { rec.IncHeartbeatsSent() },
			OnHeartbeatAck: rec.IncHeartbeatAcks,
			OnFrame:        func(kind pbxstream.FrameKind) { rec.IncFrames(kind.String()) },
		},
	}
}

func (a *MonitorApp) newAPIServer() *api.Server {
	return api.New(api.Deps{
		Store:           a.store,
		Contacts:        contacts.New(a.deps.HTTP, a.endpoints.ContactsURL, a.store, a.logger),
		Hub:             a.hub,
		Metrics:         a.deps.MetricsHandler,
		Snapshot:        a.Snapshot,
		RenewCredential: a.RenewCredential,
		Logger:          a.logger,
	})
}

func (a *MonitorApp) tokenFiles() (*credential.FileStore, error) {
	path := strings.TrimSpace(a.opts.TokenFile)
	if path == "" {
		var err error
		path, err = config.DefaultTokenFile()
		if err != nil {
			return nil, fmt.Errorf("resolve token file: %w", err)
		}
	}
	return credential.NewFileStore(path), nil
}

type runtimeStatusState struct {
	mu      sync.Mutex
	current string
}

func (s *runtimeStatusState) update(status string) (string, string, bool) {
	trimmed := strings.TrimSpace(status)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == trimmed {
		return s.current, trimmed, false
	}
	previous := s.current
	s.current = trimmed
	return previous, trimmed, true
}

func (s *runtimeStatusState) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (a *MonitorApp) notifyStatus(status string) {
	if a.hooks.OnStatusChange == nil {
		return
	}
	a.hooks.OnStatusChange(status)
}

func (a *MonitorApp) setRuntimeStatus(status string) {
	previous, next, changed := a.status.update(status)
	if !changed {
		return
	}
	a.logger.Debug("runtime status transition",
		logging.Field("from", previous),
		logging.Field("to", next),
	)
	a.notifyStatus(status)
}
