package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"pbx-monitor/internal/credential"
	"pbx-monitor/internal/eventhub"
	"pbx-monitor/internal/logging"
)

const (
	defaultRecentLimit = 20
	sseKeepAlive       = 15 * time.Second
	shutdownTimeout    = 5 * time.Second
)

type ContactLister interface {
	List(ctx context.Context) (json.RawMessage, error)
}

// Snapshot is the monitor state reported on / and /healthz.
type Snapshot struct {
	Status             string    `json:"status"`
	SessionState       string    `json:"session_state"`
	Sessions           uint      `json:"sessions"`
	Healthy            bool      `json:"healthy"`
	CredentialIssuedAt time.Time `json:"credential_issued_at,omitzero"`
}

type Deps struct {
	Store    *credential.Store
	Contacts ContactLister
	Hub      *eventhub.Hub
	Metrics  http.Handler
	Snapshot func() Snapshot
	// RenewCredential is called when the PBX rejects the current token on a
	// passthrough request.
	RenewCredential func()
	Logger          *logging.Logger
	Now             func() time.Time
}

type Server struct {
	deps Deps
	mux  *http.ServeMux
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		panic("api.New: logger must not be nil")
	}
	if deps.Store == nil || deps.Hub == nil {
		panic("api.New: store and hub are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Snapshot == nil {
		deps.Snapshot = func() Snapshot { return Snapshot{} }
	}
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /token", s.handleToken)
	s.mux.HandleFunc("GET /contacts", s.handleContacts)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("GET /events/recent", s.handleRecent)
	if deps.Metrics != nil {
		s.mux.Handle("GET /metrics", deps.Metrics)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.deps.Logger.Info("local API listening", logging.Field("addr", listener.Addr().String()))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.deps.Logger.Warn("local API shutdown incomplete", logging.Field("error", err))
		_ = server.Close()
	}
	<-serveErr
	s.deps.Logger.Debug("local API stopped")
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.deps.Snapshot()
	body := map[string]any{
		"message":       "PBX monitor running",
		"status":        snapshot.Status,
		"session_state": snapshot.SessionState,
		"sessions":      snapshot.Sessions,
		"healthy":       snapshot.Healthy,
		"events":        s.deps.Hub.Delivered(),
	}
	if cred, ok := s.deps.Store.Get(); ok {
		body["credential_age_seconds"] = int64(cred.Age(s.deps.Now()).Seconds())
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.deps.Snapshot()
	code := http.StatusOK
	if !snapshot.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, snapshot)
}

type tokenView struct {
	Token           string     `json:"token"`
	IssuedAt        time.Time  `json:"issued_at"`
	AgeSeconds      int64      `json:"age_seconds"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Expired         bool       `json:"expired"`
	HasRefreshToken bool       `json:"has_refresh_token"`
}

func (s *Server) handleToken(w http.ResponseWriter, _ *http.Request) {
	cred, ok := s.deps.Store.Get()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "upstream_auth_unavailable", true)
		return
	}
	now := s.deps.Now()
	view := tokenView{
		Token:           logging.Redact(cred.Token),
		IssuedAt:        cred.IssuedAt,
		AgeSeconds:      int64(cred.Age(now).Seconds()),
		Expired:         cred.Expired(now),
		HasRefreshToken: cred.RefreshToken != "",
	}
	if expiresAt := cred.ExpiresAt(); !expiresAt.IsZero() {
		view.ExpiresAt = &expiresAt
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultRecentLimit)
	events := s.deps.Hub.Recent(limit)
	out := make([]eventView, 0, len(events))
	for _, ev := range events {
		out = append(out, newEventView(ev))
	}
	writeJSON(w, http.StatusOK, out)
}
