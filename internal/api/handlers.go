package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pbx-monitor/internal/contacts"
	"pbx-monitor/internal/dispatch"
	"pbx-monitor/internal/logging"
)

type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

type eventView struct {
	Type       string                `json:"type"`
	SN         string                `json:"sn,omitempty"`
	ReceivedAt time.Time             `json:"received_at"`
	Summary    dispatch.CallSummary  `json:"summary"`
	Message    dispatch.InnerMessage `json:"message"`
}

func newEventView(ev dispatch.Event) eventView {
	return eventView{
		Type:       ev.Kind,
		SN:         ev.SN,
		ReceivedAt: ev.ReceivedAt,
		Summary:    ev.Summary(),
		Message:    ev.Message,
	}
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Contacts == nil {
		writeError(w, http.StatusNotFound, "contacts_disabled", false)
		return
	}
	body, err := s.deps.Contacts.List(r.Context())
	if err == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	if errors.Is(err, contacts.ErrCredentialUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "upstream_auth_unavailable", true)
		return
	}
	s.deps.Logger.Warn("contacts request failed", logging.Field("error", err))
	var upstream *contacts.UpstreamError
	if errors.As(err, &upstream) {
		if upstream.Unauthorized() && s.deps.RenewCredential != nil {
			s.deps.RenewCredential()
		}
		writeError(w, http.StatusBadGateway, "upstream_rejected", upstream.Retryable())
		return
	}
	writeError(w, http.StatusBadGateway, "upstream_unreachable", true)
}

// handleEvents streams matched events as Server-Sent Events until the client
// goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", false)
		return
	}
	events, unsubscribe := s.deps.Hub.Subscribe(0)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()
	s.deps.Logger.Debug("event stream client connected", logging.Field("remote", r.RemoteAddr))

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			s.deps.Logger.Debug("event stream client disconnected", logging.Field("remote", r.RemoteAddr))
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSE(w, "call", ev.Message.CallID, newEventView(ev)); err != nil {
				s.deps.Logger.Debug("event stream write failed", logging.Field("error", err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, name string, id string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

func writeJSON(w http.ResponseWriter, code int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, code int, reason string, retryable bool) {
	writeJSON(w, code, errorBody{Error: reason, Retryable: retryable})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
