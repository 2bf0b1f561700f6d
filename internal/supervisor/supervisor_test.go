package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pbx-monitor/internal/credential"
	"pbx-monitor/internal/logging"
	"pbx-monitor/internal/pbxstream"
	"pbx-monitor/internal/runstatus"
)

type fakeIssuer struct {
	store *credential.Store
	calls atomic.Int32
	fail  atomic.Int32
}

func (f *fakeIssuer) Issue(context.Context) (credential.Credential, error) {
	n := f.calls.Add(1)
	if f.fail.Load() > 0 {
		f.fail.Add(-1)
		return credential.Credential{}, &credential.AuthError{StatusCode: http.StatusBadGateway, Status: "502 Bad Gateway"}
	}
	c := credential.Credential{Token: fmt.Sprintf("tok-%d", n), IssuedAt: time.Now()}
	f.store.Set(c)
	return c, nil
}

type frameRecorder struct {
	frames chan string
}

func (r *frameRecorder) Dispatch(_ context.Context, frame []byte) error {
	r.frames <- string(frame)
	return nil
}

// pbxServer is a websocket endpoint that records the access token of every
// connection and lets the test script each one.
type pbxServer struct {
	mu      sync.Mutex
	tokens  []string
	conns   chan *websocket.Conn
	rejectN atomic.Int32
}

func newPBXServer(t *testing.T) (*pbxServer, string) {
	t.Helper()
	srv := &pbxServer{conns: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{}
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("access_token")
		srv.mu.Lock()
		srv.tokens = append(srv.tokens, token)
		srv.mu.Unlock()
		if srv.rejectN.Load() > 0 {
			srv.rejectN.Add(-1)
			http.Error(w, "denied", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			_ = conn.Close()
			return
		}
		srv.conns <- conn
	}))
	t.Cleanup(httpServer.Close)
	return srv, "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/openapi/v1.0/subscribe"
}

func (s *pbxServer) seenTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

func (s *pbxServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(5 * time.Second):
		t.Fatalf("no stream connection arrived")
		return nil
	}
}

func closeFromRemote(conn *websocket.Conn) {
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "maintenance"))
	_ = conn.Close()
}

func newTestSupervisor(t *testing.T, url string, issuer *fakeIssuer, handler pbxstream.FrameHandler, hooks Hooks) *Supervisor {
	t.Helper()
	logger := logging.New(false)
	renewal := credential.NewRenewalLoop(issuer, time.Hour, logger, credential.RenewalHooks{})
	return New(Config{
		Stream: pbxstream.Config{
			URL:               url,
			Topics:            []int{30011},
			HeartbeatInterval: time.Hour,
		},
		ReconnectDelay:    10 * time.Millisecond,
		ReconnectMaxDelay: 40 * time.Millisecond,
	}, issuer.store, issuer, renewal, handler, logger, hooks)
}

func startSupervisor(t *testing.T, s *Supervisor) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestSupervisor_ReconnectsAfterRemoteClose(t *testing.T) {
	server, url := newPBXServer(t)
	issuer := &fakeIssuer{store: credential.NewStore()}
	frames := &frameRecorder{frames: make(chan string, 4)}
	var reconnects atomic.Int32
	sup := newTestSupervisor(t, url, issuer, frames, Hooks{
		OnReconnect: func(uint, time.Duration) { reconnects.Add(1) },
	})
	cancel, done := startSupervisor(t, sup)

	first := server.nextConn(t)
	_ = first.WriteMessage(websocket.TextMessage, []byte(`{"type":30011,"msg":"{\"call_id\":\"before\"}"}`))
	if got := <-frames.frames; !strings.Contains(got, "before") {
		t.Fatalf("first session frame = %s", got)
	}
	closeFromRemote(first)

	second := server.nextConn(t)
	_ = second.WriteMessage(websocket.TextMessage, []byte(`{"type":30011,"msg":"{\"call_id\":\"after\"}"}`))
	select {
	case got := <-frames.frames:
		if !strings.Contains(got, "after") {
			t.Fatalf("second session frame = %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("second session never delivered a frame")
	}
	if reconnects.Load() < 1 {
		t.Fatalf("OnReconnect was not called")
	}
	if sup.Sessions() != 2 {
		t.Fatalf("Sessions() = %d, want 2", sup.Sessions())
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("supervisor did not shut down")
	}
}

func TestSupervisor_SessionKeepsBoundCredentialUntilReconnect(t *testing.T) {
	server, url := newPBXServer(t)
	issuer := &fakeIssuer{store: credential.NewStore()}
	sup := newTestSupervisor(t, url, issuer, &frameRecorder{frames: make(chan string, 4)}, Hooks{})
	startSupervisor(t, sup)

	first := server.nextConn(t)
	if _, err := issuer.Issue(context.Background()); err != nil {
		t.Fatalf("renewal Issue() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := server.seenTokens(); len(got) != 1 || got[0] != "tok-1" {
		t.Fatalf("tokens after renewal = %v, want only [tok-1]", got)
	}

	closeFromRemote(first)
	server.nextConn(t)
	got := server.seenTokens()
	if len(got) != 2 || got[1] != "tok-2" {
		t.Fatalf("tokens after reconnect = %v, want [tok-1 tok-2]", got)
	}
}

func TestSupervisor_BootstrapRetriesUntilIssued(t *testing.T) {
	server, url := newPBXServer(t)
	issuer := &fakeIssuer{store: credential.NewStore()}
	issuer.fail.Store(2)

	var mu sync.Mutex
	var statuses []string
	sup := newTestSupervisor(t, url, issuer, &frameRecorder{frames: make(chan string, 1)}, Hooks{
		OnStatus: func(status string) {
			mu.Lock()
			statuses = append(statuses, status)
			mu.Unlock()
		},
	})
	startSupervisor(t, sup)

	server.nextConn(t)
	if got := server.seenTokens(); len(got) != 1 || got[0] != "tok-3" {
		t.Fatalf("tokens = %v, want [tok-3] after two failed issuances", got)
	}
	deadline := time.Now().Add(time.Second)
	for sup.SessionState() != pbxstream.StateStreaming && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(statuses) < 3 || statuses[0] != runstatus.Authenticating || statuses[1] != runstatus.Authenticated {
		t.Fatalf("statuses = %v", statuses)
	}
}

func TestSupervisor_RejectedUpgradeReissuesCredential(t *testing.T) {
	server, url := newPBXServer(t)
	server.rejectN.Store(1)
	issuer := &fakeIssuer{store: credential.NewStore()}
	sup := newTestSupervisor(t, url, issuer, &frameRecorder{frames: make(chan string, 1)}, Hooks{})
	startSupervisor(t, sup)

	server.nextConn(t)
	got := server.seenTokens()
	if len(got) != 2 || got[0] != "tok-1" || got[1] != "tok-2" {
		t.Fatalf("tokens = %v, want [tok-1 tok-2]", got)
	}
}

func TestSupervisor_GivesUpAfterMaxAttempts(t *testing.T) {
	issuer := &fakeIssuer{store: credential.NewStore()}
	logger := logging.New(false)
	renewal := credential.NewRenewalLoop(issuer, time.Hour, logger, credential.RenewalHooks{})
	sup := New(Config{
		Stream:               pbxstream.Config{URL: "ws://127.0.0.1:1/openapi/v1.0/subscribe", HeartbeatInterval: time.Hour},
		ReconnectDelay:       time.Millisecond,
		ReconnectMaxDelay:    2 * time.Millisecond,
		MaxReconnectAttempts: 2,
	}, issuer.store, issuer, renewal, &frameRecorder{frames: make(chan string, 1)}, logger, Hooks{})

	err := sup.Run(context.Background())
	if !errors.Is(err, ErrReconnectAttemptsExhausted) {
		t.Fatalf("Run() error = %v, want ErrReconnectAttemptsExhausted", err)
	}
	if sup.Sessions() != 3 {
		t.Fatalf("Sessions() = %d, want 3", sup.Sessions())
	}
}

func TestSupervisor_ManualReconnect(t *testing.T) {
	server, url := newPBXServer(t)
	issuer := &fakeIssuer{store: credential.NewStore()}
	sup := newTestSupervisor(t, url, issuer, &frameRecorder{frames: make(chan string, 1)}, Hooks{})
	if sup.Reconnect() {
		t.Fatalf("Reconnect() before start reported an active session")
	}
	startSupervisor(t, sup)

	server.nextConn(t)
	deadline := time.Now().Add(time.Second)
	for !sup.Reconnect() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	server.nextConn(t)
	if sup.Sessions() < 2 {
		t.Fatalf("Sessions() = %d, want at least 2", sup.Sessions())
	}
}

func TestSupervisor_AcceptThenCloseKeepsBackingOff(t *testing.T) {
	upgrader := websocket.Upgrader{}
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "token rejected"))
	}))
	t.Cleanup(httpServer.Close)
	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/openapi/v1.0/subscribe"

	issuer := &fakeIssuer{store: credential.NewStore()}
	logger := logging.New(false)
	renewal := credential.NewRenewalLoop(issuer, time.Hour, logger, credential.RenewalHooks{})
	var mu sync.Mutex
	var delays []time.Duration
	sup := New(Config{
		Stream:               pbxstream.Config{URL: url, Topics: []int{30011}, HeartbeatInterval: time.Hour},
		ReconnectDelay:       10 * time.Millisecond,
		ReconnectMaxDelay:    time.Second,
		MaxReconnectAttempts: 4,
	}, issuer.store, issuer, renewal, &frameRecorder{frames: make(chan string, 1)}, logger, Hooks{
		OnReconnect: func(_ uint, delay time.Duration) {
			mu.Lock()
			delays = append(delays, delay)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := sup.Run(ctx)
	if !errors.Is(err, ErrReconnectAttemptsExhausted) {
		t.Fatalf("Run() error = %v, want ErrReconnectAttemptsExhausted", err)
	}
	if sup.Sessions() != 5 {
		t.Fatalf("Sessions() = %d, want 5", sup.Sessions())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delays) != 4 {
		t.Fatalf("delays = %v, want 4 entries", delays)
	}
	// 10ms ±50% first, 33.75ms ±50% fourth: the ranges do not overlap.
	if delays[3] <= delays[0] {
		t.Fatalf("delays = %v, backoff did not grow", delays)
	}
}
