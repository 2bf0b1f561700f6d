package pbxstream

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pbx-monitor/internal/credential"
	"pbx-monitor/internal/logging"
)

const (
	DefaultHeartbeatInterval = 50 * time.Second
	defaultHandshakeTimeout  = 15 * time.Second
	writeTimeout             = 10 * time.Second
	maxFrameBytes            = 4 << 20
)

// FrameHandler receives every envelope frame in receipt order. Errors are
// logged by the session and never end it.
type FrameHandler interface {
	Dispatch(ctx context.Context, frame []byte) error
}

type Config struct {
	URL               string
	Topics            []int
	HeartbeatInterval time.Duration
	// ReadTimeout bounds silence on the socket; zero derives it from the
	// heartbeat interval and a negative value disables it.
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
	TLSConfig        *tls.Config
	Logger           *logging.Logger
}

type Hooks struct {
	OnStateChange  func(State)
	OnHeartbeat    func(time.Time)
	OnHeartbeatAck func()
	OnFrame        func(FrameKind)
}

// Session is one streaming connection from dial to terminal disconnect. It
// binds the credential it was created with and is never reused.
type Session struct {
	cfg     Config
	cred    credential.Credential
	handler FrameHandler
	hooks   Hooks
	logger  *logging.Logger

	mu             sync.Mutex
	state          State
	lastHeartbeat  time.Time
	framesReceived uint64
	ran            bool
}

func NewSession(cfg Config, cred credential.Credential, handler FrameHandler, hooks Hooks) *Session {
	if cfg.Logger == nil {
		panic("pbxstream.NewSession: logger must not be nil")
	}
	if handler == nil {
		panic("pbxstream.NewSession: frame handler must not be nil")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 2*cfg.HeartbeatInterval + 10*time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Session{
		cfg:     cfg,
		cred:    cred,
		handler: handler,
		hooks:   hooks,
		logger:  cfg.Logger,
		state:   StateDisconnected,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) LastHeartbeatSent() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// FramesReceived counts every inbound frame read, acknowledgments included.
func (s *Session) FramesReceived() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framesReceived
}

func (s *Session) Credential() credential.Credential {
	return s.cred
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev == next {
		return
	}
	s.logger.Debug("stream session state changed",
		logging.Field("from", prev.String()),
		logging.Field("to", next.String()),
	)
	if s.hooks.OnStateChange != nil {
		s.hooks.OnStateChange(next)
	}
}

// Run drives the session to its terminal state and returns why it ended:
// ctx.Err() on cancellation, *ConnectError before streaming, otherwise a
// *TransportError.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return errors.New("stream session already used")
	}
	s.ran = true
	s.mu.Unlock()

	if !s.cred.Valid() {
		return &ConnectError{Endpoint: s.cfg.URL, Err: credential.ErrNoCredential}
	}

	s.setState(StateConnecting)
	conn, err := s.dial(ctx)
	if err != nil {
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	if err := s.subscribe(conn); err != nil {
		_ = conn.Close()
		s.setState(StateDisconnected)
		return err
	}
	s.setState(StateStreaming)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeErrs := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Go(func() {
		s.writeLoop(sessionCtx, conn, writeErrs)
	})

	readErr := s.readLoop(sessionCtx, conn)

	s.setState(StateClosing)
	cancel()
	wg.Wait()
	_ = conn.Close()
	s.setState(StateDisconnected)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	select {
	case writeErr := <-writeErrs:
		return writeErr
	default:
	}
	return readErr
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, &ConnectError{Endpoint: s.cfg.URL, Err: err}
	}
	query := endpoint.Query()
	query.Set("access_token", s.cred.Token)
	endpoint.RawQuery = query.Encode()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		TLSClientConfig:  s.cfg.TLSConfig,
	}
	s.logger.Debug("connecting stream",
		logging.Field("url", s.cfg.URL),
		logging.Field("token", logging.Redact(s.cred.Token)),
	)
	conn, resp, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		connectErr := &ConnectError{Endpoint: s.cfg.URL, Err: err}
		if resp != nil {
			connectErr.StatusCode = resp.StatusCode
			connectErr.Status = resp.Status
			_ = resp.Body.Close()
		}
		s.logger.Warn("stream connect failed",
			logging.Field("url", s.cfg.URL),
			logging.Field("status", connectErr.Status),
			logging.Field("error", err),
		)
		return nil, connectErr
	}
	conn.SetReadLimit(maxFrameBytes)
	return conn, nil
}

func (s *Session) subscribe(conn *websocket.Conn) error {
	payload, err := NewSubscriptionRequest(s.cfg.Topics).Encode()
	if err != nil {
		return &ConnectError{Endpoint: s.cfg.URL, Err: err}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return &ConnectError{Endpoint: s.cfg.URL, Err: err}
	}
	s.setState(StateSubscriptionSent)
	s.logger.Info("stream subscription sent", logging.Field("topics", s.cfg.Topics))
	return nil
}

// writeLoop is the only writer on conn once streaming starts.
func (s *Session) writeLoop(ctx context.Context, conn *websocket.Conn, errs chan<- error) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(HeartbeatFrame)); err != nil {
				s.logger.Warn("heartbeat write failed", logging.Field("error", err))
				errs <- &TransportError{Op: "heartbeat", Err: err}
				_ = conn.Close()
				return
			}
			sentAt := time.Now()
			s.mu.Lock()
			s.lastHeartbeat = sentAt
			s.mu.Unlock()
			s.logger.Debug("heartbeat sent")
			if s.hooks.OnHeartbeat != nil {
				s.hooks.OnHeartbeat(sentAt)
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("stream closed by remote", logging.Field("error", err))
			} else {
				s.logger.Warn("stream read failed", logging.Field("error", err))
			}
			return &TransportError{Op: "read", Err: err}
		}
		s.mu.Lock()
		s.framesReceived++
		s.mu.Unlock()
		s.handleFrame(ctx, frame)
	}
}

func (s *Session) handleFrame(ctx context.Context, frame []byte) {
	kind := ClassifyFrame(frame)
	if s.hooks.OnFrame != nil {
		s.hooks.OnFrame(kind)
	}
	switch kind {
	case FrameHeartbeatAck:
		s.logger.Debug("heartbeat acknowledged", logging.Field("frame", logging.Truncate(string(frame))))
		if s.hooks.OnHeartbeatAck != nil {
			s.hooks.OnHeartbeatAck()
		}
	case FrameMalformed:
		decodeErr := &DecodeError{Frame: logging.Truncate(string(frame)), Err: errors.New("frame is not a JSON object")}
		s.logger.Warn("skipping undecodable frame",
			logging.Field("error", decodeErr),
			logging.Field("frame", decodeErr.Frame),
		)
	default:
		if err := s.handler.Dispatch(ctx, frame); err != nil {
			s.logger.Debug("frame dispatch failed", logging.Field("error", err))
		}
	}
}
