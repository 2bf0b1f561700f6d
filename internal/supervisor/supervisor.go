package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"pbx-monitor/internal/credential"
	"pbx-monitor/internal/logging"
	"pbx-monitor/internal/pbxstream"
	"pbx-monitor/internal/runstatus"
)

const (
	DefaultReconnectDelay    = 2 * time.Second
	DefaultReconnectMaxDelay = 60 * time.Second
)

var ErrReconnectAttemptsExhausted = errors.New("reconnect attempts exhausted")

// errReconnectRequested ends a session on operator request; it is never
// counted as a failure.
var errReconnectRequested = errors.New("reconnect requested")

type Config struct {
	Stream            pbxstream.Config
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	// MaxReconnectAttempts bounds consecutive failed sessions; zero retries
	// forever.
	MaxReconnectAttempts uint
}

type Hooks struct {
	OnStatus      func(string)
	OnReconnect   func(attempt uint, delay time.Duration)
	OnAuthFailure func(error)
	Session       pbxstream.Hooks
}

// Supervisor bootstraps the credential, then keeps the renewal loop and one
// stream session alive until its context ends.
type Supervisor struct {
	cfg      Config
	store    *credential.Store
	issuer   credential.Issuing
	renewal  *credential.RenewalLoop
	handler  pbxstream.FrameHandler
	logger   *logging.Logger
	hooks    Hooks
	mu       sync.Mutex
	session  *pbxstream.Session
	cancel   context.CancelCauseFunc
	sessions uint
}

func New(cfg Config, store *credential.Store, issuer credential.Issuing, renewal *credential.RenewalLoop, handler pbxstream.FrameHandler, logger *logging.Logger, hooks Hooks) *Supervisor {
	if logger == nil {
		panic("supervisor.New: logger must not be nil")
	}
	if store == nil || issuer == nil || renewal == nil || handler == nil {
		panic("supervisor.New: store, issuer, renewal loop and handler are required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectDelay {
		cfg.ReconnectMaxDelay = cfg.ReconnectDelay
	}
	if cfg.Stream.Logger == nil {
		cfg.Stream.Logger = logger
	}
	return &Supervisor{
		cfg:     cfg,
		store:   store,
		issuer:  issuer,
		renewal: renewal,
		handler: handler,
		logger:  logger,
		hooks:   hooks,
	}
}

// Run returns ctx's error on shutdown, or ErrReconnectAttemptsExhausted when
// the session limit is hit. Every goroutine it starts has exited on return.
func (s *Supervisor) Run(ctx context.Context) error {
	s.status(runstatus.Authenticating)
	if err := s.bootstrap(ctx); err != nil {
		s.status(runstatus.Stopped)
		return err
	}
	s.status(runstatus.Authenticated)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() {
		s.renewal.Run(runCtx)
	})
	var sessionErr error
	wg.Go(func() {
		sessionErr = s.runSessions(runCtx)
		cancel()
	})
	wg.Wait()

	s.status(runstatus.Stopped)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return sessionErr
}

// Reconnect ends the active session and starts a fresh one without waiting
// for backoff. It reports false when no session is active.
func (s *Supervisor) Reconnect() bool {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		s.logger.Debug("reconnect ignored: no active session")
		return false
	}
	cancel(errReconnectRequested)
	return true
}

// RenewCredential asks the renewal loop for an out-of-cycle issuance.
func (s *Supervisor) RenewCredential() {
	s.renewal.RenewNow()
}

func (s *Supervisor) SessionState() pbxstream.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return pbxstream.StateDisconnected
	}
	return s.session.State()
}

func (s *Supervisor) Sessions() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

func (s *Supervisor) bootstrap(ctx context.Context) error {
	retry := s.newBackOff()
	_, err := backoff.Retry(ctx, func() (credential.Credential, error) {
		cred, err := s.issuer.Issue(ctx)
		if err != nil && credential.IsUnauthorized(err) && s.hooks.OnAuthFailure != nil {
			s.hooks.OnAuthFailure(err)
		}
		return cred, err
	},
		backoff.WithBackOff(retry),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("initial credential issuance failed",
				logging.Field("error", err),
				logging.Field("next_retry", next.String()),
			)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			s.logger.Debug("bootstrap stopped: context canceled", logging.Field("error", ctx.Err()))
			return ctx.Err()
		}
		return fmt.Errorf("bootstrap credential: %w", err)
	}
	return nil
}

func (s *Supervisor) runSessions(ctx context.Context) error {
	retry := s.newBackOff()
	var failures uint

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		stable, err := s.runOneSession(ctx)
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, errReconnectRequested) {
			s.logger.Info("reconnecting stream on request")
			failures = 0
			return struct{}{}, &backoff.RetryAfterError{}
		}
		if stable {
			failures = 0
			retry.Reset()
		}
		failures++
		if pbxstream.IsAuthRejected(err) {
			s.status(runstatus.DisconnectedAuth)
			s.logger.Warn("stream rejected credential; issuing a new one", logging.Field("error", err))
			if _, issueErr := s.issuer.Issue(ctx); issueErr != nil {
				s.logger.Warn("credential re-issue after rejection failed", logging.Field("error", issueErr))
				if s.hooks.OnAuthFailure != nil {
					s.hooks.OnAuthFailure(issueErr)
				}
			}
		} else {
			s.status(runstatus.Disconnected)
		}
		if s.cfg.MaxReconnectAttempts > 0 && failures > s.cfg.MaxReconnectAttempts {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w after %d attempts: %w", ErrReconnectAttemptsExhausted, failures, err))
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(retry),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.status(runstatus.Reconnecting)
			s.logger.Info("stream session ended; reconnecting",
				logging.Field("error", err),
				logging.Field("next_retry", next.String()),
				logging.Field("attempt", failures),
			)
			if s.hooks.OnReconnect != nil {
				s.hooks.OnReconnect(failures, next)
			}
		}),
	)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.logger.Error("stream supervision stopped", logging.Field("error", err))
		return err
	}
	s.logger.Debug("stream supervision stopped: context canceled")
	return nil
}

// runOneSession reports whether the session was stable, and why it ended. A
// session is stable once it received a frame or streamed for a full
// heartbeat interval; an accept-then-close PBX never is.
func (s *Supervisor) runOneSession(ctx context.Context) (bool, error) {
	cred, ok := s.store.Get()
	if !ok {
		return false, &pbxstream.ConnectError{Endpoint: s.cfg.Stream.URL, Err: credential.ErrNoCredential}
	}

	sessionCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var streamingSince time.Time
	hooks := s.hooks.Session
	userStateHook := hooks.OnStateChange
	hooks.OnStateChange = func(state pbxstream.State) {
		switch state {
		case pbxstream.StateConnecting:
			s.status(runstatus.Connecting)
		case pbxstream.StateStreaming:
			streamingSince = time.Now()
			s.status(runstatus.Streaming)
		}
		if userStateHook != nil {
			userStateHook(state)
		}
	}
	session := pbxstream.NewSession(s.cfg.Stream, cred, s.handler, hooks)

	s.mu.Lock()
	s.session = session
	s.cancel = cancel
	s.sessions++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	err := session.Run(sessionCtx)
	stable := session.FramesReceived() > 0 ||
		(!streamingSince.IsZero() && time.Since(streamingSince) >= s.stableAfter())
	if cause := context.Cause(sessionCtx); errors.Is(cause, errReconnectRequested) && ctx.Err() == nil {
		return stable, errReconnectRequested
	}
	return stable, err
}

func (s *Supervisor) stableAfter() time.Duration {
	if s.cfg.Stream.HeartbeatInterval > 0 {
		return s.cfg.Stream.HeartbeatInterval
	}
	return pbxstream.DefaultHeartbeatInterval
}

func (s *Supervisor) newBackOff() *backoff.ExponentialBackOff {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = s.cfg.ReconnectDelay
	retry.MaxInterval = s.cfg.ReconnectMaxDelay
	retry.Reset()
	return retry
}

func (s *Supervisor) status(status string) {
	if s.hooks.OnStatus != nil {
		s.hooks.OnStatus(status)
	}
}
