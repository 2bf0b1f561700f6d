package credential

import (
	"context"
	"errors"
	"time"

	"pbx-monitor/internal/logging"
)

const DefaultRenewInterval = 1500 * time.Second

type Issuing interface {
	Issue(ctx context.Context) (Credential, error)
}

type RenewalHooks struct {
	OnRenewed func(Credential)
	OnFailed  func(error)
}

// RenewalLoop re-issues the credential on a fixed cadence regardless of
// connection state. Failures are logged and retried on the next tick.
type RenewalLoop struct {
	issuer   Issuing
	interval time.Duration
	logger   *logging.Logger
	hooks    RenewalHooks
	trigger  chan struct{}
}

func NewRenewalLoop(issuer Issuing, interval time.Duration, logger *logging.Logger, hooks RenewalHooks) *RenewalLoop {
	if issuer == nil {
		panic("credential.NewRenewalLoop: issuer must not be nil")
	}
	if logger == nil {
		panic("credential.NewRenewalLoop: logger must not be nil")
	}
	if interval <= 0 {
		interval = DefaultRenewInterval
	}
	return &RenewalLoop{
		issuer:   issuer,
		interval: interval,
		logger:   logger,
		hooks:    hooks,
		trigger:  make(chan struct{}, 1),
	}
}

func (r *RenewalLoop) Interval() time.Duration {
	return r.interval
}

// RenewNow asks the loop to renew immediately and restart its timer.
// Requests coalesce while one is pending.
func (r *RenewalLoop) RenewNow() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

func (r *RenewalLoop) Run(ctx context.Context) {
	r.logger.Debug("credential renewal loop started", logging.Field("interval", r.interval.String()))
	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("credential renewal loop stopped", logging.Field("error", ctx.Err()))
			return
		case <-timer.C:
			r.logger.Debug("scheduled credential renewal due")
		case <-r.trigger:
			r.logger.Debug("credential renewal requested")
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		r.renew(ctx)
		if ctx.Err() != nil {
			r.logger.Debug("credential renewal loop stopped", logging.Field("error", ctx.Err()))
			return
		}
		timer.Reset(r.interval)
	}
}

func (r *RenewalLoop) renew(ctx context.Context) {
	cred, err := r.issuer.Issue(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		r.logger.Warn("credential renewal failed; retrying next cycle",
			logging.Field("error", err),
			logging.Field("next_attempt", r.interval.String()),
		)
		if r.hooks.OnFailed != nil {
			r.hooks.OnFailed(err)
		}
		return
	}
	if cred.ExpiresIn > 0 && cred.ExpiresIn < r.interval {
		r.logger.Warn("credential lifetime is shorter than the renewal interval",
			logging.Field("expires_in", cred.ExpiresIn.String()),
			logging.Field("interval", r.interval.String()),
		)
	}
	if r.hooks.OnRenewed != nil {
		r.hooks.OnRenewed(cred)
	}
}
