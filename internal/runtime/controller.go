package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pbx-monitor/internal/api"
	"pbx-monitor/internal/config"
	"pbx-monitor/internal/dispatch"
	"pbx-monitor/internal/logging"
)

type Controller struct {
	rootCtx context.Context
	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	service Service
	wg      sync.WaitGroup
}

type StartHooks struct {
	OnStatus func(string)
	OnEvent  func(dispatch.Event)
	OnExit   func(error)
}

func NewController(rootCtx context.Context) *Controller {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	return &Controller{rootCtx: rootCtx}
}

func (c *Controller) Start(opts config.Options, logger *logging.Logger, hooks StartHooks) error {
	if logger == nil {
		panic("runtime.Controller.Start: logger must not be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("monitor is already running")
	}
	if err := config.ValidateRequired(opts); err != nil {
		return err
	}
	logger.Debug("runtime start requested",
		logging.Field("api_url", opts.APIURL),
		logging.Field("topics", fmt.Sprint(opts.Topics)),
		logging.Field("has_event_hook", hooks.OnEvent != nil),
	)

	service, err := NewServiceWithHooks(opts, logger, hooks)
	if err != nil {
		return err
	}

	parent := c.rootCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	c.cancel = cancel
	c.running = true
	c.service = service
	c.wg.Go(func() {
		defer cancel()
		runErr := service.RunContext(ctx)
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			logger.Debug("runtime service exited due to context cancellation", logging.Field("error", runErr))
		} else if runErr != nil {
			logger.Warn("runtime service exited with error", logging.Field("error", runErr))
		} else {
			logger.Info("runtime service exited")
		}
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.service = nil
		c.mu.Unlock()

		if hooks.OnExit != nil {
			hooks.OnExit(runErr)
		}
	})

	return nil
}

func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) Wait(timeout time.Duration) bool {
	waitDone := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waitDone)
	}()
	if timeout <= 0 {
		<-waitDone
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-waitDone:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Controller) StopAndWait(timeout time.Duration) bool {
	c.Stop()
	return c.Wait(timeout)
}

func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Reconnect drops the running monitor's stream session.
func (c *Controller) Reconnect() bool {
	service := c.current()
	if service == nil {
		return false
	}
	return service.Reconnect()
}

func (c *Controller) RenewCredential() {
	if service := c.current(); service != nil {
		service.RenewCredential()
	}
}

// Snapshot reports the running monitor's state, or a stopped snapshot when
// nothing runs.
func (c *Controller) Snapshot() (api.Snapshot, bool) {
	service := c.current()
	if service == nil {
		return api.Snapshot{}, false
	}
	return service.Snapshot(), true
}

func (c *Controller) current() Service {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.service
}
