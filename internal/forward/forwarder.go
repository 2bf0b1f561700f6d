package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"pbx-monitor/internal/dispatch"
	"pbx-monitor/internal/logging"
	"pbx-monitor/internal/runctx"
)

const (
	DefaultQueueSize  = 64
	DefaultMaxElapsed = 2 * time.Minute
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDropped = "dropped"
)

var ErrQueueFull = errors.New("forward queue full")

// Payload is the webhook body for one matched event.
type Payload struct {
	Type       string                `json:"type"`
	SN         string                `json:"sn,omitempty"`
	ReceivedAt time.Time             `json:"received_at"`
	Summary    dispatch.CallSummary  `json:"summary"`
	Message    dispatch.InnerMessage `json:"message"`
}

type Options struct {
	QueueSize       int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsed bounds the retries for one event; after it the event is
	// logged and discarded.
	MaxElapsed time.Duration
}

// Forwarder posts matched events to a webhook from a single worker
// goroutine. Deliver only enqueues.
type Forwarder struct {
	http   *http.Client
	url    string
	logger *logging.Logger
	opts   Options
	queue  chan dispatch.Event
	onDone func(result string)
}

var _ dispatch.Sink = (*Forwarder)(nil)

func New(httpClient *http.Client, url string, logger *logging.Logger, opts Options, onDone func(result string)) *Forwarder {
	if logger == nil {
		panic("forward.New: logger must not be nil")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 30 * time.Second
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = DefaultMaxElapsed
	}
	return &Forwarder{
		http:   httpClient,
		url:    url,
		logger: logger,
		opts:   opts,
		queue:  make(chan dispatch.Event, opts.QueueSize),
		onDone: onDone,
	}
}

func (f *Forwarder) Deliver(_ context.Context, ev dispatch.Event) error {
	select {
	case f.queue <- ev:
		return nil
	default:
		f.logger.Warn("forward queue full; dropping event", logging.Field("call_id", ev.Message.CallID))
		f.result(ResultDropped)
		return ErrQueueFull
	}
}

// Run drains the queue until ctx ends. Events still queued at shutdown are
// discarded.
func (f *Forwarder) Run(ctx context.Context) {
	f.logger.Info("event forwarding started", logging.Field("url", f.url))
	for {
		ev, ok := runctx.RecvOrDone(ctx, "event forwarder", f.logger, f.queue)
		if !ok {
			if pending := len(f.queue); pending > 0 {
				f.logger.Warn("event forwarder stopped with queued events", logging.Field("pending", pending))
			}
			return
		}
		if err := f.sendWithRetry(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Error("event forward failed", logging.Field("call_id", ev.Message.CallID), logging.Field("error", err))
			f.result(ResultFailure)
			continue
		}
		f.result(ResultSuccess)
	}
}

func (f *Forwarder) sendWithRetry(ctx context.Context, ev dispatch.Event) error {
	body, err := json.Marshal(Payload{
		Type:       ev.Kind,
		SN:         ev.SN,
		ReceivedAt: ev.ReceivedAt,
		Summary:    ev.Summary(),
		Message:    ev.Message,
	})
	if err != nil {
		return err
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = f.opts.InitialInterval
	retry.MaxInterval = f.opts.MaxInterval
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, f.post(ctx, body)
	},
		backoff.WithBackOff(retry),
		backoff.WithMaxElapsedTime(f.opts.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			f.logger.Warn("event forward attempt failed",
				logging.Field("call_id", ev.Message.CallID),
				logging.Field("error", err),
				logging.Field("next_retry", next.String()),
			)
		}),
	)
	return err
}

func (f *Forwarder) post(ctx context.Context, body []byte) error {
	f.logger.Debug("forwarding event", logging.Field("payload", logging.FormatHTTPPayload(body)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	f.logger.Debugf("POST %s -> %s", f.url, resp.Status)

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		f.logger.Warn("forward rejected",
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatHTTPPayload(data)),
		)
		rejected := fmt.Errorf("forward rejected: %s", resp.Status)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(rejected)
		}
		return rejected
	}
	return nil
}

func (f *Forwarder) result(result string) {
	if f.onDone != nil {
		f.onDone(result)
	}
}
