package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"pbx-monitor/internal/logging"
	"pbx-monitor/internal/pbxstream"
)

// Predicate decides whether a decoded record is interesting. An error drops
// the record and is logged; it never reaches the stream session.
type Predicate func(Event) (bool, error)

type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Deliver(ctx context.Context, ev Event) error { return f(ctx, ev) }

// MultiSink delivers to every sink in order and joins their errors.
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, ev Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Deliver(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var DefaultMemberStatuses = []string{"RING", "ALERT"}

// MemberStatusFilter matches records in which any member is in one of the
// given call states. Comparison ignores case.
func MemberStatusFilter(statuses ...string) Predicate {
	if len(statuses) == 0 {
		statuses = DefaultMemberStatuses
	}
	wanted := make([]string, 0, len(statuses))
	for _, status := range statuses {
		wanted = append(wanted, strings.ToUpper(strings.TrimSpace(status)))
	}
	return func(ev Event) (bool, error) {
		for _, member := range ev.Message.Members {
			if slices.Contains(wanted, strings.ToUpper(strings.TrimSpace(member.Status))) {
				return true, nil
			}
		}
		return false, nil
	}
}

type Hooks struct {
	OnDecodeError func(error)
	OnMatched     func(Event)
	OnDropped     func(Event)
}

type Dispatcher struct {
	predicate Predicate
	sink      Sink
	logger    *logging.Logger
	hooks     Hooks
	now       func() time.Time
}

func New(predicate Predicate, sink Sink, logger *logging.Logger, hooks Hooks) *Dispatcher {
	if logger == nil {
		panic("dispatch.New: logger must not be nil")
	}
	if sink == nil {
		panic("dispatch.New: sink must not be nil")
	}
	if predicate == nil {
		predicate = MemberStatusFilter()
	}
	return &Dispatcher{
		predicate: predicate,
		sink:      sink,
		logger:    logger,
		hooks:     hooks,
		now:       time.Now,
	}
}

// Dispatch decodes the envelope, then each inner record, and hands every
// record the predicate accepts to the sink exactly once. All failures are
// contained to this frame.
func (d *Dispatcher) Dispatch(ctx context.Context, frame []byte) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("dispatch panic: %v", recovered)
			d.logger.Error("frame dispatch panicked", logging.Field("error", err))
		}
	}()

	envelope := Envelope{}
	if decodeErr := json.Unmarshal(frame, &envelope); decodeErr != nil {
		return d.decodeFailed(frame, fmt.Errorf("envelope: %w", decodeErr))
	}
	records, decodeErr := decodeInner(envelope.Msg)
	if errors.Is(decodeErr, errNoInnerMessage) {
		d.logger.Debug("ignoring envelope without inner message",
			logging.Field("type", envelope.Type.String()),
			logging.Field("frame", logging.FormatHTTPPayload(frame)),
		)
		return nil
	}
	if decodeErr != nil {
		return d.decodeFailed(frame, fmt.Errorf("inner message: %w", decodeErr))
	}

	receivedAt := d.now()
	var errs []error
	for _, raw := range records {
		if recordErr := d.dispatchRecord(ctx, envelope, raw, receivedAt); recordErr != nil {
			errs = append(errs, recordErr)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) dispatchRecord(ctx context.Context, envelope Envelope, raw json.RawMessage, receivedAt time.Time) error {
	message := InnerMessage{}
	if err := json.Unmarshal(raw, &message); err != nil {
		return d.decodeFailed(raw, fmt.Errorf("inner record: %w", err))
	}
	ev := Event{
		Kind:       envelope.Type.String(),
		SN:         envelope.SN,
		ReceivedAt: receivedAt,
		Message:    message,
		Raw:        raw,
	}

	matched, err := d.predicate(ev)
	if err != nil {
		d.logger.Warn("event predicate failed",
			logging.Field("call_id", message.CallID),
			logging.Field("error", err),
		)
		return err
	}
	if !matched {
		d.logger.Debug("event not interesting", logging.Field("type", ev.Kind), logging.Field("call_id", message.CallID))
		if d.hooks.OnDropped != nil {
			d.hooks.OnDropped(ev)
		}
		return nil
	}

	summary := ev.Summary()
	d.logger.Info("call event matched",
		logging.Field("call_id", summary.CallID),
		logging.Field("from", summary.From),
		logging.Field("to", summary.To),
		logging.Field("ext_number", summary.Extension),
		logging.Field("status", summary.Status),
	)
	if d.hooks.OnMatched != nil {
		d.hooks.OnMatched(ev)
	}
	if err := d.sink.Deliver(ctx, ev); err != nil {
		d.logger.Warn("event sink failed", logging.Field("call_id", message.CallID), logging.Field("error", err))
		return err
	}
	return nil
}

func (d *Dispatcher) decodeFailed(frame []byte, cause error) error {
	err := &pbxstream.DecodeError{Frame: logging.Truncate(string(frame)), Err: cause}
	d.logger.Warn("skipping undecodable event", logging.Field("error", err), logging.Field("frame", err.Frame))
	if d.hooks.OnDecodeError != nil {
		d.hooks.OnDecodeError(err)
	}
	return err
}
