package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"pbx-monitor/internal/logging"
	"pbx-monitor/internal/pbxstream"
)

type recordingSink struct {
	events []Event
	err    error
}

func (s *recordingSink) Deliver(_ context.Context, ev Event) error {
	s.events = append(s.events, ev)
	return s.err
}

// callFrame builds an envelope the way the PBX sends it: the inner message
// is a JSON document encoded as a string.
func callFrame(t *testing.T, callID string, extStatus string, inboundStatus string) []byte {
	t.Helper()
	inner := fmt.Sprintf(`{"call_id":%q,"members":[{"extension":{"number":"1001","channel_id":"PJSIP/1001-1","member_status":%q,"call_path":""}},{"inbound":{"from":"0612345678","to":"0287654321","trunk_name":"SIP-Trunk","channel_id":"PJSIP/trunk-2","member_status":%q,"call_path":""}}]}`, callID, extStatus, inboundStatus)
	encoded, err := json.Marshal(inner)
	if err != nil {
		t.Fatalf("encode inner: %v", err)
	}
	return []byte(fmt.Sprintf(`{"type":30011,"sn":"3631A2012345","msg":%s}`, encoded))
}

func TestDispatch_InterestingStatusDeliveredOnce(t *testing.T) {
	for _, status := range []string{"RING", "ALERT", "ring"} {
		t.Run(status, func(t *testing.T) {
			sink := &recordingSink{}
			d := New(MemberStatusFilter("RING", "ALERT"), sink, logging.New(false), Hooks{})

			if err := d.Dispatch(context.Background(), callFrame(t, "call-1", status, "ANSWERED")); err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if len(sink.events) != 1 {
				t.Fatalf("sink invoked %d times, want 1", len(sink.events))
			}
			ev := sink.events[0]
			if ev.Kind != "30011" || ev.SN != "3631A2012345" {
				t.Fatalf("envelope metadata = %q %q", ev.Kind, ev.SN)
			}
			if ev.Message.CallID != "call-1" || len(ev.Message.Members) != 2 {
				t.Fatalf("inner message = %#v", ev.Message)
			}
			summary := ev.Summary()
			if summary.From != "0612345678" || summary.To != "0287654321" || summary.Extension != "1001" || summary.Trunk != "SIP-Trunk" {
				t.Fatalf("summary = %#v", summary)
			}
		})
	}
}

func TestDispatch_IdleNeverDelivered(t *testing.T) {
	sink := &recordingSink{}
	dropped := 0
	d := New(nil, sink, logging.New(false), Hooks{OnDropped: func(Event) { dropped++ }})

	if err := d.Dispatch(context.Background(), callFrame(t, "call-2", "IDLE", "IDLE")); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("sink invoked for IDLE status")
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
}

func TestDispatch_MalformedFrameThenGoodFrame(t *testing.T) {
	sink := &recordingSink{}
	var decodeErrs []error
	d := New(nil, sink, logging.New(false), Hooks{OnDecodeError: func(err error) { decodeErrs = append(decodeErrs, err) }})

	bad := [][]byte{
		[]byte(`{"type":30011,"msg":`),
		[]byte(`{"type":30011,"msg":"{not json"}`),
		[]byte(`{"type":30011,"msg":"42"}`),
	}
	for _, frame := range bad {
		err := d.Dispatch(context.Background(), frame)
		var decodeErr *pbxstream.DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("Dispatch(%s) error = %v, want *DecodeError", frame, err)
		}
	}
	if len(decodeErrs) != len(bad) {
		t.Fatalf("decode hook calls = %d, want %d", len(decodeErrs), len(bad))
	}

	if err := d.Dispatch(context.Background(), callFrame(t, "call-3", "RING", "ALERT")); err != nil {
		t.Fatalf("Dispatch() after malformed frames error = %v", err)
	}
	if len(sink.events) != 1 || sink.events[0].Message.CallID != "call-3" {
		t.Fatalf("sink events = %#v", sink.events)
	}
}

func TestDispatch_EnvelopeWithoutMessageIgnored(t *testing.T) {
	sink := &recordingSink{}
	d := New(nil, sink, logging.New(false), Hooks{})
	for _, frame := range []string{`{"errcode":0,"errmsg":"SUCCESS"}`, `{"type":30011,"msg":""}`, `{"type":30011,"msg":null}`} {
		if err := d.Dispatch(context.Background(), []byte(frame)); err != nil {
			t.Fatalf("Dispatch(%s) error = %v", frame, err)
		}
	}
	if len(sink.events) != 0 {
		t.Fatalf("sink invoked for envelope without msg")
	}
}

func TestDispatch_InnerArrayDeliversPerRecord(t *testing.T) {
	sink := &recordingSink{}
	d := New(nil, sink, logging.New(false), Hooks{})
	frame := []byte(`{"type":30011,"msg":[{"call_id":"a","members":[{"extension":{"number":"1001","member_status":"RING"}}]},{"call_id":"b","members":[{"extension":{"number":"1002","member_status":"IDLE"}}]},{"call_id":"c","members":[{"extension":{"number":"1003","member_status":"ALERT"}}]}]}`)

	if err := d.Dispatch(context.Background(), frame); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(sink.events) != 2 || sink.events[0].Message.CallID != "a" || sink.events[1].Message.CallID != "c" {
		t.Fatalf("sink events = %#v", sink.events)
	}
}

func TestDispatch_PredicateAndSinkFailuresAreContained(t *testing.T) {
	sink := &recordingSink{err: errors.New("downstream unavailable")}
	d := New(nil, sink, logging.New(false), Hooks{})
	if err := d.Dispatch(context.Background(), callFrame(t, "call-4", "RING", "RING")); err == nil {
		t.Fatalf("expected sink error to be reported")
	}

	panicking := New(func(Event) (bool, error) { panic("boom") }, &recordingSink{}, logging.New(false), Hooks{})
	if err := panicking.Dispatch(context.Background(), callFrame(t, "call-5", "RING", "RING")); err == nil {
		t.Fatalf("expected predicate panic to surface as error")
	}

	failing := New(func(Event) (bool, error) { return false, errors.New("bad rule") }, sink, logging.New(false), Hooks{})
	sink.events = nil
	if err := failing.Dispatch(context.Background(), callFrame(t, "call-6", "RING", "RING")); err == nil {
		t.Fatalf("expected predicate error")
	}
	if len(sink.events) != 0 {
		t.Fatalf("sink invoked after predicate error")
	}
}

func TestMember_RoundTripKeepsRole(t *testing.T) {
	var m Member
	if err := json.Unmarshal([]byte(`{"inbound":{"from":"100","to":"200","member_status":"ALERT"}}`), &m); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if m.Role != "inbound" || m.From != "100" || m.Status != "ALERT" {
		t.Fatalf("member = %#v", m)
	}
	out, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != `{"inbound":{"from":"100","to":"200","member_status":"ALERT"}}` {
		t.Fatalf("Marshal() = %s", out)
	}

	var flat Member
	if err := json.Unmarshal([]byte(`{"number":"1001"}`), &flat); err != nil {
		t.Fatalf("Unmarshal(flat) error = %v", err)
	}
	if flat.Role != "" || flat.Number != "1001" {
		t.Fatalf("flat member = %#v", flat)
	}
}
