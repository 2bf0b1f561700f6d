package pbxstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"slices"
	"strings"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscriptionSent
	StateStreaming
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscriptionSent:
		return "subscription_sent"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// HeartbeatFrame is the literal text the PBX expects as a keepalive.
const HeartbeatFrame = "heartbeat"

// SubscriptionRequest is the first frame of every session.
type SubscriptionRequest struct {
	Topics []int `json:"topic_list"`
}

func NewSubscriptionRequest(topics []int) SubscriptionRequest {
	out := make([]int, 0, len(topics))
	for _, topic := range topics {
		if !slices.Contains(out, topic) {
			out = append(out, topic)
		}
	}
	return SubscriptionRequest{Topics: out}
}

func (r SubscriptionRequest) Encode() ([]byte, error) {
	if r.Topics == nil {
		r.Topics = []int{}
	}
	return json.Marshal(r)
}

func DecodeSubscriptionRequest(data []byte) (SubscriptionRequest, error) {
	req := SubscriptionRequest{}
	if err := json.Unmarshal(data, &req); err != nil {
		return SubscriptionRequest{}, err
	}
	if req.Topics == nil {
		return SubscriptionRequest{}, errors.New("missing topic_list")
	}
	return req, nil
}

type FrameKind int

const (
	FrameEnvelope FrameKind = iota
	FrameHeartbeatAck
	FrameMalformed
)

func (k FrameKind) String() string {
	switch k {
	case FrameEnvelope:
		return "envelope"
	case FrameHeartbeatAck:
		return "heartbeat_ack"
	default:
		return "malformed"
	}
}

// ClassifyFrame sorts an inbound frame without fully decoding it. Anything
// mentioning heartbeat that carries no msg payload is an acknowledgment.
func ClassifyFrame(frame []byte) FrameKind {
	trimmed := bytes.TrimSpace(frame)
	mentionsHeartbeat := strings.Contains(strings.ToLower(string(trimmed)), HeartbeatFrame)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		if mentionsHeartbeat {
			return FrameHeartbeatAck
		}
		return FrameMalformed
	}
	if mentionsHeartbeat {
		probe := struct {
			Msg json.RawMessage `json:"msg"`
		}{}
		if err := json.Unmarshal(trimmed, &probe); err == nil && len(probe.Msg) == 0 {
			return FrameHeartbeatAck
		}
	}
	return FrameEnvelope
}
