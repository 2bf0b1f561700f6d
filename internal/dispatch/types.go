package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// Envelope is the outer frame. Msg carries the inner message, normally as a
// JSON-encoded string.
type Envelope struct {
	Type json.Number     `json:"type"`
	SN   string          `json:"sn"`
	Msg  json.RawMessage `json:"msg"`
}

// InnerMessage is one decoded inner record.
type InnerMessage struct {
	CallID  string   `json:"call_id"`
	Members []Member `json:"members"`
}

// Member is one call participant. The PBX wraps each participant in an
// object keyed by its role ("extension", "inbound", "outbound", ...).
type Member struct {
	Role      string `json:"-"`
	Number    string `json:"number,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	TrunkName string `json:"trunk_name,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	Status    string `json:"member_status,omitempty"`
	CallPath  string `json:"call_path,omitempty"`
}

type memberFields Member

func (m *Member) UnmarshalJSON(data []byte) error {
	wrapped := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	for role, raw := range wrapped {
		raw = bytes.TrimSpace(raw)
		if len(wrapped) != 1 || len(raw) == 0 || raw[0] != '{' {
			break
		}
		fields := memberFields{}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return err
		}
		*m = Member(fields)
		m.Role = role
		return nil
	}
	fields := memberFields{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*m = Member(fields)
	return nil
}

func (m Member) MarshalJSON() ([]byte, error) {
	if m.Role == "" {
		return json.Marshal(memberFields(m))
	}
	return json.Marshal(map[string]memberFields{m.Role: memberFields(m)})
}

// Event is what the predicate and sinks see: one inner record plus the
// envelope metadata it arrived with.
type Event struct {
	Kind       string          `json:"type"`
	SN         string          `json:"sn,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
	Message    InnerMessage    `json:"message"`
	Raw        json.RawMessage `json:"raw"`
}

// CallSummary flattens the parties of a ringing call.
type CallSummary struct {
	CallID    string `json:"call_id"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Extension string `json:"ext_number,omitempty"`
	Trunk     string `json:"trunk,omitempty"`
	Status    string `json:"status,omitempty"`
}

func (e Event) Summary() CallSummary {
	out := CallSummary{CallID: e.Message.CallID}
	for _, m := range e.Message.Members {
		switch m.Role {
		case "extension":
			if out.Extension == "" {
				out.Extension = m.Number
			}
			if out.Status == "" {
				out.Status = m.Status
			}
		case "inbound", "outbound":
			if out.From == "" {
				out.From = m.From
			}
			if out.To == "" {
				out.To = m.To
			}
			if out.Trunk == "" {
				out.Trunk = m.TrunkName
			}
			if out.Status == "" {
				out.Status = m.Status
			}
		}
	}
	return out
}

var errNoInnerMessage = errors.New("envelope has no msg")

// decodeInner performs the second decode stage. The inner payload may be a
// JSON string holding a document, or the document itself; an array yields
// one record per element.
func decodeInner(msg json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errNoInnerMessage
	}
	if trimmed[0] == '"' {
		var encoded string
		if err := json.Unmarshal(trimmed, &encoded); err != nil {
			return nil, err
		}
		trimmed = bytes.TrimSpace([]byte(encoded))
		if len(trimmed) == 0 {
			return nil, errNoInnerMessage
		}
	}
	switch trimmed[0] {
	case '{':
		if !json.Valid(trimmed) {
			return nil, errors.New("inner message is not valid JSON")
		}
		return []json.RawMessage{json.RawMessage(trimmed)}, nil
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	default:
		return nil, errors.New("inner message is not a JSON object")
	}
}
