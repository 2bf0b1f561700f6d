package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

const clipLimit = 240

// Truncate flattens value onto one line and clips it for display.
func Truncate(value string) string {
	value = strings.TrimSpace(value)
	value = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(value)
	if value == "" {
		return "<empty>"
	}
	if len(value) > clipLimit {
		return value[:clipLimit] + "..."
	}
	return value
}

// FormatHTTPPayload normalizes upstream response bodies for log output.
// JSON is re-encoded compactly without HTML escaping; a JSON string that
// itself holds a document is unwrapped once.
func FormatHTTPPayload(raw []byte) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return "<empty>"
	}

	var quoted string
	if err := json.Unmarshal([]byte(trimmed), &quoted); err == nil {
		trimmed = strings.TrimSpace(quoted)
	}

	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
		if out, encErr := encodeJSON(value, ""); encErr == nil {
			return out
		}
	}
	return Truncate(trimmed)
}

func FormatEventLine(event Event) string {
	var b strings.Builder
	b.WriteString(event.Time.Format("15:04:05"))
	b.WriteString(" [")
	b.WriteString(strings.ToUpper(event.Level.String()))
	b.WriteString("] ")
	b.WriteString(event.Message)
	for _, key := range orderedFieldKeys(event.Fields) {
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(formatFieldValue(event.Fields[key]))
	}
	b.WriteByte('\n')
	return b.String()
}

func formatFieldValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "<nil>"
	case error:
		return v.Error()
	case string:
		return v
	case []byte:
		return FormatHTTPPayload(v)
	case fmt.Stringer:
		return v.String()
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if out, err := encodeJSON(value, ""); err == nil {
			return out
		}
	}
	return fmt.Sprintf("%v", value)
}

func encodeJSON(value any, indent string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(value); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// orderedFieldKeys sorts keys alphabetically but moves bulky payload keys to
// the end so short fields stay readable.
func orderedFieldKeys(fields map[string]any) []string {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		pi, pj := isPayloadFieldKey(keys[i]), isPayloadFieldKey(keys[j])
		if pi != pj {
			return !pi
		}
		return keys[i] < keys[j]
	})
	return keys
}

func isPayloadFieldKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "payload", "response", "body", "data", "frame", "event":
		return true
	default:
		return false
	}
}
