package logging

import (
	"log/slog"
	"strconv"
	"strings"
)

func Field(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// Redact keeps a short prefix of a secret so log lines can be correlated
// without exposing the value.
func Redact(secret string) string {
	secret = strings.TrimSpace(secret)
	switch {
	case secret == "":
		return "<empty>"
	case len(secret) <= 8:
		return "****"
	default:
		return secret[:4] + "…" + "(" + strconv.Itoa(len(secret)) + ")"
	}
}

func attrsToMap(attrs []slog.Attr) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	values := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		key, value := resolveAttr(attr)
		if key == "" {
			continue
		}
		values[key] = value
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

func resolveAttr(attr slog.Attr) (string, any) {
	if attr.Key == "" {
		return "", nil
	}
	value := attr.Value.Resolve()
	if value.Kind() != slog.KindGroup {
		return attr.Key, value.Any()
	}
	inner := map[string]any{}
	for _, member := range value.Group() {
		if key, val := resolveAttr(member); key != "" {
			inner[key] = val
		}
	}
	return attr.Key, inner
}
