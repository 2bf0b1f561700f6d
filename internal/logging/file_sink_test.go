package logging

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultLogDirPathSuffix(t *testing.T) {
	path, err := DefaultLogDirPath()
	if err != nil {
		t.Fatalf("DefaultLogDirPath() error = %v", err)
	}
	if want := filepath.Join("pbx-monitor", "logs"); !strings.HasSuffix(path, want) {
		t.Fatalf("DefaultLogDirPath() = %q, want suffix %q", path, want)
	}
}

func TestFileSinkWritesJSONLAndRotates(t *testing.T) {
	tmp := t.TempDir()
	sink, err := newFileSink(tmp, 180)
	if err != nil {
		t.Fatalf("newFileSink() error = %v", err)
	}

	event := Event{
		Time:    time.Unix(1700000000, 123456789),
		Level:   slog.LevelDebug,
		Message: "frame received",
		Fields: map[string]any{
			"session": 7,
			"error":   errors.New("bad frame"),
		},
	}
	for range 6 {
		if err := sink.WriteEvent(event); err != nil {
			t.Fatalf("WriteEvent() error = %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected rotation to create multiple files, got %d", len(entries))
	}

	lines := 0
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "monitor-") || !strings.HasSuffix(entry.Name(), ".jsonl") {
			t.Fatalf("unexpected log filename %q", entry.Name())
		}
		data, readErr := os.ReadFile(filepath.Join(tmp, entry.Name()))
		if readErr != nil {
			t.Fatalf("ReadFile(%q) error = %v", entry.Name(), readErr)
		}
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			var decoded jsonLogLine
			if unmarshalErr := json.Unmarshal([]byte(line), &decoded); unmarshalErr != nil {
				t.Fatalf("invalid json line %q: %v", line, unmarshalErr)
			}
			if decoded.Fields["error"] != "bad frame" {
				t.Fatalf("error field = %#v, want bad frame", decoded.Fields["error"])
			}
			lines++
		}
	}
	if lines != 6 {
		t.Fatalf("lines = %d, want 6", lines)
	}
}

func TestFileSinkRejectsWritesAfterClose(t *testing.T) {
	sink, err := newFileSink(t.TempDir(), 1024)
	if err != nil {
		t.Fatalf("newFileSink() error = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sink.WriteEvent(Event{Time: time.Now(), Message: "late"}); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("WriteEvent() after close error = %v, want os.ErrClosed", err)
	}
}
