package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const defaultLogFileMaxBytes = 5 * 1024 * 1024

// fileSink appends JSON lines to monitor-<start>-<part>.jsonl and starts a
// new part once maxBytes would be exceeded.
type fileSink struct {
	mu       sync.Mutex
	dir      string
	startTag string
	maxBytes int64
	part     int
	file     *os.File
	size     int64
	closed   bool
}

type jsonLogLine struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func DefaultLogDirPath() (string, error) {
	root, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "pbx-monitor", "logs"), nil
}

func newFileSink(dir string, maxBytes int64) (*fileSink, error) {
	if maxBytes <= 0 {
		maxBytes = defaultLogFileMaxBytes
	}
	if strings.TrimSpace(dir) == "" {
		var err error
		if dir, err = DefaultLogDirPath(); err != nil {
			return nil, err
		}
	}
	sink := &fileSink{
		dir:      dir,
		startTag: time.Now().UTC().Format("20060102-150405"),
		maxBytes: maxBytes,
	}
	if err := sink.rotateLocked(); err != nil {
		return nil, err
	}
	return sink, nil
}

func (s *fileSink) WriteEvent(event Event) error {
	if s == nil {
		return nil
	}
	entry := jsonLogLine{
		Time:    event.Time.UTC().Format(time.RFC3339Nano),
		Level:   strings.ToUpper(event.Level.String()),
		Message: event.Message,
	}
	if len(event.Fields) > 0 {
		entry.Fields = make(map[string]any, len(event.Fields))
		for key, value := range event.Fields {
			entry.Fields[key] = jsonSafeValue(value)
		}
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	line := append(payload, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return os.ErrClosed
	}
	if s.file == nil || (s.size > 0 && s.size+int64(len(line)) > s.maxBytes) {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}
	n, writeErr := s.file.Write(line)
	s.size += int64(n)
	return writeErr
}

func (s *fileSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.size = 0
	return err
}

func (s *fileSink) rotateLocked() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
		s.size = 0
	}
	s.part++
	path := filepath.Join(s.dir, fmt.Sprintf("monitor-%s-%03d.jsonl", s.startTag, s.part))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	s.file = f
	s.size = info.Size()
	return nil
}

// jsonSafeValue converts errors and Stringers so the JSON line carries their
// text instead of an empty object.
func jsonSafeValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	default:
		return value
	}
}
