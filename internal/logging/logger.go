package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Logger writes leveled events with structured fields to the terminal, an
// optional rotating JSONL file, and any in-process subscribers.
type Logger struct {
	core  *core
	bound []slog.Attr
}

type core struct {
	debugEnabled atomic.Bool
	terminalOut  atomic.Bool
	pretty       bool

	outMu sync.Mutex
	out   io.Writer

	mu          sync.RWMutex
	fileSink    *fileSink
	nextID      int
	subscribers map[int]func(Event)
}

type Event struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Fields  map[string]any
}

func New(debug bool) *Logger {
	c := &core{
		pretty:      shouldPrettyPrint(),
		out:         os.Stderr,
		subscribers: map[int]func(Event){},
	}
	c.debugEnabled.Store(debug)
	c.terminalOut.Store(true)
	return &Logger{core: c}
}

// With returns a logger that adds fields to every event. The child shares
// outputs, level and subscribers with its parent.
func (l *Logger) With(fields ...slog.Attr) *Logger {
	if l == nil {
		return nil
	}
	bound := make([]slog.Attr, 0, len(l.bound)+len(fields))
	bound = append(bound, l.bound...)
	bound = append(bound, fields...)
	return &Logger{core: l.core, bound: bound}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	// Debug events always reach the file sink; the flag only gates terminal and subscribers.
	l.log(slog.LevelDebug, msg, fields, l.core.debugEnabled.Load())
}

func (l *Logger) Info(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelInfo, msg, fields, true)
}

func (l *Logger) Warn(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelWarn, msg, fields, true)
}

func (l *Logger) Error(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelError, msg, fields, true)
}

func (l *Logger) SetDebugEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.core.debugEnabled.Store(enabled)
}

func (l *Logger) DebugEnabled() bool {
	if l == nil {
		return false
	}
	return l.core.debugEnabled.Load()
}

func (l *Logger) SetTerminalOutputEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.core.terminalOut.Store(enabled)
}

// SetOutput redirects terminal output. Pretty rendering is disabled for
// writers other than the process stderr.
func (l *Logger) SetOutput(w io.Writer) {
	if l == nil || w == nil {
		return
	}
	l.core.outMu.Lock()
	l.core.out = w
	if w != os.Stderr {
		l.core.pretty = false
	}
	l.core.outMu.Unlock()
}

func (l *Logger) EnableFilePersistence(dir string, maxBytes int64) error {
	if l == nil {
		return nil
	}
	sink, err := newFileSink(dir, maxBytes)
	if err != nil {
		return err
	}
	l.core.mu.Lock()
	old := l.core.fileSink
	l.core.fileSink = sink
	l.core.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.core.mu.Lock()
	sink := l.core.fileSink
	l.core.fileSink = nil
	l.core.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Close()
}

// Subscribe registers fn for every published event and returns a function
// that removes it.
func (l *Logger) Subscribe(fn func(Event)) func() {
	if l == nil {
		panic("logging.Logger.Subscribe: logger must not be nil")
	}
	if fn == nil {
		panic("logging.Logger.Subscribe: callback must not be nil")
	}
	c := l.core
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscribers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

func (l *Logger) log(level slog.Level, msg string, fields []slog.Attr, publish bool) {
	attrs := fields
	if len(l.bound) > 0 {
		attrs = make([]slog.Attr, 0, len(l.bound)+len(fields))
		attrs = append(attrs, l.bound...)
		attrs = append(attrs, fields...)
	}
	event := Event{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
		Fields:  attrsToMap(attrs),
	}

	c := l.core
	c.mu.RLock()
	sink := c.fileSink
	c.mu.RUnlock()
	if sink != nil {
		_ = sink.WriteEvent(event)
	}
	if !publish {
		return
	}
	if c.terminalOut.Load() {
		c.emit(event)
	}
	c.publish(event)
}

func (c *core) emit(event Event) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.pretty {
		_, _ = io.WriteString(c.out, FormatEventANSI(event))
		return
	}
	_, _ = io.WriteString(c.out, FormatEventLine(event))
}

func (c *core) publish(event Event) {
	c.mu.RLock()
	if len(c.subscribers) == 0 {
		c.mu.RUnlock()
		return
	}
	callbacks := make([]func(Event), 0, len(c.subscribers))
	for _, cb := range c.subscribers {
		callbacks = append(callbacks, cb)
	}
	c.mu.RUnlock()

	for _, cb := range callbacks {
		cb(event)
	}
}
