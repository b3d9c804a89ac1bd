package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Level represents a logging level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelNone disables all logging
	LevelNone
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "NONE"}

var zerologLevels = [...]zerolog.Level{zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel, zerolog.ErrorLevel, zerolog.Disabled}

func (l Level) String() string {
	if l < LevelDebug || l > LevelNone {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel parses a level name, case-insensitively. Unknown names yield
// LevelInfo.
func ParseLevel(s string) Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARNING" {
		return LevelWarn
	}
	for i, name := range levelNames {
		if name == s {
			return Level(i)
		}
	}
	return LevelInfo
}

func (l Level) zerolog() zerolog.Level {
	if l < LevelDebug || l > LevelNone {
		return zerolog.Disabled
	}
	return zerologLevels[l]
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// sink is the destination shared by a logger and its prefixed children
type sink struct {
	mu     sync.RWMutex
	zl     zerolog.Logger
	file   *os.File
	closed bool
}

func newSink(w io.Writer) *sink {
	if w == nil {
		return &sink{zl: zerolog.Nop(), closed: true}
	}
	return &sink{zl: zerolog.New(w).With().Timestamp().Logger()}
}

// Logger writes leveled printf-style messages as JSON lines. The prefix is
// emitted as the "component" field.
type Logger struct {
	out    *sink
	level  atomic.Int32
	prefix string
}

var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

// Init replaces the global logger, closing the previous one's file
func Init(level Level, logPath string) error {
	l, err := New(level, logPath, "")
	if err != nil {
		return err
	}
	globalMu.Lock()
	prev := globalLogger
	globalLogger = l
	globalMu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// New creates a logger writing to logPath, or to stderr when logPath is empty
func New(level Level, logPath string, prefix string) (*Logger, error) {
	if level == LevelNone {
		return NewWithWriter(level, nil, prefix), nil
	}
	if logPath == "" {
		return NewWithWriter(level, os.Stderr, prefix), nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	l := NewWithWriter(level, file, prefix)
	l.out.file = file
	return l, nil
}

// NewWithWriter creates a logger writing to w. A nil w discards everything.
func NewWithWriter(level Level, w io.Writer, prefix string) *Logger {
	if level == LevelNone {
		w = nil
	}
	l := &Logger{out: newSink(w), prefix: prefix}
	l.level.Store(int32(level))
	return l
}

// Global returns the global logger. It discards output until Init is called.
func Global() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewWithWriter(LevelNone, nil, "")
	}
	return globalLogger
}

// WithPrefix returns a child logger; nested prefixes are joined with ":"
func (l *Logger) WithPrefix(prefix string) *Logger {
	if l.prefix != "" {
		prefix = l.prefix + ":" + prefix
	}
	child := &Logger{out: l.out, prefix: prefix}
	child.level.Store(l.level.Load())
	return child
}

func (l *Logger) SetLevel(level Level) {
	l.level.Store(int32(level))
}

func (l *Logger) GetLevel() Level {
	return Level(l.level.Load())
}

// Enabled reports whether messages at level would be written
func (l *Logger) Enabled(level Level) bool {
	if level == LevelNone || level < l.GetLevel() {
		return false
	}
	l.out.mu.RLock()
	defer l.out.mu.RUnlock()
	return !l.out.closed
}

// event starts a zerolog event at level, or returns nil when disabled
func (l *Logger) event(level Level) *zerolog.Event {
	if !l.Enabled(level) {
		return nil
	}
	l.out.mu.RLock()
	ev := l.out.zl.WithLevel(level.zerolog())
	l.out.mu.RUnlock()
	if l.prefix != "" {
		ev = ev.Str("component", l.prefix)
	}
	return ev
}

func (l *Logger) logf(level Level, format string, args ...interface{}) {
	if ev := l.event(level); ev != nil {
		ev.Msgf(format, args...)
	}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.logf(LevelError, format, args...) }

// Close closes the log file, if any. Later messages are discarded.
func (l *Logger) Close() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	if l.out.file == nil {
		return nil
	}
	err := l.out.file.Close()
	l.out.file = nil
	l.out.zl = zerolog.Nop()
	l.out.closed = true
	return err
}

func Debug(format string, args ...interface{}) { Global().Debug(format, args...) }
func Info(format string, args ...interface{})  { Global().Info(format, args...) }
func Warn(format string, args ...interface{})  { Global().Warn(format, args...) }
func Error(format string, args ...interface{}) { Global().Error(format, args...) }
