package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, data []byte) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), "line: %s", line)
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"ERROR", LevelError},
		{"none", LevelNone},
		{"invalid", LevelInfo}, // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "NONE", LevelNone.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestNewLoggerWritesJSONToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "test.log")

	l, err := New(LevelInfo, logPath, "test")
	require.NoError(t, err)

	l.Info("test message %d", 7)
	l.Debug("should not appear")
	require.NoError(t, l.Close())

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)

	lines := decodeLines(t, content)
	require.Len(t, lines, 1)
	assert.Equal(t, "test message 7", lines[0]["message"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "test", lines[0]["component"])
	assert.NotEmpty(t, lines[0]["time"])
}

func TestLoggerWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(LevelInfo, &buf, "parent")

	l.WithPrefix("child").Warn("careful")

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 1)
	assert.Equal(t, "parent:child", lines[0]["component"])
	assert.Equal(t, "warn", lines[0]["level"])
}

func TestLoggerDisabled(t *testing.T) {
	l, err := New(LevelNone, "", "test")
	require.NoError(t, err)
	defer l.Close()

	assert.False(t, l.Enabled(LevelError))
	// must not panic
	l.Debug("debug")
	l.Error("error")
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(LevelInfo, &buf, "")

	l.Info("info1")
	l.Debug("debug1")
	l.SetLevel(LevelDebug)
	l.Debug("debug2")

	out := buf.String()
	assert.Contains(t, out, "info1")
	assert.NotContains(t, out, "debug1")
	assert.Contains(t, out, "debug2")
	assert.Equal(t, LevelDebug, l.GetLevel())
}

func TestGlobalLogger(t *testing.T) {
	require.NotNil(t, Global())

	// Should not panic
	Debug("debug")
	Info("info")
	Warn("warn")
	Error("error")
}

func TestSlogHandlerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(LevelDebug, &buf, "http")

	sl := slog.New(NewSlogHandler(l)).With("project", "p1").WithGroup("req")
	sl.Error("request failed", "status", 502, "err", errors.New("boom"))

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 1)
	assert.Equal(t, "request failed", lines[0]["message"])
	assert.Equal(t, "error", lines[0]["level"])
	assert.Equal(t, "http", lines[0]["component"])
	assert.Equal(t, "p1", lines[0]["project"])
	assert.EqualValues(t, 502, lines[0]["req.status"])
	assert.Equal(t, "boom", lines[0]["req.err"])
}

func TestStdLoggerForwards(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(LevelInfo, &buf, "server")

	NewStdLogger(l, LevelWarn).Printf("tls handshake error from %s", "1.2.3.4")

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 1)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "tls handshake error from 1.2.3.4", lines[0]["message"])
}
