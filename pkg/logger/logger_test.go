package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		log   func(*Logger)
		want  string
	}{
		{"debug", "debug", func(l *Logger) { l.Debug("m", "k", "v") }, "DEBUG"},
		{"info", "info", func(l *Logger) { l.Info("m", "k", "v") }, "INFO"},
		{"warn", "warn", func(l *Logger) { l.Warn("m", "k", "v") }, "WARN"},
		{"error", "error", func(l *Logger) { l.Error("m", "k", "v") }, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(New(&buf, tt.level))

			entry := decode(t, &buf)
			assert.Equal(t, tt.want, entry["level"])
			assert.Equal(t, "m", entry["msg"])
			assert.Equal(t, "v", entry["k"])
			assert.NotEmpty(t, entry["time"])
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		logFunc   func(*Logger)
		shouldLog bool
	}{
		{"debug logs at debug level", "debug", func(l *Logger) { l.Debug("msg") }, true},
		{"debug skipped at info level", "info", func(l *Logger) { l.Debug("msg") }, false},
		{"warn logs at info level", "info", func(l *Logger) { l.Warn("msg") }, true},
		{"info skipped at warn level", "warn", func(l *Logger) { l.Info("msg") }, false},
		{"warn skipped at error level", "error", func(l *Logger) { l.Warn("msg") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.logFunc(New(&buf, tt.level))

			if tt.shouldLog {
				assert.NotEmpty(t, buf.String(), "expected log output")
			} else {
				assert.Empty(t, buf.String(), "expected no log output")
			}
		})
	}
}

func TestLogger_Enabled(t *testing.T) {
	log := New(nil, "warn")
	assert.False(t, log.Enabled(LevelInfo))
	assert.True(t, log.Enabled(LevelWarn))
	assert.True(t, log.Enabled(LevelError))
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info")

	child := log.With("service", "ratewarden").With("request_id", "abc123", 42, "skipped")
	child.Info("request handled")

	entry := decode(t, &buf)
	assert.Equal(t, "ratewarden", entry["service"])
	assert.Equal(t, "abc123", entry["request_id"])
	assert.NotContains(t, entry, "42")
}

func TestLogger_With_DoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info")

	_ = log.With("tag", "1.2.3.4:requests:minute:")
	log.Info("parent")

	entry := decode(t, &buf)
	assert.NotContains(t, entry, "tag")
}

func TestLogger_ErrorValues(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info")

	log.Error("store failed", "error", errors.New("connection refused"))

	entry := decode(t, &buf)
	assert.Equal(t, "connection refused", entry["error"])
}

func TestLogger_MarshalError(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info")

	// Channels can't be marshalled to JSON
	log.Info("message", "channel", make(chan int))

	entry := decode(t, &buf)
	assert.Equal(t, "message", entry["msg"])
	assert.Contains(t, entry["error"], "log marshal failed")
}

func TestLogger_ConcurrentChildren(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			log.With("worker", n).Info("tick")
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 20)
	for _, line := range lines {
		var entry map[string]interface{}
		assert.NoError(t, json.Unmarshal([]byte(line), &entry))
	}
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
		{"invalid", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "INFO", Level(999).String())
}

func TestNop(t *testing.T) {
	log := Nop()
	require.NotNil(t, log)
	log.Error("discarded")
}
