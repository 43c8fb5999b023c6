// Package logger provides structured logging utilities.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel parses a string into a Level.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// sink is shared by a logger and everything derived from it with With,
// so concurrent writes from sibling loggers never interleave.
type sink struct {
	mu     sync.Mutex
	output io.Writer
}

// Logger writes one JSON object per line.
type Logger struct {
	sink   *sink
	level  Level
	fields map[string]interface{}
}

// New creates a new Logger with the specified output and level.
func New(output io.Writer, level string) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{
		sink:   &sink{output: output},
		level:  ParseLevel(level),
		fields: make(map[string]interface{}),
	}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return New(io.Discard, "error")
}

// With returns a new Logger with additional fields.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	fields := make(map[string]interface{}, len(l.fields)+len(keyvals)/2)
	for k, v := range l.fields {
		fields[k] = v
	}
	addPairs(fields, keyvals)

	return &Logger{
		sink:   l.sink,
		level:  l.level,
		fields: fields,
	}
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.level
}

// Debug logs a message at debug level.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.log(LevelDebug, msg, keyvals...)
}

// Info logs a message at info level.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.log(LevelInfo, msg, keyvals...)
}

// Warn logs a message at warn level.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.log(LevelWarn, msg, keyvals...)
}

// Error logs a message at error level.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.log(LevelError, msg, keyvals...)
}

// log writes a log entry if the level is enabled.
func (l *Logger) log(level Level, msg string, keyvals ...interface{}) {
	if !l.Enabled(level) {
		return
	}

	entry := make(map[string]interface{}, len(l.fields)+len(keyvals)/2+3)
	for k, v := range l.fields {
		entry[k] = v
	}
	addPairs(entry, keyvals)

	entry["time"] = time.Now().UTC().Format(time.RFC3339)
	entry["level"] = level.String()
	entry["msg"] = msg

	data, err := json.Marshal(entry)
	if err != nil {
		data, _ = json.Marshal(map[string]interface{}{
			"time":  entry["time"],
			"level": entry["level"],
			"msg":   msg,
			"error": fmt.Sprintf("log marshal failed: %v", err),
		})
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	_, _ = l.sink.output.Write(append(data, '\n'))
}

// addPairs copies key/value pairs into dst. Pairs with a non-string key and a
// trailing odd value are dropped. Errors are stored as their message since
// most error types marshal to an empty object.
func addPairs(dst map[string]interface{}, keyvals []interface{}) {
	for i := 0; i < len(keyvals)-1; i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keyvals[i+1].(error); isErr && err != nil {
			dst[key] = err.Error()
			continue
		}
		dst[key] = keyvals[i+1]
	}
}
