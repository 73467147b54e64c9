// Package logging provides structured JSON logging with trace support
// for the governance pipeline.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger is the structured logging interface used across the pipeline.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})

	InfoContext(ctx context.Context, msg string, fields ...interface{})
	WarnContext(ctx context.Context, msg string, fields ...interface{})
	ErrorContext(ctx context.Context, msg string, fields ...interface{})

	WithComponent(component string) Logger
}

// Level represents logging levels
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel converts a level name into a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

type contextKey string

// TraceIDKey is the context key carrying the per-run trace ID.
const TraceIDKey contextKey = "trace_id"

// WithTraceID returns a context carrying the given trace ID, generating
// one when empty.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = uuid.New().String()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// TraceID extracts the trace ID from the context, if any.
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(TraceIDKey).(string); ok {
		return id
	}
	return ""
}

type entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	TraceID   string         `json:"trace_id,omitempty"`
	Component string         `json:"component,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// JSONLogger writes one JSON object per line to the configured writer.
type JSONLogger struct {
	level     Level
	component string
	out       io.Writer
	mu        *sync.Mutex
}

// New creates a JSONLogger writing to stderr.
func New(level Level) *JSONLogger {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter creates a JSONLogger with an explicit output, used by tests.
func NewWithWriter(level Level, out io.Writer) *JSONLogger {
	return &JSONLogger{level: level, out: out, mu: &sync.Mutex{}}
}

// WithComponent returns a logger tagging every entry with the component name.
func (l *JSONLogger) WithComponent(component string) Logger {
	return &JSONLogger{level: l.level, component: component, out: l.out, mu: l.mu}
}

func (l *JSONLogger) Debug(msg string, fields ...interface{}) {
	l.log(LevelDebug, "DEBUG", "", msg, fields)
}

func (l *JSONLogger) Info(msg string, fields ...interface{}) {
	l.log(LevelInfo, "INFO", "", msg, fields)
}

func (l *JSONLogger) Warn(msg string, fields ...interface{}) {
	l.log(LevelWarn, "WARN", "", msg, fields)
}

func (l *JSONLogger) Error(msg string, fields ...interface{}) {
	l.log(LevelError, "ERROR", "", msg, fields)
}

func (l *JSONLogger) InfoContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(LevelInfo, "INFO", TraceID(ctx), msg, fields)
}

func (l *JSONLogger) WarnContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(LevelWarn, "WARN", TraceID(ctx), msg, fields)
}

func (l *JSONLogger) ErrorContext(ctx context.Context, msg string, fields ...interface{}) {
	l.log(LevelError, "ERROR", TraceID(ctx), msg, fields)
}

func (l *JSONLogger) log(level Level, name, traceID, msg string, fields []interface{}) {
	if level < l.level {
		return
	}

	// Variadic fields arrive as alternating key/value pairs.
	fieldMap := make(map[string]any, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		fieldMap[fmt.Sprintf("%v", fields[i])] = fields[i+1]
	}

	e := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     name,
		Message:   msg,
		TraceID:   traceID,
		Component: l.component,
	}
	if len(fieldMap) > 0 {
		e.Fields = fieldMap
	}

	data, err := json.Marshal(e)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(data, '\n'))
}
