// Package observability provides structured logging, metrics, and health checks
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

func (l LogLevel) rank() int32 {
	switch l {
	case LevelDebug:
		return 0
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// ParseLevel converts a level name such as "DEBUG" or "warn" into a LogLevel.
// Unknown names map to LevelInfo.
func ParseLevel(name string) LogLevel {
	switch l := LogLevel(strings.ToLower(strings.TrimSpace(name))); l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return l
	case "warning":
		return LevelWarn
	}
	return LevelInfo
}

// processLevel is the minimum rank of loggers without their own level
var processLevel atomic.Int32

func init() {
	processLevel.Store(LevelInfo.rank())
}

// SetDefaultLevel changes the minimum level of every logger that has not
// been given one with WithLevel, including loggers created earlier.
func SetDefaultLevel(level LogLevel) {
	processLevel.Store(level.rank())
}

// LogEntry is one JSON line
type LogEntry struct {
	Timestamp     time.Time              `json:"timestamp"`
	Level         LogLevel               `json:"level"`
	Message       string                 `json:"message"`
	Component     string                 `json:"component,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	ClientID      string                 `json:"client_id,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
}

// sink is shared between a logger and the children made with With
type sink struct {
	mu sync.Mutex
	w  io.Writer
}

// Logger writes JSON lines tagged with a component and the request's
// correlation and client IDs
type Logger struct {
	out       *sink
	component string
	level     *LogLevel
	base      map[string]interface{}
}

// NewLogger creates a logger writing to stdout
func NewLogger(component string) *Logger {
	return &Logger{out: &sink{w: os.Stdout}, component: component}
}

// WithOutput redirects the logger and its children
func (l *Logger) WithOutput(w io.Writer) *Logger {
	l.out.mu.Lock()
	l.out.w = w
	l.out.mu.Unlock()
	return l
}

// WithLevel pins the logger's minimum level
func (l *Logger) WithLevel(level LogLevel) *Logger {
	l.level = &level
	return l
}

// With returns a child logger that adds fields to every entry
func (l *Logger) With(fields map[string]interface{}) *Logger {
	base := make(map[string]interface{}, len(l.base)+len(fields))
	for k, v := range l.base {
		base[k] = v
	}
	for k, v := range fields {
		base[k] = v
	}
	return &Logger{out: l.out, component: l.component, level: l.level, base: base}
}

func (l *Logger) enabled(level LogLevel) bool {
	if l.level != nil {
		return level.rank() >= l.level.rank()
	}
	return level.rank() >= processLevel.Load()
}

// redactedKeys never reach the output
var redactedKeys = []string{"secret", "password", "token", "api_key", "authorization"}

func redact(key string, value interface{}) interface{} {
	lower := strings.ToLower(key)
	for _, k := range redactedKeys {
		if strings.Contains(lower, k) {
			return "[REDACTED]"
		}
	}
	return value
}

func (l *Logger) log(ctx context.Context, level LogLevel, message string, errText string, fields map[string]interface{}) {
	if !l.enabled(level) {
		return
	}

	var merged map[string]interface{}
	if n := len(l.base) + len(fields); n > 0 {
		merged = make(map[string]interface{}, n)
		for k, v := range l.base {
			merged[k] = redact(k, v)
		}
		for k, v := range fields {
			merged[k] = redact(k, v)
		}
	}

	data, err := json.Marshal(LogEntry{
		Timestamp:     time.Now().UTC(),
		Level:         level,
		Message:       message,
		Component:     l.component,
		CorrelationID: GetCorrelationID(ctx),
		ClientID:      GetClientID(ctx),
		Error:         errText,
		Fields:        merged,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "unloggable entry %q: %v\n", message, err)
		return
	}

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.w.Write(append(data, '\n'))
}

func (l *Logger) Debug(ctx context.Context, message string, fields map[string]interface{}) {
	l.log(ctx, LevelDebug, message, "", fields)
}

func (l *Logger) Info(ctx context.Context, message string, fields map[string]interface{}) {
	l.log(ctx, LevelInfo, message, "", fields)
}

func (l *Logger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	l.log(ctx, LevelWarn, message, "", fields)
}

// Error logs at error level; err may be nil
func (l *Logger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	l.log(ctx, LevelError, message, errText, fields)
}

// WithOperation runs fn, logging its duration and outcome under one correlation ID
func (l *Logger) WithOperation(ctx context.Context, operation string, fn func(context.Context) error) error {
	if GetCorrelationID(ctx) == "" {
		ctx = WithCorrelationID(ctx, uuid.NewString())
	}
	op := l.With(map[string]interface{}{"operation": operation})

	start := time.Now()
	op.Debug(ctx, "operation started", nil)
	err := fn(ctx)
	elapsed := map[string]interface{}{"duration_ms": time.Since(start).Milliseconds()}

	if err != nil {
		op.Error(ctx, "operation failed", err, elapsed)
		return err
	}
	op.Info(ctx, "operation completed", elapsed)
	return nil
}

type contextKey int

const (
	correlationIDKey contextKey = iota
	clientIDKey
)

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

func GetCorrelationID(ctx context.Context) string {
	return stringValue(ctx, correlationIDKey)
}

// WithClientID records the authenticated caller in the context
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey, id)
}

func GetClientID(ctx context.Context) string {
	return stringValue(ctx, clientIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
