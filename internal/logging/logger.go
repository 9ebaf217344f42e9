// Package logging provides structured logging with trace ID support
package logging

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// InstanceIDKey is the context key for the WAF instance ID
	InstanceIDKey ContextKey = "instance_id"
	// VhostIDKey is the context key for the matched virtual host
	VhostIDKey ContextKey = "vhost_id"
	// EndpointIDKey is the context key for the matched endpoint
	EndpointIDKey ContextKey = "endpoint_id"
)

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
	service string

	onceMu   sync.Mutex
	onceSeen map[string]time.Time
}

// New creates a new Logger instance
func New(service, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	return &Logger{
		Logger:   logger,
		service:  service,
		onceSeen: make(map[string]time.Time),
	}
}

// NewFromEnv constructs a logger using the given level/format strings,
// defaulting to "info" and "json" when blank.
func NewFromEnv(service, level, format string) *Logger {
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	if strings.TrimSpace(format) == "" {
		format = "json"
	}
	return New(service, level, format)
}

// WithContext creates a new logger entry with context values
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)

	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if instanceID := ctx.Value(InstanceIDKey); instanceID != nil {
		entry = entry.WithField("instance_id", instanceID)
	}
	if vhostID := ctx.Value(VhostIDKey); vhostID != nil {
		entry = entry.WithField("vhost_id", vhostID)
	}
	if endpointID := ctx.Value(EndpointIDKey); endpointID != nil {
		entry = entry.WithField("endpoint_id", endpointID)
	}

	return entry
}

// WithTraceID creates a new logger entry with trace ID
func (l *Logger) WithTraceID(traceID string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"service":  l.service,
		"trace_id": traceID,
	})
}

// WithComponent creates a new logger entry for a named subsystem
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"service":   l.service,
		"component": component,
	})
}

// WarnOncePer logs a warning at most once per interval for the given key.
// Used for per-id noise suppression (e.g. a dangling profile reference that
// would otherwise be logged on every request).
func (l *Logger) WarnOncePer(key string, interval time.Duration, msg string) {
	l.onceMu.Lock()
	last, seen := l.onceSeen[key]
	now := time.Now()
	if seen && now.Sub(last) < interval {
		l.onceMu.Unlock()
		return
	}
	l.onceSeen[key] = now
	l.onceMu.Unlock()

	l.Logger.WithFields(logrus.Fields{
		"service": l.service,
		"key":     key,
	}).Warn(msg)
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// ContextWithTraceID returns a context carrying the given trace ID,
// generating one if empty.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = NewTraceID()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// TraceIDFromContext extracts the trace ID from a context, if present.
func TraceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}
