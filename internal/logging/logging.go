// Package logging wraps logrus with the context fields the ingestion core
// attaches to every log line: tenant, vendor, serial, and record kind.
// Adapted from the teacher's infrastructure/logging and pkg/logger
// packages (both logrus-based; this merges them into one).
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const (
	tenantKey ctxKey = "tenant"
	vendorKey ctxKey = "vendor"
	serialKey ctxKey = "serial"
	runIDKey  ctxKey = "run_id"
)

// Logger wraps *logrus.Logger with a fixed "component" field.
type Logger struct {
	*logrus.Logger
	component string
}

// Config controls formatter/level/output selection.
type Config struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// New builds a Logger for the given component name.
func New(component string, cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l, component: component}
}

// NewFromEnv reads LOG_LEVEL/LOG_FORMAT directly, for callers (like tests)
// that don't go through internal/config.
func NewFromEnv(component string) *Logger {
	return New(component, Config{
		Level:  envOr("LOG_LEVEL", "info"),
		Format: envOr("LOG_FORMAT", "json"),
	})
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// WithContext attaches tenant/vendor/serial/run-id fields found in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if v, ok := ctx.Value(tenantKey).(string); ok && v != "" {
		entry = entry.WithField("tenant", v)
	}
	if v, ok := ctx.Value(vendorKey).(string); ok && v != "" {
		entry = entry.WithField("vendor", v)
	}
	if v, ok := ctx.Value(serialKey).(string); ok && v != "" {
		entry = entry.WithField("serial", v)
	}
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		entry = entry.WithField("run_id", v)
	}
	return entry
}

// WithTenant returns a context carrying the tenant id for later logging.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

// WithVendor returns a context carrying the vendor id for later logging.
func WithVendor(ctx context.Context, vendor string) context.Context {
	return context.WithValue(ctx, vendorKey, vendor)
}

// WithSerial returns a context carrying the robot serial for later logging.
func WithSerial(ctx context.Context, serial string) context.Context {
	return context.WithValue(ctx, serialKey, serial)
}

// WithRunID returns a context carrying the poller run id for later logging.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// DroppedRecord logs the single-line drop message spec.md §4.G/§7 requires:
// one line, tagged with serial and reason, nothing more.
func (l *Logger) DroppedRecord(ctx context.Context, reason string) {
	l.WithContext(ctx).WithField("reason", reason).Warn("record dropped")
}
