// Package logging provides structured logging with optional Sentry
// forwarding. The TUI owns the terminal, so logs go to a file.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/getsentry/sentry-go"
)

// Config holds logging configuration.
type Config struct {
	Level     slog.Level
	SentryDSN string
	Env       string
	Version   string
	LogFile   string // empty = stderr
}

type state struct {
	logger        *slog.Logger
	sentryEnabled bool
	logFile       *os.File
}

var current *state

// Init initializes the global logger.
func Init(cfg Config) error {
	sentryEnabled := false
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Env,
			Release:     cfg.Version,
		})
		if err != nil {
			return fmt.Errorf("sentry init: %w", err)
		}
		sentryEnabled = true
	}

	var output io.Writer = os.Stderr
	var logFile *os.File
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		output = f
		logFile = f
	}

	handler := &sentryHandler{
		Handler: slog.NewTextHandler(output, &slog.HandlerOptions{
			Level: cfg.Level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					if t, ok := a.Value.Any().(time.Time); ok {
						a.Value = slog.StringValue(t.Local().Format("2006-01-02T15:04:05.000-07:00"))
					}
				}
				return a
			},
		}),
		sentryEnabled: sentryEnabled,
	}

	current = &state{
		logger:        slog.New(handler),
		sentryEnabled: sentryEnabled,
		logFile:       logFile,
	}
	slog.SetDefault(current.logger)
	return nil
}

// Flush flushes buffered Sentry events and closes the log file. Call
// before process exit.
func Flush(timeout time.Duration) {
	if current == nil {
		return
	}
	if current.sentryEnabled {
		sentry.Flush(timeout)
	}
	if current.logFile != nil {
		current.logFile.Sync()
		current.logFile.Close()
	}
}

func logger() *slog.Logger {
	if current == nil {
		return slog.Default()
	}
	return current.logger
}

// sentryHandler forwards error-level records to Sentry after the
// underlying handler writes them.
type sentryHandler struct {
	slog.Handler
	sentryEnabled bool
}

func (h *sentryHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.Handler.Handle(ctx, r); err != nil {
		return err
	}
	if h.sentryEnabled && r.Level >= slog.LevelError {
		event := sentry.NewEvent()
		event.Level = sentry.LevelError
		event.Message = r.Message
		event.Timestamp = r.Time
		r.Attrs(func(a slog.Attr) bool {
			event.Extra[a.Key] = a.Value.Any()
			return true
		})
		sentry.CaptureEvent(event)
	}
	return nil
}

func (h *sentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sentryHandler{Handler: h.Handler.WithAttrs(attrs), sentryEnabled: h.sentryEnabled}
}

func (h *sentryHandler) WithGroup(name string) slog.Handler {
	return &sentryHandler{Handler: h.Handler.WithGroup(name), sentryEnabled: h.sentryEnabled}
}

// CapturePanic reports a recovered panic to Sentry and the log.
func CapturePanic(r any, args ...any) {
	if current != nil && current.sentryEnabled {
		sentry.CurrentHub().Recover(r)
	}
	Error(fmt.Sprintf("panic: %v", r), args...)
}

// Debug logs at debug level.
func Debug(msg string, args ...any) { logger().Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { logger().Info(msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { logger().Warn(msg, args...) }

// Error logs at error level and forwards to Sentry when enabled.
func Error(msg string, args ...any) { logger().Error(msg, args...) }

// With returns a logger carrying the given attributes.
func With(args ...any) *slog.Logger { return logger().With(args...) }
