package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-reporter/internal/infrastructure/config"
)

// Logger wraps slog.Logger with Gray Logic-specific functionality.
//
// It provides structured logging with default fields and level-based filtering.
// Individual devices can log at their own level through ForDevice.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (JSON for production, text for development)
//   - Log level filtering
//   - Default fields (service name, version)
//   - Output destination (stdout, stderr or an append-only file)
//
// A file output that cannot be opened falls back to stderr so that
// startup never fails on logging alone.
//
// Parameters:
//   - cfg: Logging configuration from the reporter YAML
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	case "file":
		f, err := os.OpenFile(cfg.File.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: cannot open %q, using stderr: %v\n", cfg.File.Path, err)
			output = os.Stderr
		} else {
			output = f
		}
	default:
		output = os.Stdout
	}

	return NewWithWriter(output, cfg, version)
}

// NewWithWriter creates a Logger that writes to w.
//
// The output setting in cfg is ignored; format and level apply as in New.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	// The inner handler accepts everything; levelHandler does the gating so
	// that a device may log below the global level.
	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "graylogic-reporter"),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(&levelHandler{inner: handler, min: parseLevel(cfg.Level)}),
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	mqttLogger := logger.With("component", "mqtt")
//	mqttLogger.Info("connected") // Includes component=mqtt
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// ForDevice returns a child logger tagged with the device name.
//
// A non-empty level replaces the inherited minimum level for this device
// only, in either direction.
func (l *Logger) ForDevice(name, level string) *Logger {
	child := l.Logger.With("device", name)
	if level == "" {
		return &Logger{Logger: child}
	}

	inner := child.Handler()
	if lh, ok := inner.(*levelHandler); ok {
		inner = lh.inner
	}
	return &Logger{
		Logger: slog.New(&levelHandler{inner: inner, min: parseLevel(level)}),
	}
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
// It should only be used during early startup before config is available.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

// levelHandler gates records by a minimum level before delegating.
type levelHandler struct {
	inner slog.Handler
	min   slog.Level
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min && h.inner.Enabled(ctx, level)
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{inner: h.inner.WithAttrs(attrs), min: h.min}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{inner: h.inner.WithGroup(name), min: h.min}
}
