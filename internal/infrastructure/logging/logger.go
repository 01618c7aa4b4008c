package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-netatmo/internal/infrastructure/config"
)

// ServiceName is the value of the "service" field on every log entry.
const ServiceName = "graylogic-netatmo"

// levelNames maps the accepted logging.level values onto slog levels.
var levelNames = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Logger is the bridge's structured logger. Every entry carries the service
// name and build version.
//
// Thread Safety:
//   - Safe for concurrent use; the embedded slog.Logger does the locking.
type Logger struct {
	*slog.Logger
}

// New builds the process logger from the logging section of the config.
//
// Parameters:
//   - cfg: level (debug|info|warn|error), format (json|text) and output
//     (stdout|stderr); unknown values fall back to info, json and stdout
//   - version: build version, attached to every entry
//
// Returns:
//   - *Logger: ready to use; never nil
func New(cfg config.LoggingConfig, version string) *Logger {
	return NewWithWriter(cfg, version, outputFor(cfg.Output))
}

// NewWithWriter is New with an explicit destination. cfg.Output is ignored,
// which lets tests capture entries in a buffer.
//
// Parameters:
//   - cfg: level and format, as for New
//   - version: build version, attached to every entry
//   - w: where encoded entries are written
//
// Returns:
//   - *Logger: ready to use; never nil
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	}

	base := slog.New(handler).With(
		slog.String("service", ServiceName),
		slog.String("version", version),
	)
	return &Logger{Logger: base}
}

// outputFor resolves the logging.output name. Anything but "stderr" is stdout.
func outputFor(name string) io.Writer {
	if strings.EqualFold(name, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

// parseLevel looks name up case-insensitively; unknown names mean info.
func parseLevel(name string) slog.Level {
	if lvl, ok := levelNames[strings.ToLower(name)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// With returns a child logger that adds args to every entry.
//
// Parameters:
//   - args: alternating keys and values, as accepted by slog
//
// Returns:
//   - *Logger: the child; the receiver is unchanged
//
// Example:
//
//	log.With("component", "doortag").Info("poll complete", "changed", 1)
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the logger used until the config file has been read: JSON at
// info level on stdout, version "dev".
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
