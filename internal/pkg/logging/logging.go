package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a configured level name to a slog.Level. Unknown or
// empty names fall back to info.
func ParseLevel(name string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// NewHandler builds a JSON handler, or a text handler when format is "text".
func NewHandler(w io.Writer, level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// Setup installs the process-wide default logger on stdout. Every record
// carries the service name so logs of cmd/api, cmd/tracker and
// cmd/enricher can share one sink.
func Setup(service, level, format string) *slog.Logger {
	logger := slog.New(NewHandler(os.Stdout, level, format))
	if service != "" {
		logger = logger.With("service", service)
	}
	slog.SetDefault(logger)
	return logger
}

// ForEntity returns a logger scoped to one tracked entity.
func ForEntity(logger *slog.Logger, entityID string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("entity_id", entityID)
}
