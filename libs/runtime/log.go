package runtime

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/md-rashed-zaman/clinicsched/libs/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger returns the JSON logger every service process uses.
// LOG_LEVEL selects the level; LOG_FILE adds a rotated file next to stdout.
func NewLogger(service string) *slog.Logger {
	var w io.Writer = os.Stdout
	if path := config.String("LOG_FILE", ""); path != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		})
	}
	return NewLoggerTo(w, service, ParseLevel(config.String("LOG_LEVEL", "info")))
}

func NewLoggerTo(w io.Writer, service string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(h).With("service", service)
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
