// Package logging builds the repository's slog.Logger: JSON output,
// rotated via lumberjack, with OpenTelemetry trace/span ids injected
// into every record that carries a span in its context.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where logs go and at what level and format.
type Config struct {
	Level      string // "debug", "info", "warn", "error"; default "info"
	JSON       bool
	FilePath   string // when set, logs are rotated here via lumberjack
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds the root logger per cfg. When FilePath is empty, logs go
// to stdout; otherwise stdout and the rotated file both receive every
// record.
func New(cfg Config) *slog.Logger {
	level := parseLevel(cfg.Level)

	var w io.Writer = os.Stdout
	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
		}
		w = io.MultiWriter(os.Stdout, lj)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(NewTraceHandler(handler))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
