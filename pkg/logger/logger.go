package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Options struct {
	Level       string
	AddSource   bool
	Environment string
	// Service tags every record, so logs of the router and its workers can share a sink.
	Service string
	Writer  io.Writer
}

func New(lvl string, addSource bool, environment string) *slog.Logger {
	return NewWithOptions(Options{
		Level:       lvl,
		AddSource:   addSource,
		Environment: environment,
	})
}

func NewWithOptions(o Options) *slog.Logger {
	w := o.Writer
	if w == nil {
		w = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(o.Level),
		AddSource: o.AddSource,
	}

	var handler slog.Handler
	if strings.ToLower(o.Environment) == "prod" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	log := slog.New(handler).With(slog.String("environment", o.Environment))
	if o.Service != "" {
		log = log.With(slog.String("service", o.Service))
	}
	return log
}

// ParseLevel maps a level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
