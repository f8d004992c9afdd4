package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/kwv/rugmatch/match"
)

// newLogger builds the process logger from the log section. override, when
// set, replaces the configured level.
func newLogger(cfg match.LogConfig, override string, w io.Writer) (*slog.Logger, error) {
	name := cfg.Level
	if override != "" {
		name = override
	}
	level, err := match.ParseLogLevel(name)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(handler), nil
}
