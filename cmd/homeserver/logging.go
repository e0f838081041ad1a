package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"homeserver/internal/config"
)

// logSettings is how every command logs. The loaded config already carries
// HOMESERVER_LOG_LEVEL and HOMESERVER_LOG_FORMAT; --log-level wins over both.
type logSettings struct {
	level  slog.Level
	format string
	out    io.Writer
}

func resolveLogSettings(flagLevel string, cfg *config.Config, out io.Writer) (logSettings, error) {
	raw, origin := cfg.LogLevel, "log_level"
	if strings.TrimSpace(flagLevel) != "" {
		raw, origin = flagLevel, "--log-level"
	}
	level, err := parseLogLevel(raw)
	if err != nil {
		return logSettings{}, fmt.Errorf("invalid %s %q: use debug, info, warn or error", origin, raw)
	}
	return logSettings{level: level, format: cfg.LogFormat, out: out}, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		value = "warn"
	}
	var level slog.Level
	err := level.UnmarshalText([]byte(value))
	return level, err
}

func (l logSettings) handler() slog.Handler {
	opts := &slog.HandlerOptions{Level: l.level}
	if l.format == "json" {
		return slog.NewJSONHandler(l.out, opts)
	}
	return slog.NewTextHandler(l.out, opts)
}

// logger returns a logger tagged with the component that owns it.
func (l logSettings) logger(component string) *slog.Logger {
	return slog.New(l.handler()).With("component", component)
}
