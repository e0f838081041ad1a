package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"homeserver/internal/config"
)

func TestResolveLogSettings(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "error"

	tests := []struct {
		name    string
		flag    string
		config  string
		want    slog.Level
		wantErr string
	}{
		{name: "config level", config: "error", want: slog.LevelError},
		{name: "flag wins", flag: "debug", config: "error", want: slog.LevelDebug},
		{name: "warning alias", flag: "Warning", config: "error", want: slog.LevelWarn},
		{name: "empty config is info", config: "", want: slog.LevelInfo},
		{name: "bad flag", flag: "verbose", config: "info", wantErr: "--log-level"},
		{name: "bad config", config: "loud", wantErr: "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg.LogLevel = tt.config
			got, err := resolveLogSettings(tt.flag, &cfg, io.Discard)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error naming %s, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got.level != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got.level)
			}
		})
	}
}

func TestComponentLoggerHonorsFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logs := logSettings{level: slog.LevelWarn, format: "json", out: &buf}
	logger := logs.logger("server")

	logger.Info("dropped")
	logger.Warn("kept", "key", "value")

	records := decodeLogLines(t, &buf)
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if records[0]["msg"] != "kept" || records[0]["component"] != "server" || records[0]["key"] != "value" {
		t.Fatalf("unexpected record %v", records[0])
	}
}

func TestGCCommandLogsWithConfiguredSettings(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Backend = "memory"
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	run := func(args ...string) []map[string]any {
		t.Helper()
		var stderr bytes.Buffer
		root := newRootCmd(&cfg)
		root.SetErr(&stderr)
		root.SetOut(io.Discard)
		root.SetArgs(args)
		if err := root.Execute(); err != nil {
			t.Fatalf("gc: %v", err)
		}
		return decodeLogLines(t, &stderr)
	}

	if records := run("gc", "--dry-run"); len(records) != 0 {
		t.Fatalf("expected warn level to hide info records, got %v", records)
	}

	records := run("gc", "--dry-run", "--log-level", "info")
	var opened bool
	for _, rec := range records {
		if rec["component"] != "gc" {
			t.Fatalf("record without gc component: %v", rec)
		}
		if rec["msg"] == "opening database" {
			opened = true
		}
	}
	if !opened {
		t.Fatalf("expected an opening database record, got %v", records)
	}
}

func decodeLogLines(t *testing.T, r io.Reader) []map[string]any {
	t.Helper()
	var records []map[string]any
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("log line is not JSON: %q", scanner.Text())
		}
		records = append(records, rec)
	}
	return records
}
