package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "homeserver.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != DefaultListen {
		t.Fatalf("expected default listen, got %q", cfg.Listen)
	}
	if cfg.InlineThreshold != DefaultInlineThreshold {
		t.Fatalf("expected inline threshold %d, got %d", DefaultInlineThreshold, cfg.InlineThreshold)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("expected 24h session ttl, got %s", cfg.SessionTTL)
	}
	if cfg.Backend != "fs" || cfg.BlobReclaim != "eager" || !cfg.CompressInline {
		t.Fatalf("unexpected storage defaults: %+v", cfg)
	}
	if cfg.DBPath() != filepath.Join(DefaultDataDir, DBFileName) {
		t.Fatalf("unexpected db path %q", cfg.DBPath())
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `listen = "127.0.0.1:9999"
data_dir = "/srv/hs"
log_level = "WARN"
log_format = "JSON"
session_ttl = "2h"
inline_threshold = "4KiB"
max_file_size = "2GB"
chunk_size = 32768
blob_reclaim = "sweep"
backend = "s3"

[s3]
bucket = "files"
region = "eu-west-1"
use_path_style = true
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Path != path {
		t.Fatalf("expected config path %q, got %q", path, cfg.Path)
	}
	if cfg.Listen != "127.0.0.1:9999" || cfg.DataDir != "/srv/hs" {
		t.Fatalf("unexpected listen/data_dir: %q %q", cfg.Listen, cfg.DataDir)
	}
	if cfg.LogLevel != "warn" || cfg.LogFormat != "json" {
		t.Fatalf("expected normalized log settings, got %q %q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Fatalf("expected 2h session ttl, got %s", cfg.SessionTTL)
	}
	if cfg.InlineThreshold != 4096 {
		t.Fatalf("expected 4KiB threshold, got %d", cfg.InlineThreshold)
	}
	if cfg.MaxFileSize != 2_000_000_000 {
		t.Fatalf("expected 2GB max file size, got %d", cfg.MaxFileSize)
	}
	if cfg.ChunkSize != 32768 {
		t.Fatalf("expected integer chunk size, got %d", cfg.ChunkSize)
	}
	if cfg.BlobReclaim != "sweep" {
		t.Fatalf("expected sweep reclaim, got %q", cfg.BlobReclaim)
	}
	if cfg.S3.Bucket != "files" || cfg.S3.Region != "eu-west-1" || !cfg.S3.UsePathStyle {
		t.Fatalf("unexpected s3 config: %+v", cfg.S3)
	}
}

func TestLoadFileMissing(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.Path != "" {
		t.Fatalf("expected no config path, got %q", cfg.Path)
	}
	if cfg.Listen != DefaultListen {
		t.Fatal("defaults should be preserved")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	for name, body := range map[string]string{
		"unknown key":       "colour = \"blue\"\n",
		"bad size":          "inline_threshold = \"lots\"\n",
		"bad signup mode":   "signup_mode = \"invite\"\n",
		"bad reclaim":       "blob_reclaim = \"never\"\n",
		"bad log format":    "log_format = \"xml\"\n",
		"s3 without bucket": "backend = \"s3\"\n",
		"unknown backend":   "backend = \"ftp\"\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadFrom(writeConfig(t, body)); err == nil {
				t.Fatal("expected load error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "listen = \"127.0.0.1:1111\"\ninline_threshold = 100\n")
	t.Setenv("HOMESERVER_LISTEN", "127.0.0.1:2222")
	t.Setenv("HOMESERVER_INLINE_THRESHOLD", "1KiB")
	t.Setenv("HOMESERVER_SESSION_TTL", "90m")
	t.Setenv("HOMESERVER_S3_BUCKET", "from-env")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:2222" {
		t.Fatalf("expected env override for listen, got %q", cfg.Listen)
	}
	if cfg.InlineThreshold != 1024 {
		t.Fatalf("expected env override for inline threshold, got %d", cfg.InlineThreshold)
	}
	if cfg.SessionTTL != 90*time.Minute {
		t.Fatalf("expected env override for session ttl, got %s", cfg.SessionTTL)
	}
	if cfg.S3.Bucket != "from-env" {
		t.Fatalf("expected env override for s3 bucket, got %q", cfg.S3.Bucket)
	}
}

func TestConfigPathOverride(t *testing.T) {
	path := writeConfig(t, "log_level = \"debug\"\n")
	t.Setenv(configPathEnvKey, path)

	got, err := Path()
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if got != path {
		t.Fatalf("expected %q, got %q", path, got)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from override file, got %q", cfg.LogLevel)
	}
}

func TestIsAllowedKey(t *testing.T) {
	for _, key := range []string{"listen", "data_dir", "inline_threshold", "s3.bucket", "s3.use_path_style"} {
		if !IsAllowedKey(key) {
			t.Fatalf("expected %q to be allowed", key)
		}
	}
	if IsAllowedKey("invalid") {
		t.Fatal("expected 'invalid' to not be allowed")
	}
}

func TestGetKey(t *testing.T) {
	cfg := Default()
	cfg.S3.SecretAccessKey = "hunter2"

	val, err := cfg.Get("inline_threshold")
	if err != nil || val != "16 KiB" {
		t.Fatalf("expected '16 KiB', got %q (err: %v)", val, err)
	}
	val, err = cfg.Get("session_ttl")
	if err != nil || val != "24h0m0s" {
		t.Fatalf("expected session ttl, got %q (err: %v)", val, err)
	}
	val, err = cfg.Get("s3.secret_access_key")
	if err != nil || val == "hunter2" {
		t.Fatalf("expected masked secret, got %q (err: %v)", val, err)
	}
	if _, err := cfg.Get("invalid"); err == nil {
		t.Fatal("expected error for invalid key")
	}
}

func TestSetKeyUpdatesExisting(t *testing.T) {
	path := writeConfig(t, "listen = \"127.0.0.1:1\"\ndata_dir = \"/keep\"\n")

	if err := SetKey(path, "listen", "127.0.0.1:2"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := SetKey(path, "max_file_size", "1MiB"); err != nil {
		t.Fatalf("set size: %v", err)
	}
	if err := SetKey(path, "s3.use_path_style", "true"); err != nil {
		t.Fatalf("set nested: %v", err)
	}

	cfg := Default()
	if _, err := loadFileIfExists(path, &cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:2" || cfg.DataDir != "/keep" {
		t.Fatalf("unexpected values after set: %q %q", cfg.Listen, cfg.DataDir)
	}
	if cfg.MaxFileSize != 1<<20 {
		t.Fatalf("expected 1MiB, got %d", cfg.MaxFileSize)
	}
	if !cfg.S3.UsePathStyle {
		t.Fatal("expected nested s3 key to be set")
	}
}

func TestSetKeyValidatesValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.toml")
	if err := SetKey(path, "invalid_key", "value"); err == nil {
		t.Fatal("expected error for invalid key")
	}
	if err := SetKey(path, "chunk_size", "big"); err == nil {
		t.Fatal("expected error for bad size")
	}
	if err := SetKey(path, "session_ttl", "forever"); err == nil {
		t.Fatal("expected error for bad duration")
	}
}
