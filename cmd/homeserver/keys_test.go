package main

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
)

func TestKeyFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "id.key")
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := writeKeyFile(path, priv); err != nil {
		t.Fatalf("write key: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat key: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 key file, got %v", info.Mode().Perm())
	}

	got, err := readKeyFile(path)
	if err != nil {
		t.Fatalf("read key: %v", err)
	}
	if !got.Equal(priv) {
		t.Fatal("expected the same key back")
	}
}

func TestReadKeyFileErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := readKeyFile(filepath.Join(dir, "missing.key")); err == nil {
		t.Fatal("expected error for missing key file")
	}

	bad := filepath.Join(dir, "bad.key")
	if err := os.WriteFile(bad, []byte("abcd\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readKeyFile(bad); err == nil {
		t.Fatal("expected error for short seed")
	}
}

func TestKeyFilePath(t *testing.T) {
	t.Setenv(keyFileEnvKey, "")
	if got := keyFilePath(""); got != defaultKeyFile {
		t.Fatalf("expected default key file, got %q", got)
	}
	t.Setenv(keyFileEnvKey, "/etc/hs.key")
	if got := keyFilePath(""); got != "/etc/hs.key" {
		t.Fatalf("expected env key file, got %q", got)
	}
	if got := keyFilePath("flag.key"); got != "flag.key" {
		t.Fatalf("expected flag precedence, got %q", got)
	}
}
