package models

import (
	"crypto/ed25519"
	"errors"
	"strings"
	"testing"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "pub/a.txt", want: "/pub/a.txt"},
		{raw: "/pub/a.txt", want: "/pub/a.txt"},
		{raw: "pub//a.txt", want: "/pub/a.txt"},
		{raw: "pub/./dir/../a.txt", want: "/pub/a.txt"},
		{raw: "pub/dir/", want: "/pub/dir/"},
		{raw: "pub/dir/..", want: "/pub/"},
		{raw: "../../pub/a", want: "/pub/a"},
		{raw: "", want: "/"},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParsePath(tc.raw)
			if err != nil {
				t.Fatalf("parse path: %v", err)
			}
			if got.String() != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestParsePathRejectsMalformedInput(t *testing.T) {
	bad := []string{
		"pub/a\x00b",
		"pub/a\nb",
		"pub\\a",
		"pub/" + strings.Repeat("x", MaxPathSegmentLength+1),
		strings.Repeat("pub/", MaxPathLength/4+1),
		string([]byte{0xff, 0xfe}),
	}
	for _, raw := range bad {
		if _, err := ParsePath(raw); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("expected invalid path for %q, got %v", raw, err)
		}
	}
}

func TestParseWritePath(t *testing.T) {
	if _, err := ParseWritePath("pub/notes/today.md"); err != nil {
		t.Fatalf("parse write path: %v", err)
	}

	for _, raw := range []string{"priv/a.txt", "a.txt", "pub", "pubx/a.txt", "pub/"} {
		_, err := ParseWritePath(raw)
		if !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("expected invalid path for %q, got %v", raw, err)
		}
	}

	var outside *OutsideWriteNamespaceError
	if _, err := ParseWritePath("priv/a.txt"); !errors.As(err, &outside) {
		t.Fatalf("expected outside namespace error, got %v", err)
	}
	if _, err := ParseWritePath("pub/dir/"); errors.As(err, &outside) {
		t.Fatal("directory target should not be reported as outside namespace")
	}
}

func TestPathEqualityOnNormalizedForm(t *testing.T) {
	a := MustParsePath("pub/x/../a.txt")
	b := MustParsePath("/pub//a.txt")
	if a != b {
		t.Fatalf("expected %q == %q", a, b)
	}
	seen := map[Path]bool{a: true}
	if !seen[b] {
		t.Fatal("expected normalized paths to collide as map keys")
	}
}

func TestPathHelpers(t *testing.T) {
	dir := MustParsePath("pub/photos/")
	child, err := dir.Join("2024/cat.jpg")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if child.String() != "/pub/photos/2024/cat.jpg" {
		t.Fatalf("unexpected join result %q", child)
	}
	if !child.HasPrefix(dir) {
		t.Fatal("expected child to be inside dir")
	}
	if _, err := child.Join("x"); err == nil {
		t.Fatal("expected join on file path to fail")
	}
}

func TestPublicKeyRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key := PublicKeyFromEd25519(pub)
	if len(key) != PublicKeyLength {
		t.Fatalf("expected %d chars, got %d", PublicKeyLength, len(key))
	}
	parsed, err := ParsePublicKey("pubky://" + strings.ToUpper(string(key)))
	if err != nil {
		t.Fatalf("parse public key: %v", err)
	}
	if parsed != key {
		t.Fatalf("expected %q, got %q", key, parsed)
	}
	if !pub.Equal(parsed.Ed25519()) {
		t.Fatal("decoded key mismatch")
	}
	if _, err := ParsePublicKey("not-a-key"); !errors.Is(err, ErrInvalidPublicKey) {
		t.Fatalf("expected invalid key error, got %v", err)
	}
}

func TestHasherMatchesHashBytes(t *testing.T) {
	data := []byte("hello homeserver")
	h := NewHasher()
	_, _ = h.Write(data[:5])
	_, _ = h.Write(data[5:])
	if h.Sum() != HashBytes(data) {
		t.Fatal("streamed hash differs from one-shot hash")
	}
	if h.Len() != int64(len(data)) {
		t.Fatalf("expected len %d, got %d", len(data), h.Len())
	}

	parsed, err := ParseContentHash(h.Sum().String())
	if err != nil {
		t.Fatalf("parse hash: %v", err)
	}
	if parsed != h.Sum() {
		t.Fatal("hex round trip mismatch")
	}
}

func TestStorageLocationValidate(t *testing.T) {
	hash := HashBytes([]byte("x"))
	if err := InlineLocation(hash).Validate(); err != nil {
		t.Fatalf("inline: %v", err)
	}
	if err := ExternalLocation("fs", "k/1").Validate(); err != nil {
		t.Fatalf("external: %v", err)
	}
	if err := ExternalLocation("", "k/1").Validate(); err == nil {
		t.Fatal("expected missing backend error")
	}
	if err := (StorageLocation{Kind: "other"}).Validate(); err == nil {
		t.Fatal("expected unknown kind error")
	}
}
