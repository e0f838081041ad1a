package models

import (
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/zeebo/blake3"
)

// HashSize is the BLAKE3 digest length in bytes.
const HashSize = 32

// ContentHash is the BLAKE3 digest of a complete byte stream.
type ContentHash [HashSize]byte

func HashBytes(data []byte) ContentHash {
	return ContentHash(blake3.Sum256(data))
}

func ParseContentHash(raw string) (ContentHash, error) {
	var h ContentHash
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return h, fmt.Errorf("invalid content hash: %w", err)
	}
	if len(decoded) != HashSize {
		return h, fmt.Errorf("invalid content hash: expected %d bytes, got %d", HashSize, len(decoded))
	}
	copy(h[:], decoded)
	return h, nil
}

func (h ContentHash) String() string { return hex.EncodeToString(h[:]) }

func (h ContentHash) IsZero() bool { return h == ContentHash{} }

// Hasher accumulates a ContentHash over streamed writes.
type Hasher struct {
	h hash.Hash
	n int64
}

func NewHasher() *Hasher {
	return &Hasher{h: blake3.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.h.Write(p)
	h.n += int64(n)
	return n, err
}

// Len returns the number of bytes hashed so far.
func (h *Hasher) Len() int64 { return h.n }

func (h *Hasher) Sum() ContentHash {
	var out ContentHash
	copy(out[:], h.h.Sum(nil))
	return out
}

func (h ContentHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *ContentHash) UnmarshalText(text []byte) error {
	parsed, err := ParseContentHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
