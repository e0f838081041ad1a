package models

import (
	"crypto/ed25519"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
)

// PublicKeyLength is the length of a z-base32 encoded ed25519 public key.
const PublicKeyLength = 52

// ErrInvalidPublicKey marks owner segments that are not z-base32 ed25519 keys.
var ErrInvalidPublicKey = errors.New("invalid public key")

var zbase32 = base32.NewEncoding("ybndrfg8ejkmcpqxot1uwisza345h769").WithPadding(base32.NoPadding)

// PublicKey identifies an owner. It is stored in its z-base32 text form.
type PublicKey string

func ParsePublicKey(raw string) (PublicKey, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.TrimPrefix(value, "pubky://")
	value = strings.TrimPrefix(value, "pk:")
	if len(value) != PublicKeyLength {
		return "", fmt.Errorf("%w: expected %d characters, got %d", ErrInvalidPublicKey, PublicKeyLength, len(value))
	}
	decoded, err := zbase32.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: decoded to %d bytes", ErrInvalidPublicKey, len(decoded))
	}
	return PublicKey(value), nil
}

// PublicKeyFromEd25519 encodes a raw ed25519 key.
func PublicKeyFromEd25519(key ed25519.PublicKey) PublicKey {
	return PublicKey(zbase32.EncodeToString(key))
}

func (k PublicKey) String() string { return string(k) }

// Ed25519 decodes the key. It returns nil for a key that was not produced by
// ParsePublicKey or PublicKeyFromEd25519.
func (k PublicKey) Ed25519() ed25519.PublicKey {
	decoded, err := zbase32.DecodeString(string(k))
	if err != nil || len(decoded) != ed25519.PublicKeySize {
		return nil
	}
	return ed25519.PublicKey(decoded)
}

// URL renders p inside k's namespace as pubky://<key><path>.
func (k PublicKey) URL(p string) string {
	return "pubky://" + string(k) + p
}
