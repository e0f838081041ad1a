package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const signupSecretBytes = 24

// GenerateSignupSecret returns a new random signup secret.
func GenerateSignupSecret() (string, error) {
	buf := make([]byte, signupSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashSignupSecret hashes one signup secret for persistent storage.
func HashSignupSecret(secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("signup secret is required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifySignupSecret verifies a plaintext secret against a bcrypt hash.
func VerifySignupSecret(secretHash, candidate string) bool {
	if strings.TrimSpace(secretHash) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(candidate)) == nil
}

// FormatSignupToken renders the token handed to a new user.
func FormatSignupToken(id, secret string) string {
	return id + "." + secret
}

// ParseSignupToken splits a token produced by FormatSignupToken.
func ParseSignupToken(raw string) (id, secret string, err error) {
	id, secret, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || id == "" || secret == "" {
		return "", "", fmt.Errorf("malformed signup token")
	}
	return id, secret, nil
}
