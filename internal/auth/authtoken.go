package auth

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"homeserver/internal/models"
)

// AuthTokenLength is signature(64) | timestamp(8) | public key(32).
const AuthTokenLength = ed25519.SignatureSize + 8 + ed25519.PublicKeySize

const authTokenNamespace = "homeserver-auth"

var (
	ErrMalformedAuthToken = errors.New("malformed auth token")
	ErrInvalidSignature   = errors.New("invalid auth token signature")
	ErrExpiredAuthToken   = errors.New("auth token outside the accepted time window")
	ErrReplayedAuthToken  = errors.New("auth token already used")
)

// AuthToken proves possession of an owner's private key at a point in time.
type AuthToken struct {
	Signature [ed25519.SignatureSize]byte
	Timestamp time.Time
	PublicKey ed25519.PublicKey
}

// SignAuthToken builds a token for the key pair at ts.
func SignAuthToken(priv ed25519.PrivateKey, ts time.Time) []byte {
	pub := priv.Public().(ed25519.PublicKey)
	out := make([]byte, AuthTokenLength)
	signable := out[ed25519.SignatureSize:]
	binary.BigEndian.PutUint64(signable[:8], uint64(ts.UnixMicro()))
	copy(signable[8:], pub)
	copy(out, ed25519.Sign(priv, signedPayload(signable)))
	return out
}

// ParseAuthToken decodes raw and checks its signature.
func ParseAuthToken(raw []byte) (*AuthToken, error) {
	if len(raw) != AuthTokenLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedAuthToken, AuthTokenLength, len(raw))
	}
	signable := raw[ed25519.SignatureSize:]
	token := &AuthToken{
		Timestamp: time.UnixMicro(int64(binary.BigEndian.Uint64(signable[:8]))),
		PublicKey: ed25519.PublicKey(append([]byte(nil), signable[8:]...)),
	}
	copy(token.Signature[:], raw[:ed25519.SignatureSize])
	if !ed25519.Verify(token.PublicKey, signedPayload(signable), token.Signature[:]) {
		return nil, ErrInvalidSignature
	}
	return token, nil
}

// Owner returns the token's public key in owner form.
func (t *AuthToken) Owner() models.PublicKey {
	return models.PublicKeyFromEd25519(t.PublicKey)
}

func signedPayload(signable []byte) []byte {
	payload := make([]byte, 0, len(authTokenNamespace)+len(signable))
	payload = append(payload, authTokenNamespace...)
	return append(payload, signable...)
}

// Verifier accepts each valid token once within a freshness window.
type Verifier struct {
	window time.Duration

	mu   sync.Mutex
	seen map[[ed25519.SignatureSize]byte]time.Time
}

func NewVerifier(window time.Duration) *Verifier {
	if window <= 0 {
		window = 45 * time.Second
	}
	return &Verifier{window: window, seen: make(map[[ed25519.SignatureSize]byte]time.Time)}
}

// Verify parses raw and rejects stale or replayed tokens.
func (v *Verifier) Verify(raw []byte, now time.Time) (*AuthToken, error) {
	token, err := ParseAuthToken(raw)
	if err != nil {
		return nil, err
	}
	skew := now.Sub(token.Timestamp)
	if skew > v.window || skew < -v.window {
		return nil, ErrExpiredAuthToken
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for sig, expires := range v.seen {
		if now.After(expires) {
			delete(v.seen, sig)
		}
	}
	if _, ok := v.seen[token.Signature]; ok {
		return nil, ErrReplayedAuthToken
	}
	v.seen[token.Signature] = token.Timestamp.Add(v.window)
	return token, nil
}
