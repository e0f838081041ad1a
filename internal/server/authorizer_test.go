package server

import (
	"context"
	"crypto/ed25519"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"homeserver/internal/auth"
	"homeserver/internal/files"
	"homeserver/internal/models"
	"homeserver/internal/store"
)

func newAuthorizerFixture(t *testing.T) (*SessionAuthorizer, *store.Store, models.PublicKey, string) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "authz.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := models.PublicKeyFromEd25519(pub)
	ctx := context.Background()
	now := time.Now().UTC()
	if _, err := st.CreateUser(ctx, owner, now); err != nil {
		t.Fatalf("create user: %v", err)
	}
	secret, err := auth.GenerateSessionSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	if err := st.CreateSession(ctx, owner, auth.HashSessionSecret(secret), now, now.Add(time.Hour)); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return NewSessionAuthorizer(st), st, owner, secret
}

func TestSessionAuthorizer(t *testing.T) {
	authz, st, owner, secret := newAuthorizerFixture(t)
	ctx := context.Background()
	path := models.MustParsePath("/pub/a.txt")

	if err := authz.Authorize(ctx, secret, owner, path); err != nil {
		t.Fatalf("expected owner session to be authorized: %v", err)
	}

	pub, _, _ := ed25519.GenerateKey(nil)
	other := models.PublicKeyFromEd25519(pub)
	for name, check := range map[string]func() error{
		"empty secret":   func() error { return authz.Authorize(ctx, "", owner, path) },
		"unknown secret": func() error { return authz.Authorize(ctx, "nope", owner, path) },
		"other owner":    func() error { return authz.Authorize(ctx, secret, other, path) },
	} {
		if err := check(); !errors.Is(err, files.ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}

	err := authz.Authorize(ctx, secret, owner, models.MustParsePath("/private/a.txt"))
	var outside *models.OutsideWriteNamespaceError
	if !errors.As(err, &outside) {
		t.Fatalf("expected OutsideWriteNamespaceError, got %v", err)
	}

	if err := st.RevokeSession(ctx, auth.HashSessionSecret(secret), time.Now()); err != nil {
		t.Fatalf("revoke session: %v", err)
	}
	if err := authz.Authorize(ctx, secret, owner, path); !errors.Is(err, files.ErrUnauthorized) {
		t.Fatalf("expected revoked session to be rejected, got %v", err)
	}
}

func TestSessionAuthorizerExpiry(t *testing.T) {
	authz, _, owner, secret := newAuthorizerFixture(t)
	authz.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	err := authz.Authorize(context.Background(), secret, owner, models.MustParsePath("/pub/a.txt"))
	if !errors.Is(err, files.ErrUnauthorized) {
		t.Fatalf("expected expired session to be rejected, got %v", err)
	}
}

func TestAuthRateLimiter(t *testing.T) {
	limiter := newAuthRateLimiter(2, time.Minute, 5*time.Minute)
	now := time.Now()

	if !limiter.Allow("ip", now) {
		t.Fatal("expected first attempt to be allowed")
	}
	limiter.RegisterFailure("ip", now)
	limiter.RegisterFailure("ip", now)
	if limiter.Allow("ip", now.Add(time.Minute)) {
		t.Fatal("expected key to be blocked")
	}
	if !limiter.Allow("other", now) {
		t.Fatal("expected other key to be allowed")
	}
	if !limiter.Allow("ip", now.Add(6*time.Minute)) {
		t.Fatal("expected block to lapse")
	}

	limiter.RegisterFailure("ip", now)
	limiter.Reset("ip")
	limiter.RegisterFailure("ip", now)
	if !limiter.Allow("ip", now) {
		t.Fatal("expected reset to clear failures")
	}

	var disabled *authRateLimiter
	if !disabled.Allow("ip", now) {
		t.Fatal("nil limiter must allow")
	}
}
