package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openAuthTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "auth-store.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return st, context.Background()
}

func TestUserAndSessionLifecycle(t *testing.T) {
	st, ctx := openAuthTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	owner := testOwner(t)

	user, err := st.CreateUser(ctx, owner, now)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.PublicKey != owner || user.Disabled {
		t.Fatalf("unexpected user %+v", user)
	}
	again, err := st.CreateUser(ctx, owner, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("create user again: %v", err)
	}
	if !again.CreatedAt.Equal(now) {
		t.Fatal("second registration must not reset created_at")
	}

	if err := st.CreateSession(ctx, owner, "hash-1", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("create session: %v", err)
	}

	session, err := st.GetActiveSession(ctx, "hash-1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session == nil || session.Owner != owner {
		t.Fatalf("expected session for owner, got %+v", session)
	}

	expired, err := st.GetActiveSession(ctx, "hash-1", now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("get expired session: %v", err)
	}
	if expired != nil {
		t.Fatal("expected expired session to be rejected")
	}

	if _, err := st.SetUserDisabled(ctx, owner, true); err != nil {
		t.Fatalf("disable user: %v", err)
	}
	disabled, err := st.GetActiveSession(ctx, "hash-1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("get session of disabled user: %v", err)
	}
	if disabled != nil {
		t.Fatal("expected disabled user's session to be rejected")
	}
	if _, err := st.SetUserDisabled(ctx, owner, false); err != nil {
		t.Fatalf("enable user: %v", err)
	}

	if err := st.RevokeSession(ctx, "hash-1", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("revoke session: %v", err)
	}
	revoked, err := st.GetActiveSession(ctx, "hash-1", now.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("get revoked session: %v", err)
	}
	if revoked != nil {
		t.Fatal("expected revoked session to be rejected")
	}

	purged, err := st.PurgeSessions(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged session, got %d", purged)
	}
}

func TestSignupTokenSingleUse(t *testing.T) {
	st, ctx := openAuthTestStore(t)
	now := time.Now().UTC()

	token, err := st.CreateSignupToken(ctx, "bcrypt-hash", now)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	first := testOwner(t)
	if _, err := st.CreateUserWithSignupToken(ctx, first, token.ID, now); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	stored, err := st.GetSignupToken(ctx, token.ID)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if stored.UsedBy != first || stored.UsedAt == nil {
		t.Fatalf("expected token to record redemption, got %+v", stored)
	}

	second := testOwner(t)
	if _, err := st.CreateUserWithSignupToken(ctx, second, token.ID, now); !errors.Is(err, ErrSignupTokenUsed) {
		t.Fatalf("expected used token error, got %v", err)
	}
	user, err := st.GetUser(ctx, second)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user != nil {
		t.Fatal("failed redemption must not register the user")
	}

	missing, err := st.GetSignupToken(ctx, "st-missing")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing token, got %v %v", missing, err)
	}
}
