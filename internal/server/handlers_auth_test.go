package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"homeserver/internal/api"
	"homeserver/internal/auth"
)

func TestSignupSetsSessionCookie(t *testing.T) {
	env := newTestEnv(t, Config{})
	user := env.newUser(t)

	req := httptest.NewRequest(http.MethodPost, "/signup", bytes.NewReader(user.token()))
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", w.Code, w.Body.String())
	}

	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			sessionCookie = c
			break
		}
	}
	if sessionCookie == nil {
		t.Fatal("expected session cookie on signup response")
	}
	if !sessionCookie.HttpOnly {
		t.Fatal("expected HttpOnly session cookie")
	}

	session, err := env.store.GetActiveSession(context.Background(), auth.HashSessionSecret(sessionCookie.Value), time.Now())
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session == nil || session.Owner != user.owner {
		t.Fatalf("expected active session for %s, got %+v", user.owner, session)
	}
}

func TestSignupTwiceConflicts(t *testing.T) {
	env := newTestEnv(t, Config{})
	user := env.signup(t)

	_, err := user.client.Signup(context.Background(), user.token(), "")
	requireStatus(t, err, http.StatusConflict)
}

func TestSignInAndOut(t *testing.T) {
	env := newTestEnv(t, Config{})
	user := env.signup(t)
	ctx := context.Background()
	owner := user.owner.String()

	if err := user.client.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	_, err := user.client.Put(ctx, owner, "/pub/a.txt", strings.NewReader("x"), api.PutOptions{})
	requireStatus(t, err, http.StatusUnauthorized)

	resp, err := user.client.SignIn(ctx, user.token())
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if resp.PublicKey != owner || !resp.ExpiresAt.After(resp.CreatedAt) {
		t.Fatalf("unexpected session response: %+v", resp)
	}
	if _, err := user.client.Put(ctx, owner, "/pub/a.txt", strings.NewReader("x"), api.PutOptions{}); err != nil {
		t.Fatalf("put after sign in: %v", err)
	}
}

func TestSignInUnknownOrDisabledUser(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	stranger := env.newUser(t)
	_, err := stranger.client.SignIn(ctx, stranger.token())
	requireStatus(t, err, http.StatusNotFound)

	user := env.signup(t)
	if _, err := env.store.SetUserDisabled(ctx, user.owner, true); err != nil {
		t.Fatalf("disable user: %v", err)
	}
	_, err = user.client.SignIn(ctx, user.token())
	requireStatus(t, err, http.StatusForbidden)

	// The session opened at signup stops authorizing writes too.
	_, err = user.client.Put(ctx, user.owner.String(), "/pub/a.txt", strings.NewReader("x"), api.PutOptions{})
	requireStatus(t, err, http.StatusUnauthorized)
}

func TestAuthTokenRejections(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	user := env.newUser(t)

	_, err := user.client.Signup(ctx, []byte("short"), "")
	requireStatus(t, err, http.StatusUnauthorized)

	stale := auth.SignAuthToken(user.priv, time.Now().Add(-time.Hour))
	_, err = user.client.Signup(ctx, stale, "")
	requireStatus(t, err, http.StatusUnauthorized)

	token := user.token()
	if _, err := user.client.Signup(ctx, token, ""); err != nil {
		t.Fatalf("signup: %v", err)
	}
	_, err = user.client.SignIn(ctx, token)
	requireStatus(t, err, http.StatusUnauthorized)
}

func TestSignupTokenRequired(t *testing.T) {
	env := newTestEnv(t, Config{SignupMode: SignupModeRequired})
	ctx := context.Background()

	secret, err := auth.GenerateSignupSecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	hash, err := auth.HashSignupSecret(secret)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	stored, err := env.store.CreateSignupToken(ctx, hash, time.Now())
	if err != nil {
		t.Fatalf("create signup token: %v", err)
	}
	signupToken := auth.FormatSignupToken(stored.ID, secret)

	first := env.newUser(t)
	_, err = first.client.Signup(ctx, first.token(), "")
	requireStatus(t, err, http.StatusUnauthorized)
	_, err = first.client.Signup(ctx, first.token(), auth.FormatSignupToken(stored.ID, "wrong"))
	requireStatus(t, err, http.StatusUnauthorized)

	if _, err := first.client.Signup(ctx, first.token(), signupToken); err != nil {
		t.Fatalf("signup with token: %v", err)
	}

	second := env.newUser(t)
	_, err = second.client.Signup(ctx, second.token(), signupToken)
	requireStatus(t, err, http.StatusUnauthorized)
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorCode != ErrCodeSignupRequired {
		t.Fatalf("expected signup required code, got %v", err)
	}
}

func TestFailedAuthAttemptsAreThrottled(t *testing.T) {
	env := newTestEnv(t, Config{})
	h := env.srv.Handler()

	post := func(body []byte) int {
		req := httptest.NewRequest(http.MethodPost, "/session", bytes.NewReader(body))
		req.RemoteAddr = "203.0.113.7:4242"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < authMaxFailures; i++ {
		if code := post([]byte("garbage")); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, code)
		}
	}
	user := env.newUser(t)
	if code := post(user.token()); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once blocked, got %d", code)
	}
}
