package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"homeserver/internal/api"
	"homeserver/internal/auth"
	"homeserver/internal/models"
	"homeserver/internal/store"
)

var errSignupTokenInvalid = errors.New("signup token invalid")

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	now := s.now().UTC()
	token, ok := s.verifyAuthToken(w, r, now)
	if !ok {
		return
	}
	owner := token.Owner()

	existing, err := s.auth.GetUser(r.Context(), owner)
	if err != nil {
		s.writeErrorReq(w, r, http.StatusInternalServerError, storeFailure(err))
		return
	}
	if existing != nil {
		s.writeErrorReq(w, r, http.StatusConflict, makeAPIError(http.StatusConflict, "conflict", ErrCodeUserExists,
			fmt.Errorf("user %s already exists", owner)))
		return
	}

	switch s.cfg.SignupMode {
	case SignupModeRequired:
		tokenID, err := s.checkSignupToken(r)
		if err != nil {
			s.writeErrorReq(w, r, http.StatusUnauthorized, makeAPIError(http.StatusUnauthorized, "unauthorized", ErrCodeSignupRequired, err))
			return
		}
		_, err = s.auth.CreateUserWithSignupToken(r.Context(), owner, tokenID, now)
		if errors.Is(err, store.ErrSignupTokenUsed) {
			s.writeErrorReq(w, r, http.StatusUnauthorized, makeAPIError(http.StatusUnauthorized, "unauthorized", ErrCodeSignupRequired, err))
			return
		}
		if err != nil {
			s.writeErrorReq(w, r, http.StatusInternalServerError, storeFailure(err))
			return
		}
	default:
		if _, err := s.auth.CreateUser(r.Context(), owner, now); err != nil {
			s.writeErrorReq(w, r, http.StatusInternalServerError, storeFailure(err))
			return
		}
	}

	s.log().Info("user signed up", "owner", owner)
	s.startSession(w, r, owner, now, http.StatusCreated)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	now := s.now().UTC()
	token, ok := s.verifyAuthToken(w, r, now)
	if !ok {
		return
	}
	owner := token.Owner()

	user, err := s.auth.GetUser(r.Context(), owner)
	if err != nil {
		s.writeErrorReq(w, r, http.StatusInternalServerError, storeFailure(err))
		return
	}
	switch {
	case user == nil:
		s.writeErrorReq(w, r, http.StatusNotFound, makeAPIError(http.StatusNotFound, "not_found", ErrCodeUserNotFound,
			fmt.Errorf("user %s is not registered", owner)))
		return
	case user.Disabled:
		s.writeErrorReq(w, r, http.StatusForbidden, makeAPIError(http.StatusForbidden, "forbidden", ErrCodeForbidden,
			fmt.Errorf("user %s is disabled", owner)))
		return
	}

	s.startSession(w, r, owner, now, http.StatusCreated)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	secret := sessionSecret(r)
	if secret != "" {
		if err := s.auth.RevokeSession(r.Context(), auth.HashSessionSecret(secret), s.now().UTC()); err != nil {
			s.writeErrorReq(w, r, http.StatusInternalServerError, storeFailure(err))
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
	})
	w.WriteHeader(http.StatusNoContent)
}

// verifyAuthToken reads and checks the signed token in the request body.
// Failures count against the client's rate limit.
func (s *Server) verifyAuthToken(w http.ResponseWriter, r *http.Request, now time.Time) (*auth.AuthToken, bool) {
	limiterKey := requestClientIP(r)
	if !s.authLimiter.Allow(limiterKey, now) {
		s.writeErrorReq(w, r, http.StatusTooManyRequests, apiError{
			status:  http.StatusTooManyRequests,
			code:    "resource_exhausted",
			errCode: ErrCodeResourceExhausted,
			err:     fmt.Errorf("too many failed auth attempts; retry later"),
		})
		return nil, false
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxAuthTokenBody+1))
	if err != nil {
		s.writeErrorReq(w, r, http.StatusBadRequest, badRequestCode(err, ErrCodeInvalidArgument))
		return nil, false
	}
	token, err := s.verifier.Verify(raw, now)
	if err != nil {
		s.authLimiter.RegisterFailure(limiterKey, now)
		s.writeErrorReq(w, r, http.StatusUnauthorized, makeAPIError(http.StatusUnauthorized, "unauthorized", ErrCodeInvalidAuthToken, err))
		return nil, false
	}
	s.authLimiter.Reset(limiterKey)
	return token, true
}

func (s *Server) checkSignupToken(r *http.Request) (string, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(api.SignupTokenParam))
	if raw == "" {
		return "", fmt.Errorf("%w: a signup token is required", errSignupTokenInvalid)
	}
	id, secret, err := auth.ParseSignupToken(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errSignupTokenInvalid, err)
	}
	token, err := s.auth.GetSignupToken(r.Context(), id)
	if err != nil {
		return "", err
	}
	if token == nil || !auth.VerifySignupSecret(token.SecretHash, secret) {
		return "", errSignupTokenInvalid
	}
	if token.UsedAt != nil {
		return "", store.ErrSignupTokenUsed
	}
	return token.ID, nil
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, owner models.PublicKey, now time.Time, status int) {
	secret, err := auth.GenerateSessionSecret()
	if err != nil {
		s.writeErrorReq(w, r, http.StatusInternalServerError, makeAPIError(http.StatusInternalServerError, "internal", ErrCodeInternal, err))
		return
	}
	expiresAt := now.Add(s.cfg.SessionTTL)
	if err := s.auth.CreateSession(r.Context(), owner, auth.HashSessionSecret(secret), now, expiresAt); err != nil {
		s.writeErrorReq(w, r, http.StatusInternalServerError, storeFailure(err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    secret,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.cfg.SessionTTL / time.Second),
		Expires:  expiresAt,
	})
	s.writeJSON(w, status, api.SessionResponse{
		PublicKey: owner.String(),
		CreatedAt: now,
		ExpiresAt: expiresAt,
	})
}

func requestClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remote)
	if err == nil {
		return strings.TrimSpace(host)
	}
	return remote
}
