package server

import (
	"context"
	"fmt"
	"time"

	"homeserver/internal/auth"
	"homeserver/internal/files"
	"homeserver/internal/models"
)

// SessionLookup resolves a hashed session secret to an active session.
type SessionLookup interface {
	GetActiveSession(ctx context.Context, tokenHash string, now time.Time) (*models.Session, error)
}

// SessionAuthorizer grants writes to the owner of an active session. It
// never consults the entry table, so a denial looks the same whether the
// target exists or not.
type SessionAuthorizer struct {
	sessions SessionLookup
	now      func() time.Time
}

var _ files.Authorizer = (*SessionAuthorizer)(nil)

func NewSessionAuthorizer(sessions SessionLookup) *SessionAuthorizer {
	return &SessionAuthorizer{sessions: sessions, now: time.Now}
}

// Authorize checks that sessionSecret names a live session of owner and
// that path lies in the writable namespace.
func (a *SessionAuthorizer) Authorize(ctx context.Context, sessionSecret string, owner models.PublicKey, path models.Path) error {
	if !path.IsPublicWrite() {
		return &models.OutsideWriteNamespaceError{Path: path}
	}
	if sessionSecret == "" {
		return fmt.Errorf("%w: no session", files.ErrUnauthorized)
	}
	session, err := a.sessions.GetActiveSession(ctx, auth.HashSessionSecret(sessionSecret), a.now().UTC())
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	if session == nil {
		return fmt.Errorf("%w: session expired or unknown", files.ErrUnauthorized)
	}
	if session.Owner != owner {
		return fmt.Errorf("%w: session belongs to another user", files.ErrUnauthorized)
	}
	return nil
}
