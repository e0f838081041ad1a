package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"homeserver/internal/models"
)

// ErrSignupTokenUsed is returned when a signup token was already redeemed.
var ErrSignupTokenUsed = errors.New("signup token already used")

// CreateUser registers owner. Registering an existing user is a no-op.
func (s *Store) CreateUser(ctx context.Context, owner models.PublicKey, now time.Time) (*models.User, error) {
	if owner == "" {
		return nil, fmt.Errorf("public key is required")
	}
	_, err := s.writer.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (public_key, disabled, created_at)
		VALUES (?, 0, ?)
	`, string(owner), formatTime(now))
	if err != nil {
		return nil, err
	}
	return getUser(ctx, s.writer, owner)
}

// CreateUserWithSignupToken redeems a signup token and registers owner in
// one transaction.
func (s *Store) CreateUserWithSignupToken(ctx context.Context, owner models.PublicKey, tokenID string, now time.Time) (*models.User, error) {
	var user *models.User
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE signup_tokens
			SET used_by = ?, used_at = ?
			WHERE id = ? AND used_at IS NULL
		`, string(owner), formatTime(now), tokenID)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrSignupTokenUsed
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO users (public_key, disabled, created_at)
			VALUES (?, 0, ?)
		`, string(owner), formatTime(now)); err != nil {
			return err
		}
		user, err = getUser(ctx, tx, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser returns a registered user, or nil.
func (s *Store) GetUser(ctx context.Context, owner models.PublicKey) (*models.User, error) {
	return getUser(ctx, s.reader, owner)
}

// SetUserDisabled toggles a user's disabled flag. It returns nil when the
// user does not exist.
func (s *Store) SetUserDisabled(ctx context.Context, owner models.PublicKey, disabled bool) (*models.User, error) {
	disabledInt := 0
	if disabled {
		disabledInt = 1
	}
	result, err := s.writer.ExecContext(ctx, "UPDATE users SET disabled = ? WHERE public_key = ?", disabledInt, string(owner))
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}
	return getUser(ctx, s.writer, owner)
}

// CreateSession stores a session keyed by the hash of its secret.
func (s *Store) CreateSession(ctx context.Context, owner models.PublicKey, tokenHash string, createdAt, expiresAt time.Time) error {
	tokenHash = strings.TrimSpace(tokenHash)
	if owner == "" {
		return fmt.Errorf("public key is required")
	}
	if tokenHash == "" {
		return fmt.Errorf("token hash is required")
	}
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO sessions (token_hash, public_key, created_at, expires_at, revoked_at)
		VALUES (?, ?, ?, ?, NULL)
	`, tokenHash, string(owner), formatTime(createdAt), formatTime(expiresAt))
	return err
}

// GetActiveSession returns the session for tokenHash when it is neither
// expired nor revoked and its user is enabled. Otherwise it returns nil.
func (s *Store) GetActiveSession(ctx context.Context, tokenHash string, now time.Time) (*models.Session, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return nil, nil
	}
	row := s.reader.QueryRowContext(ctx, `
		SELECT s.token_hash, s.public_key, s.created_at, s.expires_at, s.revoked_at
		FROM sessions s
		JOIN users u ON u.public_key = s.public_key
		WHERE s.token_hash = ?
		  AND s.revoked_at IS NULL
		  AND s.expires_at > ?
		  AND u.disabled = 0
		LIMIT 1
	`, tokenHash, formatTime(now))
	return scanSession(row)
}

// RevokeSession marks one session revoked.
func (s *Store) RevokeSession(ctx context.Context, tokenHash string, revokedAt time.Time) error {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return nil
	}
	_, err := s.writer.ExecContext(ctx, `
		UPDATE sessions
		SET revoked_at = ?
		WHERE token_hash = ?
		  AND revoked_at IS NULL
	`, formatTime(revokedAt), tokenHash)
	return err
}

// PurgeSessions deletes sessions that expired or were revoked before cutoff.
func (s *Store) PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.writer.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE expires_at < ? OR (revoked_at IS NOT NULL AND revoked_at < ?)
	`, formatTime(cutoff), formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CreateSignupToken stores a new unused signup token.
func (s *Store) CreateSignupToken(ctx context.Context, secretHash string, now time.Time) (*models.SignupToken, error) {
	if strings.TrimSpace(secretHash) == "" {
		return nil, fmt.Errorf("secret hash is required")
	}
	id, err := generateAuthID("st")
	if err != nil {
		return nil, err
	}
	_, err = s.writer.ExecContext(ctx, `
		INSERT INTO signup_tokens (id, secret_hash, created_at)
		VALUES (?, ?, ?)
	`, id, secretHash, formatTime(now))
	if err != nil {
		return nil, err
	}
	return &models.SignupToken{ID: id, SecretHash: secretHash, CreatedAt: now.UTC()}, nil
}

// GetSignupToken returns a signup token by id, or nil.
func (s *Store) GetSignupToken(ctx context.Context, id string) (*models.SignupToken, error) {
	row := s.reader.QueryRowContext(ctx, `
		SELECT id, secret_hash, created_at, used_by, used_at
		FROM signup_tokens
		WHERE id = ?
	`, strings.TrimSpace(id))

	var token models.SignupToken
	var createdAt string
	var usedBy, usedAt sql.NullString
	if err := row.Scan(&token.ID, &token.SecretHash, &createdAt, &usedBy, &usedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var err error
	if token.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if token.UsedAt, err = parseNullTime(usedAt); err != nil {
		return nil, err
	}
	token.UsedBy = models.PublicKey(usedBy.String)
	return &token, nil
}

func getUser(ctx context.Context, q queryer, owner models.PublicKey) (*models.User, error) {
	row := q.QueryRowContext(ctx, "SELECT public_key, disabled, created_at FROM users WHERE public_key = ?", string(owner))
	var user models.User
	var key, createdAt string
	var disabled int
	if err := row.Scan(&key, &disabled, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	user.PublicKey = models.PublicKey(key)
	user.Disabled = disabled != 0
	user.CreatedAt = created
	return &user, nil
}

func scanSession(scanner interface {
	Scan(dest ...any) error
}) (*models.Session, error) {
	var session models.Session
	var owner, createdAt, expiresAt string
	var revokedAt sql.NullString
	if err := scanner.Scan(&session.TokenHash, &owner, &createdAt, &expiresAt, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var err error
	session.Owner = models.PublicKey(owner)
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if session.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if session.RevokedAt, err = parseNullTime(revokedAt); err != nil {
		return nil, err
	}
	return &session, nil
}

func generateAuthID(prefix string) (string, error) {
	id, err := randomHex(10)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", prefix, id), nil
}

func randomHex(numBytes int) (string, error) {
	if numBytes <= 0 {
		return "", fmt.Errorf("numBytes must be > 0")
	}
	buf := make([]byte, numBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
