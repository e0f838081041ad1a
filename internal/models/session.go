package models

import "time"

// Session binds a hashed secret to an owner.
type Session struct {
	TokenHash string     `json:"-"`
	Owner     PublicKey  `json:"owner"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the session can authorize requests at now.
func (s *Session) Active(now time.Time) bool {
	return s != nil && s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// User is a registered owner.
type User struct {
	PublicKey PublicKey `json:"public_key"`
	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"created_at"`
}

// SignupToken is a single-use registration credential.
type SignupToken struct {
	ID         string     `json:"id"`
	SecretHash string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	UsedBy     PublicKey  `json:"used_by,omitempty"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
}
