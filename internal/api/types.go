package api

import "time"

const (
	// HeaderContentHash carries a BLAKE3 hex digest the upload must match.
	HeaderContentHash = "X-Content-Hash"
	// SignupTokenParam is the query parameter of POST /signup.
	SignupTokenParam = "signup_token"
)

// ErrorResponse is a generic JSON error wrapper.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// EntryResponse describes a stored file.
type EntryResponse struct {
	URL         string    `json:"url"`
	Path        string    `json:"path"`
	Hash        string    `json:"hash"`
	Length      int64     `json:"length"`
	ContentType string    `json:"content_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// SessionResponse is returned by signup and sign-in. The secret itself
// travels only in the session cookie.
type SessionResponse struct {
	PublicKey string    `json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ListQuery holds the listing parameters of GET on a directory.
type ListQuery struct {
	Reverse bool
	Limit   int
	Cursor  string
	Shallow bool
}
