package store

import (
	"context"
	"iter"
	"time"

	"homeserver/internal/models"
)

// EntryStore is the metadata persistence surface for file entries and the
// inline blobs they reference.
type EntryStore interface {
	PutEntry(ctx context.Context, entry *models.Entry, inline []byte) (*models.Entry, error)
	GetEntry(ctx context.Context, owner models.PublicKey, path models.Path) (*models.Entry, error)
	GetEntryWithBlob(ctx context.Context, owner models.PublicKey, path models.Path) (*models.Entry, []byte, error)
	DeleteEntry(ctx context.Context, owner models.PublicKey, path models.Path) (*models.Entry, error)
	Walk(ctx context.Context, owner models.PublicKey, dir models.Path, opts ListOptions) iter.Seq2[string, error]
	List(ctx context.Context, owner models.PublicKey, dir models.Path, opts ListOptions) ([]string, error)
	ContainsDirectory(ctx context.Context, owner models.PublicKey, dir models.Path) (bool, error)

	ReadBlob(ctx context.Context, hash models.ContentHash) ([]byte, error)
	SweepBlobs(ctx context.Context, dryRun bool) (BlobSweepResult, error)
}

var _ EntryStore = (*Store)(nil)

// OrphanStore tracks external objects that no entry references.
//
// This is kept apart from EntryStore so the garbage collector can run
// against it without the read path.
type OrphanStore interface {
	RecordPendingObject(ctx context.Context, backendID, objectKey string) error
	QueueOrphan(ctx context.Context, backendID, objectKey, reason string) error
	ForgetOrphan(ctx context.Context, backendID, objectKey string) error
	AbandonPending(ctx context.Context, backendID, objectKey string) (bool, error)
	MarkOrphanAttempt(ctx context.Context, backendID, objectKey string, cause error) error
	ListOrphans(ctx context.Context, pendingBefore time.Time, limit int) ([]OrphanObject, error)
	ObjectReferenced(ctx context.Context, backendID, objectKey string) (bool, error)
}

var _ OrphanStore = (*Store)(nil)

// AuthStore persists users, sessions and signup tokens.
type AuthStore interface {
	CreateUser(ctx context.Context, owner models.PublicKey, now time.Time) (*models.User, error)
	CreateUserWithSignupToken(ctx context.Context, owner models.PublicKey, tokenID string, now time.Time) (*models.User, error)
	GetUser(ctx context.Context, owner models.PublicKey) (*models.User, error)
	CreateSession(ctx context.Context, owner models.PublicKey, tokenHash string, createdAt, expiresAt time.Time) error
	GetActiveSession(ctx context.Context, tokenHash string, now time.Time) (*models.Session, error)
	RevokeSession(ctx context.Context, tokenHash string, revokedAt time.Time) error
	CreateSignupToken(ctx context.Context, secretHash string, now time.Time) (*models.SignupToken, error)
	GetSignupToken(ctx context.Context, id string) (*models.SignupToken, error)
}

var _ AuthStore = (*Store)(nil)
