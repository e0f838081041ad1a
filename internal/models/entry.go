package models

import (
	"fmt"
	"time"
)

// LocationKind tags which variant a StorageLocation holds.
type LocationKind string

const (
	LocationInline   LocationKind = "inline"
	LocationExternal LocationKind = "external"
)

// FileMetadata describes the committed bytes of an entry. It is never
// mutated after commit; an overwrite produces a new record.
type FileMetadata struct {
	Hash        ContentHash `json:"hash"`
	Length      int64       `json:"length"`
	ContentType string      `json:"content_type,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	ModifiedAt  time.Time   `json:"modified_at"`
}

// ETag is the quoted content hash.
func (m FileMetadata) ETag() string {
	return `"` + m.Hash.String() + `"`
}

// StorageLocation says where the bytes of an entry live: inline in the
// blob table under Hash, or on an external backend under ObjectKey.
type StorageLocation struct {
	Kind      LocationKind `json:"kind"`
	Hash      ContentHash  `json:"hash,omitempty"`
	BackendID string       `json:"backend_id,omitempty"`
	ObjectKey string       `json:"object_key,omitempty"`
}

func InlineLocation(hash ContentHash) StorageLocation {
	return StorageLocation{Kind: LocationInline, Hash: hash}
}

func ExternalLocation(backendID, objectKey string) StorageLocation {
	return StorageLocation{Kind: LocationExternal, BackendID: backendID, ObjectKey: objectKey}
}

func (l StorageLocation) Validate() error {
	switch l.Kind {
	case LocationInline:
		if l.BackendID != "" || l.ObjectKey != "" {
			return fmt.Errorf("inline location must not carry an object reference")
		}
	case LocationExternal:
		if l.BackendID == "" || l.ObjectKey == "" {
			return fmt.Errorf("external location requires backend id and object key")
		}
		if !l.Hash.IsZero() {
			return fmt.Errorf("external location must not carry a blob hash")
		}
	default:
		return fmt.Errorf("unknown location kind %q", l.Kind)
	}
	return nil
}

func (l StorageLocation) String() string {
	if l.Kind == LocationExternal {
		return fmt.Sprintf("external(%s:%s)", l.BackendID, l.ObjectKey)
	}
	return fmt.Sprintf("inline(%s)", l.Hash)
}

// Entry maps an owner and path to metadata and a storage location.
type Entry struct {
	Owner    PublicKey       `json:"owner"`
	Path     Path            `json:"-"`
	Metadata FileMetadata    `json:"metadata"`
	Location StorageLocation `json:"location"`
}

func (e *Entry) Validate() error {
	if e == nil {
		return fmt.Errorf("entry is required")
	}
	if e.Owner == "" {
		return fmt.Errorf("entry owner is required")
	}
	if !e.Path.IsPublicWrite() || e.Path.IsDir() {
		return fmt.Errorf("%w: %s", ErrInvalidPath, e.Path)
	}
	if e.Metadata.Length < 0 {
		return fmt.Errorf("entry length must be >= 0")
	}
	if err := e.Location.Validate(); err != nil {
		return err
	}
	if e.Location.Kind == LocationInline && e.Location.Hash != e.Metadata.Hash {
		return fmt.Errorf("inline location hash does not match metadata hash")
	}
	return nil
}
