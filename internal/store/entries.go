package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"homeserver/internal/models"
)

// ErrPendingObjectMissing is returned when an external entry is committed
// after its pending marker was abandoned by garbage collection.
var ErrPendingObjectMissing = errors.New("pending object marker missing")

// ErrBlobMissing is returned when an inline entry's blob row is gone.
var ErrBlobMissing = errors.New("inline blob missing")

const entryColumns = `owner, path, content_hash, length, content_type, created_at, modified_at, location_kind, backend_id, object_key`

// PutEntry inserts or replaces the entry at (entry.Owner, entry.Path) in one
// write transaction. For an inline location, inline holds the bytes to store
// under the entry hash. The entry is updated in place with the committed
// timestamps. The superseded entry, if any, is returned.
func (s *Store) PutEntry(ctx context.Context, entry *models.Entry, inline []byte) (*models.Entry, error) {
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	if entry.Location.Kind == models.LocationInline && int64(len(inline)) != entry.Metadata.Length {
		return nil, fmt.Errorf("inline data is %d bytes, metadata says %d", len(inline), entry.Metadata.Length)
	}

	var superseded *models.Entry
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		prior, err := getEntry(ctx, tx, entry.Owner, entry.Path)
		if err != nil {
			return err
		}
		if prior != nil {
			entry.Metadata.CreatedAt = prior.Metadata.CreatedAt
			if !entry.Metadata.ModifiedAt.After(prior.Metadata.ModifiedAt) {
				entry.Metadata.ModifiedAt = prior.Metadata.ModifiedAt.Add(time.Microsecond)
			}
		}
		if entry.Metadata.CreatedAt.IsZero() {
			entry.Metadata.CreatedAt = entry.Metadata.ModifiedAt
		}

		switch entry.Location.Kind {
		case models.LocationInline:
			if err := s.acquireBlob(ctx, tx, entry.Location.Hash, inline); err != nil {
				return err
			}
		case models.LocationExternal:
			if err := clearPendingObject(ctx, tx, entry.Location.BackendID, entry.Location.ObjectKey); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO entries (`+entryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(owner, path) DO UPDATE SET
				content_hash = excluded.content_hash,
				length = excluded.length,
				content_type = excluded.content_type,
				created_at = excluded.created_at,
				modified_at = excluded.modified_at,
				location_kind = excluded.location_kind,
				backend_id = excluded.backend_id,
				object_key = excluded.object_key
		`,
			string(entry.Owner),
			entry.Path.String(),
			entry.Metadata.Hash.String(),
			entry.Metadata.Length,
			nullIfEmpty(entry.Metadata.ContentType),
			formatTime(entry.Metadata.CreatedAt),
			formatTime(entry.Metadata.ModifiedAt),
			string(entry.Location.Kind),
			nullIfEmpty(entry.Location.BackendID),
			nullIfEmpty(entry.Location.ObjectKey),
		)
		if err != nil {
			return err
		}

		if prior != nil {
			if err := s.releaseLocation(ctx, tx, prior.Location, OrphanSuperseded); err != nil {
				return err
			}
		}
		superseded = prior
		return nil
	})
	if err != nil {
		return nil, err
	}
	return superseded, nil
}

// GetEntry returns the entry at (owner, path), or nil when there is none.
func (s *Store) GetEntry(ctx context.Context, owner models.PublicKey, path models.Path) (*models.Entry, error) {
	return getEntry(ctx, s.reader, owner, path)
}

// GetEntryWithBlob returns the entry and, for an inline entry, its bytes,
// both read from the same snapshot.
func (s *Store) GetEntryWithBlob(ctx context.Context, owner models.PublicKey, path models.Path) (entry *models.Entry, data []byte, err error) {
	tx, err := s.reader.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	entry, err = getEntry(ctx, tx, owner, path)
	if err != nil || entry == nil {
		return nil, nil, err
	}
	if entry.Location.Kind != models.LocationInline {
		return entry, nil, nil
	}
	data, err = readBlob(ctx, tx, entry.Location.Hash)
	if err != nil {
		return nil, nil, err
	}
	if data == nil {
		return entry, nil, fmt.Errorf("%w: blob %s referenced by %s", ErrBlobMissing, entry.Location.Hash, entry.Path)
	}
	return entry, data, nil
}

// DeleteEntry removes the entry at (owner, path) and releases its storage
// reference in the same transaction. It returns the removed entry, or nil
// when nothing existed.
func (s *Store) DeleteEntry(ctx context.Context, owner models.PublicKey, path models.Path) (*models.Entry, error) {
	var deleted *models.Entry
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		prior, err := getEntry(ctx, tx, owner, path)
		if err != nil || prior == nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE owner = ? AND path = ?", string(owner), path.String()); err != nil {
			return err
		}
		if err := s.releaseLocation(ctx, tx, prior.Location, OrphanDeleted); err != nil {
			return err
		}
		deleted = prior
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// ObjectReferenced reports whether any entry points at the external object.
func (s *Store) ObjectReferenced(ctx context.Context, backendID, objectKey string) (bool, error) {
	var exists int
	err := s.reader.QueryRowContext(ctx, `
		SELECT 1 FROM entries
		WHERE location_kind = 'external' AND backend_id = ? AND object_key = ?
		LIMIT 1
	`, backendID, objectKey).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) releaseLocation(ctx context.Context, tx *sql.Tx, loc models.StorageLocation, reason string) error {
	switch loc.Kind {
	case models.LocationInline:
		return s.releaseBlob(ctx, tx, loc.Hash)
	case models.LocationExternal:
		return queueOrphan(ctx, tx, loc.BackendID, loc.ObjectKey, reason, s.now())
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getEntry(ctx context.Context, q queryer, owner models.PublicKey, path models.Path) (*models.Entry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM entries
		WHERE owner = ? AND path = ?
	`, string(owner), path.String())
	return scanEntry(row)
}

func scanEntry(scanner interface {
	Scan(dest ...any) error
}) (*models.Entry, error) {
	var (
		owner, path, hash, kind string
		length                  int64
		contentType             sql.NullString
		createdAt, modifiedAt   string
		backendID, objectKey    sql.NullString
	)
	if err := scanner.Scan(&owner, &path, &hash, &length, &contentType, &createdAt, &modifiedAt, &kind, &backendID, &objectKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	parsedPath, err := models.ParsePath(path)
	if err != nil {
		return nil, fmt.Errorf("stored path %q: %w", path, err)
	}
	contentHash, err := models.ParseContentHash(hash)
	if err != nil {
		return nil, fmt.Errorf("stored hash for %q: %w", path, err)
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	modified, err := parseTime(modifiedAt)
	if err != nil {
		return nil, err
	}

	entry := &models.Entry{
		Owner: models.PublicKey(owner),
		Path:  parsedPath,
		Metadata: models.FileMetadata{
			Hash:        contentHash,
			Length:      length,
			ContentType: contentType.String,
			CreatedAt:   created,
			ModifiedAt:  modified,
		},
	}
	switch models.LocationKind(kind) {
	case models.LocationInline:
		entry.Location = models.InlineLocation(contentHash)
	case models.LocationExternal:
		entry.Location = models.ExternalLocation(backendID.String, objectKey.String)
	default:
		return nil, fmt.Errorf("stored location kind %q for %q is unknown", kind, path)
	}
	return entry, nil
}
