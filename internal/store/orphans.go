package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Orphan reasons. A pending object is being uploaded; the commit that
// references it clears the marker. The others are no longer referenced by
// any entry and can be deleted from their backend.
const (
	OrphanPending     = "pending"
	OrphanSuperseded  = "superseded"
	OrphanDeleted     = "deleted"
	OrphanFailedWrite = "failed_write"
	OrphanAbandoned   = "abandoned"
)

// OrphanObject is an external backend object queued for reclamation.
type OrphanObject struct {
	BackendID string    `json:"backend_id"`
	ObjectKey string    `json:"object_key"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
}

// RecordPendingObject registers an external object before its bytes are
// written, so a crash mid-upload leaves a trace for garbage collection.
func (s *Store) RecordPendingObject(ctx context.Context, backendID, objectKey string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		return queueOrphan(ctx, tx, backendID, objectKey, OrphanPending, s.now())
	})
}

// QueueOrphan marks an object as unreferenced, replacing a pending marker.
func (s *Store) QueueOrphan(ctx context.Context, backendID, objectKey, reason string) error {
	return s.withWriteTx(ctx, func(tx *sql.Tx) error {
		return queueOrphan(ctx, tx, backendID, objectKey, reason, s.now())
	})
}

// ForgetOrphan drops the queue row after the object was deleted.
func (s *Store) ForgetOrphan(ctx context.Context, backendID, objectKey string) error {
	_, err := s.writer.ExecContext(ctx, "DELETE FROM orphan_objects WHERE backend_id = ? AND object_key = ?", backendID, objectKey)
	return err
}

// AbandonPending converts a stale pending marker into an abandoned orphan.
// It returns false when the upload committed in the meantime.
func (s *Store) AbandonPending(ctx context.Context, backendID, objectKey string) (bool, error) {
	result, err := s.writer.ExecContext(ctx, `
		UPDATE orphan_objects
		SET reason = ?
		WHERE backend_id = ? AND object_key = ? AND reason = ?
	`, OrphanAbandoned, backendID, objectKey, OrphanPending)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkOrphanAttempt records a failed reclamation attempt.
func (s *Store) MarkOrphanAttempt(ctx context.Context, backendID, objectKey string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.writer.ExecContext(ctx, `
		UPDATE orphan_objects
		SET attempts = attempts + 1, last_error = ?
		WHERE backend_id = ? AND object_key = ?
	`, nullIfEmpty(msg), backendID, objectKey)
	return err
}

// ListOrphans returns reclamation candidates: every non-pending orphan and
// pending markers created before pendingBefore.
func (s *Store) ListOrphans(ctx context.Context, pendingBefore time.Time, limit int) ([]OrphanObject, error) {
	query := `
		SELECT backend_id, object_key, reason, created_at, attempts, last_error
		FROM orphan_objects
		WHERE reason != ? OR created_at < ?
		ORDER BY created_at ASC
	`
	args := []any{OrphanPending, formatTime(pendingBefore)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrphanObject
	for rows.Next() {
		var o OrphanObject
		var createdAt string
		var lastError sql.NullString
		if err := rows.Scan(&o.BackendID, &o.ObjectKey, &o.Reason, &createdAt, &o.Attempts, &lastError); err != nil {
			return nil, err
		}
		if o.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		o.LastError = lastError.String
		out = append(out, o)
	}
	return out, rows.Err()
}

func queueOrphan(ctx context.Context, tx *sql.Tx, backendID, objectKey, reason string, now time.Time) error {
	if strings.TrimSpace(backendID) == "" || strings.TrimSpace(objectKey) == "" {
		return fmt.Errorf("backend id and object key are required")
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orphan_objects (backend_id, object_key, reason, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(backend_id, object_key) DO UPDATE SET reason = excluded.reason
	`, backendID, objectKey, reason, formatTime(now))
	return err
}

func clearPendingObject(ctx context.Context, tx *sql.Tx, backendID, objectKey string) error {
	result, err := tx.ExecContext(ctx, `
		DELETE FROM orphan_objects
		WHERE backend_id = ? AND object_key = ? AND reason = ?
	`, backendID, objectKey, OrphanPending)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrPendingObjectMissing, backendID, objectKey)
	}
	return nil
}
