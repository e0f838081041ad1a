package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"homeserver/internal/models"
)

const (
	codecRaw  = "raw"
	codecZstd = "zstd"

	// Below this size zstd framing overhead usually outweighs the savings.
	minCompressSize = 128
)

var (
	blobEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	blobDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// BlobSweepResult summarizes a mark-and-sweep pass over inline blobs.
type BlobSweepResult struct {
	Scanned        int   `json:"scanned"`
	Repaired       int   `json:"repaired"`
	Deleted        int   `json:"deleted"`
	ReclaimedBytes int64 `json:"reclaimed_bytes"`
	DryRun         bool  `json:"dry_run"`
}

// ReadBlob returns the bytes stored under hash, or nil when absent.
func (s *Store) ReadBlob(ctx context.Context, hash models.ContentHash) ([]byte, error) {
	return readBlob(ctx, s.reader, hash)
}

// BlobRefCount returns the reference count of an inline blob and whether
// the blob row exists.
func (s *Store) BlobRefCount(ctx context.Context, hash models.ContentHash) (int64, bool, error) {
	var refs int64
	err := s.reader.QueryRowContext(ctx, "SELECT ref_count FROM blobs WHERE hash = ?", hash.String()).Scan(&refs)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return refs, true, nil
}

// SweepBlobs recomputes reference counts from the entries table and
// removes blobs nothing references.
func (s *Store) SweepBlobs(ctx context.Context, dryRun bool) (BlobSweepResult, error) {
	result := BlobSweepResult{DryRun: dryRun}
	err := s.withWriteTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT b.hash, b.size_bytes, b.ref_count,
				(SELECT COUNT(*) FROM entries e WHERE e.location_kind = 'inline' AND e.content_hash = b.hash)
			FROM blobs b
		`)
		if err != nil {
			return err
		}
		type sweepRow struct {
			hash   string
			size   int64
			stored int64
			actual int64
		}
		var candidates []sweepRow
		for rows.Next() {
			var r sweepRow
			if err := rows.Scan(&r.hash, &r.size, &r.stored, &r.actual); err != nil {
				rows.Close()
				return err
			}
			result.Scanned++
			if r.stored != r.actual || r.actual == 0 {
				candidates = append(candidates, r)
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, r := range candidates {
			if r.actual == 0 {
				result.Deleted++
				result.ReclaimedBytes += r.size
				if dryRun {
					continue
				}
				if _, err := tx.ExecContext(ctx, "DELETE FROM blobs WHERE hash = ?", r.hash); err != nil {
					return err
				}
				continue
			}
			result.Repaired++
			if dryRun {
				continue
			}
			if _, err := tx.ExecContext(ctx, "UPDATE blobs SET ref_count = ? WHERE hash = ?", r.actual, r.hash); err != nil {
				return err
			}
		}
		if dryRun {
			return errDryRun
		}
		return nil
	})
	if errors.Is(err, errDryRun) {
		err = nil
	}
	return result, err
}

var errDryRun = errors.New("dry run")

// acquireBlob adds one reference to hash, storing data only when the blob
// is new.
func (s *Store) acquireBlob(ctx context.Context, tx *sql.Tx, hash models.ContentHash, data []byte) error {
	result, err := tx.ExecContext(ctx, "UPDATE blobs SET ref_count = ref_count + 1 WHERE hash = ?", hash.String())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	codec, encoded := s.encodeBlob(data)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO blobs (hash, codec, size_bytes, data, ref_count, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
	`, hash.String(), codec, len(data), encoded, formatTime(s.now()))
	return err
}

func (s *Store) releaseBlob(ctx context.Context, tx *sql.Tx, hash models.ContentHash) error {
	if _, err := tx.ExecContext(ctx, "UPDATE blobs SET ref_count = ref_count - 1 WHERE hash = ?", hash.String()); err != nil {
		return err
	}
	if s.reclaim != ReclaimEager {
		return nil
	}
	_, err := tx.ExecContext(ctx, "DELETE FROM blobs WHERE hash = ? AND ref_count <= 0", hash.String())
	return err
}

func (s *Store) encodeBlob(data []byte) (string, []byte) {
	if data == nil {
		data = []byte{}
	}
	if !s.compress || len(data) < minCompressSize {
		return codecRaw, data
	}
	compressed := blobEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	if len(compressed) >= len(data) {
		return codecRaw, data
	}
	return codecZstd, compressed
}

func readBlob(ctx context.Context, q queryer, hash models.ContentHash) ([]byte, error) {
	var codec string
	var size int64
	var data []byte
	err := q.QueryRowContext(ctx, "SELECT codec, size_bytes, data FROM blobs WHERE hash = ?", hash.String()).Scan(&codec, &size, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	switch codec {
	case codecRaw:
		if data == nil {
			data = []byte{}
		}
	case codecZstd:
		data, err = blobDecoder.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("decode blob %s: %w", hash, err)
		}
	default:
		return nil, fmt.Errorf("blob %s has unknown codec %q", hash, codec)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("blob %s is %d bytes, expected %d", hash, len(data), size)
	}
	return data, nil
}
