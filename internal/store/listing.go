package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"

	"homeserver/internal/models"
)

const listBatchSize = 128

// ListOptions controls a directory listing. Cursor is a normalized path;
// iteration resumes strictly after it. A Limit <= 0 means unbounded.
type ListOptions struct {
	Reverse bool
	Limit   int
	Cursor  string
	Shallow bool
}

// List collects Walk into a slice.
func (s *Store) List(ctx context.Context, owner models.PublicKey, dir models.Path, opts ListOptions) ([]string, error) {
	out := make([]string, 0, min(max(opts.Limit, 0), listBatchSize))
	for p, err := range s.Walk(ctx, owner, dir, opts) {
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Walk yields the paths under dir in byte order. In shallow mode each
// immediate subdirectory is yielded once, with a trailing separator, and
// its subtree is skipped with a seek rather than scanned. All reads share
// one snapshot. The sequence can be restarted by passing the last yielded
// value as Cursor.
func (s *Store) Walk(ctx context.Context, owner models.PublicKey, dir models.Path, opts ListOptions) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !dir.IsDir() {
			yield("", fmt.Errorf("%w: %s is not a directory", models.ErrInvalidPath, dir))
			return
		}

		tx, err := s.reader.BeginTx(ctx, nil)
		if err != nil {
			yield("", err)
			return
		}
		defer func() { _ = tx.Rollback() }()

		w := newWalker(dir.String(), opts)
		emitted := 0
		for {
			batch := listBatchSize
			if opts.Limit > 0 {
				batch = min(batch, opts.Limit-emitted)
			}
			if batch <= 0 {
				return
			}
			paths, err := w.next(ctx, tx, string(owner), batch)
			if err != nil {
				yield("", err)
				return
			}
			if len(paths) == 0 {
				return
			}
			for _, p := range paths {
				if !yield(p, nil) {
					return
				}
				emitted++
			}
		}
	}
}

// ContainsDirectory reports whether any entry lives under dir.
func (s *Store) ContainsDirectory(ctx context.Context, owner models.PublicKey, dir models.Path) (bool, error) {
	if !dir.IsDir() {
		return false, fmt.Errorf("%w: %s is not a directory", models.ErrInvalidPath, dir)
	}
	var exists int
	err := s.reader.QueryRowContext(ctx, `
		SELECT 1 FROM entries
		WHERE owner = ? AND path >= ? AND path < ?
		LIMIT 1
	`, string(owner), dir.String(), upperBound(dir.String())).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// walker holds the moving edge of a listing. Forward iteration advances
// the lower bound, reverse iteration lowers the (always exclusive) upper
// bound. The fixed range [prefix, upper) is applied on every query.
type walker struct {
	prefix  string
	upper   string
	reverse bool
	shallow bool

	edge          string
	edgeInclusive bool
}

func newWalker(prefix string, opts ListOptions) *walker {
	w := &walker{
		prefix:  prefix,
		upper:   upperBound(prefix),
		reverse: opts.Reverse,
		shallow: opts.Shallow,
	}
	if w.reverse {
		w.edge = w.upper
	} else {
		w.edge = w.prefix
		w.edgeInclusive = true
	}

	cursor := opts.Cursor
	if cursor == "" {
		return w
	}
	if w.shallow && strings.HasPrefix(cursor, prefix) {
		cursor, _ = w.collapse(cursor)
	}
	w.advancePast(cursor)
	return w
}

// next returns up to limit listing items after the current edge.
func (w *walker) next(ctx context.Context, tx *sql.Tx, owner string, limit int) ([]string, error) {
	out := make([]string, 0, limit)
	for len(out) < limit {
		rows, err := w.query(ctx, tx, owner, limit-len(out))
		if err != nil {
			return nil, err
		}
		fetched := 0
		seeked := false
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				rows.Close()
				return nil, err
			}
			fetched++
			item, isDir := p, false
			if w.shallow {
				item, isDir = w.collapse(p)
			}
			out = append(out, item)
			w.advancePast(item)
			if isDir {
				// The rest of this batch may sit inside the subtree just
				// yielded. Re-query from the new edge instead.
				seeked = true
				break
			}
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if fetched == 0 || (!seeked && fetched < limit) {
			break
		}
	}
	return out, nil
}

func (w *walker) query(ctx context.Context, tx *sql.Tx, owner string, limit int) (*sql.Rows, error) {
	if w.reverse {
		return tx.QueryContext(ctx, `
			SELECT path FROM entries
			WHERE owner = ? AND path >= ? AND path < ? AND path < ?
			ORDER BY path DESC
			LIMIT ?
		`, owner, w.prefix, w.upper, w.edge, limit)
	}
	op := ">"
	if w.edgeInclusive {
		op = ">="
	}
	return tx.QueryContext(ctx, `
		SELECT path FROM entries
		WHERE owner = ? AND path >= ? AND path < ? AND path `+op+` ?
		ORDER BY path ASC
		LIMIT ?
	`, owner, w.prefix, w.upper, w.edge, limit)
}

// advancePast moves the edge beyond item. A directory item moves it past
// the whole subtree.
func (w *walker) advancePast(item string) {
	isDir := strings.HasSuffix(item, "/")
	if w.reverse {
		// Every path inside dir/ sorts after dir/, so an exclusive bound at
		// the item skips a subtree too.
		w.edge = item
		return
	}
	if isDir {
		w.edge = upperBound(item)
		w.edgeInclusive = true
		return
	}
	w.edge = item
	w.edgeInclusive = false
}

// collapse maps a path to its immediate child of the listing prefix.
func (w *walker) collapse(p string) (string, bool) {
	rest := strings.TrimPrefix(p, w.prefix)
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return w.prefix + rest[:i+1], true
	}
	return p, false
}

// upperBound returns the smallest string greater than every string that
// starts with dir. dir must end with a separator.
func upperBound(dir string) string {
	return dir[:len(dir)-1] + string(rune('/'+1))
}
