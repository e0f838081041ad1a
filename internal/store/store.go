package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"runtime"
	"time"

	_ "modernc.org/sqlite"
)

const (
	busyTimeoutMS   = 5000
	connMaxLifetime = 5 * time.Minute

	// timeLayout is fixed width so stored timestamps compare lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

// ReclaimPolicy decides when an inline blob whose reference count reaches
// zero is removed.
type ReclaimPolicy string

const (
	// ReclaimEager removes the blob in the same transaction that released
	// its last reference.
	ReclaimEager ReclaimPolicy = "eager"
	// ReclaimSweep leaves unreferenced blobs for SweepBlobs.
	ReclaimSweep ReclaimPolicy = "sweep"
)

// Options tunes an opened Store.
type Options struct {
	ReadConns      int
	Reclaim        ReclaimPolicy
	CompressInline bool
}

// Store wraps one SQLite database through two handles: a single-connection
// writer that serializes write transactions and a reader pool whose
// transactions each see a consistent snapshot.
type Store struct {
	writer *sql.DB
	reader *sql.DB

	reclaim  ReclaimPolicy
	compress bool
	now      func() time.Time
}

// Open opens the SQLite database and bootstraps the schema.
func Open(path string) (*Store, error) {
	return OpenWithOptions(path, Options{})
}

func OpenWithOptions(path string, opts Options) (*Store, error) {
	s, err := openHandles(path, opts)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(s.writer); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// OpenNoMigrate opens the database without applying pending migrations.
func OpenNoMigrate(path string) (*Store, error) {
	return openHandles(path, Options{})
}

func openHandles(path string, opts Options) (*Store, error) {
	opts = opts.normalize()

	writerDSN, err := sqliteDSN(path, false)
	if err != nil {
		return nil, err
	}
	writer, err := sql.Open("sqlite", writerDSN)
	if err != nil {
		return nil, err
	}
	configureDB(writer, 1)
	if err := writer.Ping(); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	readerDSN, err := sqliteDSN(path, true)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	reader, err := sql.Open("sqlite", readerDSN)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	configureDB(reader, opts.ReadConns)

	return &Store{
		writer:   writer,
		reader:   reader,
		reclaim:  opts.Reclaim,
		compress: opts.CompressInline,
		now:      time.Now,
	}, nil
}

// Close closes both database handles.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var firstErr error
	if s.reader != nil {
		firstErr = s.reader.Close()
	}
	if s.writer != nil {
		if err := s.writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Ping checks both handles.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.writer.PingContext(ctx); err != nil {
		return err
	}
	return s.reader.PingContext(ctx)
}

// MigrationPlan reports applied and pending schema migrations.
func (s *Store) MigrationPlan() (*MigrationStatus, error) {
	return MigrationPlan(s.writer)
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate() error {
	return runMigrations(s.writer)
}

func (o Options) normalize() Options {
	if o.ReadConns <= 0 {
		o.ReadConns = max(4, runtime.GOMAXPROCS(0))
	}
	if o.Reclaim == "" {
		o.Reclaim = ReclaimEager
	}
	return o
}

func configureDB(db *sql.DB, conns int) {
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	db.SetConnMaxLifetime(connMaxLifetime)
}

// sqliteDSN puts the pragmas in the DSN so every pooled connection gets them.
func sqliteDSN(path string, readOnly bool) (string, error) {
	if path == "" {
		return "", fmt.Errorf("db path is required")
	}
	query := url.Values{}
	query.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	query.Add("_pragma", "journal_mode(WAL)")
	query.Add("_pragma", "synchronous(NORMAL)")
	query.Add("_pragma", "foreign_keys(ON)")
	if readOnly {
		query.Add("_pragma", "query_only(ON)")
	} else {
		query.Set("_txlock", "immediate")
	}
	u := url.URL{Scheme: "file", Path: path, RawQuery: query.Encode()}
	return u.String(), nil
}

// withWriteTx runs fn inside one write transaction.
func (s *Store) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, value)
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return formatTime(*value)
}

func parseNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	parsed, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
