// Package files implements the storage engine: it places file bytes inline
// in the metadata store or on an external backend, streams uploads through
// the ingest pipeline and serves reads, deletes and listings.
package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"runtime"
	"strings"
	"time"

	"homeserver/internal/blobstore"
	"homeserver/internal/models"
	"homeserver/internal/store"
)

const (
	DefaultInlineThreshold = 16 * 1024
	DefaultChunkSize       = 64 * 1024
	DefaultIngestBuffer    = 4
	DefaultListLimit       = 100
	DefaultListMaxLimit    = 1000
	DefaultPendingGrace    = time.Hour
	defaultGCBatchSize     = 500
	cleanupTimeout         = 30 * time.Second
	fallbackContentType    = "application/octet-stream"
)

// Authorizer decides whether the holder of a session secret may mutate
// path in owner's namespace.
type Authorizer interface {
	Authorize(ctx context.Context, sessionSecret string, owner models.PublicKey, path models.Path) error
}

// Config holds the engine tunables. Zero values take the defaults.
type Config struct {
	InlineThreshold  int64
	MaxFileSize      int64 // 0 means unlimited
	ChunkSize        int
	IngestBuffer     int
	WriteWorkers     int
	ListDefaultLimit int
	ListMaxLimit     int
	PendingGrace     time.Duration
}

func (c Config) normalize() Config {
	if c.InlineThreshold < 0 {
		c.InlineThreshold = 0
	} else if c.InlineThreshold == 0 {
		c.InlineThreshold = DefaultInlineThreshold
	}
	if c.MaxFileSize < 0 {
		c.MaxFileSize = 0
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.IngestBuffer <= 0 {
		c.IngestBuffer = DefaultIngestBuffer
	}
	if c.WriteWorkers <= 0 {
		c.WriteWorkers = runtime.GOMAXPROCS(0)
	}
	if c.ListMaxLimit <= 0 {
		c.ListMaxLimit = DefaultListMaxLimit
	}
	if c.ListDefaultLimit <= 0 {
		c.ListDefaultLimit = DefaultListLimit
	}
	c.ListDefaultLimit = min(c.ListDefaultLimit, c.ListMaxLimit)
	if c.PendingGrace <= 0 {
		c.PendingGrace = DefaultPendingGrace
	}
	return c
}

// Service orchestrates file workflows over the metadata store and the
// external backends.
type Service struct {
	entries  store.EntryStore
	orphans  store.OrphanStore
	backends *blobstore.Registry
	authz    Authorizer
	writers  *workerPool
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service. A nil logger uses slog.Default.
func NewService(entries store.EntryStore, orphans store.OrphanStore, backends *blobstore.Registry, authz Authorizer, cfg Config, logger *slog.Logger) *Service {
	cfg = cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		entries:  entries,
		orphans:  orphans,
		backends: backends,
		authz:    authz,
		writers:  newWorkerPool(cfg.WriteWorkers),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) Config() Config { return s.cfg }

// PutRequest is one upload. A nil ExpectedLength or ExpectedHash means the
// client declared none.
type PutRequest struct {
	Session        string
	Owner          models.PublicKey
	Path           string
	ContentType    string
	ExpectedLength *int64
	ExpectedHash   *models.ContentHash
	Body           io.Reader
}

// PutResult is the committed entry. Created is false for an overwrite.
type PutResult struct {
	Entry   *models.Entry
	Created bool
}

// Put validates, authorizes and streams one upload into storage. Nothing is
// visible under the path unless the whole body was received, verified and
// committed.
func (s *Service) Put(ctx context.Context, req PutRequest) (*PutResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	path, err := models.ParseWritePath(req.Path)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, req.Session, req.Owner, path); err != nil {
		return nil, err
	}
	if req.Body == nil {
		req.Body = bytes.NewReader(nil)
	}
	if req.ExpectedLength != nil && s.cfg.MaxFileSize > 0 && *req.ExpectedLength > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes declared, limit is %d", ErrTooLarge, *req.ExpectedLength, s.cfg.MaxFileSize)
	}
	req.ContentType = normalizeContentType(req.ContentType)

	entry, superseded, err := s.ingest(ctx, req, path)
	if err != nil {
		return nil, err
	}
	if superseded != nil {
		s.reclaimObject(ctx, superseded, store.OrphanSuperseded)
	}
	s.logger.Debug("file stored",
		"owner", entry.Owner,
		"path", entry.Path.String(),
		"length", entry.Metadata.Length,
		"location", entry.Location.String(),
	)
	return &PutResult{Entry: entry, Created: superseded == nil}, nil
}

// Object is an open read of a file's bytes. Range is the resolved slice
// that Body yields.
type Object struct {
	Entry *models.Entry
	Range blobstore.ByteRange
	Body  io.ReadCloser
}

// Get opens the bytes at owner/path for reading. Reads need no session.
func (s *Service) Get(ctx context.Context, owner models.PublicKey, rawPath string, rng blobstore.ByteRange) (*Object, error) {
	f, err := s.Open(ctx, owner, rawPath)
	if err != nil {
		return nil, err
	}
	return f.Read(ctx, rng)
}

// File is one committed version of a file. Its metadata and inline bytes
// come from a single snapshot, so a range checked against Entry is served
// from the same version even if the path is overwritten meanwhile.
type File struct {
	Entry *models.Entry

	svc  *Service
	data []byte
}

// Open resolves the file at owner/path without reading external bytes.
func (s *Service) Open(ctx context.Context, owner models.PublicKey, rawPath string) (*File, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	path, err := models.ParseFilePath(rawPath)
	if err != nil {
		return nil, err
	}
	entry, data, err := s.entries.GetEntryWithBlob(ctx, owner, path)
	if err != nil {
		return nil, s.readFailure(entry, err)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return &File{Entry: entry, svc: s, data: data}, nil
}

// Read opens rng of the file's bytes.
func (f *File) Read(ctx context.Context, rng blobstore.ByteRange) (*Object, error) {
	entry := f.Entry
	resolved, err := rng.Resolve(entry.Metadata.Length)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRangeNotSatisfied, err)
	}

	obj := &Object{Entry: entry, Range: resolved}
	switch entry.Location.Kind {
	case models.LocationInline:
		obj.Body = io.NopCloser(bytes.NewReader(f.data[resolved.Offset : resolved.Offset+resolved.Length]))
	case models.LocationExternal:
		body, err := f.svc.openExternal(ctx, entry, rng, resolved)
		if err != nil {
			return nil, err
		}
		obj.Body = body
	default:
		return nil, fmt.Errorf("%w: unknown location %q", ErrConsistency, entry.Location.Kind)
	}
	return obj, nil
}

func (s *Service) openExternal(ctx context.Context, entry *models.Entry, requested, resolved blobstore.ByteRange) (io.ReadCloser, error) {
	backend, err := s.backends.Get(entry.Location.BackendID)
	if err != nil {
		s.logger.Error("entry references unknown backend", "owner", entry.Owner, "path", entry.Path.String(), "backend", entry.Location.BackendID)
		return nil, fmt.Errorf("%w: %v", ErrConsistency, err)
	}
	rng := resolved
	if requested.IsFull() {
		rng = blobstore.FullRange
	}
	body, err := backend.OpenRead(ctx, entry.Location.ObjectKey, rng)
	if errors.Is(err, blobstore.ErrNotFound) {
		s.logger.Error("external object missing for committed entry",
			"owner", entry.Owner,
			"path", entry.Path.String(),
			"location", entry.Location.String(),
		)
		return nil, fmt.Errorf("%w: %s has no backing object", ErrConsistency, entry.Path)
	}
	if err != nil {
		return nil, storageIO("open external object", err)
	}
	return body, nil
}

func (s *Service) readFailure(entry *models.Entry, err error) error {
	if errors.Is(err, store.ErrBlobMissing) && entry != nil {
		s.logger.Error("inline blob missing for committed entry", "owner", entry.Owner, "path", entry.Path.String(), "error", err)
		return fmt.Errorf("%w: %v", ErrConsistency, err)
	}
	return storageIO("read entry", err)
}

// Head returns the metadata of the file at owner/path.
func (s *Service) Head(ctx context.Context, owner models.PublicKey, rawPath string) (*models.Entry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	path, err := models.ParseFilePath(rawPath)
	if err != nil {
		return nil, err
	}
	entry, err := s.entries.GetEntry(ctx, owner, path)
	if err != nil {
		return nil, storageIO("get entry", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return entry, nil
}

// Delete removes the file at owner/path. It returns ErrNotFound when there
// was nothing to delete.
func (s *Service) Delete(ctx context.Context, session string, owner models.PublicKey, rawPath string) (*models.Entry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	path, err := models.ParseWritePath(rawPath)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, session, owner, path); err != nil {
		return nil, err
	}
	deleted, err := s.entries.DeleteEntry(ctx, owner, path)
	if err != nil {
		return nil, storageIO("delete entry", err)
	}
	if deleted == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	s.reclaimObject(ctx, deleted, store.OrphanDeleted)
	s.logger.Debug("file deleted", "owner", owner, "path", path.String())
	return deleted, nil
}

// ListOptions for List. Cursor may be a pubky:// URL, an absolute path or a
// name relative to the listed directory.
type ListOptions struct {
	Reverse bool
	Limit   int
	Cursor  string
	Shallow bool
}

// List returns the paths under a directory in byte order.
func (s *Service) List(ctx context.Context, owner models.PublicKey, rawDir string, opts ListOptions) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	dir, err := models.ParseDirPath(rawDir)
	if err != nil {
		return nil, err
	}
	cursor, err := resolveCursor(dir, opts.Cursor)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.ListDefaultLimit
	}
	limit = min(limit, s.cfg.ListMaxLimit)

	exists, err := s.entries.ContainsDirectory(ctx, owner, dir)
	if err != nil {
		return nil, storageIO("check directory", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, dir)
	}
	paths, err := s.entries.List(ctx, owner, dir, store.ListOptions{
		Reverse: opts.Reverse,
		Limit:   limit,
		Cursor:  cursor,
		Shallow: opts.Shallow,
	})
	if err != nil {
		return nil, storageIO("list entries", err)
	}
	return paths, nil
}

// resolveCursor turns the accepted cursor forms into a normalized path.
func resolveCursor(dir models.Path, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if rest, ok := strings.CutPrefix(raw, "pubky://"); ok {
		_, p, found := strings.Cut(rest, "/")
		if !found {
			return "", fmt.Errorf("%w: cursor %q has no path", ErrInvalidPath, raw)
		}
		raw = "/" + p
	}
	var (
		p   models.Path
		err error
	)
	if strings.HasPrefix(raw, "/") {
		p, err = models.ParsePath(raw)
	} else {
		p, err = dir.Join(raw)
	}
	if err != nil {
		return "", fmt.Errorf("invalid cursor: %w", err)
	}
	return p.String(), nil
}

// reclaimObject deletes the external object of an entry that is no longer
// referenced. The store queued it as an orphan in the same transaction
// that dropped the reference, so a failure here is retried by the
// collector.
func (s *Service) reclaimObject(ctx context.Context, entry *models.Entry, reason string) {
	if entry.Location.Kind != models.LocationExternal {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	loc := entry.Location
	logger := s.logger.With("backend", loc.BackendID, "key", loc.ObjectKey, "reason", reason)
	backend, err := s.backends.Get(loc.BackendID)
	if err != nil {
		logger.Warn("cannot reclaim object", "error", err)
		_ = s.orphans.MarkOrphanAttempt(ctx, loc.BackendID, loc.ObjectKey, err)
		return
	}
	if err := backend.Delete(ctx, loc.ObjectKey); err != nil {
		logger.Warn("reclaim object failed, left for gc", "error", err)
		if markErr := s.orphans.MarkOrphanAttempt(ctx, loc.BackendID, loc.ObjectKey, err); markErr != nil {
			logger.Error("record reclaim failure", "error", markErr)
		}
		return
	}
	if err := s.orphans.ForgetOrphan(ctx, loc.BackendID, loc.ObjectKey); err != nil {
		logger.Warn("forget reclaimed object", "error", err)
	}
}

func (s *Service) authorize(ctx context.Context, session string, owner models.PublicKey, path models.Path) error {
	if s.authz == nil {
		return fmt.Errorf("%w: no authorizer configured", ErrUnauthorized)
	}
	if err := s.authz.Authorize(ctx, session, owner, path); err != nil {
		if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidPath) {
			return err
		}
		return storageIO("authorize", err)
	}
	return nil
}

func (s *Service) ready() error {
	if s == nil || s.entries == nil || s.orphans == nil || s.backends == nil {
		return errServiceUnavailable
	}
	return nil
}

func normalizeContentType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallbackContentType
	}
	mediaType, params, err := mime.ParseMediaType(raw)
	if err != nil {
		return fallbackContentType
	}
	return mime.FormatMediaType(mediaType, params)
}
