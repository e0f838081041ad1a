package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"homeserver/internal/blobstore"
	"homeserver/internal/models"
	"homeserver/internal/store"
)

// frame is one unit handed from the stream consumer to the writer. The
// stream ends with a frame whose eof is set; a channel that closes without
// one means the upload was cut short.
type frame struct {
	data []byte
	eof  bool
}

// ReadInterrupter is implemented by request bodies whose blocked Read can
// be released, so a failing writer does not wait on a slow client.
type ReadInterrupter interface {
	InterruptRead() error
}

// ingest runs the stream consumer and the writer as a pair. The first error
// of either side cancels the other and is the one returned.
func (s *Service) ingest(ctx context.Context, req PutRequest, path models.Path) (entry, superseded *models.Entry, err error) {
	g, gctx := errgroup.WithContext(ctx)
	frames := make(chan frame, s.cfg.IngestBuffer)

	g.Go(func() error {
		return consume(gctx, req.Body, frames, s.cfg.ChunkSize)
	})
	g.Go(func() error {
		var werr error
		entry, superseded, werr = s.write(gctx, req, path, frames)
		if werr != nil {
			if ri, ok := req.Body.(ReadInterrupter); ok {
				_ = ri.InterruptRead()
			}
		}
		return werr
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrStreamAborted, err)
		}
		return nil, nil, classify("ingest", err)
	}
	return entry, superseded, nil
}

// consume reads body in chunks and hands them to the writer. It closes
// frames when it returns.
func consume(ctx context.Context, body io.Reader, frames chan<- frame, chunkSize int) error {
	defer close(frames)
	send := func(f frame) error {
		select {
		case frames <- f:
			return nil
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
	for {
		buf := make([]byte, chunkSize)
		n, err := readChunk(body, buf)
		if n > 0 {
			if serr := send(frame{data: buf[:n]}); serr != nil {
				return serr
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return send(frame{eof: true})
		default:
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return fmt.Errorf("%w: read body: %w", ErrStreamAborted, err)
		}
	}
}

// readChunk fills buf from r. Unlike io.ReadFull it keeps the reader's own
// error: only a bare io.EOF ends the body cleanly, while a reader reporting
// io.ErrUnexpectedEOF was truncated and must not be committed.
func readChunk(r io.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// pendingObject is an external object being written for one attempt.
type pendingObject struct {
	backend blobstore.Backend
	key     string
	handle  blobstore.WriteHandle
}

// write pulls frames, hashes them and places the bytes. Content up to the
// inline threshold stays in memory; the first frame that crosses it opens
// an external object and everything buffered so far is flushed into it.
// Neither a transaction nor a writer slot is held while frames are
// awaited; slots cover only the backend writes and the final commit.
func (s *Service) write(ctx context.Context, req PutRequest, path models.Path, frames <-chan frame) (*models.Entry, *models.Entry, error) {
	hasher := models.NewHasher()
	var (
		inline bytes.Buffer
		ext    *pendingObject
	)
	fail := func(err error) (*models.Entry, *models.Entry, error) {
		if ext != nil {
			s.discard(ctx, ext)
		}
		return nil, nil, err
	}

	for done := false; !done; {
		var (
			f  frame
			ok bool
		)
		select {
		case f, ok = <-frames:
		case <-ctx.Done():
			return fail(context.Cause(ctx))
		}
		switch {
		case !ok:
			return fail(fmt.Errorf("%w: stream closed before end of body", ErrStreamAborted))
		case f.eof:
			done = true
			continue
		}

		_, _ = hasher.Write(f.data)
		size := hasher.Len()
		if s.cfg.MaxFileSize > 0 && size > s.cfg.MaxFileSize {
			return fail(fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.cfg.MaxFileSize))
		}
		if req.ExpectedLength != nil && size > *req.ExpectedLength {
			return fail(fmt.Errorf("%w: body longer than the declared %d bytes", ErrContentMismatch, *req.ExpectedLength))
		}

		if ext == nil && size <= s.cfg.InlineThreshold {
			inline.Write(f.data)
			continue
		}
		err := s.writers.Do(ctx, func() error {
			if ext == nil {
				opened, err := s.openPending(ctx, req.Owner)
				if err != nil {
					return err
				}
				ext = opened
				if _, err := ext.handle.Write(inline.Bytes()); err != nil {
					return storageIO("write external object", err)
				}
				inline = bytes.Buffer{}
			}
			if _, err := ext.handle.Write(f.data); err != nil {
				return storageIO("write external object", err)
			}
			return nil
		})
		if err != nil {
			return fail(err)
		}
	}

	hash := hasher.Sum()
	length := hasher.Len()
	if req.ExpectedLength != nil && length != *req.ExpectedLength {
		return fail(fmt.Errorf("%w: received %d bytes, declared %d", ErrContentMismatch, length, *req.ExpectedLength))
	}
	if req.ExpectedHash != nil && *req.ExpectedHash != hash {
		return fail(fmt.Errorf("%w: received hash %s, declared %s", ErrContentMismatch, hash, req.ExpectedHash))
	}

	now := s.now().UTC()
	entry := &models.Entry{
		Owner: req.Owner,
		Path:  path,
		Metadata: models.FileMetadata{
			Hash:        hash,
			Length:      length,
			ContentType: req.ContentType,
			CreatedAt:   now,
			ModifiedAt:  now,
		},
	}
	var superseded *models.Entry
	err := s.writers.Do(ctx, func() error {
		var data []byte
		if ext != nil {
			if err := ext.handle.Commit(); err != nil {
				return storageIO("commit external object", err)
			}
			entry.Location = models.ExternalLocation(ext.backend.ID(), ext.key)
		} else {
			entry.Location = models.InlineLocation(hash)
			data = inline.Bytes()
		}

		var err error
		superseded, err = s.entries.PutEntry(ctx, entry, data)
		switch {
		case errors.Is(err, store.ErrPendingObjectMissing):
			return fmt.Errorf("%w: %v", ErrStreamAborted, err)
		case err != nil:
			return storageIO("commit entry", err)
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}
	return entry, superseded, nil
}

// openPending journals a fresh object key before any byte reaches the
// backend, so a crash mid-upload leaves a marker the collector can act on.
func (s *Service) openPending(ctx context.Context, owner models.PublicKey) (*pendingObject, error) {
	backend, err := s.backends.Default()
	if err != nil {
		return nil, storageIO("select backend", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, storageIO("generate object key", err)
	}
	key := string(owner) + "/" + id.String()
	if err := s.orphans.RecordPendingObject(ctx, backend.ID(), key); err != nil {
		return nil, storageIO("record pending object", err)
	}
	handle, err := backend.OpenWrite(ctx, key)
	if err != nil {
		_ = s.orphans.ForgetOrphan(context.WithoutCancel(ctx), backend.ID(), key)
		return nil, storageIO("open external object", err)
	}
	return &pendingObject{backend: backend, key: key, handle: handle}, nil
}

// discard drops the object of a failed attempt. If the backend refuses the
// delete, the marker is upgraded so the collector retries it right away.
func (s *Service) discard(ctx context.Context, obj *pendingObject) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	logger := s.logger.With("backend", obj.backend.ID(), "key", obj.key)
	if err := obj.handle.Abort(); err != nil {
		logger.Warn("abort external write", "error", err)
	}
	if err := obj.backend.Delete(ctx, obj.key); err != nil {
		logger.Warn("delete failed upload, queued for gc", "error", err)
		if qerr := s.orphans.QueueOrphan(ctx, obj.backend.ID(), obj.key, store.OrphanFailedWrite); qerr != nil {
			logger.Error("queue failed upload", "error", qerr)
		}
		return
	}
	if err := s.orphans.ForgetOrphan(ctx, obj.backend.ID(), obj.key); err != nil {
		logger.Warn("forget failed upload", "error", err)
	}
}
