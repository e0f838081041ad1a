package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio"
)

// LocalID is the backend id of the filesystem backend.
const LocalID = "fs"

// LocalBackend stores objects as files under a root directory. Writes land
// in a temporary file that is renamed into place on commit.
type LocalBackend struct {
	id   string
	root string
}

// NewLocalBackend creates a filesystem backend rooted at root.
func NewLocalBackend(root string) (*LocalBackend, error) {
	return NewLocalBackendWithID(LocalID, root)
}

func NewLocalBackendWithID(id, root string) (*LocalBackend, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("local backend root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, "tmp"), 0o755); err != nil {
		return nil, err
	}
	return &LocalBackend{id: id, root: abs}, nil
}

func (b *LocalBackend) ID() string { return b.id }

// OpenWrite starts a new object. The pending file lives in root/tmp so the
// final rename never crosses a filesystem boundary.
func (b *LocalBackend) OpenWrite(ctx context.Context, key string) (WriteHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dst, err := b.pathFromKey(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, err
	}
	pending, err := renameio.TempFile(filepath.Join(b.root, "tmp"), dst)
	if err != nil {
		return nil, err
	}
	return &localWriteHandle{pending: pending}, nil
}

func (b *LocalBackend) OpenRead(ctx context.Context, key string, r ByteRange) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := b.pathFromKey(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	if r.IsFull() {
		return f, nil
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	resolved, err := r.Resolve(info.Size())
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &sectionReadCloser{
		Reader: io.NewSectionReader(f, resolved.Offset, resolved.Length),
		Closer: f,
	}, nil
}

// Delete removes an object. Missing files are ignored.
func (b *LocalBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := b.pathFromKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (b *LocalBackend) Stat(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	path, err := b.pathFromKey(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (b *LocalBackend) pathFromKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("object key must be relative")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || clean == "tmp" || strings.HasPrefix(clean, "tmp"+string(filepath.Separator)) ||
		strings.HasPrefix(clean, "..") || strings.Contains(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(b.root, clean), nil
}

type localWriteHandle struct {
	mu      sync.Mutex
	pending *renameio.PendingFile
	done    bool
}

func (h *localWriteHandle) Write(p []byte) (int, error) {
	return h.pending.Write(p)
}

func (h *localWriteHandle) Commit() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return fmt.Errorf("write handle already closed")
	}
	h.done = true
	if err := h.pending.CloseAtomicallyReplace(); err != nil {
		_ = h.pending.Cleanup()
		return err
	}
	return nil
}

func (h *localWriteHandle) Abort() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return nil
	}
	h.done = true
	return h.pending.Cleanup()
}

type sectionReadCloser struct {
	io.Reader
	io.Closer
}
