package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryID is the backend id of the in-memory backend.
const MemoryID = "memory"

// MemoryBackend keeps objects in process memory. It is meant for tests and
// throwaway deployments.
type MemoryBackend struct {
	id      string
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithID(MemoryID)
}

func NewMemoryBackendWithID(id string) *MemoryBackend {
	return &MemoryBackend{id: id, objects: make(map[string][]byte)}
}

func (b *MemoryBackend) ID() string { return b.id }

func (b *MemoryBackend) OpenWrite(ctx context.Context, key string) (WriteHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("object key is required")
	}
	return &memoryWriteHandle{backend: b, key: key}, nil
}

func (b *MemoryBackend) OpenRead(ctx context.Context, key string, r ByteRange) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	data, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	resolved, err := r.Resolve(int64(len(data)))
	if err != nil {
		return nil, err
	}
	section := data[resolved.Offset : resolved.Offset+resolved.Length]
	return io.NopCloser(bytes.NewReader(section)), nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.objects, key)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Stat(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return int64(len(data)), nil
}

// Len returns the number of stored objects.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

type memoryWriteHandle struct {
	backend *MemoryBackend
	key     string
	buf     bytes.Buffer
	done    bool
}

func (h *memoryWriteHandle) Write(p []byte) (int, error) {
	if h.done {
		return 0, fmt.Errorf("write handle already closed")
	}
	return h.buf.Write(p)
}

func (h *memoryWriteHandle) Commit() error {
	if h.done {
		return fmt.Errorf("write handle already closed")
	}
	h.done = true
	h.backend.mu.Lock()
	h.backend.objects[h.key] = bytes.Clone(h.buf.Bytes())
	h.backend.mu.Unlock()
	return nil
}

func (h *memoryWriteHandle) Abort() error {
	h.done = true
	h.buf.Reset()
	return nil
}
