package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned by Stat and OpenRead for a missing object.
var ErrNotFound = errors.New("object not found")

// ByteRange selects part of an object. A negative Length reads to the end.
type ByteRange struct {
	Offset int64
	Length int64
}

// FullRange reads a whole object.
var FullRange = ByteRange{Offset: 0, Length: -1}

func (r ByteRange) IsFull() bool {
	return r.Offset == 0 && r.Length < 0
}

// Resolve clamps r to an object of the given size.
func (r ByteRange) Resolve(size int64) (ByteRange, error) {
	if r.Offset < 0 || r.Offset > size {
		return ByteRange{}, fmt.Errorf("range offset %d outside object of %d bytes", r.Offset, size)
	}
	remaining := size - r.Offset
	if r.Length < 0 || r.Length > remaining {
		r.Length = remaining
	}
	return r, nil
}

// WriteHandle receives the bytes of one object. Nothing is visible under the
// key until Commit succeeds. Abort discards everything written; calling it
// after Commit is a no-op.
type WriteHandle interface {
	io.Writer
	Commit() error
	Abort() error
}

// Backend is the capability set every external object store implements.
type Backend interface {
	ID() string
	OpenWrite(ctx context.Context, key string) (WriteHandle, error)
	OpenRead(ctx context.Context, key string, r ByteRange) (io.ReadCloser, error)
	// Delete removes an object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error
	// Stat returns the object size, or ErrNotFound.
	Stat(ctx context.Context, key string) (int64, error)
}
