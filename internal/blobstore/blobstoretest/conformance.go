// Package blobstoretest holds a behavioural suite shared by every
// blobstore.Backend implementation.
package blobstoretest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeserver/internal/blobstore"
)

// Run exercises write, ranged read, stat and delete against b.
func Run(t *testing.T, b blobstore.Backend) {
	t.Helper()
	ctx := context.Background()
	payload := bytes.Repeat([]byte("0123456789"), 1000)

	t.Run("CommitMakesObjectVisible", func(t *testing.T) {
		key := "owner/commit"
		w, err := b.OpenWrite(ctx, key)
		require.NoError(t, err)

		_, err = b.Stat(ctx, key)
		assert.True(t, errors.Is(err, blobstore.ErrNotFound), "object must not be visible before commit")

		for off := 0; off < len(payload); off += 4096 {
			_, err := w.Write(payload[off:min(off+4096, len(payload))])
			require.NoError(t, err)
		}
		require.NoError(t, w.Commit())
		require.NoError(t, w.Abort(), "abort after commit is a no-op")

		size, err := b.Stat(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(len(payload)), size)

		rc, err := b.OpenRead(ctx, key, blobstore.FullRange)
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("RangedRead", func(t *testing.T) {
		key := "owner/ranged"
		writeObject(t, b, key, payload)

		rc, err := b.OpenRead(ctx, key, blobstore.ByteRange{Offset: 10, Length: 25})
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		assert.Equal(t, payload[10:35], got)

		rc, err = b.OpenRead(ctx, key, blobstore.ByteRange{Offset: int64(len(payload)) - 5, Length: -1})
		require.NoError(t, err)
		got, err = io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		assert.Equal(t, payload[len(payload)-5:], got)
	})

	t.Run("AbortDiscards", func(t *testing.T) {
		key := "owner/aborted"
		w, err := b.OpenWrite(ctx, key)
		require.NoError(t, err)
		_, err = w.Write(payload)
		require.NoError(t, err)
		require.NoError(t, w.Abort())

		_, err = b.Stat(ctx, key)
		assert.True(t, errors.Is(err, blobstore.ErrNotFound))
	})

	t.Run("MissingObject", func(t *testing.T) {
		_, err := b.Stat(ctx, "owner/missing")
		assert.True(t, errors.Is(err, blobstore.ErrNotFound))

		_, err = b.OpenRead(ctx, "owner/missing", blobstore.FullRange)
		assert.True(t, errors.Is(err, blobstore.ErrNotFound))
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		key := "owner/deleted"
		writeObject(t, b, key, []byte("bye"))
		require.NoError(t, b.Delete(ctx, key))
		require.NoError(t, b.Delete(ctx, key))

		_, err := b.Stat(ctx, key)
		assert.True(t, errors.Is(err, blobstore.ErrNotFound))
	})

	t.Run("EmptyObject", func(t *testing.T) {
		key := "owner/empty"
		writeObject(t, b, key, nil)
		size, err := b.Stat(ctx, key)
		require.NoError(t, err)
		assert.Zero(t, size)
	})
}

func writeObject(t *testing.T, b blobstore.Backend, key string, data []byte) {
	t.Helper()
	w, err := b.OpenWrite(context.Background(), key)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Commit())
}
