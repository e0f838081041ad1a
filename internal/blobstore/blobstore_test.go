package blobstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeserver/internal/blobstore"
	"homeserver/internal/blobstore/blobstoretest"
)

func TestLocalBackendConformance(t *testing.T) {
	b, err := blobstore.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	blobstoretest.Run(t, b)
}

func TestMemoryBackendConformance(t *testing.T) {
	blobstoretest.Run(t, blobstore.NewMemoryBackend())
}

func TestLocalBackendRejectsEscapingKeys(t *testing.T) {
	root := t.TempDir()
	b, err := blobstore.NewLocalBackend(root)
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"", "/etc/passwd", "../outside", "owner/../../outside", "tmp/x", "."} {
		_, err := b.OpenWrite(ctx, key)
		assert.Error(t, err, "key %q", key)
	}
}

func TestLocalBackendAbortLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	b, err := blobstore.NewLocalBackend(root)
	require.NoError(t, err)

	w, err := b.OpenWrite(context.Background(), "owner/partial")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	entries, err := os.ReadDir(filepath.Join(root, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestByteRangeResolve(t *testing.T) {
	r, err := blobstore.ByteRange{Offset: 5, Length: 100}.Resolve(10)
	require.NoError(t, err)
	assert.Equal(t, blobstore.ByteRange{Offset: 5, Length: 5}, r)

	r, err = blobstore.FullRange.Resolve(10)
	require.NoError(t, err)
	assert.Equal(t, blobstore.ByteRange{Offset: 0, Length: 10}, r)

	_, err = blobstore.ByteRange{Offset: 11, Length: 1}.Resolve(10)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := blobstore.NewRegistry()
	_, err := reg.Default()
	assert.Error(t, err)

	mem := blobstore.NewMemoryBackend()
	other := blobstore.NewMemoryBackendWithID("archive")
	require.NoError(t, reg.Register(mem))
	require.NoError(t, reg.Register(other))
	assert.Error(t, reg.Register(blobstore.NewMemoryBackend()), "duplicate id")

	def, err := reg.Default()
	require.NoError(t, err)
	assert.Equal(t, blobstore.MemoryID, def.ID())

	require.NoError(t, reg.SetDefault("archive"))
	def, err = reg.Default()
	require.NoError(t, err)
	assert.Equal(t, "archive", def.ID())

	_, err = reg.Get("s3")
	assert.Error(t, err)
	assert.Equal(t, []string{"archive", blobstore.MemoryID}, reg.IDs())
}
