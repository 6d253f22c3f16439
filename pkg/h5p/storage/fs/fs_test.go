package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-h5p/pkg/h5p"
)

func TestFSBackend_BasicOps(t *testing.T) {
	tmp := t.TempDir()
	backend, err := New(Config{BaseDir: tmp})
	require.NoError(t, err)

	ctx := context.Background()
	key := "libraries/H5P.MultiChoice-1.16/js/multichoice.js"
	data := []byte("hello fs")

	require.NoError(t, backend.Upload(ctx, key, bytes.NewReader(data)))

	exists, err := backend.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := backend.Download(ctx, key)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, got)

	require.NoError(t, backend.Delete(ctx, key))
	_, err = os.Stat(filepath.Join(tmp, key))
	assert.True(t, os.IsNotExist(err))

	// empty parent directories are removed, the base directory is kept
	_, err = os.Stat(filepath.Join(tmp, "libraries"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(tmp)
	assert.NoError(t, err)
}

func TestFSBackend_NotFound(t *testing.T) {
	backend, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = backend.Download(ctx, "missing.h5p")
	assert.ErrorIs(t, err, h5p.ErrBlobNotFound)
	assert.ErrorIs(t, backend.Delete(ctx, "missing.h5p"), h5p.ErrBlobNotFound)

	exists, err := backend.Exists(ctx, "missing.h5p")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFSBackend_RejectsEscapingKeys(t *testing.T) {
	backend, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	assert.Error(t, backend.Upload(ctx, "../outside.txt", bytes.NewReader([]byte("x"))))
	_, err = backend.Download(ctx, "../../etc/passwd")
	assert.Error(t, err)
	_, err = backend.Exists(ctx, "")
	assert.Error(t, err)
}

func TestFSBackend_RequiresBaseDir(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestFSBackend_UploadFailureLeavesNoFile(t *testing.T) {
	backend, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()
	key := "packages/broken.h5p"

	err = backend.Upload(ctx, key, io.MultiReader(bytes.NewReader([]byte("partial")), failingReader{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	exists, err := backend.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}
