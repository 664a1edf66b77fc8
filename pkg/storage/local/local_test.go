package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) *Backend {
	t.Helper()

	b, err := New(context.Background(), storage.Settings{URI: t.TempDir(), Type: storage.Local})
	require.NoError(t, err)
	return b.(*Backend)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestFindRespectsSegments(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	writeFile(t, filepath.Join(b.root, "a", "b", "x.txt"), "x")
	writeFile(t, filepath.Join(b.root, "a", "bc", "y.txt"), "y")
	require.NoError(t, os.MkdirAll(filepath.Join(b.root, "a", "empty"), 0755))

	keys, err := b.Find(ctx, "a/b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/x.txt"}, keys)

	keys, err = b.Find(ctx, "a/empty")
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = b.Find(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, keys)

	infos, err := b.FindInfo(ctx, "a/b/x.txt")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, int64(1), infos[0].Size)
	assert.Equal(t, "txt", infos[0].Suffix)
	assert.Equal(t, "file", infos[0].ObjectType)
}

func TestObjectRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	scratch := t.TempDir()

	src := filepath.Join(scratch, "model.bin")
	writeFile(t, src, "weights")

	require.NoError(t, b.PutObject(ctx, src, "models/v1/model.bin"))
	require.NoError(t, b.CopyObject(ctx, "models/v1/model.bin", "models/v2/model.bin"))

	dest := filepath.Join(scratch, "out.bin")
	require.NoError(t, b.GetObject(ctx, dest, "models/v2/model.bin"))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	require.NoError(t, b.DeleteObject(ctx, "models/v2/model.bin"))
	_, err = os.Stat(filepath.Join(b.root, "models", "v2"))
	assert.True(t, os.IsNotExist(err), "empty parent should be pruned")

	err = b.GetObject(ctx, dest, "models/v2/model.bin")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	err = b.DeleteObject(ctx, "models/v2/model.bin")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRejectsEscapingKeys(t *testing.T) {
	b := newBackend(t)

	_, err := b.Find(context.Background(), "../outside")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestPresignUnsupported(t *testing.T) {
	b := newBackend(t)

	_, err := b.PresignedURL(context.Background(), "any", 0)
	assert.ErrorIs(t, err, errs.ErrUnsupported)
}

func TestMultipartUpload(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	upload, err := b.NewMultipartUpload(ctx, "runs/1/artifacts.tar")
	require.NoError(t, err)
	assert.NotEmpty(t, upload.Token())

	require.NoError(t, upload.UploadPart(ctx, 1, []byte("abc")))
	assert.ErrorIs(t, upload.UploadPart(ctx, 3, []byte("zzz")), errs.ErrSession)
	require.NoError(t, upload.UploadPart(ctx, 2, []byte("de")))
	require.NoError(t, upload.Complete(ctx))

	data, err := os.ReadFile(filepath.Join(b.root, "runs", "1", "artifacts.tar"))
	require.NoError(t, err)
	assert.Equal(t, "abcde", string(data))

	aborted, err := b.NewMultipartUpload(ctx, "runs/1/other.tar")
	require.NoError(t, err)
	require.NoError(t, aborted.UploadPart(ctx, 1, []byte("x")))
	require.NoError(t, aborted.Abort(ctx))

	_, err = os.Stat(filepath.Join(b.root, "runs", "1", "other.tar"))
	assert.True(t, os.IsNotExist(err))
}

func TestCancelledPutLeavesNothing(t *testing.T) {
	b := newBackend(t)
	src := filepath.Join(t.TempDir(), "model.bin")
	writeFile(t, src, "weights")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.PutObject(ctx, src, "artifacts/model.bin")
	assert.ErrorIs(t, err, context.Canceled)

	keys, err := b.Find(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, keys)

	err = b.CopyObject(ctx, "artifacts/model.bin", "artifacts/copy.bin")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPutReplacesWithoutTempFiles(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	scratch := t.TempDir()

	first := filepath.Join(scratch, "v1.bin")
	second := filepath.Join(scratch, "v2.bin")
	writeFile(t, first, "first version")
	writeFile(t, second, "second")

	require.NoError(t, b.PutObject(ctx, first, "models/model.bin"))
	require.NoError(t, b.PutObject(ctx, second, "models/model.bin"))

	data, err := os.ReadFile(filepath.Join(b.root, "models", "model.bin"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Join(b.root, "models"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "model.bin", entries[0].Name())

	writeFile(t, filepath.Join(b.root, "models", tempPrefix+"partial"), "x")
	keys, err := b.Find(ctx, "models")
	require.NoError(t, err)
	assert.Equal(t, []string{"models/model.bin"}, keys)
}

func TestMultipartCompleteRenameFailure(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	// A directory at the destination makes the rename fail without EXDEV.
	require.NoError(t, os.MkdirAll(filepath.Join(b.root, "runs", "out.tar", "child"), 0755))

	upload, err := b.NewMultipartUpload(ctx, "runs/out.tar")
	require.NoError(t, err)
	require.NoError(t, upload.UploadPart(ctx, 1, []byte("abc")))

	err = upload.Complete(ctx)
	require.Error(t, err)

	info, err := os.Stat(filepath.Join(b.root, "runs", "out.tar"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
