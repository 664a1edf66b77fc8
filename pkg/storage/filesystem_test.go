package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/storage"
	_ "github.com/mwantia/opsreg/pkg/storage/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalFS(t *testing.T) (*storage.FileSystem, string) {
	t.Helper()

	root := filepath.Join(t.TempDir(), "registry")
	fsys, err := storage.NewFileSystem(context.Background(), storage.Settings{URI: root})
	require.NoError(t, err)
	t.Cleanup(func() { fsys.Close() })
	return fsys, root
}

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func TestRecursiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	fsys, _ := newLocalFS(t)
	assert.Equal(t, storage.Local, fsys.Type())

	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"card.json":        "{}",
		"model/weights.pt": "w",
		"model/cfg/a.yaml": "a: 1",
	})

	require.NoError(t, fsys.Put(ctx, src, "repo/model/v1", true))

	keys, err := fsys.Find(ctx, "repo/model/v1")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"repo/model/v1/card.json",
		"repo/model/v1/model/cfg/a.yaml",
		"repo/model/v1/model/weights.pt",
	}, keys)

	ok, err := fsys.Exists(ctx, "repo/model")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fsys.Exists(ctx, "repo/mod")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, fsys.Copy(ctx, "repo/model/v1", "repo/model/v2", true))

	dest := t.TempDir()
	require.NoError(t, fsys.Get(ctx, dest, "repo/model/v2", true))
	data, err := os.ReadFile(filepath.Join(dest, "model", "cfg", "a.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "a: 1", string(data))

	require.NoError(t, fsys.Rm(ctx, "repo/model/v1", true))
	keys, err = fsys.Find(ctx, "repo")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	assert.ErrorIs(t, fsys.Rm(ctx, "repo/model/v1", true), errs.ErrNotFound)
	assert.ErrorIs(t, fsys.Get(ctx, dest, "nothing/here", true), errs.ErrNotFound)
}

func TestSingleObjectOperations(t *testing.T) {
	ctx := context.Background()
	fsys, root := newLocalFS(t)

	src := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b"), 0644))

	// Paths may carry the root prefix; it is stripped.
	require.NoError(t, fsys.Put(ctx, src, root+"/datasets/data.csv", false))

	infos, err := fsys.FindInfo(ctx, "datasets")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "datasets/data.csv", infos[0].Name)
	assert.Equal(t, int64(3), infos[0].Size)

	assert.ErrorIs(t, fsys.Put(ctx, filepath.Dir(src), "datasets", false), errs.ErrInvalidArgument)
	assert.ErrorIs(t, fsys.Put(ctx, src, "datasets", true), errs.ErrInvalidArgument)
	assert.ErrorIs(t, fsys.Put(ctx, src+".missing", "x", false), errs.ErrNotFound)

	_, err = fsys.GeneratePresignedURL(ctx, "datasets/data.csv", 0)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = fsys.GeneratePresignedURL(ctx, "datasets/data.csv", 60)
	assert.ErrorIs(t, err, errs.ErrUnsupported)

	_, err = fsys.Find(ctx, "../../etc")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestNewFileSystemSelection(t *testing.T) {
	ctx := context.Background()

	_, err := storage.NewFileSystem(ctx, storage.Settings{})
	assert.ErrorIs(t, err, errs.ErrConfiguration)

	_, err = storage.NewFileSystem(ctx, storage.Settings{URI: t.TempDir(), UsingClient: true})
	assert.ErrorIs(t, err, errs.ErrUnsupported)

	_, err = storage.NewFileSystem(ctx, storage.Settings{URI: "x", Type: "ftp"})
	assert.ErrorIs(t, err, errs.ErrConfiguration)

	assert.Contains(t, storage.Registered(), storage.Local)
}

type batchBackend struct {
	storage.Backend
	deleted []string
}

func (b *batchBackend) DeleteObjects(_ context.Context, keys []string) error {
	b.deleted = append(b.deleted, keys...)
	return nil
}

func TestRecursiveRemoveUsesBatchDelete(t *testing.T) {
	ctx := context.Background()
	inner, root := newLocalFS(t)
	writeTree(t, root, map[string]string{"a/1": "1", "a/2": "2", "b/3": "3"})

	batch := &batchBackend{Backend: inner.Backend()}
	fsys := storage.NewFileSystemFromBackend(batch, storage.WithConcurrency(2))

	require.NoError(t, fsys.Rm(ctx, "a", true))
	sort.Strings(batch.deleted)
	assert.Equal(t, []string{"a/1", "a/2"}, batch.deleted)
}

func TestCancelledPutWritesNothing(t *testing.T) {
	fsys, _ := newLocalFS(t)

	src := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, os.WriteFile(src, []byte("weights"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, fsys.Put(ctx, src, "artifacts/model.bin", false), context.Canceled)

	exists, err := fsys.Exists(context.Background(), "artifacts/model.bin")
	require.NoError(t, err)
	assert.False(t, exists)
}
