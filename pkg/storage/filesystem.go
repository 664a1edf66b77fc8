package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/log"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 8

// FileSystem is the backend agnostic storage facade. It normalizes paths,
// expands recursive operations into per-object calls and forwards them to
// the Backend chosen from Settings.
type FileSystem struct {
	backend     Backend
	settings    Settings
	log         log.LoggerService
	concurrency int
}

type Option func(*FileSystem)

func WithLogger(logger log.LoggerService) Option {
	return func(f *FileSystem) {
		f.log = logger
	}
}

// WithConcurrency bounds the number of objects transferred in parallel by
// recursive operations.
func WithConcurrency(n int) Option {
	return func(f *FileSystem) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// NewFileSystem builds the backend selected by settings.Type, falling back
// to the scheme of settings.URI when the type is empty.
func NewFileSystem(ctx context.Context, settings Settings, opts ...Option) (*FileSystem, error) {
	if settings.URI == "" {
		return nil, fmt.Errorf("storage uri is required: %w", errs.ErrConfiguration)
	}
	if settings.Type == "" {
		settings.Type = InferStorageType(settings.URI)
	}

	kind := settings.Type
	if settings.UsingClient {
		kind = ClientType
	}

	factory, err := lookupFactory(kind)
	if err != nil {
		if settings.UsingClient {
			return nil, fmt.Errorf("client mode requested but no '%s' backend is available: %w", ClientType, errs.ErrUnsupported)
		}
		return nil, err
	}

	backend, err := factory(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s storage backend: %w", settings.Type, err)
	}

	fsys := NewFileSystemFromBackend(backend, opts...)
	fsys.settings = settings
	return fsys, nil
}

// NewFileSystemFromBackend wraps an already constructed backend.
func NewFileSystemFromBackend(backend Backend, opts ...Option) *FileSystem {
	fsys := &FileSystem{
		backend:     backend,
		settings:    Settings{Type: backend.Type(), URI: backend.Bucket()},
		log:         log.NewWriterLogger("storage", "error", os.Stderr),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(fsys)
	}
	return fsys
}

func (f *FileSystem) Type() StorageType {
	return f.backend.Type()
}

func (f *FileSystem) Bucket() string {
	return f.backend.Bucket()
}

func (f *FileSystem) Settings() Settings {
	return f.settings
}

// Backend exposes the selected adapter.
func (f *FileSystem) Backend() Backend {
	return f.backend
}

func (f *FileSystem) Close() error {
	return f.backend.Close()
}

func (f *FileSystem) key(p string) (string, error) {
	key := NormalizeKey(f.backend.Bucket(), p)
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// Find lists every object key at or beneath path.
func (f *FileSystem) Find(ctx context.Context, path string) ([]string, error) {
	prefix, err := f.key(path)
	if err != nil {
		return nil, err
	}

	keys, err := f.backend.Find(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list '%s': %w", prefix, err)
	}

	slices.Sort(keys)
	return slices.Compact(keys), nil
}

// FindInfo lists metadata for every object at or beneath path.
func (f *FileSystem) FindInfo(ctx context.Context, path string) ([]FileInfo, error) {
	prefix, err := f.key(path)
	if err != nil {
		return nil, err
	}

	infos, err := f.backend.FindInfo(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list '%s': %w", prefix, err)
	}

	slices.SortFunc(infos, func(a, b FileInfo) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return infos, nil
}

// Exists reports whether an object, or any object beneath a prefix, exists.
func (f *FileSystem) Exists(ctx context.Context, path string) (bool, error) {
	keys, err := f.Find(ctx, path)
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// Get downloads remotePath into localPath. With recursive set every object
// beneath remotePath is downloaded, keeping its relative layout.
func (f *FileSystem) Get(ctx context.Context, localPath, remotePath string, recursive bool) error {
	prefix, err := f.key(remotePath)
	if err != nil {
		return err
	}

	if !recursive {
		f.log.Debug("Downloading '%s' to '%s'", prefix, localPath)
		if err := ensureParent(localPath); err != nil {
			return err
		}
		return f.backend.GetObject(ctx, localPath, prefix)
	}

	keys, err := f.Find(ctx, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("nothing found at '%s': %w", prefix, errs.ErrNotFound)
	}

	f.log.Debug("Downloading %d objects below '%s' to '%s'", len(keys), prefix, localPath)
	return f.each(ctx, keys, func(ctx context.Context, key string) error {
		rel, err := RelativeKey(key, prefix)
		if err != nil {
			return err
		}

		target := localPath
		if rel != "" {
			target = filepath.Join(localPath, filepath.FromSlash(rel))
		}
		if err := ensureParent(target); err != nil {
			return err
		}
		return f.backend.GetObject(ctx, target, key)
	})
}

// Put uploads localPath to remotePath. With recursive set both paths are
// treated as directories and every file below localPath is uploaded.
func (f *FileSystem) Put(ctx context.Context, localPath, remotePath string, recursive bool) error {
	prefix, err := f.key(remotePath)
	if err != nil {
		return err
	}

	stat, err := os.Stat(localPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("local path '%s' does not exist: %w", localPath, errs.ErrNotFound)
		}
		return fmt.Errorf("failed to stat '%s': %v: %w", localPath, err, errs.ErrTransientIO)
	}

	if !recursive {
		if stat.IsDir() {
			return fmt.Errorf("local path '%s' is a directory, use recursive put: %w", localPath, errs.ErrInvalidArgument)
		}
		if prefix == "" {
			return fmt.Errorf("remote path is required: %w", errs.ErrInvalidArgument)
		}

		f.log.Debug("Uploading '%s' to '%s'", localPath, prefix)
		return f.backend.PutObject(ctx, localPath, prefix)
	}

	if !stat.IsDir() {
		return fmt.Errorf("local path '%s' must be a directory for recursive put: %w", localPath, errs.ErrInvalidArgument)
	}

	files, err := localFiles(localPath)
	if err != nil {
		return err
	}

	f.log.Debug("Uploading %d files from '%s' to '%s'", len(files), localPath, prefix)
	return f.each(ctx, files, func(ctx context.Context, file string) error {
		rel, err := filepath.Rel(localPath, file)
		if err != nil {
			return fmt.Errorf("failed to resolve '%s': %w", file, err)
		}
		return f.backend.PutObject(ctx, file, JoinKey(prefix, filepath.ToSlash(rel)))
	})
}

// Copy duplicates objects inside the bucket without moving data through
// the caller.
func (f *FileSystem) Copy(ctx context.Context, src, dest string, recursive bool) error {
	srcKey, err := f.key(src)
	if err != nil {
		return err
	}
	destKey, err := f.key(dest)
	if err != nil {
		return err
	}

	if !recursive {
		f.log.Debug("Copying '%s' to '%s'", srcKey, destKey)
		return f.backend.CopyObject(ctx, srcKey, destKey)
	}

	keys, err := f.Find(ctx, srcKey)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("nothing found at '%s': %w", srcKey, errs.ErrNotFound)
	}

	f.log.Debug("Copying %d objects from '%s' to '%s'", len(keys), srcKey, destKey)
	return f.each(ctx, keys, func(ctx context.Context, key string) error {
		rel, err := RelativeKey(key, srcKey)
		if err != nil {
			return err
		}
		return f.backend.CopyObject(ctx, key, JoinKey(destKey, rel))
	})
}

// Rm deletes one object, or every object beneath path when recursive.
func (f *FileSystem) Rm(ctx context.Context, path string, recursive bool) error {
	key, err := f.key(path)
	if err != nil {
		return err
	}

	if !recursive {
		f.log.Debug("Deleting '%s'", key)
		return f.backend.DeleteObject(ctx, key)
	}

	keys, err := f.Find(ctx, key)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("nothing found at '%s': %w", key, errs.ErrNotFound)
	}

	f.log.Debug("Deleting %d objects below '%s'", len(keys), key)
	if batch, ok := f.backend.(BatchDeleter); ok {
		return batch.DeleteObjects(ctx, keys)
	}
	return f.each(ctx, keys, f.backend.DeleteObject)
}

// GeneratePresignedURL returns a time limited read URL for path.
func (f *FileSystem) GeneratePresignedURL(ctx context.Context, path string, expirationSeconds int64) (string, error) {
	key, err := f.key(path)
	if err != nil {
		return "", err
	}
	if expirationSeconds <= 0 {
		return "", fmt.Errorf("expiration must be positive, got %d: %w", expirationSeconds, errs.ErrInvalidArgument)
	}

	return f.backend.PresignedURL(ctx, key, time.Duration(expirationSeconds)*time.Second)
}

// NewMultipartUpload starts a backend upload session for path.
func (f *FileSystem) NewMultipartUpload(ctx context.Context, path string) (MultipartUpload, error) {
	key, err := f.key(path)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("upload path is required: %w", errs.ErrInvalidArgument)
	}
	return f.backend.NewMultipartUpload(ctx, key)
}

func (f *FileSystem) PartLimits() PartLimits {
	return f.backend.PartLimits()
}

func (f *FileSystem) each(ctx context.Context, items []string, fn func(context.Context, string) error) error {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(f.concurrency)

	for _, item := range items {
		group.Go(func() error {
			return fn(ctx, item)
		})
	}
	return group.Wait()
}

func ensureParent(localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", localPath, err)
	}
	return nil
}

func localFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk '%s': %w", root, err)
	}
	return files, nil
}
