package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/storage"
)

func init() {
	storage.Register(storage.Local, New)
}

// Backend stores objects as regular files below a root directory.
type Backend struct {
	root string
}

// New creates the root directory named by settings.URI if it is missing.
func New(_ context.Context, settings storage.Settings) (storage.Backend, error) {
	root := strings.TrimPrefix(settings.URI, "file://")
	if root == "" {
		return nil, fmt.Errorf("local storage requires a root directory: %w", errs.ErrConfiguration)
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root '%s': %v: %w", root, err, errs.ErrConfiguration)
	}

	return &Backend{root: root}, nil
}

func (b *Backend) Type() storage.StorageType {
	return storage.Local
}

func (b *Backend) Bucket() string {
	return b.root
}

func (b *Backend) Close() error {
	return nil
}

func (b *Backend) PartLimits() storage.PartLimits {
	return storage.PartLimits{
		MinPartSize: 1,
		MaxPartSize: 5 * 1024 * 1024 * 1024,
		MaxParts:    10000,
	}
}

func (b *Backend) path(key string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}
	return storage.LocalPath(b.root, key), nil
}

func (b *Backend) Find(ctx context.Context, prefix string) ([]string, error) {
	infos, err := b.FindInfo(ctx, prefix)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, info.Name)
	}
	return keys, nil
}

func (b *Backend) FindInfo(ctx context.Context, prefix string) ([]storage.FileInfo, error) {
	start, err := b.path(prefix)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(start)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []storage.FileInfo{}, nil
		}
		return nil, wrapError(err, prefix)
	}
	if stat.Mode().IsRegular() {
		return []storage.FileInfo{fileInfo(prefix, stat)}, nil
	}

	infos := []storage.FileInfo{}
	err = filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}

		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		infos = append(infos, fileInfo(filepath.ToSlash(rel), info))
		return nil
	})
	if err != nil {
		return nil, wrapError(err, prefix)
	}
	return infos, nil
}

func (b *Backend) GetObject(ctx context.Context, localPath, key string) error {
	src, err := b.path(key)
	if err != nil {
		return err
	}
	return copyFile(ctx, src, localPath, key)
}

func (b *Backend) PutObject(ctx context.Context, localPath, key string) error {
	dest, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return wrapError(err, key)
	}
	return copyFile(ctx, localPath, dest, localPath)
}

func (b *Backend) CopyObject(ctx context.Context, src, dest string) error {
	from, err := b.path(src)
	if err != nil {
		return err
	}
	to, err := b.path(dest)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return wrapError(err, dest)
	}
	return copyFile(ctx, from, to, src)
}

func (b *Backend) DeleteObject(_ context.Context, key string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}

	stat, err := os.Stat(p)
	if err != nil {
		return wrapError(err, key)
	}
	if stat.IsDir() {
		return fmt.Errorf("'%s' is a directory, use recursive delete: %w", key, errs.ErrInvalidArgument)
	}

	if err := os.Remove(p); err != nil {
		return wrapError(err, key)
	}
	b.prune(filepath.Dir(p))
	return nil
}

// prune removes directories left empty by a delete, stopping at the root.
func (b *Backend) prune(dir string) {
	root := filepath.Clean(b.root)
	for dir = filepath.Clean(dir); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			return
		}
	}
}

func (b *Backend) PresignedURL(context.Context, string, time.Duration) (string, error) {
	return "", fmt.Errorf("local storage cannot presign urls: %w", errs.ErrUnsupported)
}

func fileInfo(key string, info fs.FileInfo) storage.FileInfo {
	return storage.FileInfo{
		Name:       key,
		Size:       info.Size(),
		ObjectType: "file",
		Created:    info.ModTime().UTC().Format(time.RFC3339),
		Suffix:     storage.Suffix(key),
	}
}

// tempPrefix marks in-flight writes, which listings skip.
const tempPrefix = ".opsreg-tmp-"

// copyFile writes src to a temporary file next to dest and renames it into
// place, so dest never holds a partial copy.
func copyFile(ctx context.Context, src, dest, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return wrapError(err, name)
	}
	defer in.Close()

	if stat, err := in.Stat(); err == nil && stat.IsDir() {
		return fmt.Errorf("'%s' is a directory: %w", name, errs.ErrInvalidArgument)
	}

	out, err := os.CreateTemp(filepath.Dir(dest), tempPrefix+"*")
	if err != nil {
		return wrapError(err, dest)
	}
	tmp := out.Name()

	if _, err := io.Copy(out, &contextReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		os.Remove(tmp)
		return wrapError(err, name)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return wrapError(err, dest)
	}

	if err := ctx.Err(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return wrapError(err, dest)
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

func wrapError(err error, key string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("'%s' does not exist: %w", key, errs.ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("permission denied for '%s': %v: %w", key, err, errs.ErrConfiguration)
	default:
		return fmt.Errorf("i/o failure on '%s': %v: %w", key, err, errs.ErrTransientIO)
	}
}
