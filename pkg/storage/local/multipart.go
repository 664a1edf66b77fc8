package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/storage"
)

// multipartUpload stages parts in a temporary file and moves it into place
// on completion.
type multipartUpload struct {
	mu       sync.Mutex
	dest     string
	key      string
	file     *os.File
	nextPart int
}

func (b *Backend) NewMultipartUpload(_ context.Context, key string) (storage.MultipartUpload, error) {
	dest, err := b.path(key)
	if err != nil {
		return nil, err
	}

	file, err := os.CreateTemp("", "opsreg-upload-*")
	if err != nil {
		return nil, wrapError(err, key)
	}

	return &multipartUpload{
		dest:     dest,
		key:      key,
		file:     file,
		nextPart: 1,
	}, nil
}

func (u *multipartUpload) Token() string {
	return filepath.Base(u.file.Name())
}

func (u *multipartUpload) UploadPart(_ context.Context, partNumber int, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if partNumber != u.nextPart {
		return fmt.Errorf("expected part %d, got %d: %w", u.nextPart, partNumber, errs.ErrSession)
	}
	if _, err := u.file.Write(data); err != nil {
		return wrapError(err, u.key)
	}

	u.nextPart++
	return nil
}

func (u *multipartUpload) Complete(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	tmp := u.file.Name()
	if err := u.file.Close(); err != nil {
		os.Remove(tmp)
		return wrapError(err, u.key)
	}

	if err := os.MkdirAll(filepath.Dir(u.dest), 0755); err != nil {
		os.Remove(tmp)
		return wrapError(err, u.key)
	}

	if err := os.Rename(tmp, u.dest); err != nil {
		if !errors.Is(err, syscall.EXDEV) {
			os.Remove(tmp)
			return wrapError(err, u.key)
		}
		// Temp dir and root sit on different devices.
		defer os.Remove(tmp)
		return copyFile(ctx, tmp, u.dest, u.key)
	}
	return nil
}

func (u *multipartUpload) Abort(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.file.Close()
	if err := os.Remove(u.file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return wrapError(err, u.key)
	}
	return nil
}
