package google

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/storage"
)

// multipartUpload streams parts into one resumable upload writer. The
// writer outlives the request that created it, so it runs on its own
// context and Abort cancels it. gcs.Writer keeps the resumable session
// URI private, so the token is a local uuid.
type multipartUpload struct {
	mu       sync.Mutex
	key      string
	token    string
	writer   *gcs.Writer
	cancel   context.CancelFunc
	nextPart int
}

func (b *Backend) NewMultipartUpload(ctx context.Context, key string) (storage.MultipartUpload, error) {
	uploadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	writer := b.handle().Object(key).NewWriter(uploadCtx)
	writer.ChunkSize = b.chunkSize

	return &multipartUpload{
		key:      key,
		token:    uuid.NewString(),
		writer:   writer,
		cancel:   cancel,
		nextPart: 1,
	}, nil
}

func (u *multipartUpload) Token() string {
	return u.token
}

func (u *multipartUpload) UploadPart(_ context.Context, partNumber int, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if partNumber != u.nextPart {
		return fmt.Errorf("expected part %d, got %d: %w", u.nextPart, partNumber, errs.ErrSession)
	}
	if _, err := u.writer.Write(data); err != nil {
		return wrapError(err, u.key)
	}

	u.nextPart++
	return nil
}

func (u *multipartUpload) Complete(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	defer u.cancel()

	return wrapError(u.writer.Close(), u.key)
}

func (u *multipartUpload) Abort(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.cancel()
	return abortError(u.writer.Close(), u.key)
}

// abortError drops the cancellation Close reports after Abort and keeps
// any other failure.
func abortError(err error, key string) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return wrapError(err, key)
}
