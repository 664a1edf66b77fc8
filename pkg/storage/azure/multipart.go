package azure

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/google/uuid"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/storage"
)

// multipartUpload stages blocks and commits them as one block list.
// Uncommitted blocks are garbage collected by the service, so Abort only
// drops the local list.
type multipartUpload struct {
	mu     sync.Mutex
	client *blockblob.Client
	key    string
	token  string
	blocks []string
}

func (b *Backend) NewMultipartUpload(_ context.Context, key string) (storage.MultipartUpload, error) {
	return &multipartUpload{
		client: b.container.NewBlockBlobClient(key),
		key:    key,
		token:  uuid.NewString(),
	}, nil
}

func (u *multipartUpload) Token() string {
	return u.token
}

func (u *multipartUpload) UploadPart(ctx context.Context, partNumber int, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if partNumber != len(u.blocks)+1 {
		return fmt.Errorf("expected part %d, got %d: %w", len(u.blocks)+1, partNumber, errs.ErrSession)
	}

	// Block ids must share one length within a blob.
	id := base64.StdEncoding.EncodeToString([]byte(uuid.NewString()))
	_, err := u.client.StageBlock(ctx, id, streaming.NopCloser(bytes.NewReader(data)), nil)
	if err != nil {
		return wrapError(err, u.key)
	}

	u.blocks = append(u.blocks, id)
	return nil
}

func (u *multipartUpload) Complete(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	_, err := u.client.CommitBlockList(ctx, u.blocks, nil)
	return wrapError(err, u.key)
}

func (u *multipartUpload) Abort(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.blocks = nil
	return nil
}
