package aws

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/storage"
)

type multipartUpload struct {
	mu       sync.Mutex
	backend  *Backend
	key      string
	uploadID string
	parts    []types.CompletedPart
}

func (b *Backend) NewMultipartUpload(ctx context.Context, key string) (storage.MultipartUpload, error) {
	out, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: awssdk.String(b.bucket),
		Key:    awssdk.String(key),
	})
	if err != nil {
		return nil, wrapError(err, key)
	}

	return &multipartUpload{
		backend:  b,
		key:      key,
		uploadID: awssdk.ToString(out.UploadId),
	}, nil
}

func (u *multipartUpload) Token() string {
	return u.uploadID
}

func (u *multipartUpload) UploadPart(ctx context.Context, partNumber int, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if partNumber != len(u.parts)+1 {
		return fmt.Errorf("expected part %d, got %d: %w", len(u.parts)+1, partNumber, errs.ErrSession)
	}

	out, err := u.backend.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        awssdk.String(u.backend.bucket),
		Key:           awssdk.String(u.key),
		UploadId:      awssdk.String(u.uploadID),
		PartNumber:    awssdk.Int32(int32(partNumber)),
		Body:          bytes.NewReader(data),
		ContentLength: awssdk.Int64(int64(len(data))),
	})
	if err != nil {
		return wrapError(err, u.key)
	}

	u.parts = append(u.parts, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: awssdk.Int32(int32(partNumber)),
	})
	return nil
}

func (u *multipartUpload) Complete(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	_, err := u.backend.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   awssdk.String(u.backend.bucket),
		Key:      awssdk.String(u.key),
		UploadId: awssdk.String(u.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: u.parts,
		},
	})
	return wrapError(err, u.key)
}

func (u *multipartUpload) Abort(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	_, err := u.backend.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   awssdk.String(u.backend.bucket),
		Key:      awssdk.String(u.key),
		UploadId: awssdk.String(u.uploadID),
	})
	return wrapError(err, u.key)
}
