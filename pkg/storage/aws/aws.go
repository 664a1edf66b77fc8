package aws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/storage"
)

const (
	defaultRegion = "us-east-1"
	deleteBatch   = 1000
)

func init() {
	storage.Register(storage.AWS, New)
}

// Backend talks to S3 or any S3 compatible endpoint.
type Backend struct {
	client     *s3.Client
	bucket     string
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

// New reads the following options from settings:
//
//	region, endpoint, access_key_id, secret_access_key, session_token,
//	path_style ("true"), max_attempts
func New(ctx context.Context, settings storage.Settings) (storage.Backend, error) {
	bucket := settings.Bucket()
	if bucket == "" {
		return nil, fmt.Errorf("s3 uri '%s' does not name a bucket: %w", settings.URI, errs.ErrConfiguration)
	}

	region := settings.Option("region")
	if region == "" {
		region = defaultRegion
	}

	attempts := 1
	if raw := settings.Option("max_attempts"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid max_attempts '%s': %w", raw, errs.ErrConfiguration)
		}
		attempts = n
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithRetryMaxAttempts(attempts),
	}
	if key := settings.Option("access_key_id"); key != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			key, settings.Option("secret_access_key"), settings.Option("session_token"),
		)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %v: %w", err, errs.ErrConfiguration)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint := settings.Option("endpoint"); endpoint != "" {
			o.BaseEndpoint = awssdk.String(endpoint)
		}
		o.UsePathStyle = settings.Option("path_style") == "true"
	})

	return NewWithClient(client, bucket), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *s3.Client, bucket string) *Backend {
	return &Backend{
		client:     client,
		bucket:     bucket,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
	}
}

func (b *Backend) Type() storage.StorageType {
	return storage.AWS
}

func (b *Backend) Bucket() string {
	return b.bucket
}

func (b *Backend) Close() error {
	return nil
}

func (b *Backend) PartLimits() storage.PartLimits {
	return storage.PartLimits{
		MinPartSize: 5 * 1024 * 1024,
		MaxPartSize: 5 * 1024 * 1024 * 1024,
		MaxParts:    10000,
	}
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
	input := &s3.ListObjectsV2Input{
		Bucket: awssdk.String(b.bucket),
	}
	if prefix != "" {
		input.Prefix = awssdk.String(prefix)
	}

	infos := []storage.FileInfo{}
	paginator := s3.NewListObjectsV2Paginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapError(err, prefix)
		}

		for _, obj := range page.Contents {
			key := awssdk.ToString(obj.Key)
			if storage.IsDirMarker(key) || !storage.MatchesPrefix(key, prefix) {
				continue
			}

			info := storage.FileInfo{
				Name:       key,
				Size:       awssdk.ToInt64(obj.Size),
				ObjectType: "file",
				Suffix:     storage.Suffix(key),
			}
			if obj.LastModified != nil {
				info.Created = obj.LastModified.UTC().Format(time.RFC3339)
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func (b *Backend) GetObject(ctx context.Context, localPath, key string) error {
	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", localPath, err)
	}

	_, err = b.downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: awssdk.String(b.bucket),
		Key:    awssdk.String(key),
	})
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(localPath)
		return wrapError(err, key)
	}
	return nil
}

func (b *Backend) PutObject(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open '%s': %v: %w", localPath, err, errs.ErrNotFound)
	}
	defer file.Close()

	_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: awssdk.String(b.bucket),
		Key:    awssdk.String(key),
		Body:   file,
	})
	return wrapError(err, key)
}

func (b *Backend) CopyObject(ctx context.Context, src, dest string) error {
	source := (&url.URL{Path: b.bucket + "/" + src}).EscapedPath()

	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     awssdk.String(b.bucket),
		Key:        awssdk.String(dest),
		CopySource: awssdk.String(source),
	})
	return wrapError(err, src)
}

// DeleteObject fails with ErrNotFound for missing keys; S3 itself treats
// such deletes as successful.
func (b *Backend) DeleteObject(ctx context.Context, key string) error {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: awssdk.String(b.bucket),
		Key:    awssdk.String(key),
	})
	if err != nil {
		return wrapError(err, key)
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: awssdk.String(b.bucket),
		Key:    awssdk.String(key),
	})
	return wrapError(err, key)
}

func (b *Backend) DeleteObjects(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))

		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: awssdk.String(key)})
		}

		out, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: awssdk.String(b.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   awssdk.Bool(true),
			},
		})
		if err != nil {
			return wrapError(err, keys[start])
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete '%s': %s: %w",
				awssdk.ToString(first.Key), awssdk.ToString(first.Message), errs.ErrTransientIO)
		}
	}
	return nil
}

func (b *Backend) PresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	presigner := s3.NewPresignClient(b.client)

	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: awssdk.String(b.bucket),
		Key:    awssdk.String(key),
	}, s3.WithPresignExpires(expiration))
	if err != nil {
		return "", wrapError(err, key)
	}
	return req.URL, nil
}

func wrapError(err error, key string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var (
		noSuchKey    *types.NoSuchKey
		notFound     *types.NotFound
		noSuchBucket *types.NoSuchBucket
		noSuchUpload *types.NoSuchUpload
		respErr      *awshttp.ResponseError
		apiErr       smithy.APIError
	)

	switch {
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		return fmt.Errorf("object '%s' does not exist: %w", key, errs.ErrNotFound)
	case errors.As(err, &noSuchBucket):
		return fmt.Errorf("bucket does not exist: %v: %w", err, errs.ErrConfiguration)
	case errors.As(err, &noSuchUpload):
		return fmt.Errorf("upload for '%s' no longer exists: %v: %w", key, err, errs.ErrSession)
	case errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound:
		return fmt.Errorf("object '%s' does not exist: %w", key, errs.ErrNotFound)
	case errors.As(err, &respErr) && (respErr.HTTPStatusCode() == http.StatusForbidden || respErr.HTTPStatusCode() == http.StatusUnauthorized):
		return fmt.Errorf("access denied for '%s': %v: %w", key, err, errs.ErrConfiguration)
	case retry.IsErrorRetryables(retry.DefaultRetryables).IsErrorRetryable(err) == awssdk.TrueTernary:
		return fmt.Errorf("s3 request for '%s' failed: %v: %w", key, err, errs.ErrTransientIO)
	case errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient:
		return fmt.Errorf("s3 rejected request for '%s': %v: %w", key, err, errs.ErrInvalidArgument)
	default:
		return fmt.Errorf("s3 request for '%s' failed: %v: %w", key, err, errs.ErrTransientIO)
	}
}
