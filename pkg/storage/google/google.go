package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/storage"
)

func init() {
	storage.Register(storage.Google, New)
}

// Backend talks to Google Cloud Storage.
type Backend struct {
	client    *gcs.Client
	bucket    string
	chunkSize int
	signer    *signer
}

// signer holds an explicit service account key for V4 signing. Without it
// the client credentials are used.
type signer struct {
	email      string
	privateKey []byte
}

// New reads the following options from settings:
//
//	credentials_file, credentials_json, endpoint, no_auth ("true"),
//	signer_email, signer_private_key, chunk_size
func New(ctx context.Context, settings storage.Settings) (storage.Backend, error) {
	bucket := settings.Bucket()
	if bucket == "" {
		return nil, fmt.Errorf("gcs uri '%s' does not name a bucket: %w", settings.URI, errs.ErrConfiguration)
	}

	var opts []option.ClientOption
	switch {
	case settings.Option("no_auth") == "true":
		opts = append(opts, option.WithoutAuthentication())
	case settings.Option("credentials_file") != "":
		opts = append(opts, option.WithCredentialsFile(settings.Option("credentials_file")))
	case settings.Option("credentials_json") != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(settings.Option("credentials_json"))))
	}
	if endpoint := settings.Option("endpoint"); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %v: %w", err, errs.ErrConfiguration)
	}

	b := NewWithClient(client, bucket)
	if raw := settings.Option("chunk_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			client.Close()
			return nil, fmt.Errorf("invalid chunk_size '%s': %w", raw, errs.ErrConfiguration)
		}
		b.chunkSize = n
	}
	if email := settings.Option("signer_email"); email != "" {
		b.WithSigner(email, settings.Option("signer_private_key"))
	}
	return b, nil
}

func NewWithClient(client *gcs.Client, bucket string) *Backend {
	return &Backend{
		client:    client,
		bucket:    bucket,
		chunkSize: googleapi.DefaultUploadChunkSize,
	}
}

// WithSigner sets the service account used for presigned urls. Literal \n
// sequences in the key are turned back into newlines.
func (b *Backend) WithSigner(email, privateKey string) *Backend {
	b.signer = &signer{
		email:      email,
		privateKey: []byte(strings.ReplaceAll(privateKey, `\n`, "\n")),
	}
	return b
}

func (b *Backend) Type() storage.StorageType {
	return storage.Google
}

func (b *Backend) Bucket() string {
	return b.bucket
}

func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) PartLimits() storage.PartLimits {
	return storage.PartLimits{
		MinPartSize: 256 * 1024,
		MaxPartSize: 5 * 1024 * 1024 * 1024,
		MaxParts:    10000,
	}
}

func (b *Backend) handle() *gcs.BucketHandle {
	return b.client.Bucket(b.bucket)
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
	it := b.handle().Objects(ctx, &gcs.Query{Prefix: prefix})

	infos := []storage.FileInfo{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, wrapError(err, prefix)
		}
		if storage.IsDirMarker(attrs.Name) || !storage.MatchesPrefix(attrs.Name, prefix) {
			continue
		}

		info := storage.FileInfo{
			Name:       attrs.Name,
			Size:       attrs.Size,
			ObjectType: "file",
			Suffix:     storage.Suffix(attrs.Name),
		}
		if !attrs.Created.IsZero() {
			info.Created = attrs.Created.UTC().Format(time.RFC3339)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (b *Backend) GetObject(ctx context.Context, localPath, key string) error {
	reader, err := b.handle().Object(key).NewReader(ctx)
	if err != nil {
		return wrapError(err, key)
	}
	defer reader.Close()

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create '%s': %w", localPath, err)
	}

	_, err = io.Copy(file, reader)
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

	writer := b.handle().Object(key).NewWriter(ctx)
	writer.ChunkSize = b.chunkSize

	if _, err := io.Copy(writer, file); err != nil {
		writer.Close()
		return wrapError(err, key)
	}
	return wrapError(writer.Close(), key)
}

func (b *Backend) CopyObject(ctx context.Context, src, dest string) error {
	handle := b.handle()

	_, err := handle.Object(dest).CopierFrom(handle.Object(src)).Run(ctx)
	return wrapError(err, src)
}

func (b *Backend) DeleteObject(ctx context.Context, key string) error {
	return wrapError(b.handle().Object(key).Delete(ctx), key)
}

func (b *Backend) PresignedURL(_ context.Context, key string, expiration time.Duration) (string, error) {
	opts := &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		// The signer truncates the remaining lifetime to whole seconds.
		Expires: time.Now().Add(expiration + time.Second - time.Nanosecond),
	}

	var (
		url string
		err error
	)
	if b.signer != nil {
		opts.GoogleAccessID = b.signer.email
		opts.PrivateKey = b.signer.privateKey
		url, err = gcs.SignedURL(b.bucket, key, opts)
	} else {
		url, err = b.handle().SignedURL(key, opts)
	}
	if err != nil {
		return "", fmt.Errorf("failed to sign url for '%s': %v: %w", key, err, errs.ErrConfiguration)
	}
	return url, nil
}

func wrapError(err error, key string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *googleapi.Error
	switch {
	case errors.Is(err, gcs.ErrObjectNotExist):
		return fmt.Errorf("object '%s' does not exist: %w", key, errs.ErrNotFound)
	case errors.Is(err, gcs.ErrBucketNotExist):
		return fmt.Errorf("bucket does not exist: %v: %w", err, errs.ErrConfiguration)
	case errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound:
		return fmt.Errorf("object '%s' does not exist: %w", key, errs.ErrNotFound)
	case errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden):
		return fmt.Errorf("access denied for '%s': %v: %w", key, err, errs.ErrConfiguration)
	case errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests:
		return fmt.Errorf("gcs rejected request for '%s': %v: %w", key, err, errs.ErrInvalidArgument)
	default:
		return fmt.Errorf("gcs request for '%s' failed: %v: %w", key, err, errs.ErrTransientIO)
	}
}
