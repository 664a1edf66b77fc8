package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/storage"
)

const copyPollInterval = 500 * time.Millisecond

func init() {
	storage.Register(storage.Azure, New)
}

// Backend talks to one Azure Blob Storage container.
type Backend struct {
	container *container.Client
	name      string
}

// New accepts az://<container> and abfs[s]://<container>@<account>.dfs.core.windows.net
// uris and reads the following options from settings:
//
//	connection_string, account_name, account_key, service_url
//
// Without a connection string or account key the default Azure credential
// chain is used.
func New(_ context.Context, settings storage.Settings) (storage.Backend, error) {
	name, account, err := parseContainer(settings.URI)
	if err != nil {
		return nil, err
	}
	if v := settings.Option("account_name"); v != "" {
		account = v
	}

	var client *azblob.Client
	switch {
	case settings.Option("connection_string") != "":
		client, err = azblob.NewClientFromConnectionString(settings.Option("connection_string"), nil)

	case settings.Option("account_key") != "":
		if account == "" {
			return nil, fmt.Errorf("azure account_name is required with account_key: %w", errs.ErrConfiguration)
		}
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(account, settings.Option("account_key"))
		if err == nil {
			client, err = azblob.NewClientWithSharedKeyCredential(serviceURL(settings, account), cred, nil)
		}

	default:
		if account == "" && settings.Option("service_url") == "" {
			return nil, fmt.Errorf("azure account_name or service_url is required: %w", errs.ErrConfiguration)
		}
		var cred *azidentity.DefaultAzureCredential
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err == nil {
			client, err = azblob.NewClient(serviceURL(settings, account), cred, nil)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create azure client: %v: %w", err, errs.ErrConfiguration)
	}

	return NewWithClient(client, name), nil
}

func NewWithClient(client *azblob.Client, containerName string) *Backend {
	return &Backend{
		container: client.ServiceClient().NewContainerClient(containerName),
		name:      containerName,
	}
}

func parseContainer(uri string) (string, string, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("azure uri '%s' does not name a container: %w", uri, errs.ErrConfiguration)
	}

	if u.User != nil && u.User.Username() != "" {
		account, _, _ := strings.Cut(u.Hostname(), ".")
		return u.User.Username(), account, nil
	}
	return u.Host, "", nil
}

func serviceURL(settings storage.Settings, account string) string {
	if v := settings.Option("service_url"); v != "" {
		return v
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", account)
}

func (b *Backend) Type() storage.StorageType {
	return storage.Azure
}

func (b *Backend) Bucket() string {
	return b.name
}

func (b *Backend) Close() error {
	return nil
}

func (b *Backend) PartLimits() storage.PartLimits {
	return storage.PartLimits{
		MinPartSize: 1,
		MaxPartSize: 4000 * 1024 * 1024,
		MaxParts:    50000,
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
	opts := &container.ListBlobsFlatOptions{}
	if prefix != "" {
		opts.Prefix = &prefix
	}

	infos := []storage.FileInfo{}
	pager := b.container.NewListBlobsFlatPager(opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, wrapError(err, prefix)
		}

		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			name := *item.Name
			if storage.IsDirMarker(name) || !storage.MatchesPrefix(name, prefix) {
				continue
			}

			info := storage.FileInfo{
				Name:       name,
				ObjectType: "file",
				Suffix:     storage.Suffix(name),
			}
			if props := item.Properties; props != nil {
				if props.ContentLength != nil {
					info.Size = *props.ContentLength
				}
				if props.CreationTime != nil {
					info.Created = props.CreationTime.UTC().Format(time.RFC3339)
				}
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

	_, err = b.container.NewBlobClient(key).DownloadFile(ctx, file, nil)
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

	_, err = b.container.NewBlockBlobClient(key).UploadFile(ctx, file, nil)
	return wrapError(err, key)
}

// CopyObject starts a server side copy and waits until it leaves the
// pending state.
func (b *Backend) CopyObject(ctx context.Context, src, dest string) error {
	source := b.container.NewBlobClient(src)
	target := b.container.NewBlobClient(dest)

	resp, err := target.StartCopyFromURL(ctx, source.URL(), nil)
	if err != nil {
		return wrapError(err, src)
	}

	status := resp.CopyStatus
	for status != nil && *status == blob.CopyStatusTypePending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(copyPollInterval):
		}

		props, err := target.GetProperties(ctx, nil)
		if err != nil {
			return wrapError(err, dest)
		}
		status = props.CopyStatus
	}

	if status != nil && *status != blob.CopyStatusTypeSuccess {
		return fmt.Errorf("copy of '%s' ended as %s: %w", src, *status, errs.ErrTransientIO)
	}
	return nil
}

func (b *Backend) DeleteObject(ctx context.Context, key string) error {
	_, err := b.container.NewBlobClient(key).Delete(ctx, nil)
	return wrapError(err, key)
}

// PresignedURL issues a read-only service SAS. It needs a shared key
// credential; token based clients cannot sign.
func (b *Backend) PresignedURL(_ context.Context, key string, expiration time.Duration) (string, error) {
	url, err := b.container.NewBlobClient(key).GetSASURL(
		sas.BlobPermissions{Read: true},
		time.Now().UTC().Add(expiration),
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("failed to sign url for '%s': %v: %w", key, err, errs.ErrUnsupported)
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

	var respErr *azcore.ResponseError
	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound):
		return fmt.Errorf("blob '%s' does not exist: %w", key, errs.ErrNotFound)
	case bloberror.HasCode(err, bloberror.ContainerNotFound):
		return fmt.Errorf("container does not exist: %v: %w", err, errs.ErrConfiguration)
	case bloberror.HasCode(err, bloberror.InvalidBlockList, bloberror.InvalidBlockID):
		return fmt.Errorf("block list for '%s' rejected: %v: %w", key, err, errs.ErrSession)
	case errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound:
		return fmt.Errorf("blob '%s' does not exist: %w", key, errs.ErrNotFound)
	case errors.As(err, &respErr) && (respErr.StatusCode == http.StatusUnauthorized || respErr.StatusCode == http.StatusForbidden):
		return fmt.Errorf("access denied for '%s': %v: %w", key, err, errs.ErrConfiguration)
	case errors.As(err, &respErr) && respErr.StatusCode >= 400 && respErr.StatusCode < 500 && respErr.StatusCode != http.StatusTooManyRequests:
		return fmt.Errorf("azure rejected request for '%s': %v: %w", key, err, errs.ErrInvalidArgument)
	default:
		return fmt.Errorf("azure request for '%s' failed: %v: %w", key, err, errs.ErrTransientIO)
	}
}
