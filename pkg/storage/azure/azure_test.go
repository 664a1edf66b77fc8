package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/storage"
)

// base64("opsreg-test-key")
const testKey = "b3BzcmVnLXRlc3Qta2V5"

func newTestBackend(t *testing.T, serviceURL string) *Backend {
	t.Helper()

	cred, err := azblob.NewSharedKeyCredential("opsreg", testKey)
	require.NoError(t, err)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	require.NoError(t, err)
	return NewWithClient(client, "models")
}

func TestParseContainer(t *testing.T) {
	name, account, err := parseContainer("az://models")
	require.NoError(t, err)
	assert.Equal(t, "models", name)
	assert.Empty(t, account)

	name, account, err = parseContainer("abfss://models@opsreg.dfs.core.windows.net/")
	require.NoError(t, err)
	assert.Equal(t, "models", name)
	assert.Equal(t, "opsreg", account)

	_, _, err = parseContainer("az://")
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestPresignedURL(t *testing.T) {
	b := newTestBackend(t, "https://opsreg.blob.core.windows.net/")

	before := time.Now().UTC()
	signed, err := b.PresignedURL(context.Background(), "cards/model.json", 10*time.Minute)
	require.NoError(t, err)
	after := time.Now().UTC()

	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "opsreg.blob.core.windows.net", u.Host)
	assert.Equal(t, "/models/cards/model.json", u.Path)

	query := u.Query()
	assert.Equal(t, "r", query.Get("sp"))
	assert.NotEmpty(t, query.Get("sig"))

	expiry, err := time.Parse(time.RFC3339, query.Get("se"))
	require.NoError(t, err)
	assert.False(t, expiry.Before(before.Add(10*time.Minute).Truncate(time.Second)), "expiry %s", expiry)
	assert.False(t, expiry.After(after.Add(10*time.Minute)), "expiry %s", expiry)
}

func TestFindInfoFiltersSiblings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="utf-8"?>
<EnumerationResults ContainerName="models">
  <Prefix>a/b</Prefix>
  <Blobs>
    <Blob><Name>a/b/model.pt</Name><Properties><Content-Length>42</Content-Length></Properties></Blob>
    <Blob><Name>a/bc/model.pt</Name><Properties><Content-Length>7</Content-Length></Properties></Blob>
  </Blobs>
  <NextMarker />
</EnumerationResults>`)
	}))
	defer srv.Close()

	b := newTestBackend(t, srv.URL+"/opsreg/")

	infos, err := b.FindInfo(context.Background(), "a/b")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "a/b/model.pt", infos[0].Name)
	assert.Equal(t, int64(42), infos[0].Size)
}

func TestNewValidatesCredentials(t *testing.T) {
	_, err := New(context.Background(), storage.Settings{
		URI:     "az://models",
		Type:    storage.Azure,
		Options: map[string]string{"account_key": testKey},
	})
	assert.ErrorIs(t, err, errs.ErrConfiguration)

	b, err := New(context.Background(), storage.Settings{
		URI:     "az://models",
		Type:    storage.Azure,
		Options: map[string]string{"account_name": "opsreg", "account_key": testKey},
	})
	require.NoError(t, err)
	assert.Equal(t, "models", b.Bucket())
	assert.Equal(t, storage.Azure, b.Type())
}
