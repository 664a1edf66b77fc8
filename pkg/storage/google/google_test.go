package google

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/storage"
)

func newTestBackend(t *testing.T, opts ...option.ClientOption) *Backend {
	t.Helper()

	client, err := gcs.NewClient(context.Background(), append(opts, option.WithoutAuthentication())...)
	require.NoError(t, err)

	b := NewWithClient(client, "models")
	t.Cleanup(func() { b.Close() })
	return b
}

func TestPresignedURLWithSigner(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	b := newTestBackend(t).WithSigner("signer@project.iam.gserviceaccount.com", string(pemKey))

	for _, expiration := range []time.Duration{time.Second, 10 * time.Minute, 7 * 24 * time.Hour} {
		signed, err := b.PresignedURL(context.Background(), "cards/model.json", expiration)
		require.NoError(t, err)

		u, err := url.Parse(signed)
		require.NoError(t, err)
		assert.Equal(t, "/models/cards/model.json", u.Path)
		assert.Equal(t, fmt.Sprintf("%d", int(expiration.Seconds())), u.Query().Get("X-Goog-Expires"))
		assert.NotEmpty(t, u.Query().Get("X-Goog-Signature"))
	}
}

func TestFindInfoFiltersSiblings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
  "kind": "storage#objects",
  "items": [
    {"kind": "storage#object", "name": "a/b/", "bucket": "models", "size": "0"},
    {"kind": "storage#object", "name": "a/b/model.pt", "bucket": "models", "size": "42", "timeCreated": "2024-01-01T00:00:00Z"},
    {"kind": "storage#object", "name": "a/bc/model.pt", "bucket": "models", "size": "7"}
  ]
}`)
	}))
	defer srv.Close()

	b := newTestBackend(t, option.WithEndpoint(srv.URL+"/storage/v1/"))

	infos, err := b.FindInfo(context.Background(), "a/b")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "a/b/model.pt", infos[0].Name)
	assert.Equal(t, int64(42), infos[0].Size)
	assert.Equal(t, "pt", infos[0].Suffix)
}

func TestWrapError(t *testing.T) {
	assert.ErrorIs(t, wrapError(gcs.ErrObjectNotExist, "k"), errs.ErrNotFound)
	assert.ErrorIs(t, wrapError(gcs.ErrBucketNotExist, "k"), errs.ErrConfiguration)
	assert.ErrorIs(t, wrapError(fmt.Errorf("connection reset"), "k"), errs.ErrTransientIO)
	assert.NoError(t, wrapError(nil, "k"))
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), storage.Settings{URI: "gs://", Type: storage.Google})
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestAbortError(t *testing.T) {
	assert.NoError(t, abortError(nil, "runs/out.tar"))
	assert.NoError(t, abortError(context.Canceled, "runs/out.tar"))
	assert.NoError(t, abortError(fmt.Errorf("close: %w", context.Canceled), "runs/out.tar"))

	err := abortError(&googleapi.Error{Code: http.StatusServiceUnavailable}, "runs/out.tar")
	assert.ErrorIs(t, err, errs.ErrTransientIO)
	assert.Contains(t, err.Error(), "runs/out.tar")
}
