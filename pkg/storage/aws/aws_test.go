package aws

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/storage"
)

const listResponse = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>models</Name>
  <Prefix>%s</Prefix>
  <KeyCount>3</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents><Key>a/b/</Key><Size>0</Size><LastModified>2024-01-01T00:00:00.000Z</LastModified></Contents>
  <Contents><Key>a/b/model.onnx</Key><Size>42</Size><LastModified>2024-01-01T00:00:00.000Z</LastModified></Contents>
  <Contents><Key>a/bc/other.onnx</Key><Size>7</Size><LastModified>2024-01-01T00:00:00.000Z</LastModified></Contents>
</ListBucketResult>`

func newTestBackend(t *testing.T, handler http.HandlerFunc) *Backend {
	t.Helper()

	endpoint := "https://s3.us-east-1.amazonaws.com"
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		endpoint = srv.URL
	}

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
		BaseEndpoint: awssdk.String(endpoint),
		UsePathStyle: true,
	})
	return NewWithClient(client, "models")
}

func TestPresignedURL(t *testing.T) {
	b := newTestBackend(t, nil)

	url, err := b.PresignedURL(context.Background(), "a/b/model.onnx", 10*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "models/a/b/model.onnx")
	assert.Contains(t, url, "X-Amz-Expires=600")
	assert.Contains(t, url, "X-Amz-Signature=")
}

func TestFindFiltersMarkersAndSiblings(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("list-type") != "2" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, listResponse, r.URL.Query().Get("prefix"))
	})

	infos, err := b.FindInfo(context.Background(), "a/b")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "a/b/model.onnx", infos[0].Name)
	assert.Equal(t, int64(42), infos[0].Size)
	assert.Equal(t, "onnx", infos[0].Suffix)
	assert.Equal(t, "2024-01-01T00:00:00Z", infos[0].Created)
}

func TestDeleteMissingObject(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := b.DeleteObject(context.Background(), "missing.bin")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), storage.Settings{URI: "s3://", Type: storage.AWS})
	assert.ErrorIs(t, err, errs.ErrConfiguration)

	_, err = New(context.Background(), storage.Settings{
		URI:     "s3://models",
		Type:    storage.AWS,
		Options: map[string]string{"max_attempts": "zero"},
	})
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

func TestPartLimits(t *testing.T) {
	limits := (&Backend{}).PartLimits()
	assert.Equal(t, int64(5*1024*1024), limits.MinPartSize)
	assert.Equal(t, 10000, limits.MaxParts)
}
