package agent

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/mwantia/opsreg/internal/config/server"
	"github.com/mwantia/opsreg/pkg/db/models"
	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/log"
	"github.com/mwantia/opsreg/pkg/storage"
)

func testConfig(t *testing.T) *config.BaseServerConfig {
	t.Helper()
	dir := t.TempDir()

	cfg := config.GetServerDefault()
	cfg.Storage.URI = filepath.Join(dir, "artifacts")
	cfg.Registry.ConnectionURI = "sqlite://" + filepath.Join(dir, "registry.db")
	cfg.Upload.ChunkSize = 4
	return &cfg
}

func TestAgentEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	agent := newAgent(cfg, log.NewWriterLogger("opsreg", "error", io.Discard))
	require.NoError(t, agent.Setup(ctx))
	defer agent.Shutdown(ctx)

	local := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, os.WriteFile(local, []byte("weights"), 0o644))

	fs := agent.Storage()
	require.NoError(t, fs.Put(ctx, local, "artifacts/model-v1/model.bin", false))

	exists, err := fs.Exists(ctx, "artifacts/model-v1/model.bin")
	require.NoError(t, err)
	assert.True(t, exists)

	registry := agent.Registry()
	data := &models.DataCard{CardBase: models.CardBase{Name: "churn-data", Repository: "team-a", Version: "1.0.0"}}
	require.NoError(t, registry.InsertCard(ctx, data))

	card := &models.ModelCard{
		CardBase:    models.CardBase{Name: "churn", Repository: "team-a", Version: "1.0.0"},
		DataCardUID: data.UID,
	}
	require.NoError(t, registry.InsertCard(ctx, card))

	latest, err := registry.LatestCard(ctx, models.RegistryModel, "churn", "team-a", "1")
	require.NoError(t, err)
	assert.Equal(t, card.UID, latest.Base().UID)

	_, err = fs.GeneratePresignedURL(ctx, "artifacts/model-v1/model.bin", 600)
	assert.ErrorIs(t, err, errs.ErrUnsupported)

	uploads := agent.Uploads()
	_, err = uploads.Create(ctx, "artifacts/model-v1/extra.bin", 0, 6)
	require.NoError(t, err)
	_, done, err := uploads.UploadChunk(ctx, "artifacts/model-v1/extra.bin", []byte("abcd"))
	require.NoError(t, err)
	assert.False(t, done)
	path, done, err := uploads.UploadChunk(ctx, "artifacts/model-v1/extra.bin", []byte("ef"))
	require.NoError(t, err)
	assert.True(t, done)

	out := filepath.Join(t.TempDir(), "extra.bin")
	require.NoError(t, fs.Get(ctx, out, path, false))
	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("abcdef"), content))

	require.NoError(t, agent.Shutdown(ctx))
	assert.Nil(t, agent.Registry())
}

func TestAgentSetupRejectsBadRegistry(t *testing.T) {
	cfg := testConfig(t)
	cfg.Registry.ConnectionURI = "oracle://db/registry"

	agent := newAgent(cfg, log.NewWriterLogger("opsreg", "error", io.Discard))
	err := agent.Setup(context.Background())
	assert.ErrorIs(t, err, errs.ErrConfiguration)
	assert.NoError(t, agent.Shutdown(context.Background()))
}

func TestNewStoragePresignsOnS3(t *testing.T) {
	ctx := context.Background()

	fs, err := NewStorage(ctx, config.StorageServerConfig{
		URI:  "s3://opsreg-artifacts",
		Type: "s3",
		Options: map[string]string{
			"region":            "eu-central-1",
			"access_key_id":     "AKIAOPSREGTEST",
			"secret_access_key": "opsreg-secret",
		},
	}, log.NewWriterLogger("storage", "error", io.Discard))
	require.NoError(t, err)
	defer fs.Close()

	assert.Equal(t, storage.AWS, fs.Type())

	url, err := fs.GeneratePresignedURL(ctx, "artifacts/model-v1/model.bin", 600)
	require.NoError(t, err)
	assert.Contains(t, url, "X-Amz-Expires=600")
	assert.Contains(t, url, "artifacts/model-v1/model.bin")
}
