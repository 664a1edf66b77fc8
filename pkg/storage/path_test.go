package storage

import (
	"testing"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeKey(t *testing.T) {
	cases := []struct {
		bucket, in, want string
	}{
		{"bucket", "s3://bucket/models/a.bin", "models/a.bin"},
		{"bucket", "bucket/models/a.bin", "models/a.bin"},
		{"bucket", "/models//a.bin", "models/a.bin"},
		{"bucket", "models\\sub\\a.bin", "models/sub/a.bin"},
		{"bucket", "bucket", ""},
		{"bucket", "", ""},
		{"./opsreg_registries", "opsreg_registries/x", "x"},
		{"bucket", "bucket-other/x", "bucket-other/x"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeKey(c.bucket, c.in), c.in)
	}
}

func TestPrefixHelpers(t *testing.T) {
	assert.True(t, MatchesPrefix("a/b/c", "a/b"))
	assert.True(t, MatchesPrefix("a/b", "a/b"))
	assert.True(t, MatchesPrefix("a", ""))
	assert.False(t, MatchesPrefix("a/bc", "a/b"))

	rel, err := RelativeKey("a/b/c.txt", "a")
	assert.NoError(t, err)
	assert.Equal(t, "b/c.txt", rel)

	rel, err = RelativeKey("a/b", "a/b")
	assert.NoError(t, err)
	assert.Equal(t, "", rel)

	_, err = RelativeKey("x/y", "a")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	assert.Equal(t, "a/b/c", JoinKey("a/", "/b", "", "c"))
	assert.ErrorIs(t, ValidateKey("../etc"), errs.ErrInvalidArgument)
	assert.NoError(t, ValidateKey("a/..b"))
	assert.Equal(t, "json", Suffix("cards/x.json"))
	assert.True(t, IsDirMarker("dir/"))
}

func TestStorageTypes(t *testing.T) {
	kind, err := ParseStorageType("GCS")
	assert.NoError(t, err)
	assert.Equal(t, Google, kind)

	_, err = ParseStorageType("ftp")
	assert.ErrorIs(t, err, errs.ErrConfiguration)

	assert.Equal(t, AWS, InferStorageType("s3://bucket"))
	assert.Equal(t, Azure, InferStorageType("abfss://container"))
	assert.Equal(t, Local, InferStorageType("/var/lib/opsreg"))

	assert.Equal(t, "bucket", Settings{URI: "s3://bucket/prefix", Type: AWS}.Bucket())
	assert.Equal(t, "/var/lib/opsreg", Settings{URI: "file:///var/lib/opsreg"}.Bucket())
}
