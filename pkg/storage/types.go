package storage

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mwantia/opsreg/pkg/errs"
)

type StorageType string

const (
	Local  StorageType = "local"
	AWS    StorageType = "aws"
	Google StorageType = "google"
	Azure  StorageType = "azure"
)

// ParseStorageType accepts the enum names and common aliases.
func ParseStorageType(s string) (StorageType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "file":
		return Local, nil
	case "aws", "s3":
		return AWS, nil
	case "google", "gcs", "gs":
		return Google, nil
	case "azure", "az", "abfs":
		return Azure, nil
	default:
		return "", fmt.Errorf("unknown storage type '%s': %w", s, errs.ErrConfiguration)
	}
}

// InferStorageType derives the backend from the scheme of a storage uri.
func InferStorageType(uri string) StorageType {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		return AWS
	case strings.HasPrefix(uri, "gs://"):
		return Google
	case strings.HasPrefix(uri, "az://"), strings.HasPrefix(uri, "abfs://"), strings.HasPrefix(uri, "abfss://"):
		return Azure
	default:
		return Local
	}
}

// Settings is the immutable storage configuration handed to a backend
// factory. Options carries backend specific keys such as region,
// endpoint or credentials.
type Settings struct {
	URI         string
	Type        StorageType
	UsingClient bool
	Options     map[string]string
}

func (s Settings) Option(key string) string {
	if s.Options == nil {
		return ""
	}
	return s.Options[key]
}

// Bucket returns the bucket or container name for cloud uris and the
// root directory for local ones.
func (s Settings) Bucket() string {
	if s.Type == Local || s.Type == "" && InferStorageType(s.URI) == Local {
		return strings.TrimPrefix(s.URI, "file://")
	}

	u, err := url.Parse(s.URI)
	if err != nil || u.Host == "" {
		return strings.Trim(strings.SplitN(stripScheme(s.URI), "/", 2)[0], "/")
	}
	return u.Host
}

func stripScheme(uri string) string {
	if i := strings.Index(uri, "://"); i >= 0 {
		return uri[i+3:]
	}
	return uri
}

// FileInfo describes one object returned by a listing.
type FileInfo struct {
	Name       string `json:"name"        yaml:"name"`
	Size       int64  `json:"size"        yaml:"size"`
	ObjectType string `json:"object_type" yaml:"object_type"`
	Created    string `json:"created"     yaml:"created"`
	Suffix     string `json:"suffix"      yaml:"suffix"`
}

// PartLimits bounds the chunk sizes a backend accepts for multipart
// uploads. MinPartSize does not apply to the final part.
type PartLimits struct {
	MinPartSize int64
	MaxPartSize int64
	MaxParts    int
}
