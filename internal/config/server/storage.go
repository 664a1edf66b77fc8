package server

import (
	"fmt"
	"time"
)

// StorageServerConfig selects and configures the artifact storage backend.
// With UsingClient set, Options must carry api_url and may carry token,
// prod_token and timeout for the registry server's files API.
type StorageServerConfig struct {
	URI         string            `mapstructure:"uri"          yaml:"uri"`
	Type        string            `mapstructure:"type"         yaml:"type"`
	UsingClient bool              `mapstructure:"using_client" yaml:"using_client"`
	Concurrency int               `mapstructure:"concurrency"  yaml:"concurrency"`
	Options     map[string]string `mapstructure:"options"      yaml:"options"`
}

// UploadServerConfig holds the resumable upload defaults.
type UploadServerConfig struct {
	ChunkSize      int64  `mapstructure:"chunk_size"      yaml:"chunk_size"`
	SessionTimeout string `mapstructure:"session_timeout" yaml:"session_timeout"`
}

func (c UploadServerConfig) Timeout() time.Duration {
	timeout, err := time.ParseDuration(c.SessionTimeout)
	if err != nil || timeout <= 0 {
		return 30 * time.Minute
	}
	return timeout
}

func (c StorageServerConfig) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("storage uri is required")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("storage concurrency must not be negative")
	}
	return nil
}
