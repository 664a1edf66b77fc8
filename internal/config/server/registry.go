package server

import "fmt"

// RegistryServerConfig holds the card registry database configuration.
// The dialect is inferred from the scheme of ConnectionURI.
type RegistryServerConfig struct {
	ConnectionURI string `mapstructure:"connection_uri" yaml:"connection_uri"`
	MaxOpenConns  int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	LogLevel      string `mapstructure:"log_level"      yaml:"log_level"`
}

func (c RegistryServerConfig) Validate() error {
	if c.ConnectionURI == "" {
		return fmt.Errorf("registry connection_uri is required")
	}
	return nil
}
