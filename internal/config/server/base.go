package server

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

type BaseServerConfig struct {
	ShutdownTimeout string `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Log      LogServerConfig      `mapstructure:"log"      yaml:"log"`
	Storage  StorageServerConfig  `mapstructure:"storage"  yaml:"storage"`
	Upload   UploadServerConfig   `mapstructure:"upload"   yaml:"upload"`
	Registry RegistryServerConfig `mapstructure:"registry" yaml:"registry"`
}

func LoadServerConfig() (*BaseServerConfig, error) {
	cfg := &BaseServerConfig{}

	setDefaults()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *BaseServerConfig) Validate() error {
	return errors.Join(
		c.Log.Validate(),
		c.Storage.Validate(),
		c.Registry.Validate(),
	)
}
