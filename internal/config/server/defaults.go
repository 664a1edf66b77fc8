package server

import "github.com/spf13/viper"

func GetServerDefault() BaseServerConfig {
	return BaseServerConfig{
		ShutdownTimeout: "10s",

		Log: LogServerConfig{
			Level:      "INFO",
			TimeFormat: "2006-01-02 15:04:05",
			File:       "",
			NoColor:    false,
			JSON:       false,
			NoTerminal: false,
			Rotation: LogServerRotationConfig{
				MaxSize:    128,
				MaxBackups: 5,
				MaxAge:     16,
				Compress:   false,
			},
		},

		Storage: StorageServerConfig{
			URI:         "./opsreg_registries",
			Type:        "",
			UsingClient: false,
			Concurrency: 8,
			Options:     map[string]string{},
		},

		Upload: UploadServerConfig{
			ChunkSize:      8 * 1024 * 1024,
			SessionTimeout: "30m",
		},

		Registry: RegistryServerConfig{
			ConnectionURI: "sqlite://opsreg.db",
			MaxOpenConns:  10,
			LogLevel:      "silent",
		},
	}
}

func setDefaults() {
	defaults := GetServerDefault()

	viper.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.time_format", defaults.Log.TimeFormat)
	viper.SetDefault("log.file", defaults.Log.File)
	viper.SetDefault("log.no_color", defaults.Log.NoColor)
	viper.SetDefault("log.json", defaults.Log.JSON)
	viper.SetDefault("log.no_terminal", defaults.Log.NoTerminal)
	viper.SetDefault("log.rotation.max_size", defaults.Log.Rotation.MaxSize)
	viper.SetDefault("log.rotation.max_backups", defaults.Log.Rotation.MaxBackups)
	viper.SetDefault("log.rotation.max_age", defaults.Log.Rotation.MaxAge)
	viper.SetDefault("log.rotation.compress", defaults.Log.Rotation.Compress)

	viper.SetDefault("storage.uri", defaults.Storage.URI)
	viper.SetDefault("storage.type", defaults.Storage.Type)
	viper.SetDefault("storage.using_client", defaults.Storage.UsingClient)
	viper.SetDefault("storage.concurrency", defaults.Storage.Concurrency)

	viper.SetDefault("upload.chunk_size", defaults.Upload.ChunkSize)
	viper.SetDefault("upload.session_timeout", defaults.Upload.SessionTimeout)

	viper.SetDefault("registry.connection_uri", defaults.Registry.ConnectionURI)
	viper.SetDefault("registry.max_open_conns", defaults.Registry.MaxOpenConns)
	viper.SetDefault("registry.log_level", defaults.Registry.LogLevel)
}
