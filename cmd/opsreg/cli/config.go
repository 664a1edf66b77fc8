package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	envFiles    = []string{".env", ".env.local"}
	configPaths = []string{".", "./config", "/etc/opsreg", "$HOME/.opsreg"}
)

// initConfig loads dotenv files next to every config location, then the
// config file itself. Environment variables use the OPSREG_ prefix with
// dots replaced by underscores, e.g. OPSREG_STORAGE_URI.
func initConfig(path string) error {
	loadEnvFiles(".")

	if path != "" {
		viper.SetConfigFile(path)
		loadEnvFiles(filepath.Dir(path))
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		for _, dir := range configPaths {
			viper.AddConfigPath(dir)
			loadEnvFiles(os.ExpandEnv(dir))
		}
	}

	viper.SetEnvPrefix("OPSREG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// loadEnvFiles never overrides variables that are already set; missing
// files are ignored.
func loadEnvFiles(dir string) {
	for _, name := range envFiles {
		godotenv.Load(filepath.Join(dir, name))
	}
}
