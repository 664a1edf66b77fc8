package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	GroupServer   = "server"
	GroupRegistry = "registry"
)

// NewRootCommand builds the opsreg command. Flags override the matching
// config keys, which in turn override OPSREG_ environment variables.
func NewRootCommand(info VersionInfo) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "opsreg",
		Short: "ML artifact registry and storage gateway",
		Long: `opsreg keeps model, data, run, audit, pipeline and project cards in a SQL
registry and moves their artifacts between local disk, S3, GCS and Azure
Blob Storage, or through a registry server when storage.using_client is set.`,
		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(path)
		},
	}

	cmd.AddGroup(
		&cobra.Group{ID: GroupServer, Title: "Server Commands:"},
		&cobra.Group{ID: GroupRegistry, Title: "Registry Commands:"},
	)

	flags := cmd.PersistentFlags()
	flags.StringVar(&path, "config", "", "config file (default is ./config.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("no-color", false, "Disables colored command output")
	flags.String("storage-uri", "", "storage root or bucket uri, e.g. s3://artifacts")
	flags.Bool("using-client", false, "route storage through the registry server files API")
	flags.String("registry-uri", "", "registry database connection uri")

	for key, name := range map[string]string{
		"log.level":               "log-level",
		"log.no_color":            "no-color",
		"storage.uri":             "storage-uri",
		"storage.using_client":    "using-client",
		"registry.connection_uri": "registry-uri",
	} {
		viper.BindPFlag(key, flags.Lookup(name))
	}

	cmd.Version = fmt.Sprintf("%s.%s", info.Version, info.Commit)

	return cmd
}
