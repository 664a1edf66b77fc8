package server

import (
	"fmt"

	"github.com/mwantia/opsreg/internal/agent"
	"github.com/spf13/cobra"

	config "github.com/mwantia/opsreg/internal/config/server"
)

func NewAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Start the opsreg agent",
		Long:  `Start the opsreg agent. It opens the storage backend and the card registry,
applies pending registry migrations and runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return fmt.Errorf("failed to load server configuration: %w", err)
			}

			return agent.NewAgent(cfg).Serve(cmd.Context())
		},
	}

	return cmd
}
