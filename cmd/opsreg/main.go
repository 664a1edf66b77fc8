package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mwantia/opsreg/cmd/opsreg/cli"
	"github.com/mwantia/opsreg/cmd/opsreg/cli/client"
	"github.com/mwantia/opsreg/cmd/opsreg/cli/server"
)

var (
	version = "0.0.1-dev"
	commit  = "main"
)

func main() {
	info := cli.VersionInfo{
		Version: version,
		Commit:  commit,
	}
	root := cli.NewRootCommand(info)

	root.AddCommand(cli.NewVersionCommand(info))

	addGroup(root, cli.GroupServer,
		server.NewAgentCommand(),
		server.NewConfigCommand(),
	)
	addGroup(root, cli.GroupRegistry,
		client.NewStorageCommand(),
		client.NewCardsCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addGroup(root *cobra.Command, group string, cmds ...*cobra.Command) {
	for _, cmd := range cmds {
		cmd.GroupID = group
		root.AddCommand(cmd)
	}
}
