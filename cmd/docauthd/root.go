package main

import (
	"github.com/spf13/cobra"
)

// configFile is shared by every subcommand.
var configFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "docauthd",
		Short:         "Credential verification and session service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newProvisionAdminCmd())
	cmd.AddCommand(newLoadtestCmd())

	return cmd
}
