package main

import (
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/docauth/credstore/postgres"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the credential schema",
	}
	cmd.PersistentFlags().String("database.url", "", "postgres URL")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: withMigrator(func(cmd *cobra.Command, m *postgres.Migrator, _ []string) error {
			if err := m.Up(); err != nil {
				return err
			}
			cmd.Println("migrations applied")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration (drops all credentials)",
		RunE: withMigrator(func(cmd *cobra.Command, m *postgres.Migrator, _ []string) error {
			if err := m.Down(); err != nil {
				return err
			}
			cmd.Println("migrations rolled back")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: withMigrator(func(cmd *cobra.Command, m *postgres.Migrator, _ []string) error {
			v, dirty, err := m.Version()
			if err != nil {
				return err
			}
			cmd.Printf("version %d (dirty=%t)\n", v, dirty)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied after fixing a dirty schema by hand",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m *postgres.Migrator, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").Wrap(err)
			}
			return m.Force(v)
		}),
	})

	return cmd
}

func withMigrator(run func(*cobra.Command, *postgres.Migrator, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configFile, cmd.Flags())
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return oops.Code("CONFIG_INVALID").Errorf("database.url is required")
		}

		m, err := postgres.NewMigrator(cfg.Database.URL)
		if err != nil {
			return err
		}
		defer func() { _ = m.Close() }()

		return run(cmd, m, args)
	}
}
