package main

import (
	"bufio"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newProvisionAdminCmd creates an admin credential. The password is read
// from the first line of stdin so it never appears in shell history.
func newProvisionAdminCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "provision-admin",
		Short: "Create an admin account for an allow-listed email",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return oops.Code("INPUT_INVALID").Errorf("password expected on stdin")
			}
			password := strings.TrimRight(line, "\r\n")

			rt, err := buildRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			cred, err := rt.engine.ProvisionAdmin(cmd.Context(), email, password)
			if err != nil {
				return oops.Code("PROVISION_FAILED").With("email", email).Wrap(err)
			}
			rt.logger.Info("admin provisioned", zap.String("identity", cred.Identity), zap.String("id", cred.ID))
			cmd.Printf("provisioned %s\n", cred.Identity)
			return nil
		},
	}

	bindFlags(cmd.Flags())
	cmd.Flags().StringVar(&email, "email", "", "admin email (must be in auth.admins)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
