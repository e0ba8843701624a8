package tenants

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openkcm/auth-relay/internal/business"
	"github.com/openkcm/auth-relay/internal/cmdutils"
	"github.com/openkcm/auth-relay/internal/config"
)

// Cmd groups the tenant directory maintenance commands.
func Cmd(buildInfo string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Maintain the tenant directory",
	}

	var displayName string
	add := actionCmd("add <tenant>", "Add a tenant or rename an existing one", buildInfo, func(id string) business.TenantAction {
		return business.AddTenant(id, displayName)
	})
	add.Flags().StringVar(&displayName, "display-name", "", "human readable tenant name")

	cmd.AddCommand(
		add,
		actionCmd("block <tenant>", "Block a tenant", buildInfo, business.BlockTenant),
		actionCmd("unblock <tenant>", "Unblock a tenant", buildInfo, business.UnblockTenant),
		actionCmd("remove <tenant>", "Remove a tenant", buildInfo, business.RemoveTenant),
	)

	return cmd
}

func actionCmd(use, short, buildInfo string, action func(id string) business.TenantAction) *cobra.Command {
	var tenantID string

	cmd := cmdutils.CobraCommand(
		use,
		short,
		"",
		buildInfo,
		cmdutils.RunAsJob,
		func(ctx context.Context, cfg *config.Config) error {
			return business.TenantsMain(ctx, cfg, action(tenantID))
		},
	)

	cmd.Args = cobra.ExactArgs(1)
	cmd.PreRun = func(_ *cobra.Command, args []string) {
		tenantID = args[0]
	}

	return cmd
}
