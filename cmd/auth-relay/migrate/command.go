package migrate

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/auth-relay/internal/business"
	"github.com/openkcm/auth-relay/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"migrate",
		"Auth Relay migrations",
		"Applies the tenant directory migrations to the configured database",
		buildInfo,
		cmdutils.RunAsJob,
		business.MigrateMain,
	)
}
