package apiserver

import (
	"github.com/spf13/cobra"

	"github.com/openkcm/auth-relay/internal/business"
	"github.com/openkcm/auth-relay/internal/cmdutils"
)

const serviceAnnotation = "auth-relay/service"

func Cmd(buildInfo string) *cobra.Command {
	cmd := cmdutils.CobraCommand(
		"api-server",
		"Auth Relay API server",
		"Auth Relay API server hands credentials across tenant origins and guards the application behind the edge gatekeeper",
		buildInfo,
		cmdutils.RunAsService,
		business.Main,
	)
	cmd.Annotations = map[string]string{serviceAnnotation: "true"}

	return cmd
}

// IsService reports whether cmd serves traffic and needs time to drain on
// shutdown.
func IsService(cmd *cobra.Command) bool {
	return cmd != nil && cmd.Annotations[serviceAnnotation] == "true"
}
