package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/openkcm/common-sdk/pkg/utils"
	"github.com/spf13/cobra"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/cmd/auth-relay/apiserver"
	"github.com/openkcm/auth-relay/cmd/auth-relay/migrate"
	"github.com/openkcm/auth-relay/cmd/auth-relay/tenants"
)

// BuildInfo will be set by the build system
var BuildInfo = "{}"

func newVersionCmd(buildInfo string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build information of the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			value, err := utils.ExtractFromComplexValue(buildInfo)
			if err != nil {
				return fmt.Errorf("reading build info: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), value)

			return err
		},
	}
}

// relay bundles the root command with the shutdown grace that long running
// sub-commands get after their context is cancelled.
type relay struct {
	root  *cobra.Command
	grace time.Duration
}

func newRelay(buildInfo string) *relay {
	r := &relay{}

	r.root = &cobra.Command{
		Use:           "auth-relay",
		Short:         "Cross-subdomain credential relay and edge gatekeeper",
		Long:          "auth-relay signs users in once on the shared entry point, hands their session to the tenant subdomain with a one-time relay token and checks every page request against the identity backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	r.root.PersistentFlags().DurationVar(&r.grace, "graceful-shutdown", time.Second,
		"time the api-server keeps draining after a shutdown signal")

	r.root.AddCommand(
		newVersionCmd(buildInfo),
		apiserver.Cmd(buildInfo),
		migrate.Cmd(buildInfo),
		tenants.Cmd(buildInfo),
	)

	return r
}

func (r *relay) execute(ctx context.Context) error {
	cmd, err := r.root.ExecuteContextC(ctx)
	if err != nil {
		slogctx.Error(ctx, "auth-relay stopped with an error", "command", cmd.CommandPath(), "error", err)
		_, _ = fmt.Fprintln(r.root.ErrOrStderr(), err)

		return err
	}

	if apiserver.IsService(cmd) {
		_, _ = fmt.Fprintf(r.root.ErrOrStderr(), "Graceful shutdown in %s\n", r.grace)
		time.Sleep(r.grace)
	}

	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	if err := newRelay(BuildInfo).execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
