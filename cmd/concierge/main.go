// Command concierge runs the onboarding webhook ingress and queue worker.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/m3rciful/concierge/core/buildinfo"
)

const configEnvVar = "CONCIERGE_CONFIG"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "concierge",
		Short:         "Telegram onboarding bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default $"+configEnvVar+" or ./config.yaml)")

	root.AddCommand(
		serveCmd(&configPath),
		workerCmd(&configPath),
		migrateCmd(&configPath),
		tokenCmd(),
		webhookCmd(&configPath),
		queueCmd(&configPath),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "concierge "+buildinfo.String())
			return err
		},
	}
}
