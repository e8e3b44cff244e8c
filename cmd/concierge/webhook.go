package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/m3rciful/concierge/core/app"
	"github.com/m3rciful/concierge/core/bootstrap"
	corecmd "github.com/m3rciful/concierge/core/cmd"
	"github.com/m3rciful/concierge/core/ingress"
	"github.com/m3rciful/concierge/core/logger"
	"github.com/m3rciful/concierge/core/telegram"
)

func webhookCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Telegram webhook",
	}
	cmd.AddCommand(
		webhookSecretCmd(),
		webhookRegisterCmd(configPath),
		webhookDeleteCmd(configPath),
	)
	return cmd
}

func webhookSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "secret",
		Short: "Generate a webhook secret token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := ingress.GenerateSecret()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), s)
			return err
		},
	}
}

// withDeps loads configuration and the logger, then runs f with the shared deps.
func withDeps(ctx context.Context, configPath string, f func(context.Context, *app.Deps) error) error {
	cfg, err := corecmd.LoadConfig(runnerOptions(configPath))
	if err != nil {
		return err
	}
	if _, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg, SkipDatabase: true}); err != nil {
		return err
	}
	defer func() { _ = logger.Shutdown() }()
	deps, err := app.NewDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = deps.Close() }()
	return f(ctx, deps)
}

func webhookRegisterCmd(configPath *string) *cobra.Command {
	var (
		url  string
		drop bool
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Point Telegram at the ingress URL and publish the command menu",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeps(cmd.Context(), *configPath, func(ctx context.Context, deps *app.Deps) error {
				target := url
				if target == "" {
					target = deps.Config.Webhook.URL
				}
				secret, err := deps.WebhookSecret().Get(ctx)
				if err != nil {
					return err
				}
				reg, err := app.CommandRegistry()
				if err != nil {
					return err
				}
				opts := telegram.WebhookOptions{URL: target, Secret: secret, DropPending: drop}
				if err := deps.Telegram().RegisterWebhook(ctx, opts, reg); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "webhook registered: %s\n", target)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "public webhook URL (default webhook.url)")
	cmd.Flags().BoolVar(&drop, "drop-pending", false, "drop updates queued by Telegram")
	return cmd
}

func webhookDeleteCmd(configPath *string) *cobra.Command {
	var drop bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the webhook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDeps(cmd.Context(), *configPath, func(ctx context.Context, deps *app.Deps) error {
				if err := deps.Telegram().DeleteWebhook(ctx, drop); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "webhook deleted")
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&drop, "drop-pending", false, "drop updates queued by Telegram")
	return cmd
}
