package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/m3rciful/concierge/core/app"
	"github.com/m3rciful/concierge/core/bootstrap"
	corecmd "github.com/m3rciful/concierge/core/cmd"
	coreconfig "github.com/m3rciful/concierge/core/config"
	"github.com/m3rciful/concierge/core/logger"
)

func runnerOptions(configPath string) corecmd.Options {
	return corecmd.Options{
		ConfigPath:        configPath,
		ConfigEnvVar:      configEnvVar,
		DefaultConfigPath: "config.yaml",
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook ingress HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			opts := runnerOptions(*configPath)
			opts.Bootstrap = func(ctx context.Context, cfg *coreconfig.Config) (corecmd.App, error) {
				if _, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg, SkipDatabase: true}); err != nil {
					return nil, err
				}
				deps, err := app.NewDeps(ctx, cfg)
				if err != nil {
					return nil, err
				}
				return app.NewIngress(ctx, deps)
			}
			return corecmd.Run(opts)
		},
	}
}

func workerCmd(configPath *string) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume queued updates and run onboarding",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			opts := runnerOptions(*configPath)
			opts.Bootstrap = func(ctx context.Context, cfg *coreconfig.Config) (corecmd.App, error) {
				res, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg, SkipMigrations: !migrate})
				if err != nil {
					return nil, err
				}
				deps, err := app.NewDeps(ctx, cfg)
				if err != nil {
					_ = res.Close()
					return nil, err
				}
				deps.AddCloser(res.Close)
				w, err := app.NewWorker(ctx, deps, res.DB)
				if err != nil {
					_ = deps.Close()
					return nil, err
				}
				return w, nil
			}
			return corecmd.Run(opts)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply migrations before consuming")
	return cmd
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := corecmd.LoadConfig(runnerOptions(*configPath))
			if err != nil {
				return err
			}
			defer func() { _ = logger.Shutdown() }()
			res, err := bootstrap.Run(cmd.Context(), bootstrap.Options{Config: cfg})
			if err != nil {
				return err
			}
			if err := res.Close(); err != nil {
				return fmt.Errorf("migrate: close: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return err
		},
	}
}
