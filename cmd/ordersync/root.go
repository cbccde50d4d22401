package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/ordersync/internal/app"
	"github.com/vladislavdragonenkov/ordersync/internal/version"
)

type rootOptions struct {
	configPath string
}

// newRootCommand собирает CLI: serve, run-once и version.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "ordersync",
		Short:         "Synchronizes staged integration orders into SAP Business One",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file (yaml, toml or json)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newRunOnceCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func loadConfig(opts *rootOptions) (app.Config, error) {
	cfg, err := app.Load(opts.configPath)
	if err != nil {
		return app.Config{}, err
	}
	if err := app.ConfigureLogging(cfg); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, intake API and ops endpoints until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.WithFields(log.Fields{
				"grpc_addr":    cfg.GRPCAddr,
				"metrics_addr": cfg.MetricsAddr,
				"intake_addr":  cfg.IntakeAddr,
				"interval":     cfg.SyncInterval,
				"storage":      cfg.StorageDriver,
				"erp":          cfg.ERPDriver,
			}).Info("starting ordersync")

			if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("ordersync stopped")
			return nil
		},
	}
}

func newRunOnceCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "run-once",
		Aliases: []string{"console"},
		Short:   "Run a single sync cycle over all enterprises and exit",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := app.RunOnce(ctx, cfg)
			created, updated, failed := report.Totals()
			fmt.Fprintf(cmd.OutOrStdout(), "cycle %s: created=%d updated=%d failed=%d\n", report.CycleID, created, updated, failed)
			return err
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
