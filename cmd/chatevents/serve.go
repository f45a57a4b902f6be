package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chatevents/internal/app"
	"chatevents/pkg/logger"
)

func newServeCmd() *cobra.Command {
	var (
		sf   storageFlags
		addr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the store with background migration, retention and the diagnostics listener",
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := sf.toConfig(cmd)
			flags.Addr = addr
			cfg, src, err := sf.loadFlags(flags)
			if err != nil {
				return err
			}
			logger.Info("effective_config_loaded", "source", src.String(), "addr", cfg.Addr(), "engine", cfg.Storage.Engine, "path", cfg.Storage.Path)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, src, versionString())
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", "", "diagnostics listen address (host:port)")
	return cmd
}
