package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/husbylabs/warptables/internal/app"
	"github.com/husbylabs/warptables/internal/config"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr   string
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the table server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := root.cfg
			cfg.UpdateFrom(config.Config{Server: config.ServerConfig{Addr: addr, DatabasePath: dbPath}})
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(cfg.Server, root.logger)
			if err != nil {
				return err
			}

			root.logger.Info().Str("addr", cfg.Server.Addr).Msg("starting warptables server")
			if err := application.Run(ctx); err != nil {
				return err
			}
			root.logger.Info().Msg("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path")
	return cmd
}
