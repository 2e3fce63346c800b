package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/husbylabs/warptables/warptable"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print tables as the server announces them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := root.dial(func(err error) {
				root.logger.Warn().Err(err).Msg("session interrupted")
			})
			defer client.Close()

			out := cmd.OutOrStdout()
			client.OnTable(func(t warptable.Table) {
				fmt.Fprintf(out, "%d\t%s\n", t.ID, t.Name)
			})

			if err := client.Start(ctx); err != nil {
				return fmt.Errorf("connect to %s: %w", root.cfg.Client.URL, err)
			}

			<-ctx.Done()
			return nil
		},
	}
}
