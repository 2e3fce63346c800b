package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTableCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "table <name>...",
		Short: "Resolve table names to ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := root.dial(nil)
			client.DisableAutoConnect()
			defer client.Close()

			ctx := cmd.Context()
			if err := client.Start(ctx); err != nil {
				return fmt.Errorf("connect to %s: %w", root.cfg.Client.URL, err)
			}

			for _, name := range args {
				table, err := client.GetTable(ctx, name)
				if err != nil {
					return fmt.Errorf("table %q: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", table.ID, table.Name)
			}
			return nil
		},
	}
}
