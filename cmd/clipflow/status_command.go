package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"clipflow/internal/records"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show record counts and database health",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			health := store.Health(cmd.Context())

			rows := make([][]string, 0, len(records.Statuses()))
			for _, status := range records.Statuses() {
				rows = append(rows, []string{string(status), strconv.FormatInt(stats.ByStatus[status], 10)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"STATUS", "COUNT"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			fmt.Fprintf(cmd.OutOrStdout(), "total: %d\ndatabase: %s\n", stats.Total, health.DBPath)
			if health.Error != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "database error: %s\n", health.Error)
			}
			return nil
		},
	}
}
