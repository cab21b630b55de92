package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"clipflow/internal/pipeline"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	var platforms []string
	var scheduleMode string
	var syncWait bool

	cmd := &cobra.Command{
		Use:   "start <family>",
		Short: "Claim the newest article for a family and start a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipe, err := ctx.buildPipeline()
			if err != nil {
				return err
			}

			record, err := pipe.Start(cmd.Context(), pipeline.StartRequest{
				Family:       args[0],
				Platforms:    platforms,
				ScheduleMode: scheduleMode,
				SyncWait:     syncWait,
			})
			if err != nil {
				if record != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "workflow %s created but failed to start\n", record.ID)
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "workflow %s: %s\n", record.ID, record.Status)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&platforms, "platforms", nil, "Target platforms (default from config)")
	cmd.Flags().StringVar(&scheduleMode, "schedule", "", "Schedule mode: immediate, 1h, 2h, 4h, optimal")
	cmd.Flags().BoolVar(&syncWait, "wait", false, "Poll providers synchronously instead of relying on webhooks")
	return cmd
}
