package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"clipflow/internal/records"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage workflow records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newQueueListCommand(ctx))
	cmd.AddCommand(newQueueShowCommand(ctx))
	cmd.AddCommand(newQueueRetryCommand(ctx))
	cmd.AddCommand(newQueueClearCommand(ctx))
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow records",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}

			var statuses []records.Status
			if statusFilter != "" {
				for _, value := range strings.Split(statusFilter, ",") {
					status, ok := records.ParseStatus(value)
					if !ok {
						return fmt.Errorf("unknown status %q", value)
					}
					statuses = append(statuses, status)
				}
			}

			list, err := store.List(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no workflow records")
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, record := range list {
				rows = append(rows, []string{
					record.ID,
					record.Family,
					string(record.Status),
					record.Title,
					strconv.Itoa(record.RetryCount),
					record.UpdatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "FAMILY", "STATUS", "TITLE", "RETRIES", "UPDATED"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Comma-separated status filter")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one workflow record in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			record, err := store.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:              %s\n", record.ID)
			fmt.Fprintf(out, "Family:          %s\n", record.Family)
			fmt.Fprintf(out, "Status:          %s\n", record.Status)
			fmt.Fprintf(out, "Title:           %s\n", record.Title)
			fmt.Fprintf(out, "Persona:         %s\n", record.Persona)
			fmt.Fprintf(out, "Platforms:       %s\n", strings.Join(record.Platforms, ", "))
			fmt.Fprintf(out, "Schedule:        %s\n", record.ScheduleMode)
			fmt.Fprintf(out, "Avatar job:      %s\n", record.AvatarJobID)
			fmt.Fprintf(out, "Enhancer proj:   %s\n", record.EnhancerProjectID)
			fmt.Fprintf(out, "Avatar media:    %s\n", record.AvatarMediaURL)
			fmt.Fprintf(out, "Final media:     %s\n", record.FinalMediaURL)
			fmt.Fprintf(out, "Post:            %s\n", record.PostID)
			fmt.Fprintf(out, "Retries:         %d\n", record.RetryCount)
			fmt.Fprintf(out, "Created:         %s\n", record.CreatedAt.Local().Format(time.RFC1123))
			fmt.Fprintf(out, "Updated:         %s\n", record.UpdatedAt.Local().Format(time.RFC1123))
			if record.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:           %s\n", record.ErrorMessage)
			}
			return nil
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Reset a failed record to pending for a fresh start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			if err := store.ResetForRetry(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "record %s reset to pending\n", args[0])
			return nil
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete completed and failed records",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			removed, err := store.DeleteTerminal(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d records\n", removed)
			return nil
		},
	}
}
