package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one failsafe pass over stuck workflow records",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := ctx.buildReconciler()
			if err != nil {
				return err
			}
			report, err := rec.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
			return nil
		},
	}
}
