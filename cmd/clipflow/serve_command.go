package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"clipflow/internal/daemon"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the clipflow daemon",
		Long: "Run the webhook receivers, the HTTP API, and the periodic reconcile loop " +
			"in the foreground until interrupted.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Env fallbacks (CLIPFLOW_*) are read during config load, so the
			// env file has to be applied first.
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("load env file %s: %w", envFile, err)
				}
			} else if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warn: load .env: %v\n", err)
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			store, err := ctx.ensureStore()
			if err != nil {
				return fmt.Errorf("open record store: %w", err)
			}
			pipe, err := ctx.buildPipeline()
			if err != nil {
				return fmt.Errorf("build pipeline: %w", err)
			}
			rec, err := ctx.buildReconciler()
			if err != nil {
				return fmt.Errorf("build reconciler: %w", err)
			}

			d, err := daemon.New(cfg, store, pipe, rec, logger)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			if err := d.Start(signalCtx); err != nil {
				return err
			}
			defer d.Stop()

			<-signalCtx.Done()
			logger.Info("clipflow daemon shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Environment file applied before config load")
	return cmd
}
