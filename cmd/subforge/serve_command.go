package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"subforge/internal/daemon"
	"subforge/internal/logging"
	"subforge/internal/preflight"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the subtitle daemon with the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			results := preflight.RunAll(cmd.Context(), cfg)
			for _, result := range results {
				if !result.Passed {
					logger.Warn("preflight check failed",
						logging.String("check", result.Name),
						logging.String("detail", result.Detail),
					)
				}
			}
			if !preflight.Passed(results) {
				logger.Warn("starting with failed preflight checks")
			}

			services, err := buildStack(cfg, logger)
			if err != nil {
				return err
			}

			d, err := daemon.New(cfg, services.registry, services.broadcaster,
				services.executor, services.store, services.cache, logger)
			if err != nil {
				services.close()
				return err
			}
			defer d.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := d.Start(runCtx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "subforge daemon listening on %s\n", d.Addr())

			<-runCtx.Done()
			logger.Info("shutting down")
			return nil
		},
	}
}
