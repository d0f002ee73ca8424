package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"watchbridge/internal/daemon"
	"watchbridge/internal/logging"
	"watchbridge/internal/notifications"
	"watchbridge/internal/routing"
	"watchbridge/internal/services/plex"
	"watchbridge/internal/store"
	"watchbridge/internal/workflow"
)

func newRunCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the reconciliation daemon until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}

			st, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			client := plex.New(cfg)
			router := routing.NewRouter(cfg, logger)
			notifier := notifications.NewService(cfg)
			manager := workflow.NewManager(cfg, st, client, router, notifier, logger)

			d, err := daemon.New(cfg, st, logger, manager)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := d.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			d.Stop()
			return nil
		},
	}
}
