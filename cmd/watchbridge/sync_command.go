package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"watchbridge/internal/logging"
	"watchbridge/internal/notifications"
	"watchbridge/internal/reconcile"
	"watchbridge/internal/routing"
	"watchbridge/internal/services/plex"
	"watchbridge/internal/store"
)

func newSyncCommand(cmdCtx *commandContext) *cobra.Command {
	var forceRefresh bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one full reconciliation pass and exit",
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
			syncer := reconcile.New(st, client, router, notifier, logger, cfg)

			if err := syncer.Run(cmd.Context(), reconcile.Options{ForceRefresh: forceRefresh}); err != nil {
				return fmt.Errorf("full sync: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&forceRefresh, "force-refresh", false, "Re-persist metadata for items that already exist")
	return cmd
}
