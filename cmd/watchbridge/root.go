package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"watchbridge/internal/config"
)

// commandContext lazily loads configuration shared across subcommands.
type commandContext struct {
	configFlag *string

	cfg     *config.Config
	cfgPath string
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, path, _, err := config.Load(*c.configFlag)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	c.cfg = cfg
	c.cfgPath = path
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	var configFlag string

	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "watchbridge",
		Short:         "Bridge Plex watchlists to Sonarr and Radarr",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newSyncCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newTestNotifyCommand(ctx))

	return rootCmd
}
