package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"watchbridge/internal/store"
)

func newStatusCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show watchlist database statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			st, err := store.Open(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("collect statistics: %w", err)
			}

			rows := [][2]string{
				{"Users", strconv.Itoa(stats.Users)},
				{"Sync disabled", strconv.Itoa(stats.SyncDisabled)},
				{"Pending diff records", strconv.Itoa(stats.PendingDiffs)},
			}
			for _, status := range []store.ItemStatus{store.StatusPending, store.StatusRequested, store.StatusGrabbed, store.StatusNotified} {
				rows = append(rows, [2]string{
					"Items " + string(status),
					strconv.Itoa(stats.ItemsByState[status]),
				})
			}

			out := cmd.OutOrStdout()
			if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
				fmt.Fprintln(out, renderStatsTable(rows))
				return nil
			}
			for _, row := range rows {
				fmt.Fprintf(out, "%s: %s\n", row[0], row[1])
			}
			return nil
		},
	}
}

func renderStatsTable(rows [][2]string) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Metric", "Count"})
	for _, row := range rows {
		tw.AppendRow(table.Row{row[0], row[1]})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}
