package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lakedeploy/lakedeploy/pkg/history"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent deployment runs",
		Long: `History lists the most recent deployment runs recorded on this machine,
newest first. The history is local and append-only; runs on other machines
are not visible.`,
		Example: `  # Show the last 20 runs
  lakedeploy history

  # Show the last 5 runs
  lakedeploy history --limit 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.Open(cmd.Context(), dbPath)
			if err != nil {
				return fmt.Errorf("failed to open run history: %w", err)
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No recorded runs.")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Started", "Environment", "App", "Action", "Mode", "Result", "Error"})
			for _, r := range runs {
				mode := "apply"
				if r.DryRun {
					mode = "dry-run"
				}
				result := "ok"
				if !r.Succeeded {
					result = "failed"
				}
				t.AppendRow(table.Row{
					r.StartedAt.Local().Format(time.DateTime),
					r.Environment,
					r.AppName,
					r.Action,
					mode,
					result,
					r.Error,
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show")
	cmd.Flags().StringVar(&dbPath, "history-db", history.DefaultPath(), "Path to the local run history database")
	return cmd
}
