package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/cloudsim/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	var (
		limit  int
		events bool
	)

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List journaled runs",
		Long: `List provision and destroy runs recorded in the audit journal, newest
first. With a run id, show that run and, with --events, its events.

Requires journal.path in the settings to point at a database file.`,
		Example: `  # Recent runs
  CLOUDSIM_JOURNAL_PATH=cloudsim.db cloudsim runs

  # One run with its events
  cloudsim -c cloudsim.yaml runs 6f1c... --events`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			jc, ok := settings.JournalConfig()
			if !ok || jc.Path == stores.MemoryPath {
				return errors.New("no persistent journal configured (set journal.path)")
			}
			journal, err := stores.Open(ctx, jc)
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer journal.Close()

			w := cmd.OutOrStdout()

			if len(args) == 0 {
				runs, err := journal.ListRuns(ctx, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(w, runs)
				}
				tw := newTable(w)
				fmt.Fprintln(tw, "ID\tOPERATION\tSOURCE\tSTATUS\tOK/FAILED/SKIPPED\tSTARTED")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d/%d\t%s\n", r.ID, r.Operation, r.Source, r.Status,
						r.Counts.Succeeded, r.Counts.Failed, r.Counts.Skipped, r.StartedAt.Format("2006-01-02 15:04:05"))
				}
				return tw.Flush()
			}

			run, err := journal.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			var evs []*stores.Event
			if events {
				evs, err = journal.GetEvents(ctx, stores.EventQuery{RunID: &run.ID})
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				return printJSON(w, struct {
					Run    *stores.Run     `json:"run"`
					Events []*stores.Event `json:"events,omitempty"`
				}{run, evs})
			}
			fmt.Fprintf(w, "Run %s: %s %s (%s)\n", run.ID, run.Operation, run.Status, run.Source)
			if run.Error != nil {
				fmt.Fprintf(w, "Error: %s\n", *run.Error)
			}
			if len(evs) > 0 {
				tw := newTable(w)
				fmt.Fprintln(tw, "TIME\tLEVEL\tTYPE\tRESOURCE\tMESSAGE")
				for _, e := range evs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp.Format("15:04:05.000"), e.Level, e.Type,
						orDash(e.ResourceName), e.Message)
				}
				return tw.Flush()
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")
	cmd.Flags().BoolVar(&events, "events", false, "include the run's events")

	return cmd
}
