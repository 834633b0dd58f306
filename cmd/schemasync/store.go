package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"db_schema_reconciler/internal/storage"
)

var plansCmd = &cobra.Command{
	Use:   "plans [name]",
	Short: "List saved plans, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			rec, script, report, err := store.LoadPlan(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "plan %s (run %s, %s, saved %s)\n\n%s\n\n%s", rec.Name, rec.RunID, rec.Dialect, rec.CreatedAt.Format("2006-01-02 15:04:05"), report, script)
			return nil
		}

		records, err := store.ListPlans()
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(out, "no saved plans")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tDIALECT\tACTIONS\tWARNINGS\tCREATED")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.Name, r.Dialect, r.Actions, r.Warnings, r.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List journaled runs, or show the events of one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		if a.journal == nil {
			return errors.New("run journal is not configured (journal.dsn)")
		}
		out := cmd.OutOrStdout()
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

		if len(args) == 1 {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id: %w", err)
			}
			events, err := a.journal.Events(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "TABLE\tACTION\tOBJECT\tOUTCOME\tDETAIL")
			for _, e := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Table, e.Action, e.Object, e.Outcome, e.Detail)
			}
			return tw.Flush()
		}

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := a.journal.ListRuns(cmd.Context(), limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tPROVIDER\tSTARTED\tCOUNTS")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%v\n", r.ID, r.Kind, r.Status, r.Provider, r.StartedAt.Format("2006-01-02 15:04:05"), r.Counts)
		}
		return tw.Flush()
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "number of runs to list")
}
