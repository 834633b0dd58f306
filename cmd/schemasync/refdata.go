package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"db_schema_reconciler/internal/refdata"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Sync reference-data tables with the canonical dataset",
	Long: "Previews the reconciliation inside a rolled-back transaction, asks for confirmation and then runs it for real. " +
		"Any error rolls back every table.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		path, _ := cmd.Flags().GetString("data")
		if path == "" {
			path = a.cfg.Master.ReferenceData
		}
		if path == "" {
			return errors.New("no reference data file: pass --data or set master.reference_data")
		}
		doc, err := refdata.Load(path)
		if err != nil {
			return err
		}
		run, err := a.engine.NewRun(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		preview, err := run.Reconcile(cmd.Context(), doc, false)
		if preview != nil {
			fmt.Fprintln(out, preview.Summary())
		}
		if err != nil {
			return err
		}

		approve, _ := cmd.Flags().GetBool("approve")
		prompt := fmt.Sprintf("Reconcile %d reference table(s)?", len(doc.Meta.Tables))
		if err := confirm(cmd, approve, prompt); err != nil {
			return err
		}
		report, err := run.Reconcile(cmd.Context(), doc, true)
		if report != nil {
			fmt.Fprintln(out, report.Summary())
		}
		return err
	},
}

func init() {
	reconcileCmd.Flags().String("data", "", "canonical dataset (YAML or JSON); defaults to master.reference_data")
	reconcileCmd.Flags().Bool("approve", false, "commit without asking for confirmation")
}
