package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"db_schema_reconciler/internal/config"
	"db_schema_reconciler/internal/master"
	"db_schema_reconciler/internal/plan"
	"db_schema_reconciler/internal/schema"
)

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write a starter config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		cfg := config.Default()
		cfg.Database.DSN = "user:password@tcp(127.0.0.1:3306)/database?parseTime=true"
		cfg.Master.ReferenceData = "schema/reference.yaml"
		body, err := cfg.Marshal()
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "sample config written to", path)
		return nil
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Parse the master schema document and summarise it",
	Long:  "Parses the master schema document without touching any database. Exits non-zero when a table block fails to parse.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		snap, err := master.ExtractFile(cfg.Master.SchemaFile)
		if snap == nil {
			return err
		}
		printSnapshot(cmd.OutOrStdout(), snap)
		if failed := master.FailedTables(err); len(failed) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "skipped: %s\n", strings.Join(failed, ", "))
		}
		return err
	},
}

func printSnapshot(w io.Writer, snap *schema.Snapshot) {
	fmt.Fprintf(w, "%d table(s)\n", snap.Len())
	for _, name := range snap.Names() {
		t, _ := snap.Table(name)
		fmt.Fprintf(w, "  %-32s columns=%d foreign_keys=%d indexes=%d\n", name, len(t.Columns), len(t.ForeignKeys), len(t.Indexes))
	}
}

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Compare the live database with the master schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		run, err := a.engine.NewRun(cmd.Context())
		if err != nil {
			return err
		}
		res := run.Diff()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Describe())
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the corrective plan without applying it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		run, err := a.engine.NewRun(cmd.Context())
		if err != nil {
			return err
		}
		p, _, err := run.Plan(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if asSQL, _ := cmd.Flags().GetBool("sql"); asSQL {
			fmt.Fprint(out, p.Script(a.engine.Dialect()))
		} else {
			fmt.Fprintln(out, p.Describe())
		}

		name, _ := cmd.Flags().GetString("save")
		if name == "" {
			return nil
		}
		store, err := a.storage()
		if err != nil {
			return err
		}
		rec, err := run.SavePlan(store, name, p)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "plan saved as %s (checksum %s)\n", rec.Name, rec.Checksum)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Apply the corrective plan to the live database",
	Long:  "Synthesizes the corrective plan, asks for confirmation and applies it best-effort. Exits non-zero when any action failed.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		run, err := a.engine.NewRun(cmd.Context())
		if err != nil {
			return err
		}
		preview, err := run.Sync(cmd.Context(), false)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, preview.Plan.Describe())
		if preview.Plan.Empty() {
			return nil
		}

		approve, _ := cmd.Flags().GetBool("approve")
		prompt := fmt.Sprintf("Apply %d action(s) to the %s database?", len(preview.Plan.Actions), a.target.Provider())
		if err := confirm(cmd, approve, prompt); err != nil {
			return err
		}
		res, err := run.Sync(cmd.Context(), true)
		if err != nil {
			return err
		}
		if res.Report == nil {
			return nil
		}
		fmt.Fprintln(out, res.Report.Describe())
		if n := res.Report.Count(plan.Failed); n > 0 {
			return fmt.Errorf("%d action(s) failed", n)
		}
		return nil
	},
}

func init() {
	initConfigCmd.Flags().String("path", "schemasync.yaml", "where to write the sample config")
	diffCmd.Flags().Bool("json", false, "print the diff as JSON")
	planCmd.Flags().String("save", "", "save the plan under this name in the plan store")
	planCmd.Flags().Bool("sql", false, "print the SQL script instead of the change report")
	syncCmd.Flags().Bool("approve", false, "apply without asking for confirmation")
}
