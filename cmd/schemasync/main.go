package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string

	// Set at build time with -ldflags.
	Version   = "dev"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "schemasync",
	Short: "Reconcile a live database with its master schema and reference data",
	Long: "schemasync compares a live MySQL, PostgreSQL or SQLite database with a master schema document, " +
		"plans and applies the corrective DDL, and reconciles reference-data tables against a canonical dataset.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Fprintf(cmd.OutOrStdout(), "schemasync %s (commit %s, %s %s/%s)\n", Version, GitCommit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return nil
		}
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "schemasync.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level (debug, info, warn, error)")
	rootCmd.Flags().Bool("version", false, "show version information and exit")

	rootCmd.AddCommand(initConfigCmd, extractCmd, diffCmd, planCmd, syncCmd, reconcileCmd, plansCmd, runsCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
