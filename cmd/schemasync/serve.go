package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	httpserver "db_schema_reconciler/internal/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve health, diff and plan previews and metrics over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = a.cfg.HTTP.Address
		}
		server := httpserver.New(addr, a.logger, a.engine, a.target)
		if err := server.Start(ctx); err != nil {
			a.logger.Error("server stopped with error", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address; defaults to http.address")
}
