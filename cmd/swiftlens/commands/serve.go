package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/swiftlens/swiftlens/mcptools"
	"github.com/swiftlens/swiftlens/telemetry"
)

// ServeCmd starts the MCP server on stdio.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	Long: `Run the Model Context Protocol server over stdin/stdout.

All Swift analysis tools are exposed to the connected client. Diagnostic
output goes to stderr; stdout carries only protocol frames.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		noTelemetry, _ := cmd.Flags().GetBool("no-telemetry")
		dashboard, _ := cmd.Flags().GetBool("dashboard")

		a, err := newApp(!noTelemetry)
		if err != nil {
			return err
		}
		defer a.close()

		var dash *telemetry.Dashboard
		if dashboard && a.telemetryDB != nil {
			dash = telemetry.NewDashboard(a.telemetryDB, a.fanout, a.cfg.Dashboard.Port, a.logger)
			dash.Start()
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				dash.Shutdown(ctx)
			}()
		}

		srv := mcptools.NewServer(a.analyzer, a.checker, a.builder, a.sink, a.cfg.Batch.Workers, a.logger)
		return srv.Serve()
	},
}

func init() {
	ServeCmd.Flags().Bool("no-telemetry", false, "Disable the telemetry log")
	ServeCmd.Flags().Bool("dashboard", false, "Serve the telemetry dashboard over HTTP")
}
