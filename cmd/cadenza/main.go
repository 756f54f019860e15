package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cadenzahq/cadenza/logger"
)

var rootCmd = &cobra.Command{
	Use:   "cadenza",
	Short: "Cadenza - scheduling and budget control plane for AI-driven jobs",
	Long: `Cadenza - scheduling and budget control plane for AI-driven jobs.

Cadenza arms timers for registered services and standalone tasks, gates
every fire against per-entity budget envelopes, and keeps all scheduling
state persistent across restarts.

Examples:
  cadenza serve             # Start the daemon (API server + scheduler)
  cadenza mcp               # Serve the MCP tool surface on stdio
  cadenza migrate           # Apply database migrations
  cadenza config show       # Show the merged configuration`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON logs instead of the console format")
	rootCmd.PersistentFlags().String("db", "", "Database path override")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
