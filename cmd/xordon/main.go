package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ronittamrakar/Xordon-sub048/cmd/xordon/commands"
	"github.com/ronittamrakar/Xordon-sub048/logger"
)

var rootCmd = &cobra.Command{
	Use:   "xordon",
	Short: "Xordon automation engine - job queue and scheduled workflows",
	Long: `Xordon automation engine.

A durable job queue, recurring schedule sweeper and workflow executor
behind a small HTTP API.

Available commands:
  serve   - Start the HTTP API with the in-process ticker
  worker  - Run the ticker only (no HTTP API)
  tick    - Run a single dispatch cycle and print the result
  db      - Database operations (migrate, stats)
  version - Show version information

Examples:
  xordon serve                 # API + ticker in one process
  xordon worker                # Ticker only, external API elsewhere
  xordon tick                  # One dispatch cycle, JSON to stdout
  xordon db migrate            # Apply pending migrations
  xordon db stats              # Queue and schedule counts`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.TickCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
