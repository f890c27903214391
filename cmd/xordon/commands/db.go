package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ronittamrakar/Xordon-sub048/errors"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the Xordon database",
	Long: `Manage database operations.

Examples:
  xordon db migrate    # Apply pending schema migrations
  xordon db stats      # Show queue, schedule and workflow counts`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		// newRuntime migrates on open; reaching here means it succeeded
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		fmt.Printf("Database migrated: %s\n", rt.cfg.Database.Path)
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue, schedule and workflow statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	stats, err := rt.queue.Stats()
	if err != nil {
		return errors.Wrap(err, "failed to query queue stats")
	}

	var totalSchedules, activeSchedules int
	err = rt.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(is_active), 0) FROM scheduled_jobs
	`).Scan(&totalSchedules, &activeSchedules)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "failed to query schedule stats")
	}

	var totalRuns, waitingRuns int
	err = rt.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(status = 'waiting'), 0) FROM workflow_runs
	`).Scan(&totalRuns, &waitingRuns)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, "failed to query workflow stats")
	}

	fmt.Printf("Database Statistics\n")
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:      %s\n", rt.cfg.Database.Path)
	fmt.Println()
	fmt.Printf("Queue Jobs:\n")
	fmt.Printf("  Pending:          %d\n", stats.Pending)
	fmt.Printf("  Processing:       %d\n", stats.Processing)
	fmt.Printf("  Completed:        %d\n", stats.Completed)
	fmt.Printf("  Failed:           %d\n", stats.Failed)
	fmt.Printf("  Total:            %d\n", stats.Total)
	fmt.Println()
	fmt.Printf("Scheduled Jobs:     %d (%d active)\n", totalSchedules, activeSchedules)
	fmt.Printf("Workflow Runs:      %d (%d waiting)\n", totalRuns, waitingRuns)

	return nil
}
