package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ronittamrakar/Xordon-sub048/errors"
)

// TickCmd runs a single dispatch cycle
var TickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single dispatch cycle and print the result",
	Long: `Run exactly one dispatch cycle (sweep due schedules, execute a batch
of queue jobs, release stale claims) and print the tick summary as JSON.

Intended for system cron:
  * * * * * xordon tick >> /var/log/xordon-tick.log 2>&1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		result := rt.disp.Tick(cmd.Context(), time.Now())

		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to encode tick result")
		}
		fmt.Println(string(output))

		if !result.Success {
			return errors.Newf("tick failed: %s", result.Error)
		}
		return nil
	},
}
