package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ronittamrakar/Xordon-sub048/engine"
	"github.com/ronittamrakar/Xordon-sub048/logger"
)

// WorkerCmd runs the ticker without the HTTP API
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the ticker only (no HTTP API)",
	Long: `Run the dispatch ticker in foreground without the HTTP API.

Useful when the API is served elsewhere and this process only executes
jobs. Runs until interrupted (Ctrl+C), finishing the in-flight tick
before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		ticker := engine.NewTicker(rt.disp, rt.tickerConfig(), logger.Named("ticker"))
		ticker.Start()

		fmt.Printf("Xordon worker started\n")
		fmt.Printf("  Database:      %s\n", rt.cfg.Database.Path)
		fmt.Printf("  Handlers:      %v\n", rt.registry.Names())
		fmt.Printf("  Tick interval: %v\n", rt.tickerConfig().Interval)
		fmt.Printf("\nPress Ctrl+C for graceful shutdown\n\n")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Printf("\nShutting down...\n")
		ticker.Stop()
		fmt.Printf("Xordon worker stopped\n")
		return nil
	},
}
