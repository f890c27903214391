package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ronittamrakar/Xordon-sub048/engine"
	"github.com/ronittamrakar/Xordon-sub048/logger"
	"github.com/ronittamrakar/Xordon-sub048/server"
)

// ServeCmd starts the HTTP API with the in-process ticker
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API with the in-process ticker",
	Long: `Start the HTTP API server and the in-process ticker in one process.

The ticker runs a dispatch cycle on the configured interval; an external
cron may also hit POST /api/cron/tick, the two coexist safely because
recurring schedules are idempotent within a minute.

Runs until interrupted (Ctrl+C), finishing the in-flight tick first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		noTicker, _ := cmd.Flags().GetBool("no-ticker")

		var ticker *engine.Ticker
		if !noTicker {
			ticker = engine.NewTicker(rt.disp, rt.tickerConfig(), logger.Named("ticker"))
			ticker.Start()
		}

		srv := server.New(rt.cfg.Server, rt.disp, rt.registry, rt.schedules, rt.queue, logger.Named("server"))

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		fmt.Printf("Xordon engine started\n")
		fmt.Printf("  Port:          %d\n", rt.cfg.Server.Port)
		fmt.Printf("  Database:      %s\n", rt.cfg.Database.Path)
		fmt.Printf("  Handlers:      %v\n", rt.registry.Names())
		if ticker != nil {
			fmt.Printf("  Tick interval: %v\n", rt.tickerConfig().Interval)
		}
		fmt.Printf("\nPress Ctrl+C for graceful shutdown\n\n")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			if ticker != nil {
				ticker.Stop()
			}
			return err
		case <-sigChan:
		}

		fmt.Printf("\nShutting down...\n")

		// Stop components in reverse order of startup
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Warnw("HTTP shutdown error", "error", err)
		}
		if ticker != nil {
			ticker.Stop()
		}

		fmt.Printf("Xordon engine stopped\n")
		return nil
	},
}

func init() {
	ServeCmd.Flags().Bool("no-ticker", false, "Disable the in-process ticker (external cron drives ticks)")
}
