package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ticker drives the dispatcher on a fixed interval for in-process
// deployments (the worker command). Deployments using an external cron
// hit the HTTP tick endpoint instead; both can coexist safely.
type Ticker struct {
	dispatcher *Dispatcher
	interval   time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	log        *zap.SugaredLogger

	mu         sync.Mutex
	lastTickAt time.Time
	tickCount  int64
}

// TickerConfig configures the tick cadence.
type TickerConfig struct {
	Interval time.Duration // Default: 1 minute
}

// DefaultTickerConfig returns the standard once-per-minute cadence.
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{Interval: time.Minute}
}

// NewTicker creates a ticker over a dispatcher.
func NewTicker(dispatcher *Dispatcher, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), dispatcher, cfg, log)
}

// NewTickerWithContext creates a ticker with a parent context.
func NewTickerWithContext(ctx context.Context, dispatcher *Dispatcher, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		dispatcher: dispatcher,
		interval:   cfg.Interval,
		ctx:        tickerCtx,
		cancel:     cancel,
		log:        log,
	}
}

// Start begins the tick loop.
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.log.Infow("Dispatcher ticker started", "interval", t.interval)
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.log.Infow("Dispatcher ticker stopped")
}

// LastTick reports when the most recent tick ran and how many ticks have
// run since Start.
func (t *Ticker) LastTick() (time.Time, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTickAt, t.tickCount
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.tickCount++
			t.mu.Unlock()

			result := t.dispatcher.Tick(t.ctx, tickTime)
			if !result.Success {
				t.log.Warnw("Tick completed with errors", "error", result.Error)
			} else if len(result.Results.JobsCompleted) > 0 ||
				len(result.Results.JobsRetried) > 0 ||
				len(result.Results.JobsFailed) > 0 ||
				len(result.Results.ScheduledTriggered) > 0 {
				t.log.Infow("Tick completed",
					"scheduled_triggered", len(result.Results.ScheduledTriggered),
					"jobs_completed", len(result.Results.JobsCompleted),
					"jobs_retried", len(result.Results.JobsRetried),
					"jobs_failed", len(result.Results.JobsFailed),
					"stale_released", result.Results.StaleReleased,
				)
			}
		}
	}
}
