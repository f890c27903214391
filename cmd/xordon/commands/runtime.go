package commands

import (
	"database/sql"
	"time"

	"github.com/ronittamrakar/Xordon-sub048/config"
	"github.com/ronittamrakar/Xordon-sub048/db"
	"github.com/ronittamrakar/Xordon-sub048/engine"
	"github.com/ronittamrakar/Xordon-sub048/errors"
	"github.com/ronittamrakar/Xordon-sub048/handler"
	"github.com/ronittamrakar/Xordon-sub048/logger"
	"github.com/ronittamrakar/Xordon-sub048/queue"
	"github.com/ronittamrakar/Xordon-sub048/schedule"
	"github.com/ronittamrakar/Xordon-sub048/workflow"
)

// runtime holds the wired engine: database, stores, handler registry and
// dispatcher. Commands build one, use it, and Close it.
type runtime struct {
	cfg       *config.Config
	db        *sql.DB
	queue     *queue.Store
	schedules *schedule.Store
	registry  *handler.Registry
	disp      *engine.Dispatcher
}

// newRuntime loads config, opens and migrates the database, and wires the
// built-in handlers (push, report, workflow step) into a dispatcher.
func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}

	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	q := queue.NewStore(database)
	schedules := schedule.NewStore(database)
	registry := handler.NewRegistry()

	// Push notifications
	pushStore := handler.NewPushStore(database)
	registry.MustRegister(handler.NewPushHandler(pushStore, &logGateway{}, handler.PushHandlerOptions{
		BatchSize:   cfg.Engine.Push.BatchSize,
		MaxAttempts: cfg.Engine.Push.MaxAttempts,
		RetryDelay:  time.Duration(cfg.Engine.Push.RetryDelayMinutes) * time.Minute,
		RatePerSec:  cfg.Engine.Push.RatePerSecond,
	}, logger.Named("push")))

	// Report exports
	reportStore := handler.NewReportStore(database)
	registry.MustRegister(handler.NewReportHandler(reportStore, handler.NewSQLDataset(database), handler.ReportHandlerOptions{
		RowLimit:  cfg.Engine.Report.RowLimit,
		Expiry:    time.Duration(cfg.Engine.Report.ExpiryDays) * 24 * time.Hour,
		ExportDir: cfg.Engine.Report.ExportDir,
	}, logger.Named("report")))

	// Workflow steps
	wfStore := workflow.NewStore(database)
	actions := workflow.NewActionSet(workflow.ActionDeps{
		Mailer:    &logMailer{},
		Messenger: &logMessenger{},
		Directory: &logDirectory{},
		SetGlobal: func(workspaceID, name string, value interface{}) error {
			return wfStore.SetGlobal(workspaceID, name, value)
		},
	}, logger.Named("workflow"))
	registry.MustRegister(workflow.NewStepHandler(wfStore, q, actions, workflow.NewEvaluator(), logger.Named("workflow")))

	disp := engine.NewDispatcher(schedules, q, registry, engine.Config{
		SweepLimit:     cfg.Engine.ScheduleSweepLimit,
		BatchLimit:     cfg.Engine.ExecutionBatchLimit,
		StaleThreshold: time.Duration(cfg.Engine.StaleThresholdMinutes) * time.Minute,
	}, logger.Named("engine"))

	return &runtime{
		cfg:       cfg,
		db:        database,
		queue:     q,
		schedules: schedules,
		registry:  registry,
		disp:      disp,
	}, nil
}

func (r *runtime) tickerConfig() engine.TickerConfig {
	return engine.TickerConfig{
		Interval: time.Duration(r.cfg.Engine.TickIntervalSeconds) * time.Second,
	}
}

func (r *runtime) Close() error {
	return r.db.Close()
}
