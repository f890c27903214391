// Package engine drives the tick loop: it sweeps due scheduled jobs into
// the queue, executes a bounded batch of pending jobs through the handler
// registry, releases stale claims, and reports queue stats.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ronittamrakar/Xordon-sub048/errors"
	"github.com/ronittamrakar/Xordon-sub048/handler"
	"github.com/ronittamrakar/Xordon-sub048/queue"
	"github.com/ronittamrakar/Xordon-sub048/schedule"
)

// Defaults for the per-tick work bounds.
const (
	DefaultSweepLimit     = 10
	DefaultBatchLimit     = 10
	DefaultStaleThreshold = 10 * time.Minute
)

// JobFailure records one failed job in a tick summary.
type JobFailure struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// TickResults is the per-phase outcome of one dispatcher tick.
type TickResults struct {
	ScheduledTriggered []string     `json:"scheduled_triggered"`
	JobsCompleted      []string     `json:"jobs_completed"`
	JobsRetried        []string     `json:"jobs_retried"`
	JobsFailed         []JobFailure `json:"jobs_failed"`
	StaleReleased      int          `json:"stale_released"`
	QueueStats         *queue.Stats `json:"queue_stats,omitempty"`
}

// TickResult is the JSON summary returned by the tick endpoint.
type TickResult struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Results TickResults `json:"results"`
}

// Config bounds the work one tick may do.
type Config struct {
	SweepLimit     int
	BatchLimit     int
	StaleThreshold time.Duration
}

// DefaultConfig returns the standard tick bounds.
func DefaultConfig() Config {
	return Config{
		SweepLimit:     DefaultSweepLimit,
		BatchLimit:     DefaultBatchLimit,
		StaleThreshold: DefaultStaleThreshold,
	}
}

// Dispatcher performs one unit of engine work per Tick call. It owns no
// goroutines itself; cadence comes from the HTTP tick endpoint, the
// Ticker, or both. Overlapping ticks against the same database are safe:
// the queue's atomic claim and the sweep's idempotency keys make
// duplicate work a no-op.
type Dispatcher struct {
	schedules *schedule.Store
	queue     *queue.Store
	registry  *handler.Registry
	cfg       Config
	log       *zap.SugaredLogger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(schedules *schedule.Store, q *queue.Store, registry *handler.Registry, cfg Config, log *zap.SugaredLogger) *Dispatcher {
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = DefaultSweepLimit
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	return &Dispatcher{
		schedules: schedules,
		queue:     q,
		registry:  registry,
		cfg:       cfg,
		log:       log,
	}
}

// Tick runs one dispatcher cycle: sweep, execute, release, stats. A
// failure in any one item never aborts the rest of the tick; per-item
// errors are captured into the result instead.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) *TickResult {
	result := &TickResult{
		Success: true,
		Results: TickResults{
			ScheduledTriggered: []string{},
			JobsCompleted:      []string{},
			JobsRetried:        []string{},
			JobsFailed:         []JobFailure{},
		},
	}

	d.sweepScheduled(now, result)
	d.executeBatch(ctx, now, result)

	released, err := d.queue.ReleaseStale(d.cfg.StaleThreshold)
	if err != nil {
		d.log.Errorw("Stale release failed", "error", err)
		result.Success = false
		result.Error = err.Error()
	} else {
		result.Results.StaleReleased = released
		if released > 0 {
			d.log.Infow("Released stale jobs", "count", released)
		}
	}

	stats, err := d.queue.Stats()
	if err != nil {
		d.log.Errorw("Queue stats failed", "error", err)
		result.Success = false
		result.Error = err.Error()
	} else {
		result.Results.QueueStats = stats
	}

	return result
}

// IdempotencyKey derives the exactly-once enqueue key for a scheduled
// job firing in a given minute. A slow tick or an overlapping dispatcher
// invocation sharing the minute produces the same key and cannot
// double-fire.
func IdempotencyKey(scheduledJobID string, firedAt time.Time) string {
	return fmt.Sprintf("sched_%s_%s", scheduledJobID, firedAt.UTC().Format("200601021504"))
}

// sweepScheduled materializes one queue job for each due scheduled job.
func (d *Dispatcher) sweepScheduled(now time.Time, result *TickResult) {
	due, err := d.schedules.ListDue(now, d.cfg.SweepLimit)
	if err != nil {
		d.log.Errorw("Scheduled job sweep failed", "error", err)
		result.Success = false
		result.Error = err.Error()
		return
	}

	for _, job := range due {
		status := schedule.RunStatusSuccess

		_, enqueueErr := d.queue.Schedule(
			job.JobType,
			job.PayloadTemplate,
			nil,
			job.WorkspaceID,
			IdempotencyKey(job.ID, now),
		)
		if enqueueErr != nil {
			// One broken schedule must not block sweeping the rest
			status = schedule.RunStatusError
			d.log.Errorw("Failed to enqueue scheduled job",
				"scheduled_job_id", job.ID,
				"name", job.Name,
				"error", enqueueErr,
			)
		} else {
			result.Results.ScheduledTriggered = append(result.Results.ScheduledTriggered, job.Name)
		}

		nextRun := schedule.ComputeNextRun(job.Spec, now)
		if err := d.schedules.MarkFired(job.ID, now, nextRun, status); err != nil {
			d.log.Errorw("Failed to record scheduled job firing",
				"scheduled_job_id", job.ID,
				"error", err,
			)
			continue
		}

		d.log.Debugw("Scheduled job fired",
			"scheduled_job_id", job.ID,
			"name", job.Name,
			"next_run_at", nextRun,
			"status", status,
		)
	}
}

// executeBatch claims and executes up to BatchLimit pending jobs,
// stopping early when the queue drains.
func (d *Dispatcher) executeBatch(ctx context.Context, now time.Time, result *TickResult) {
	for i := 0; i < d.cfg.BatchLimit; i++ {
		job, err := d.queue.FetchNext()
		if err != nil {
			d.log.Errorw("Job claim failed", "error", err)
			result.Success = false
			result.Error = err.Error()
			return
		}
		if job == nil {
			return // Queue drained
		}

		output, execErr := d.dispatchOne(ctx, job)
		if execErr != nil {
			var resched *handler.RescheduleError
			if errors.As(execErr, &resched) {
				if err := d.queue.Reschedule(job.ID, now.Add(resched.Delay)); err != nil {
					d.log.Errorw("Failed to reschedule job", "job_id", job.ID, "error", err)
					continue
				}
				result.Results.JobsRetried = append(result.Results.JobsRetried, job.JobType)
				d.log.Infow("Job rescheduled",
					"job_id", job.ID,
					"job_type", job.JobType,
					"run_at", now.Add(resched.Delay),
					"reason", resched.Cause,
				)
				continue
			}

			if failErr := d.queue.Fail(job.ID, execErr.Error()); failErr != nil {
				d.log.Errorw("Failed to record job failure", "job_id", job.ID, "error", failErr)
			}
			result.Results.JobsFailed = append(result.Results.JobsFailed, JobFailure{
				Type:  job.JobType,
				Error: execErr.Error(),
			})
			d.log.Warnw("Job failed",
				"job_id", job.ID,
				"job_type", job.JobType,
				"attempt", job.AttemptCount,
				"error", execErr,
			)
			continue
		}

		if err := d.queue.Complete(job.ID, output); err != nil {
			d.log.Errorw("Failed to record job completion", "job_id", job.ID, "error", err)
			continue
		}
		result.Results.JobsCompleted = append(result.Results.JobsCompleted, job.JobType)
	}
}

// dispatchOne runs a single job through the registry, converting handler
// panics into ordinary failures so one bad handler cannot kill the tick.
func (d *Dispatcher) dispatchOne(ctx context.Context, job *queue.Job) (output json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler panic: %v", r)
		}
	}()
	return d.registry.Dispatch(ctx, job)
}
