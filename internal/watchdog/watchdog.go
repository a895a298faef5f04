// Package watchdog implements the periodic sweepers of C7: stale-session
// reaping, execution-timeout sweeping, and job-log garbage collection,
// adapted from the teacher's Scheduler.startWorkflowCleanup ticker-goroutine
// pattern (core/scheduler.go) onto the clock abstraction instead of
// time.Ticker directly, so tests can drive them with FakeClock.
package watchdog

import (
	"context"
	"log/slog"
	"time"

	"github.com/modulehub/orchestrator/internal/clock"
	"github.com/modulehub/orchestrator/internal/notify"
	"github.com/modulehub/orchestrator/internal/registry"
	"github.com/modulehub/orchestrator/internal/tracker"
)

const minSweepInterval = 30 * time.Second

// JobLogGC is the external job-log store's garbage-collection capability;
// the core ships no concrete job-log store, so the watchdog only drives
// this port if one is configured (spec §4.7: "job-log GC" is a weekly
// cron against an external store).
type JobLogGC interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int, error)
}

// Watchdog owns the three sweep loops; each runs in its own goroutine
// started by Start and stopped by Stop.
type Watchdog struct {
	clock    *clock.Model
	tickSrc  clock.Clock
	registry *registry.Registry
	tracker  *tracker.Tracker
	notifier notify.Notifier
	jobLogGC JobLogGC
	log      *slog.Logger

	websocketTimeout time.Duration
	executionTimeout time.Duration
	jobLogRetention  time.Duration

	stop chan struct{}
}

// Config carries the watchdog's tunables, all of which the daemon sources
// from configuration (spec §6).
type Config struct {
	WebsocketTimeout time.Duration
	ExecutionTimeout time.Duration
	JobLogRetention  time.Duration // 0 disables job-log GC
}

// New builds a Watchdog. tickSrc drives its internal tickers so tests can
// substitute clock.FakeClock.
func New(
	c *clock.Model, tickSrc clock.Clock, r *registry.Registry, t *tracker.Tracker,
	n notify.Notifier, gc JobLogGC, log *slog.Logger, cfg Config,
) *Watchdog {
	if cfg.WebsocketTimeout <= 0 {
		cfg.WebsocketTimeout = 60 * time.Second
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 5 * time.Minute
	}
	return &Watchdog{
		clock: c, tickSrc: tickSrc, registry: r, tracker: t, notifier: n, jobLogGC: gc, log: log,
		websocketTimeout: cfg.WebsocketTimeout,
		executionTimeout: cfg.ExecutionTimeout,
		jobLogRetention:  cfg.JobLogRetention,
		stop:             make(chan struct{}),
	}
}

// Start launches the sweep goroutines. Interval W/2 (floored at 30s) for
// stale-session reaping follows spec §4.7; execution-timeout sweeping runs
// every 30s; job-log GC runs weekly if configured.
func (w *Watchdog) Start() {
	go w.runStaleSessionSweep()
	go w.runExecutionTimeoutSweep()
	if w.jobLogGC != nil && w.jobLogRetention > 0 {
		go w.runJobLogGC()
	}
}

// Stop signals every sweep goroutine to exit.
func (w *Watchdog) Stop() { close(w.stop) }

func (w *Watchdog) staleSessionInterval() time.Duration {
	half := w.websocketTimeout / 2
	if half < minSweepInterval {
		return minSweepInterval
	}
	return half
}

func (w *Watchdog) runStaleSessionSweep() {
	interval := w.staleSessionInterval()
	ticker := w.tickSrc.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			w.sweepStaleSessions()
		case <-w.stop:
			return
		}
	}
}

// sweepStaleSessions reaps modules whose last_alive_time predates
// now-websocket_timeout, per spec §4.7.
func (w *Watchdog) sweepStaleSessions() {
	now := w.clock.NowLocal()
	threshold := now.Add(-w.websocketTimeout)
	reaped := w.registry.ReapStale(threshold)
	for _, m := range reaped {
		w.log.Info("reaped stale session", "module_id", m.ID, "module_name", m.Name)
	}
}

func (w *Watchdog) runExecutionTimeoutSweep() {
	ticker := w.tickSrc.NewTicker(minSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			w.sweepExecutionTimeouts()
		case <-w.stop:
			return
		}
	}
}

// sweepExecutionTimeouts clears every pending execution sent more than
// execution_timeout ago and emits an ExecutionTimeout notification for each
// (spec §4.5/§4.7).
func (w *Watchdog) sweepExecutionTimeouts() {
	now := w.clock.NowLocal()
	expired := w.tracker.Sweep(now, w.executionTimeout)
	for _, p := range expired {
		w.log.Warn("execution timed out, no result received",
			"execution_id", p.ExecutionID, "module_id", p.ModuleID, "workflow_id", p.WorkflowID)
		w.notifier.Notify(notify.Payload{
			Kind:           notify.KindExecutionTimeout,
			WorkflowName:   p.WorkflowName,
			WorkflowID:     p.WorkflowID,
			ModuleName:     p.ModuleName,
			ModuleID:       p.ModuleID,
			ExecutionID:    p.ExecutionID,
			ElapsedSeconds: now.Sub(p.SentTime).Seconds(),
			TimeoutSeconds: w.executionTimeout.Seconds(),
			FailureTime:    now,
		})
	}
}

// runJobLogGC fires once at the next Mon 00:00 (local zone L) and weekly
// thereafter, matching spec §4.7 item 3's anchor exactly rather than a
// rolling 7-day interval from process start.
func (w *Watchdog) runJobLogGC() {
	initial := w.nextMondayMidnight(w.clock.NowLocal()).Sub(w.clock.NowLocal())
	select {
	case <-w.tickSrc.After(initial):
		w.runJobLogGCOnce()
	case <-w.stop:
		return
	}

	ticker := w.tickSrc.NewTicker(7 * 24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			w.runJobLogGCOnce()
		case <-w.stop:
			return
		}
	}
}

// nextMondayMidnight returns the next Mon 00:00 strictly after now, in the
// local zone L.
func (w *Watchdog) nextMondayMidnight(now time.Time) time.Time {
	loc := w.clock.LocalLocation()
	local := now.In(loc)
	daysUntilMonday := (int(time.Monday) - int(local.Weekday()) + 7) % 7
	next := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, daysUntilMonday)
	if !next.After(local) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

func (w *Watchdog) runJobLogGCOnce() {
	before := w.clock.NowLocal().Add(-w.jobLogRetention)
	n, err := w.jobLogGC.DeleteOlderThan(context.Background(), before)
	if err != nil {
		w.log.Error("job-log GC failed", "error", err)
		return
	}
	w.log.Info("job-log GC complete", "deleted", n, "before", before)
}
