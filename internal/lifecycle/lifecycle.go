// Package lifecycle is the Lifecycle Controller (spec.md §4.10): it owns
// the daemon's single-instance lock, wires the Job Store, Log Store, Event
// Bus, Scheduler, Dispatcher and Executor together, runs the
// metadata-updater subscriber that folds terminal run events back into the
// Job Store, and drives a bounded startup/shutdown sequence.
//
// Grounded on the teacher's internal/core.App: the Start(ctx)/Stop(ctx,
// reason) shape, the bounded "step" shutdown helper, and
// runtime/supervisor-managed background goroutines are all carried over
// structurally, with the Telegram/plugin subsystems replaced by acsd's own
// core.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"acsd/internal/audit"
	"acsd/internal/clock"
	"acsd/internal/config"
	"acsd/internal/dispatcher"
	"acsd/internal/eventbus"
	"acsd/internal/executor"
	"acsd/internal/jobstore"
	"acsd/internal/logstore"
	"acsd/internal/model"
	"acsd/internal/notify"
	"acsd/internal/runtime/supervisor"
	"acsd/internal/scheduler"
	logx "acsd/pkg/logx"
)

// drainCap bounds the Dispatcher.DrainAll wait during shutdown (spec.md
// §4.10 shutdown step 3).
const drainCap = 30 * time.Second

// pidFileName matches spec.md §6's persisted state layout (acs.pid).
const pidFileName = "acs.pid"

// Controller wires and supervises the daemon core for one process lifetime.
type Controller struct {
	cfg config.Config
	log logx.Logger

	pidPath    string
	pidRelease func() error

	Jobs  *jobstore.Store
	Logs  *logstore.Store
	Bus   *eventbus.Bus
	Audit audit.Trail

	wake   *notify.Pulse
	outlet chan model.DispatchRequest

	sched *scheduler.Scheduler
	Disp  *dispatcher.Dispatcher
	exec  *executor.Executor

	sup *supervisor.Supervisor
}

// Open performs startup steps 1-5: resolve the data directory, acquire the
// single-instance PID lock, open the Job Store (with corruption recovery),
// open the Log Store and sweep orphaned run directories, and open the
// optional audit trail. It does not start any goroutines; call Run for that.
func Open(cfg config.Config, log logx.Logger) (*Controller, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("lifecycle: create data dir %s: %w", cfg.DataDir, err)
	}

	pidPath := filepath.Join(cfg.DataDir, pidFileName)
	release, err := acquirePIDFile(pidPath)
	if err != nil {
		return nil, err
	}

	jobs, err := jobstore.Open(cfg.DataDir, clock.New(), log.With(logx.String("comp", "jobstore")))
	if err != nil {
		release()
		return nil, err
	}

	logs := logstore.Open(cfg.DataDir, log.With(logx.String("comp", "logstore")))

	currentIDs := map[uuid.UUID]struct{}{}
	for _, j := range jobs.List() {
		currentIDs[j.ID] = struct{}{}
	}
	if _, _, err := logs.SweepOrphans(currentIDs); err != nil {
		log.Warn("lifecycle: orphan log sweep failed", logx.Err(err))
	}

	var trail audit.Trail
	if cfg.Audit != nil {
		busyTimeout, _ := time.ParseDuration(cfg.Audit.BusyTimeout)
		trail, err = audit.Open(audit.Config{Path: cfg.Audit.Path, BusyTimeout: busyTimeout}, log.With(logx.String("comp", "audit")))
		if err != nil {
			release()
			return nil, err
		}
	} else {
		trail, _ = audit.Open(audit.Config{}, log)
	}

	bus := eventbus.New(cfg.Scheduler.BroadcastCapacity)

	return &Controller{
		cfg:        cfg,
		log:        log,
		pidPath:    pidPath,
		pidRelease: release,
		Jobs:       jobs,
		Logs:       logs,
		Bus:        bus,
		Audit:      trail,
		wake:       notify.New(),
		outlet:     make(chan model.DispatchRequest, scheduler.DefaultOutletCapacity),
	}, nil
}

// Wake returns the Notify pulse a job-mutating caller (the HTTP layer, out
// of this core's scope) should fire after every Job Store write so the
// Scheduler re-evaluates promptly instead of waiting out its current sleep.
func (c *Controller) Wake() *notify.Pulse { return c.wake }

// Stats returns a point-in-time view of the background goroutine group
// (scheduler, dispatcher, metadata-updater, watchdog), for the same kind of
// health/diagnostics surface the teacher's own health command builds from
// its scheduler's Snapshot. Safe to call before Run, returning a zero
// snapshot.
func (c *Controller) Stats() supervisor.SupervisorSnapshot {
	return c.sup.Snapshot()
}

// Run executes startup steps 6-8 (construct the Scheduler/Dispatcher/
// Executor, start them plus the metadata-updater under a Supervisor, signal
// readiness) and then blocks until the Supervisor's context ends (ctx is
// canceled or a member fails) and returns. The shutdown sequence (spec.md
// §4.10 steps 1-4) is run by Stop, not by Run.
func (c *Controller) Run(ctx context.Context) error {
	c.exec = executor.New(c.Logs, c.Bus, clock.New(),
		time.Duration(c.cfg.Scheduler.DefaultTimeoutSecs)*time.Second,
		c.cfg.Scheduler.MaxLogFilesPerJob, c.log.With(logx.String("comp", "executor")))
	c.Disp = dispatcher.New(c.exec, c.outlet, c.log.With(logx.String("comp", "dispatcher")))
	c.sched = scheduler.New(c.Jobs, clock.New(), c.wake, c.outlet, c.log.With(logx.String("comp", "scheduler")))

	c.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(c.log), supervisor.WithCancelOnError(true))

	c.sup.Go("scheduler", func(rc context.Context) error { return c.sched.Run(rc) })
	c.sup.Go("dispatcher", func(rc context.Context) error { return c.Disp.Run(rc) })
	c.sup.Go0("metadata-updater", c.runMetadataUpdater)
	// The watchdog ping loop is self-healing rather than fatal: a transient
	// sd_notify failure shouldn't take the whole daemon down with it, so it
	// restarts on panic instead of running under plain Go0.
	c.sup.GoRestart0("watchdog", func(rc context.Context) { runWatchdog(rc, c.log) })

	notifyReady(c.log)
	c.log.Info("lifecycle: started")

	<-c.sup.Context().Done()
	return c.sup.Err()
}

// Stop runs the shutdown sequence: stop accepting new triggers (the
// Supervisor's context cancellation, already fired by whatever ended Run's
// wait), drain active runs with a bounded cap, then release the PID file.
func (c *Controller) Stop(ctx context.Context, reason StopReason) error {
	c.log.Info("lifecycle: stopping", logx.String("reason", string(reason)))
	if c.sup != nil {
		c.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			c.log.Warn("lifecycle: stop step error", logx.String("name", name), logx.Err(err))
		}
		c.log.Debug("lifecycle: stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	notifyStopping(c.log)

	if c.Disp != nil {
		step("dispatcher.drain", drainCap, func(sc context.Context) error {
			c.Disp.DrainAll(sc)
			return nil
		})
	}
	if c.sup != nil {
		snap := c.sup.Snapshot()
		c.log.Info("lifecycle: goroutine group stats at shutdown",
			logx.Int64("active", snap.Counters.Active), logx.Uint64("started", snap.Counters.Started))
		step("supervisor.wait", 5*time.Second, func(sc context.Context) error { return c.sup.Wait(sc) })
	}
	if c.Audit != nil {
		if err := c.Audit.Close(); err != nil {
			c.log.Warn("lifecycle: audit close failed", logx.Err(err))
		}
	}

	if c.pidRelease != nil {
		if err := c.pidRelease(); err != nil {
			c.log.Warn("lifecycle: release pid file failed", logx.String("path", c.pidPath), logx.Err(err))
			return err
		}
	}
	c.log.Info("lifecycle: stopped")
	return nil
}
