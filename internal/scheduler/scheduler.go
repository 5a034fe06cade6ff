// Package scheduler is the Scheduler (spec.md §4.8): a sleep-until-next-due
// loop over the Job Store, interruptible by a Notify pulse whenever the job
// list changes, dispatching due jobs onto a bounded outlet.
//
// Grounded on cronx for next-occurrence computation and on notify.Pulse for
// the edge-triggered wake primitive; the loop shape itself (recompute from
// the clock at the top of every iteration, never trust a stale duration) is
// spec.md §4.8's own "clock discipline" requirement, not copied from any one
// teacher file.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"acsd/internal/clock"
	"acsd/internal/cronx"
	"acsd/internal/model"
	"acsd/internal/notify"
	logx "acsd/pkg/logx"
)

// DefaultOutletCapacity is the dispatch outlet size spec.md §4.8 specifies.
const DefaultOutletCapacity = 64

// warnEvery bounds the "unparsable schedule" log line to once per job per
// window, the same rate.Limiter shape the teacher uses to throttle its
// Telegram API calls — here applied to a permanently-broken cron expression
// so it doesn't flood the log on every tick (spec.md §4.8 step 2 decision,
// see SPEC_FULL.md's Domain Stack table).
const warnEvery = time.Minute

// JobLister is the slice of the Job Store the Scheduler depends on.
type JobLister interface {
	List() []model.Job
}

// Scheduler evaluates due jobs and dispatches them.
type Scheduler struct {
	store  JobLister
	clock  clock.Clock
	wake   *notify.Pulse
	outlet chan<- model.DispatchRequest
	log    logx.Logger

	// warnLimiters is read and written only from the Run goroutine, so it
	// needs no lock of its own.
	warnLimiters map[uuid.UUID]*rate.Limiter
}

// New returns a Scheduler. outlet is the bounded dispatch queue shared with
// the Dispatcher (spec.md §4.9); wake is pulsed by whoever mutates jobs
// (the Job Store itself does not; see lifecycle.Controller.Wake) so the
// scheduler re-evaluates promptly after any change.
func New(store JobLister, c clock.Clock, wake *notify.Pulse, outlet chan<- model.DispatchRequest, log logx.Logger) *Scheduler {
	if c == nil {
		c = clock.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{store: store, clock: c, wake: wake, outlet: outlet, log: log,
		warnLimiters: map[uuid.UUID]*rate.Limiter{}}
}

type dueJob struct {
	job  model.Job
	next time.Time
}

// Run executes the loop from spec.md §4.8 until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		dues, earliest, found := s.evaluate()

		if !found {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake.Wait():
				continue
			}
		}

		sleepFor := earliest.Sub(s.clock.Now())
		if sleepFor < 0 {
			sleepFor = 0
		}
		timer := time.NewTimer(sleepFor)

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.wake.Wait():
			timer.Stop()
			continue
		case <-timer.C:
		}

		if err := s.dispatchDue(ctx, dues); err != nil {
			return err
		}
	}
}

// evaluate loads jobs, filters to enabled ones with a parseable schedule,
// and reports the earliest upcoming run (spec.md §4.8 steps 1-2).
func (s *Scheduler) evaluate() (dues []dueJob, earliest time.Time, found bool) {
	now := s.clock.Now()
	for _, j := range s.store.List() {
		if !j.Enabled {
			continue
		}
		next, err := cronx.NextAfter(j.Schedule, j.Timezone, now)
		if err != nil {
			if s.warnLimiter(j.ID).Allow() {
				s.log.Warn("scheduler: skipping job with unparsable schedule or timezone",
					logx.String("job_id", j.ID.String()), logx.String("job_name", j.Name), logx.Err(err))
			}
			continue
		}
		dues = append(dues, dueJob{job: j, next: next})
		if !found || next.Before(earliest) {
			earliest = next
			found = true
		}
	}
	return dues, earliest, found
}

// warnLimiter returns jobID's rate limiter, creating one on first use.
func (s *Scheduler) warnLimiter(jobID uuid.UUID) *rate.Limiter {
	l, ok := s.warnLimiters[jobID]
	if !ok {
		l = rate.NewLimiter(rate.Every(warnEvery), 1)
		s.warnLimiters[jobID] = l
	}
	return l
}

// dispatchDue sends a DispatchRequest for every job whose next_run_at has
// elapsed by now (spec.md §4.8 step 6).
func (s *Scheduler) dispatchDue(ctx context.Context, dues []dueJob) error {
	now := s.clock.Now()
	for _, d := range dues {
		if d.next.After(now) {
			continue
		}
		runID, err := uuid.NewV7()
		if err != nil {
			s.log.Error("scheduler: failed generating run id", logx.Err(err))
			continue
		}
		req := model.DispatchRequest{Job: d.job, RunID: runID}
		select {
		case s.outlet <- req:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
