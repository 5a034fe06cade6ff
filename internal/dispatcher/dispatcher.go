// Package dispatcher is the Dispatcher (spec.md §4.9): a single consumer
// that pulls DispatchRequests off the shared queue from the Scheduler and
// the external trigger interface, hands each to the Executor, and tracks
// one RunHandle per job id in a reader-writer-locked map.
package dispatcher

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"acsd/internal/executor"
	"acsd/internal/model"
	logx "acsd/pkg/logx"
)

// Spawner is the slice of the Executor the Dispatcher depends on.
type Spawner interface {
	Spawn(req model.DispatchRequest) *executor.RunHandle
}

// Dispatcher owns the active-runs map (spec.md §3, §5): one RunHandle per
// job_id. Triggering a second run for a job that already has an active
// handle replaces the map entry; the superseded supervisor is not tracked
// but still runs to completion and persists its own result (spec.md §4.7
// "Active-run tracking").
type Dispatcher struct {
	spawner Spawner
	inbox   <-chan model.DispatchRequest
	log     logx.Logger

	mu      sync.RWMutex
	handles map[uuid.UUID]*executor.RunHandle
}

// New returns a Dispatcher reading from inbox, the bounded dispatch queue
// shared with the Scheduler (spec.md §4.8's outlet).
func New(spawner Spawner, inbox <-chan model.DispatchRequest, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		spawner: spawner,
		inbox:   inbox,
		log:     log,
		handles: map[uuid.UUID]*executor.RunHandle{},
	}
}

// Run drains the inbox until ctx is canceled or the channel is closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-d.inbox:
			if !ok {
				return nil
			}
			h := d.spawner.Spawn(req)
			d.mu.Lock()
			d.handles[req.Job.ID] = h
			d.mu.Unlock()
		}
	}
}

// Handle returns the active RunHandle for jobID, if any.
func (d *Dispatcher) Handle(jobID uuid.UUID) (*executor.RunHandle, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handles[jobID]
	return h, ok
}

// KillJob signals kill to jobID's active run, if one is tracked, and reports
// whether one was. The Job Store does not call it; a job-delete path outside
// this core calls it (spec.md §4.7 "Job deletion during a run").
func (d *Dispatcher) KillJob(jobID uuid.UUID) bool {
	d.mu.Lock()
	h, ok := d.handles[jobID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	h.Kill()
	return true
}

// DrainAll fires kill on every tracked run and waits for each to finish,
// bounded by ctx (spec.md §4.10 shutdown step 3's 30-second cap). Runs that
// haven't finished when ctx expires are left running and dropped from
// tracking — a known trade-off, not a bug (see spec.md §9).
func (d *Dispatcher) DrainAll(ctx context.Context) {
	d.mu.Lock()
	handles := make([]*executor.RunHandle, 0, len(d.handles))
	for _, h := range d.handles {
		handles = append(handles, h)
	}
	d.handles = map[uuid.UUID]*executor.RunHandle{}
	d.mu.Unlock()

	for _, h := range handles {
		h.Kill()
	}
	for i, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			d.log.Warn("dispatcher: shutdown cap reached with runs still active",
				logx.Int("remaining", len(handles)-i))
			return
		}
	}
}
