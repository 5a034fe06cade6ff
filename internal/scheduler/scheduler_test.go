package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"acsd/internal/clock"
	"acsd/internal/model"
	"acsd/internal/notify"
	logx "acsd/pkg/logx"
)

type fakeStore struct {
	mu   sync.Mutex
	jobs []model.Job
}

func (f *fakeStore) List() []model.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Job, len(f.jobs))
	copy(out, f.jobs)
	return out
}

func (f *fakeStore) set(jobs []model.Job) {
	f.mu.Lock()
	f.jobs = jobs
	f.mu.Unlock()
}

func newJob(name, schedule string, enabled bool) model.Job {
	id, _ := uuid.NewV7()
	return model.Job{ID: id, Name: name, Schedule: schedule, Enabled: enabled,
		Execution: model.Execution{Type: model.ExecutionShellCommand, Value: "true"}}
}

// TestRun_DispatchesAtNextTick mirrors spec.md's minimal-schedule scenario:
// a fake clock pinned just before a tick, advanced to the tick, must cause
// exactly one dispatch of the due job.
func TestRun_DispatchesAtNextTick(t *testing.T) {
	job := newJob("daily", "*/1 * * * *", true)
	store := &fakeStore{jobs: []model.Job{job}}
	fc := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC))
	wake := notify.New()
	outlet := make(chan model.DispatchRequest, DefaultOutletCapacity)
	s := New(store, fc, wake, outlet, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	time.Sleep(50 * time.Millisecond) // let the scheduler start its sleep
	fc.Set(time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC))
	wake.Notify()

	select {
	case req := <-outlet:
		if req.Job.ID != job.ID {
			t.Fatalf("dispatched job %s, want %s", req.Job.ID, job.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("job was not dispatched")
	}
}

func TestRun_DisabledJobNeverDispatched(t *testing.T) {
	job := newJob("off", "* * * * *", false)
	store := &fakeStore{jobs: []model.Job{job}}
	fc := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	wake := notify.New()
	outlet := make(chan model.DispatchRequest, DefaultOutletCapacity)
	s := New(store, fc, wake, outlet, logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run err = %v, want DeadlineExceeded", err)
	}

	select {
	case req := <-outlet:
		t.Fatalf("unexpected dispatch: %+v", req)
	default:
	}
}

func TestRun_ExternalWakePicksUpNewJob(t *testing.T) {
	store := &fakeStore{}
	fc := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	wake := notify.New()
	outlet := make(chan model.DispatchRequest, DefaultOutletCapacity)
	s := New(store, fc, wake, outlet, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	time.Sleep(50 * time.Millisecond) // scheduler parked on wake (no jobs yet)

	job := newJob("late-add", "* * * * *", true)
	store.set([]model.Job{job})
	fc.Set(time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC))
	wake.Notify()

	select {
	case req := <-outlet:
		if req.Job.ID != job.ID {
			t.Fatalf("dispatched %s, want %s", req.Job.ID, job.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("newly added job was not dispatched")
	}
}

func TestRun_UnparsableScheduleSkippedNotCrashed(t *testing.T) {
	bad := newJob("bad", "not a schedule", true)
	good := newJob("good", "* * * * *", true)
	store := &fakeStore{jobs: []model.Job{bad, good}}
	fc := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	wake := notify.New()
	outlet := make(chan model.DispatchRequest, DefaultOutletCapacity)
	s := New(store, fc, wake, outlet, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	fc.Set(time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC))
	wake.Notify()

	select {
	case req := <-outlet:
		if req.Job.ID != good.ID {
			t.Fatalf("dispatched %s, want the valid job %s", req.Job.ID, good.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("valid job was not dispatched despite a sibling with a bad schedule")
	}
}
