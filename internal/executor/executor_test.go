package executor

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"acsd/internal/clock"
	"acsd/internal/eventbus"
	"acsd/internal/logstore"
	"acsd/internal/model"
	logx "acsd/pkg/logx"
)

func newJob(execValue string) model.Job {
	id, _ := uuid.NewV7()
	return model.Job{
		ID:        id,
		Name:      "test-job",
		Schedule:  "* * * * *",
		Execution: model.Execution{Type: model.ExecutionShellCommand, Value: execValue},
		Enabled:   true,
	}
}

func waitDone(t *testing.T, h *RunHandle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not finish in time")
	}
}

func TestSpawn_CompletedRun(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix-only harness")
	}
	dir := t.TempDir()
	logs := logstore.Open(dir, logx.Nop())
	bus := eventbus.New(16)
	exec := New(logs, bus, clock.New(), 0, 50, logx.Nop())

	job := newJob("echo hello")
	runID, _ := uuid.NewV7()
	h := exec.Spawn(model.DispatchRequest{Job: job, RunID: runID})
	waitDone(t, h)

	list, err := logs.ListRuns(job.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(list.Runs) != 1 {
		t.Fatalf("len(Runs) = %d, want 1", len(list.Runs))
	}
	run := list.Runs[0]
	if run.Status != model.RunCompleted {
		t.Fatalf("Status = %v, want Completed", run.Status)
	}
	if run.ExitCode == nil || *run.ExitCode != 0 {
		t.Fatalf("ExitCode = %v, want 0", run.ExitCode)
	}
	if run.LogSizeBytes == 0 {
		t.Fatalf("LogSizeBytes = 0, want the written log's byte count")
	}

	logText, err := logs.ReadLog(job.ID, runID, -1)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if !strings.Contains(logText, "hello") {
		t.Fatalf("log = %q, want it to contain hello", logText)
	}
}

func TestSpawn_NonZeroExitIsCompletedNotFailed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix-only harness")
	}
	dir := t.TempDir()
	logs := logstore.Open(dir, logx.Nop())
	bus := eventbus.New(16)
	exec := New(logs, bus, clock.New(), 0, 50, logx.Nop())

	job := newJob("exit 3")
	runID, _ := uuid.NewV7()
	h := exec.Spawn(model.DispatchRequest{Job: job, RunID: runID})
	waitDone(t, h)

	list, _ := logs.ListRuns(job.ID, 0, 0)
	run := list.Runs[0]
	if run.Status != model.RunCompleted {
		t.Fatalf("Status = %v, want Completed (non-zero exit is still Completed)", run.Status)
	}
	if run.ExitCode == nil || *run.ExitCode != 3 {
		t.Fatalf("ExitCode = %v, want 3", run.ExitCode)
	}
}

func TestSpawn_Killed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix-only harness")
	}
	dir := t.TempDir()
	logs := logstore.Open(dir, logx.Nop())
	bus := eventbus.New(16)
	exec := New(logs, bus, clock.New(), 0, 50, logx.Nop())

	job := newJob("sleep 30")
	runID, _ := uuid.NewV7()
	h := exec.Spawn(model.DispatchRequest{Job: job, RunID: runID})

	time.Sleep(100 * time.Millisecond)
	h.Kill()
	waitDone(t, h)

	list, _ := logs.ListRuns(job.ID, 0, 0)
	run := list.Runs[0]
	if run.Status != model.RunKilled {
		t.Fatalf("Status = %v, want Killed", run.Status)
	}
}

func TestSpawn_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix-only harness")
	}
	dir := t.TempDir()
	logs := logstore.Open(dir, logx.Nop())
	bus := eventbus.New(16)
	exec := New(logs, bus, clock.New(), 100*time.Millisecond, 50, logx.Nop())

	job := newJob("sleep 30")
	runID, _ := uuid.NewV7()
	h := exec.Spawn(model.DispatchRequest{Job: job, RunID: runID})
	waitDone(t, h)

	list, _ := logs.ListRuns(job.ID, 0, 0)
	run := list.Runs[0]
	if run.Status != model.RunFailed {
		t.Fatalf("Status = %v, want Failed", run.Status)
	}
	if run.Error != "execution timed out" {
		t.Fatalf("Error = %q", run.Error)
	}
}

func TestSpawn_EventOrdering(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix-only harness")
	}
	dir := t.TempDir()
	logs := logstore.Open(dir, logx.Nop())
	bus := eventbus.New(16)
	exec := New(logs, bus, clock.New(), 0, 50, logx.Nop())

	sub := bus.Subscribe()
	job := newJob("echo hi")
	runID, _ := uuid.NewV7()
	h := exec.Spawn(model.DispatchRequest{Job: job, RunID: runID})
	waitDone(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var types []model.EventType
	for {
		ev, lag, err := sub.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if lag > 0 {
			continue
		}
		types = append(types, ev.Type)
		if ev.Type == model.EventCompleted || ev.Type == model.EventFailed {
			break
		}
	}
	if len(types) < 2 || types[0] != model.EventStarted {
		t.Fatalf("events = %v, want to start with Started", types)
	}
	if types[len(types)-1] != model.EventCompleted {
		t.Fatalf("events = %v, want to end with Completed", types)
	}
}
