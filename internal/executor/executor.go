// Package executor is the Executor (spec.md §4.7): it turns one
// DispatchRequest into exactly one run, bridging a spawned child's blocking
// output reads into the cooperative world via two bounded channels — one
// feeding the lossy Event Bus, one feeding the lossless Log Store — and
// enforces the run's timeout and kill signal.
//
// Grounded on the teacher's internal/runtime/supervisor package for the
// "one goroutine per unit of work, recover, report" shape (the run
// supervisor here is a simplified single-shot version: one run, one
// terminal event, no restart) and on CZERTAINLY-Seeker's runner.go for the
// spawn-then-background-wait pattern the internal/spawner package wraps.
package executor

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"acsd/internal/clock"
	"acsd/internal/eventbus"
	"acsd/internal/logstore"
	"acsd/internal/model"
	"acsd/internal/spawner"
	logx "acsd/pkg/logx"
)

// Executor spawns and supervises one run at a time per call to Spawn.
type Executor struct {
	logs           *logstore.Store
	bus            *eventbus.Bus
	clock          clock.Clock
	defaultTimeout time.Duration
	maxLogFiles    int
	log            logx.Logger
}

// New returns an Executor. defaultTimeout is the daemon-wide fallback used
// when a Job's own timeout_secs is 0 (spec.md §4.6); 0 means no timeout.
func New(logs *logstore.Store, bus *eventbus.Bus, c clock.Clock, defaultTimeout time.Duration, maxLogFiles int, log logx.Logger) *Executor {
	if c == nil {
		c = clock.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{logs: logs, bus: bus, clock: c, defaultTimeout: defaultTimeout, maxLogFiles: maxLogFiles, log: log}
}

// RunHandle is the Dispatcher's handle on one in-flight run: a one-shot kill
// signal and a completion signal (spec.md §4.7, §4.9).
type RunHandle struct {
	JobID uuid.UUID
	RunID uuid.UUID

	kill     chan struct{}
	killOnce sync.Once
	done     chan struct{}
}

// Kill requests the run terminate. Safe to call more than once.
func (h *RunHandle) Kill() {
	h.killOnce.Do(func() { close(h.kill) })
}

// Done closes once the run has reached a terminal state and its record has
// been persisted.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Spawn begins one run and returns immediately with its handle. The run's
// entire lifecycle (spec.md §4.7 steps 1-13) executes on a background
// goroutine.
func (e *Executor) Spawn(req model.DispatchRequest) *RunHandle {
	h := &RunHandle{JobID: req.Job.ID, RunID: req.RunID, kill: make(chan struct{}), done: make(chan struct{})}
	go e.run(req, h)
	return h
}

type readerResult struct {
	exitCode int32
	err      error
}

func (e *Executor) run(req model.DispatchRequest, h *RunHandle) {
	defer close(h.done)

	job := req.Job
	startedAt := e.clock.Now().UTC()

	// Step 1: write the initial run record.
	run := model.JobRun{
		RunID:         req.RunID,
		JobID:         job.ID,
		StartedAt:     startedAt,
		Status:        model.RunRunning,
		TriggerParams: req.Params(),
	}
	if err := e.logs.CreateRun(run); err != nil {
		e.log.Error("executor: failed writing initial run record", logx.String("run_id", req.RunID.String()), logx.Err(err))
	}

	// Step 2: publish Started.
	e.bus.Publish(model.StartedEvent(model.StartedData{
		JobID: job.ID, RunID: req.RunID, JobName: job.Name, Timestamp: startedAt,
	}))

	// Step 3: build the command.
	name, cmdArgs, effective, err := spawner.BuildCommand(job.Execution, req.Args)
	if err != nil {
		e.finishFailed(job, req.RunID, run, err.Error())
		return
	}

	mergedEnv := spawner.MergeEnv(job.EnvVars, req.Env)

	// Step 4: environment dump and command header, written before spawn.
	if job.LogEnvironment {
		_ = e.logs.AppendLog(job.ID, req.RunID, []byte(formatEnvironmentDump(mergedEnv)))
	}
	_ = e.logs.AppendLog(job.ID, req.RunID, []byte("$ "+effective+"\n"))

	// Step 5: spawn.
	handle, err := spawner.Start(name, cmdArgs, job.WorkingDir, spawner.EnvSlice(mergedEnv))
	if err != nil {
		e.finishFailed(job, req.RunID, run, err.Error())
		return
	}

	// Step 6: optional stdin write, then close.
	if req.Input != "" {
		_, _ = handle.Stdin().Write([]byte(req.Input))
	}
	_ = handle.Stdin().Close()

	// Steps 7-8: reader and log-writer tasks bridged by bounded channels.
	chunkCh := make(chan []byte, 256)
	logCh := make(chan []byte, 256)
	readerDone := make(chan readerResult, 1)
	logWriterDone := make(chan uint64, 1)

	go readLoop(handle, chunkCh, readerDone)
	go e.logWriteLoop(job.ID, req.RunID, logCh, logWriterDone)

	// Step 9: supervisor select loop.
	timeout := resolveTimeout(job.TimeoutSecs, e.defaultTimeout)
	var deadlineCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadlineCh = timer.C
	}

	killed, timedOut := false, false
loop:
	for {
		select {
		case chunk, ok := <-chunkCh:
			if !ok {
				break loop
			}
			e.bus.Publish(model.OutputEvent(model.OutputData{
				JobID: job.ID, RunID: req.RunID,
				Data:      model.NewSharedText(strings.ToValidUTF8(string(chunk), "�")),
				Timestamp: e.clock.Now().UTC(),
			}))
			logCh <- chunk
		case <-h.kill:
			killed = true
			_ = handle.Kill()
			break loop
		case <-deadlineCh:
			timedOut = true
			_ = handle.Kill()
			break loop
		}
	}

	// Drain whatever the reader still has queued so it never blocks
	// forever on a send after we've stopped selecting chunkCh.
	for range chunkCh {
	}

	// Step 10: close the log-writer channel, join both tasks.
	close(logCh)
	res := <-readerDone
	written := <-logWriterDone

	// Step 11: determine terminal state.
	finishedAt := e.clock.Now().UTC()
	terminal := run.Clone()
	terminal.FinishedAt = &finishedAt
	terminal.LogSizeBytes = written

	switch {
	case timedOut:
		terminal.Status = model.RunFailed
		terminal.Error = "execution timed out"
		e.bus.Publish(model.FailedEvent(model.FailedData{JobID: job.ID, RunID: req.RunID, Error: terminal.Error, Timestamp: finishedAt}))
	case killed:
		terminal.Status = model.RunKilled
		terminal.Error = "Job was killed"
		e.bus.Publish(model.FailedEvent(model.FailedData{JobID: job.ID, RunID: req.RunID, Error: terminal.Error, Timestamp: finishedAt}))
	case res.err == nil:
		terminal.Status = model.RunCompleted
		code := res.exitCode
		terminal.ExitCode = &code
		e.bus.Publish(model.CompletedEvent(model.CompletedData{JobID: job.ID, RunID: req.RunID, ExitCode: code, Timestamp: finishedAt}))
	default:
		terminal.Status = model.RunFailed
		terminal.Error = res.err.Error()
		e.bus.Publish(model.FailedEvent(model.FailedData{JobID: job.ID, RunID: req.RunID, Error: terminal.Error, Timestamp: finishedAt}))
	}

	// Step 12: persist.
	if err := e.logs.UpdateRun(terminal); err != nil {
		e.log.Error("executor: failed writing terminal run record", logx.String("run_id", req.RunID.String()), logx.Err(err))
	}

	// Step 13: retention, errors logged not propagated.
	if err := e.logs.Cleanup(job.ID, e.maxLogFiles); err != nil {
		e.log.Warn("executor: log retention cleanup failed", logx.String("job_id", job.ID.String()), logx.Err(err))
	}
}

// finishFailed handles the step-5 "spawn failed" early-exit path.
func (e *Executor) finishFailed(job model.Job, runID uuid.UUID, run model.JobRun, errMsg string) {
	finishedAt := e.clock.Now().UTC()
	terminal := run.Clone()
	terminal.Status = model.RunFailed
	terminal.FinishedAt = &finishedAt
	terminal.Error = errMsg

	e.bus.Publish(model.FailedEvent(model.FailedData{JobID: job.ID, RunID: runID, Error: errMsg, Timestamp: finishedAt}))
	if err := e.logs.UpdateRun(terminal); err != nil {
		e.log.Error("executor: failed writing terminal run record", logx.String("run_id", runID.String()), logx.Err(err))
	}
	if err := e.logs.Cleanup(job.ID, e.maxLogFiles); err != nil {
		e.log.Warn("executor: log retention cleanup failed", logx.String("job_id", job.ID.String()), logx.Err(err))
	}
}

// readLoop is the blocking reader task (spec.md §4.7 step 7): it owns the
// child's output stream for the run's lifetime and reports the exit status
// once the stream is exhausted, since exec.Cmd.Wait must not race a
// concurrent read of the same pipe.
func readLoop(handle *spawner.Handle, chunkCh chan<- []byte, done chan<- readerResult) {
	buf := make([]byte, 8*1024)
	for {
		n, err := handle.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			chunkCh <- chunk
		}
		if err != nil {
			break
		}
	}
	close(chunkCh)

	code, err := handle.Wait()
	if err != nil {
		done <- readerResult{exitCode: -1, err: err}
		return
	}
	done <- readerResult{exitCode: code}
}

// logWriteLoop is the log writer task (spec.md §4.7 step 8): it exists so
// durable persistence never depends on the lossy Event Bus keeping up.
func (e *Executor) logWriteLoop(jobID, runID uuid.UUID, logCh <-chan []byte, done chan<- uint64) {
	var total uint64
	for chunk := range logCh {
		if err := e.logs.AppendLog(jobID, runID, chunk); err != nil {
			e.log.Warn("executor: append log failed", logx.String("run_id", runID.String()), logx.Err(err))
			continue
		}
		total += uint64(len(chunk))
	}
	done <- total
}

// resolveTimeout applies spec.md §4.7 step 9's fallback: a Job timeout of 0
// falls back to the daemon default; if both are 0, no deadline is installed.
func resolveTimeout(jobSecs int64, daemonDefault time.Duration) time.Duration {
	if jobSecs > 0 {
		return time.Duration(jobSecs) * time.Second
	}
	return daemonDefault
}

// formatEnvironmentDump renders the effective environment sorted by key,
// wrapped in markers (spec.md §4.7 step 4).
func formatEnvironmentDump(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("=== Environment ===\n")
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(env[k])
		b.WriteByte('\n')
	}
	b.WriteString("=== Environment ===\n")
	return b.String()
}
