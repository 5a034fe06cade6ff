package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the terminal-or-running state of a JobRun (spec.md §3).
type RunStatus string

const (
	RunRunning   RunStatus = "Running"
	RunCompleted RunStatus = "Completed"
	RunFailed    RunStatus = "Failed"
	RunKilled    RunStatus = "Killed"
)

// TriggerParams carries the per-trigger overrides a manual trigger may
// supply (spec.md §4.7, §6).
type TriggerParams struct {
	Args  string            `json:"args,omitempty"`
	Env   map[string]string `json:"env,omitempty"`
	Input string            `json:"input,omitempty"`
}

// JobRun is the record of one execution attempt of a Job (spec.md §3).
type JobRun struct {
	RunID         uuid.UUID      `json:"run_id"`
	JobID         uuid.UUID      `json:"job_id"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	Status        RunStatus      `json:"status"`
	ExitCode      *int32         `json:"exit_code,omitempty"`
	LogSizeBytes  uint64         `json:"log_size_bytes"`
	Error         string         `json:"error,omitempty"`
	TriggerParams *TriggerParams `json:"trigger_params,omitempty"`
}

// Clone returns a copy safe to hand across goroutine boundaries.
func (r JobRun) Clone() JobRun {
	cp := r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	if r.ExitCode != nil {
		v := *r.ExitCode
		cp.ExitCode = &v
	}
	if r.TriggerParams != nil {
		tp := *r.TriggerParams
		if r.TriggerParams.Env != nil {
			tp.Env = make(map[string]string, len(r.TriggerParams.Env))
			for k, v := range r.TriggerParams.Env {
				tp.Env[k] = v
			}
		}
		cp.TriggerParams = &tp
	}
	return cp
}

// DispatchRequest is handed from the Scheduler (or an external trigger) to
// the Dispatcher, which forwards it to the Executor (spec.md §4.7, §4.9).
type DispatchRequest struct {
	Job   Job
	RunID uuid.UUID

	// Trigger overrides, only present for manually-triggered runs.
	Args  string
	Env   map[string]string
	Input string
}

// Params reassembles the TriggerParams view of a DispatchRequest's
// overrides, or nil if the request carries none.
func (d DispatchRequest) Params() *TriggerParams {
	if d.Args == "" && len(d.Env) == 0 && d.Input == "" {
		return nil
	}
	return &TriggerParams{Args: d.Args, Env: d.Env, Input: d.Input}
}
