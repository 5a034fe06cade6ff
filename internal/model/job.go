// Package model holds the wire and in-memory shapes shared by every core
// component: Job, JobRun, JobEvent, and the dispatch/trigger request types.
//
// Field names and casing follow spec.md §3/§6 exactly, since these structs
// round-trip through jobs.json and the run .meta.json files.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExecutionKind tags which variant of Execution a Job carries.
type ExecutionKind string

const (
	ExecutionShellCommand ExecutionKind = "ShellCommand"
	ExecutionScriptFile   ExecutionKind = "ScriptFile"
)

// Execution is the tagged {ShellCommand(string) | ScriptFile(string)} union
// from spec.md §3. It marshals as {"type": "...", "value": "..."} per §6.
type Execution struct {
	Type  ExecutionKind
	Value string
}

func (e Execution) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  ExecutionKind `json:"type"`
		Value string        `json:"value"`
	}{Type: e.Type, Value: e.Value})
}

func (e *Execution) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type  ExecutionKind `json:"type"`
		Value string        `json:"value"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case ExecutionShellCommand, ExecutionScriptFile:
	default:
		return fmt.Errorf("execution: unknown type %q", raw.Type)
	}
	e.Type = raw.Type
	e.Value = raw.Value
	return nil
}

// Job is the user-declared unit of scheduled work (spec.md §3).
type Job struct {
	ID            uuid.UUID         `json:"id"`
	Name          string            `json:"name"`
	Schedule      string            `json:"schedule"`
	Execution     Execution         `json:"execution"`
	Enabled       bool              `json:"enabled"`
	Timezone      string            `json:"timezone,omitempty"`
	WorkingDir    string            `json:"working_dir,omitempty"`
	EnvVars       map[string]string `json:"env_vars,omitempty"`
	TimeoutSecs   int64             `json:"timeout_secs"`
	LogEnvironment bool             `json:"log_environment"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	LastRunAt     *time.Time        `json:"last_run_at,omitempty"`
	LastExitCode  *int32            `json:"last_exit_code,omitempty"`

	// NextRunAt is transient: computed at read time, never persisted.
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// Clone returns a deep-enough copy safe to hand to a reader while the store
// lock is released.
func (j Job) Clone() Job {
	cp := j
	if j.EnvVars != nil {
		cp.EnvVars = make(map[string]string, len(j.EnvVars))
		for k, v := range j.EnvVars {
			cp.EnvVars[k] = v
		}
	}
	if j.LastRunAt != nil {
		t := *j.LastRunAt
		cp.LastRunAt = &t
	}
	if j.LastExitCode != nil {
		v := *j.LastExitCode
		cp.LastExitCode = &v
	}
	if j.NextRunAt != nil {
		t := *j.NextRunAt
		cp.NextRunAt = &t
	}
	return cp
}

// NewJobInput is the payload accepted by JobStore.Create: every field a
// caller may set on creation. next_run_at is intentionally absent — it is
// ignored on input per spec.md §6.
type NewJobInput struct {
	Name           string
	Schedule       string
	Execution      Execution
	Enabled        bool
	Timezone       string
	WorkingDir     string
	EnvVars        map[string]string
	TimeoutSecs    int64
	LogEnvironment bool
}

// JobPatch is a partial update: nil fields are left unchanged. A present
// field — including the zero value of its type — is applied and revalidated.
type JobPatch struct {
	Name           *string
	Schedule       *string
	Execution      *Execution
	Enabled        *bool
	Timezone       *string
	WorkingDir     *string
	EnvVars        map[string]string // applied only when EnvVarsSet; then replaces wholesale
	EnvVarsSet     bool
	TimeoutSecs    *int64
	LogEnvironment *bool
}

// IsValidName reports whether name is non-empty after trimming and does not
// itself parse as a UUID (spec.md §3 invariant). Whitespace-padded names are
// otherwise accepted and stored verbatim, matching validate_new_job in the
// original implementation.
func IsValidName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("name must not be empty")
	}
	if _, err := uuid.Parse(trimmed); err == nil {
		return fmt.Errorf("name must not itself parse as a UUID")
	}
	return nil
}
