// Package spawner is the Process Spawner (spec.md §4.6): it turns a Job's
// execution variant into a concrete command line for the host platform, and
// wraps the resulting *exec.Cmd in a read/kill/wait handle with a single
// merged stdout+stderr stream.
//
// Grounded on CZERTAINLY-Seeker's internal/service/runner.go: exec.Command,
// a piped output stream, and a Wait that hands back the process's final
// state. That runner pipes stdout/stderr separately; this one merges them
// into one os.Pipe, since the Executor treats output as a single stream
// (spec.md §4.6 "merged or separately readable as one stream is
// acceptable").
package spawner

import (
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"acsd/internal/acserr"
	"acsd/internal/model"
)

// BuildCommand turns a Job's Execution variant plus a per-trigger args
// string into a platform-appropriate argv (spec.md §4.6's table). effective
// is the human-readable command line the Executor writes as the
// "$ <effective-command>" log header line of every run.
func BuildCommand(execution model.Execution, args string) (name string, cmdArgs []string, effective string, err error) {
	switch execution.Type {
	case model.ExecutionShellCommand:
		cmd := execution.Value
		if args != "" {
			cmd = cmd + " " + args
		}
		if runtime.GOOS == "windows" {
			return "cmd.exe", []string{"/C", cmd}, cmd, nil
		}
		return "/bin/sh", []string{"-c", cmd}, cmd, nil

	case model.ExecutionScriptFile:
		path := execution.Value
		effective = path
		if args != "" {
			effective = effective + " " + args
		}
		isPS1 := strings.HasSuffix(strings.ToLower(path), ".ps1")
		switch {
		case isPS1 && runtime.GOOS == "windows":
			a := []string{"-File", path}
			if args != "" {
				a = append(a, args)
			}
			return "powershell.exe", a, effective, nil
		case !isPS1 && runtime.GOOS == "windows":
			return "cmd.exe", []string{"/C", effective}, effective, nil
		default: // Unix-like: both ps1 and plain scripts run through /bin/sh.
			a := []string{path}
			if args != "" {
				a = append(a, args)
			}
			return "/bin/sh", a, effective, nil
		}

	default:
		return "", nil, "", acserr.Spawnf("spawner: unknown execution type %q", execution.Type)
	}
}

// MergeEnv layers job env_vars and trigger env over the inherited process
// environment: inherited < job env_vars < trigger env (spec.md §4.6).
func MergeEnv(jobEnv, triggerEnv map[string]string) map[string]string {
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	for k, v := range jobEnv {
		merged[k] = v
	}
	for k, v := range triggerEnv {
		merged[k] = v
	}
	return merged
}

// EnvSlice converts a merged environment map to the "KEY=VALUE" slice
// os/exec.Cmd.Env expects.
func EnvSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// Handle is a spawned child process: a single merged output stream, a
// stdin for optional trigger input, kill, and wait.
type Handle struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stdin  io.WriteCloser

	mu     sync.Mutex
	killed bool
}

// Start spawns name/cmdArgs with the given working directory (empty means
// inherit) and environment, merging stdout and stderr into one pipe.
func Start(name string, cmdArgs []string, dir string, env []string) (*Handle, error) {
	cmd := exec.Command(name, cmdArgs...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = env

	r, w, err := os.Pipe()
	if err != nil {
		return nil, acserr.Spawnf("spawner: create output pipe: %v", err)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	stdin, err := cmd.StdinPipe()
	if err != nil {
		r.Close()
		w.Close()
		return nil, acserr.Spawnf("spawner: stdin pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, acserr.Spawnf("spawner: start %s: %v", name, err)
	}
	// The child inherited its own copy of the write end; the parent's copy
	// must close so Read on r observes EOF once the child exits.
	w.Close()

	return &Handle{cmd: cmd, stdout: r, stdin: stdin}, nil
}

// Read reads from the child's merged stdout+stderr stream.
func (h *Handle) Read(p []byte) (int, error) { return h.stdout.Read(p) }

// Stdin returns the child's stdin, for the Executor to write trigger input
// to before closing it.
func (h *Handle) Stdin() io.WriteCloser { return h.stdin }

// Kill terminates the child (spec.md's shutdown-kill Open Question,
// resolved in SPEC_FULL.md: a graceful signal first, a hard kill only if
// the child ignores it). Safe to call more than once and safe to call
// concurrently with Wait.
func (h *Handle) Kill() error {
	h.mu.Lock()
	if h.killed {
		h.mu.Unlock()
		return nil
	}
	h.killed = true
	proc := h.cmd.Process
	h.mu.Unlock()
	if proc == nil {
		return nil
	}
	return platformTerminate(proc)
}

// Wait blocks until the child exits and returns its exit code. exec.Cmd
// sets ProcessState whenever the process actually ran to completion — even
// on a non-zero exit — so that is the signal to distinguish "the process
// ran" (spec.md's Ok(exit_status), including non-zero codes) from "waiting
// itself failed" (Err(io)). ProcessState.ExitCode() already reconstructs the
// signed 32-bit code from the platform's raw wait status.
func (h *Handle) Wait() (exitCode int32, err error) {
	waitErr := h.cmd.Wait()
	h.stdout.Close()
	if h.cmd.ProcessState != nil {
		return int32(h.cmd.ProcessState.ExitCode()), nil
	}
	return -1, acserr.Spawnf("spawner: wait: %v", waitErr)
}
