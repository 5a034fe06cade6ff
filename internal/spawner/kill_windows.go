//go:build windows

package spawner

import "os"

// platformTerminate has no graceful-signal equivalent to SIGTERM on
// Windows; the process is killed directly (spec.md's shutdown-kill Open
// Question, decided in SPEC_FULL.md).
func platformTerminate(proc *os.Process) error {
	return proc.Kill()
}
