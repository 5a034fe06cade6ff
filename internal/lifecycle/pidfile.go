package lifecycle

import (
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"acsd/internal/acserr"
)

// pidRetryInterval and pidRetryAttempts bound how long acquirePIDFile waits out a
// predecessor that holds the PID file but is still mid-shutdown, per
// spec.md §4.10's single-instance lock. Variables, not constants, so tests
// can shrink them instead of waiting out the real default.
var (
	pidRetryInterval = 500 * time.Millisecond
	pidRetryAttempts = 20
)

// acquirePIDFile creates path exclusively and writes this process's pid,
// returning a release func that removes it. If path already exists, it is
// treated as stale (and removed) when the recorded pid is no longer alive;
// otherwise it waits up to pidRetryAttempts*pidRetryInterval for the
// holder to exit before giving up.
func acquirePIDFile(path string) (release func() error, err error) {
	for attempt := 1; ; attempt++ {
		f, createErr := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if createErr == nil {
			_, writeErr := f.WriteString(strconv.Itoa(os.Getpid()))
			closeErr := f.Close()
			if writeErr != nil {
				os.Remove(path)
				return nil, acserr.Storagef("lifecycle: write pid file %s: %v", path, writeErr)
			}
			if closeErr != nil {
				os.Remove(path)
				return nil, acserr.Storagef("lifecycle: close pid file %s: %v", path, closeErr)
			}
			return func() error { return os.Remove(path) }, nil
		}
		if !os.IsExist(createErr) {
			return nil, acserr.Storagef("lifecycle: create pid file %s: %v", path, createErr)
		}

		pid, readErr := readPID(path)
		if readErr != nil {
			// The holder vanished (or never wrote a valid pid) between our
			// os.IsExist check and this read; retry the create immediately.
			continue
		}
		if !processAlive(pid) {
			os.Remove(path)
			continue
		}
		if attempt > pidRetryAttempts {
			return nil, acserr.Conflictf("lifecycle: acsd is already running (pid %d, pid file %s)", pid, path)
		}
		time.Sleep(pidRetryInterval)
	}
}

func readPID(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

// processAlive reports whether pid names a live process. On Unix, Signal(0)
// sends no actual signal; it only probes existence and permission. On
// Windows, os.Process.Signal supports only Kill, so the probe fails and the
// process is reported as not alive.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but we can't signal it - still alive.
	return strings.Contains(err.Error(), "operation not permitted")
}
