package lifecycle

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "acsd/pkg/logx"
)

// notifyReady tells systemd (when running under it, i.e. NOTIFY_SOCKET is
// set) that startup is complete. Outside systemd this is a silent no-op -
// the teacher's pkg/systemdmanager gated its dbus calls the same way, on
// whether a systemd connection was even available.
func notifyReady(log logx.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Warn("lifecycle: sd_notify READY failed", logx.Err(err))
		return
	}
	if sent {
		log.Debug("lifecycle: sent systemd READY notification")
	}
}

func notifyStopping(log logx.Logger) {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Warn("lifecycle: sd_notify STOPPING failed", logx.Err(err))
	}
}

// runWatchdog pings systemd's watchdog at half its configured interval
// until ctx is canceled. If no watchdog is configured (the common case
// outside systemd, or under systemd without WatchdogSec set) it returns
// immediately and does nothing.
func runWatchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ping := interval / 2
	ticker := time.NewTicker(ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				log.Warn("lifecycle: sd_notify WATCHDOG failed", logx.Err(err))
			}
		}
	}
}
