package config

import (
	"strings"

	logx "acsd/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.DataDir) != strings.TrimSpace(newCfg.DataDir) {
		changed = append(changed, "data_dir")
		attrs = append(attrs, logx.String("data_dir", strings.TrimSpace(newCfg.DataDir)))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.Int64("scheduler.default_timeout_secs", newCfg.Scheduler.DefaultTimeoutSecs),
			logx.Int("scheduler.broadcast_capacity", newCfg.Scheduler.BroadcastCapacity),
			logx.Int("scheduler.max_log_files_per_job", newCfg.Scheduler.MaxLogFilesPerJob),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oldAudit, newAudit := auditOrZero(oldCfg.Audit), auditOrZero(newCfg.Audit)
	if oldAudit != newAudit {
		changed = append(changed, "audit")
		attrs = append(attrs,
			logx.Bool("audit.enabled", strings.TrimSpace(newAudit.Path) != ""),
			logx.String("audit.busy_timeout", newAudit.BusyTimeout),
		)
	}

	return changed, attrs
}

func auditOrZero(a *AuditConfig) AuditConfig {
	if a == nil {
		return AuditConfig{}
	}
	return *a
}
